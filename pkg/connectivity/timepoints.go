package connectivity

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// TimeIndexSet is an ordered list of 0-based time indices. Duplicates are
// allowed and kept.
type TimeIndexSet []int

// Gather copies src[i] for every index i of s into dst and returns it. dst is
// grown when too short.
func (s TimeIndexSet) Gather(dst, src []float64) []float64 {
	if cap(dst) < len(s) {
		dst = make([]float64, len(s))
	}
	dst = dst[:len(s)]
	for i, t := range s {
		dst[i] = src[t]
	}
	return dst
}

// SelectTimePoints returns the time indices taking part in the correlation.
// A nil list selects every time point in order. Otherwise every entry of the
// 1-based list is shifted to 0-based and used as given, order and duplicates
// included; an entry outside [1, total] is an InvalidTimeIndexError.
func SelectTimePoints(total int, oneBased []int) (TimeIndexSet, error) {
	if oneBased == nil {
		all := make(TimeIndexSet, total)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	set := make(TimeIndexSet, len(oneBased))
	for pos, tr := range oneBased {
		idx := tr - 1
		if idx < 0 || idx >= total {
			return nil, &InvalidTimeIndexError{Position: pos, Value: tr, Total: total}
		}
		set[pos] = idx
	}
	return set, nil
}

// LoadTimeIndexFile reads the 1-based TR list at path and selects it against
// total time points. Errors name the file.
func LoadTimeIndexFile(path string, total int) (TimeIndexSet, error) {
	trs, err := ReadTimeIndexFile(path)
	if err != nil {
		return nil, err
	}
	set, err := SelectTimePoints(total, trs)
	if err != nil {
		var tie *InvalidTimeIndexError
		if errors.As(err, &tie) {
			tie.Source = path
		}
		return nil, err
	}
	return set, nil
}

// ReadTimeIndexFile reads a list of 1-based TR numbers from path. The result
// is non-nil even for an empty file.
func ReadTimeIndexFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open TR file")
	}
	defer f.Close()

	return ParseTimeIndices(f, path)
}

// ParseTimeIndices reads integers separated by whitespace, commas or newlines.
// Lines starting with '#' are ignored. source is used in error messages.
func ParseTimeIndices(r io.Reader, source string) ([]int, error) {
	trs := []int{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.FieldsFunc(text, func(r rune) bool {
			return unicode.IsSpace(r) || r == ','
		})
		for _, field := range fields {
			tr, err := strconv.Atoi(field)
			if err != nil {
				return nil, errors.Errorf("%s:%d: %q is not an integer TR number", source, line, field)
			}
			trs = append(trs, tr)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", source)
	}
	return trs, nil
}
