package seed

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ReadCSV reads a seed series written by ciftify_meants or WriteCSV.
func ReadCSV(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "seed: failed to open series")
	}
	defer f.Close()

	ts, err := ParseCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "seed: %s", path)
	}
	return ts, nil
}

// ParseCSV reads a single series laid out either as one comma separated row
// or as one value per line.
func ParseCSV(r io.Reader) ([]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse csv")
	}

	var fields []string
	switch {
	case len(records) == 0:
		return nil, errors.New("series is empty")
	case len(records) == 1:
		fields = records[0]
	default:
		for i, rec := range records {
			if len(rec) != 1 {
				return nil, errors.Errorf("line %d has %d values; expected a single row or a single column", i+1, len(rec))
			}
			fields = append(fields, rec[0])
		}
	}

	ts := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "value %d", i+1)
		}
		ts[i] = v
	}
	return ts, nil
}

// WriteCSV writes ts as a single comma separated row.
func WriteCSV(path string, ts []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "seed: failed to create series file")
	}

	row := make([]string, len(ts))
	for i, v := range ts {
		row[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	w := csv.NewWriter(f)
	w.Write(row)
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(path)
		return errors.Wrapf(err, "seed: failed to write %s", path)
	}
	return f.Close()
}
