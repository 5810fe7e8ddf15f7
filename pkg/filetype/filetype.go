// Package filetype classifies neuroimaging files by name.
package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Kind is a neuroimaging container type.
type Kind int

const (
	Unknown Kind = iota
	NIfTI
	CIFTI
	GIFTI
)

func (k Kind) String() string {
	switch k {
	case NIfTI:
		return "nifti"
	case CIFTI:
		return "cifti"
	case GIFTI:
		return "gifti"
	}
	return "unknown"
}

// ErrUnsupported is matched by every FormatError.
var ErrUnsupported = errors.New("filetype: unsupported file type")

// FormatError reports a path whose container type could not be determined.
type FormatError struct {
	Path string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("filetype: %s is not a nifti, cifti or gifti file", e.Path)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrUnsupported
}

// suffix order matters: longer, more specific suffixes first
var suffixes = []struct {
	suffix string
	kind   Kind
}{
	{".dtseries.nii", CIFTI},
	{".dscalar.nii", CIFTI},
	{".dlabel.nii", CIFTI},
	{".nii.gz", NIfTI},
	{".nii", NIfTI},
	{".shape.gii", GIFTI},
	{".func.gii", GIFTI},
	{".label.gii", GIFTI},
	{".gii", GIFTI},
}

// Detect returns the container type of path and its base name with the type
// suffix removed ("sub-01_bold.nii.gz" -> NIfTI, "sub-01_bold").
func Detect(path string) (Kind, string, error) {
	name := filepath.Base(path)
	for _, s := range suffixes {
		if strings.HasSuffix(name, s.suffix) && len(name) > len(s.suffix) {
			return s.kind, strings.TrimSuffix(name, s.suffix), nil
		}
	}
	return Unknown, "", &FormatError{Path: path}
}
