package nifti

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrFileFormat is matched by every FormatError.
var ErrFileFormat = errors.New("nifti: unsupported or malformed file")

// FormatError reports a file that cannot be decoded as a NIfTI-1 image.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return "nifti: " + e.Reason
	}
	return fmt.Sprintf("nifti: %s: %s", e.Path, e.Reason)
}

// Is makes errors.Is(err, ErrFileFormat) true for any FormatError.
func (e *FormatError) Is(target error) bool {
	return target == ErrFileFormat
}

func formatErrorf(format string, args ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}
