package connectivity

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidTimeIndex is matched by every InvalidTimeIndexError.
	ErrInvalidTimeIndex = errors.New("connectivity: time index out of range")

	// ErrShapeMismatch is matched by every ShapeMismatchError.
	ErrShapeMismatch = errors.New("connectivity: shape mismatch")

	// ErrEmptyEligibilitySet is reported (not returned) when no unit passes masking.
	ErrEmptyEligibilitySet = errors.New("connectivity: no spatial unit passed masking")

	// ErrDegenerateCorrelation is reported (not returned) when units fall back to 0
	// because a restricted series has no variance.
	ErrDegenerateCorrelation = errors.New("connectivity: correlation undefined for a zero-variance series")
)

// InvalidTimeIndexError reports a caller-supplied TR that does not exist.
type InvalidTimeIndexError struct {
	// Source names where the list came from, usually a file path
	Source string

	// Position is the 0-based position of the offending entry in the list
	Position int

	// Value is the entry as supplied (1-based)
	Value int

	// Total is the number of time points in the functional series
	Total int
}

func (e *InvalidTimeIndexError) Error() string {
	src := "time index list"
	if e.Source != "" {
		src = e.Source
	}
	return fmt.Sprintf("connectivity: %s: entry %d is TR %d, which resolves to index %d outside [0, %d)",
		src, e.Position+1, e.Value, e.Value-1, e.Total)
}

func (e *InvalidTimeIndexError) Is(target error) bool {
	return target == ErrInvalidTimeIndex
}

// ShapeMismatchError reports an input whose length disagrees with the
// functional series.
type ShapeMismatchError struct {
	What string
	Got  int
	Want int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("connectivity: %s has length %d, expected %d", e.What, e.Got, e.Want)
}

func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}
