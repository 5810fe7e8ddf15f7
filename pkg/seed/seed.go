// Package seed produces the mean time series of a seed region, the reference
// signal every unit is correlated against.
package seed

import (
	"context"

	"github.com/pkg/errors"

	"seedcorr/internal/models"
)

// ErrEmptySeed is returned when no unit belongs to the seed region.
var ErrEmptySeed = errors.New("seed: seed region contains no units")

// Request describes the seed series wanted. Weighted, ROILabel and Hemi have
// the meaning ciftify_meants gives them.
type Request struct {
	// Func is the functional image the series is taken from
	Func string

	// Seed is the seed image, a mask or a label map
	Seed string

	// Mask, when set, restricts the seed to units where the mask is > 0
	Mask string

	// ROILabel selects units whose seed value equals it instead of seed > 0
	ROILabel *int

	// Hemi names the hemisphere of a GIFTI seed ("L" or "R")
	Hemi string

	// Weighted averages with the seed values as weights
	Weighted bool

	// Series, when set, is the already loaded functional image
	Series *models.FunctionalSeries

	// OutputCSV, when set, is where a provider keeps the series it produced
	OutputCSV string
}

// Provider computes a seed mean time series with one value per time point.
type Provider interface {
	MeanTimeSeries(ctx context.Context, req Request) ([]float64, error)
}
