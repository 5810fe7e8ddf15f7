package seed

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"

	"seedcorr/internal/models"
	"seedcorr/pkg/nifti"
	"seedcorr/pkg/reconstruction"
)

// Volume computes the seed series in process from NIfTI images.
type Volume struct {
	Logger zerolog.Logger
}

// MeanTimeSeries implements Provider.
func (v *Volume) MeanTimeSeries(ctx context.Context, req Request) ([]float64, error) {
	if req.Hemi != "" {
		return nil, errors.New("seed: hemisphere selection applies to GIFTI seeds, which need ciftify_meants")
	}

	series := req.Series
	if series == nil {
		img, err := nifti.Read(req.Func)
		if err != nil {
			return nil, err
		}
		if series, err = img.Series(); err != nil {
			return nil, errors.Wrapf(err, "seed: %s", req.Func)
		}
	}

	seedVals, err := readSingleFrame(req.Seed, series.Shape)
	if err != nil {
		return nil, err
	}
	var maskVals []float64
	if req.Mask != "" {
		if maskVals, err = readSingleFrame(req.Mask, series.Shape); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ts, n, err := Mean(series, seedVals, maskVals, req.ROILabel, req.Weighted)
	if err != nil {
		return nil, errors.Wrapf(err, "seed %s", req.Seed)
	}
	v.Logger.Debug().Str("seed", req.Seed).Int("units", n).Bool("weighted", req.Weighted).Msg("seed series computed")
	return ts, nil
}

func readSingleFrame(path string, shape models.SpatialShape) ([]float64, error) {
	img, err := nifti.Read(path)
	if err != nil {
		return nil, err
	}
	if img.Shape() != shape {
		return nil, errors.Errorf("seed: %s has shape %v, functional image has %v", path, img.Shape(), shape)
	}
	vals, err := reconstruction.Flatten(img.Volume)
	if err != nil {
		return nil, errors.Wrapf(err, "seed: %s", path)
	}
	return vals, nil
}

// Mean averages the rows of series that belong to the seed region and returns
// the average and the number of rows used. A unit belongs to the region when
// seed > 0, or seed equals *label when label is set, and mask > 0 when mask is
// non-nil. When weighted, each row counts with its seed value as weight.
func Mean(series *models.FunctionalSeries, seed, mask []float64, label *int, weighted bool) ([]float64, int, error) {
	units := series.Units()
	if len(seed) != units {
		return nil, 0, errors.Errorf("seed has %d units, functional image has %d", len(seed), units)
	}
	if mask != nil && len(mask) != units {
		return nil, 0, errors.Errorf("mask has %d units, functional image has %d", len(mask), units)
	}

	members := lo.Filter(lo.Range(units), func(u int, _ int) bool {
		if mask != nil && mask[u] <= 0 {
			return false
		}
		if label != nil {
			return seed[u] == float64(*label)
		}
		return seed[u] > 0
	})
	if len(members) == 0 {
		return nil, 0, ErrEmptySeed
	}

	mean := make([]float64, series.TimePoints())
	var total float64
	for _, u := range members {
		w := 1.0
		if weighted {
			w = seed[u]
		}
		floats.AddScaled(mean, w, series.Row(u))
		total += w
	}
	if total == 0 {
		return nil, 0, errors.Wrap(ErrEmptySeed, "seed weights sum to zero")
	}
	floats.Scale(1/total, mean)
	return mean, len(members), nil
}
