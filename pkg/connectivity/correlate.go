// Package connectivity computes seed-based correlation maps: which units take
// part (masking), which time points are used, and the Pearson correlation of
// every eligible unit with the seed time series.
package connectivity

import (
	"math"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"seedcorr/internal/models"
)

// Options controls how Correlate runs. The zero value is valid.
type Options struct {
	// Workers is the number of goroutines sharing the eligible units.
	// Values below 1 mean runtime.NumCPU().
	Workers int

	// Logger receives debug output. The zero value discards it.
	Logger zerolog.Logger
}

// Result is a correlation map and what happened while computing it.
type Result struct {
	// Map holds one coefficient per unit in unit order. Units outside the
	// eligibility mask, and degenerate units, are 0.
	Map []float64

	// Eligible is the number of units correlated
	Eligible int

	// Degenerate counts eligible units whose restricted series (or the
	// restricted seed) had no variance and therefore got 0
	Degenerate int
}

// Correlate computes the Pearson correlation between the seed and every unit
// in mask, both restricted to the time points in tps.
//
// A coefficient is undefined when fewer than two time points are selected or
// either restricted series is constant; such units get 0 and are counted in
// Result.Degenerate. The map does not depend on Options.Workers: every unit is
// computed by the same arithmetic and written to its own slot.
func Correlate(series *models.FunctionalSeries, seed []float64, mask EligibilityMask, tps TimeIndexSet, opts Options) (*Result, error) {
	units, total := series.Units(), series.TimePoints()
	if len(seed) != total {
		return nil, &ShapeMismatchError{What: "seed time series", Got: len(seed), Want: total}
	}
	for pos, t := range tps {
		if t < 0 || t >= total {
			return nil, &InvalidTimeIndexError{Position: pos, Value: t + 1, Total: total}
		}
	}
	if err := mask.validate(units); err != nil {
		return nil, err
	}

	res := &Result{
		Map:      make([]float64, units),
		Eligible: len(mask),
	}
	if len(mask) == 0 {
		return res, nil
	}

	seedR := tps.Gather(nil, seed)
	if len(seedR) < 2 || isConstant(seedR) {
		opts.Logger.Debug().
			Int("timePoints", len(seedR)).
			Msg("restricted seed series has no variance, every unit falls back to 0")
		res.Degenerate = len(mask)
		return res, nil
	}

	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > len(mask) {
		workers = len(mask)
	}
	chunk := (len(mask) + workers - 1) / workers

	opts.Logger.Debug().
		Int("eligible", len(mask)).
		Int("timePoints", len(tps)).
		Int("workers", workers).
		Msg("correlating")

	degenerate := make([]int, workers)
	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(mask) {
			hi = len(mask)
		}
		if lo >= hi {
			continue
		}

		w := w
		eg.Go(func() error {
			buf := make([]float64, len(tps))
			for _, u := range mask[lo:hi] {
				buf = tps.Gather(buf, series.Row(u))
				r, ok := pearson(seedR, buf)
				if !ok {
					degenerate[w]++
					continue
				}
				res.Map[u] = r
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, n := range degenerate {
		res.Degenerate += n
	}
	return res, nil
}

// pearson returns the correlation of x and y, or false when it is undefined.
// x is known to vary.
func pearson(x, y []float64) (float64, bool) {
	if isConstant(y) {
		return 0, false
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, r)), true
}
