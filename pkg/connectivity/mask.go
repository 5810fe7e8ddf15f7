package connectivity

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"

	"seedcorr/internal/models"
)

// EligibilityMask lists, in ascending order and without duplicates, the units
// that take part in the correlation.
type EligibilityMask []int

// Contains reports whether unit u is eligible.
func (m EligibilityMask) Contains(u int) bool {
	i := sort.SearchInts(m, u)
	return i < len(m) && m[i] == u
}

// validate checks that m is strictly increasing and within [0, units).
func (m EligibilityMask) validate(units int) error {
	prev := -1
	for pos, u := range m {
		if u < 0 || u >= units {
			return &ShapeMismatchError{
				What: fmt.Sprintf("eligibility mask range (entry %d is unit %d)", pos, u),
				Got:  u + 1,
				Want: units,
			}
		}
		if u <= prev {
			return &ShapeMismatchError{
				What: fmt.Sprintf("strictly increasing eligibility mask (entry %d is unit %d after %d)", pos, u, prev),
				Got:  pos,
				Want: len(m),
			}
		}
		prev = u
	}
	return nil
}

// BuildEligibilityMask admits every unit whose time series has nonzero
// variance and nonzero mean over all time points. When mask is non-nil it must
// have one entry per unit, and only units with mask > 0 are kept.
//
// An empty result is not an error.
func BuildEligibilityMask(series *models.FunctionalSeries, mask []float64) (EligibilityMask, error) {
	units := series.Units()
	if mask != nil && len(mask) != units {
		return nil, &ShapeMismatchError{What: "mask", Got: len(mask), Want: units}
	}

	eligible := make(EligibilityMask, 0, units)
	for u := 0; u < units; u++ {
		if hasSignal(series.Row(u)) {
			eligible = append(eligible, u)
		}
	}

	if mask != nil {
		eligible = lo.Filter(eligible, func(u int, _ int) bool {
			return mask[u] > 0
		})
	}
	return eligible, nil
}

// hasSignal is true when xs has a nonzero mean and a positive standard
// deviation. Constancy is checked exactly so that rounding in the variance
// cannot admit a flat series.
func hasSignal(xs []float64) bool {
	if len(xs) < 2 || isConstant(xs) {
		return false
	}
	mean, std := stat.MeanStdDev(xs, nil)
	return mean != 0 && std > 0
}

func isConstant(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}
