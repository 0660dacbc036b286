// Package synthetic generates two-regime Bernoulli test series: success
// probability switches from the first to the second parameter at a fixed
// breakpoint. Scans over generated data are the calibration scenarios for
// the detector, so generation is fully deterministic for a given seed.
package synthetic

import (
	"fmt"
	"math/rand"

	"github.com/sawpanic/regimescan/internal/mdl"
)

// Generate returns a binary series of the given length whose observations
// are drawn with probabilities[0] before the breakpoint index and
// probabilities[1] from the breakpoint onward. The breakpoint must lie
// strictly between 0 and length.
func Generate(probabilities [2]float64, breakpoint, length int, seed int64) ([]int, error) {
	if length < 2 {
		return nil, fmt.Errorf("%w: series length must be at least 2, got %d", mdl.ErrInvalidInput, length)
	}
	if breakpoint <= 0 || breakpoint >= length {
		return nil, fmt.Errorf("%w: breakpoint must be between 1 and %d, got %d", mdl.ErrInvalidInput, length-1, breakpoint)
	}
	for _, p := range probabilities {
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("%w: success probability must be in [0,1], got %v", mdl.ErrInvalidInput, p)
		}
	}

	rng := rand.New(rand.NewSource(seed))
	out := make([]int, length)
	for i := range out {
		p := probabilities[0]
		if i >= breakpoint {
			p = probabilities[1]
		}
		if rng.Float64() <= p {
			out[i] = 1
		}
	}
	return out, nil
}
