package mdl

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned for malformed arguments: empty segments,
// series shorter than two observations, or label slices that do not line
// up with the observation slice. Callers should test with errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// logEpsilon keeps the log-likelihood finite when the MLE lands on p=0 or
// p=1 (all-tails or all-heads segments). Callers must not rely on exact
// log(0) behavior.
const logEpsilon = 1e-20

// SegmentLogLikelihood returns the maximum-likelihood Bernoulli
// log-likelihood of a contiguous run of binary observations: with
// p = heads/len, the value heads*log(p) + tails*log(1-p). Degenerate
// segments (all zeros or all ones) return a finite value.
func SegmentLogLikelihood(obs []int) (float64, error) {
	if len(obs) == 0 {
		return 0, fmt.Errorf("%w: empty segment has no defined likelihood", ErrInvalidInput)
	}
	heads := 0
	for _, v := range obs {
		if v != 0 {
			heads++
		}
	}
	return logLikelihoodFromCounts(heads, len(obs)), nil
}

// logLikelihoodFromCounts is the sufficient-statistics form of
// SegmentLogLikelihood. The scanner maintains running head counts per
// partition so a full pass stays O(k) instead of O(k^2).
func logLikelihoodFromCounts(heads, n int) float64 {
	p := float64(heads) / float64(n)
	return float64(heads)*math.Log(p+logEpsilon) + float64(n-heads)*math.Log(1-p+logEpsilon)
}
