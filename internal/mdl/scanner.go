package mdl

import (
	"fmt"
	"math"
	"strconv"
)

const (
	// DefaultStride is the half-width of the trailing detection window.
	DefaultStride = 6
	// DefaultSmoothing is the EMA factor applied to raw description
	// lengths; higher values weight the newest raw value more.
	DefaultSmoothing = 0.05

	// minHistory is the number of splits that must pass before the
	// detection check runs. Series of 20 or fewer observations can never
	// report a change point; that is a deliberate sensitivity trade-off
	// against spurious early detections, not a defect.
	minHistory = 20
)

// Params tunes a scan. The zero value is not valid; use DefaultParams.
type Params struct {
	// Stride is the half-width of the detection window; the scanner
	// inspects the trailing 2*Stride smoothed values.
	Stride int
	// Smoothing is the EMA factor in (0,1).
	Smoothing float64
}

// DefaultParams returns the stock scan parameters.
func DefaultParams() Params {
	return Params{Stride: DefaultStride, Smoothing: DefaultSmoothing}
}

func (p Params) validate() error {
	if p.Stride < 1 {
		return fmt.Errorf("%w: stride must be positive, got %d", ErrInvalidInput, p.Stride)
	}
	if p.Smoothing <= 0 || p.Smoothing >= 1 {
		return fmt.Errorf("%w: smoothing factor must be in (0,1), got %v", ErrInvalidInput, p.Smoothing)
	}
	return nil
}

// SplitKey identifies a candidate split point. Index is always set; Label
// is the caller-supplied identifier for the split when labels were given
// (a date string in the market use case) and empty otherwise.
type SplitKey struct {
	Index int
	Label string
}

func (k SplitKey) String() string {
	if k.Label != "" {
		return k.Label
	}
	return strconv.Itoa(k.Index)
}

// Point is one entry of the smoothed description-length series.
type Point struct {
	Key   SplitKey
	Value float64
}

// Result is the outcome of one scan: the smoothed series over every
// candidate split 1..k-1 in order, and the change point if one was
// detected. A nil ChangePoint means no regime change was found, which is
// a normal outcome, not an error.
type Result struct {
	Series      []Point
	ChangePoint *SplitKey
}

// Scan runs the online MDL change-point detector over a binary series.
// See ScanLabeled for the variant with per-observation labels.
func Scan(obs []int, params Params) (*Result, error) {
	return ScanLabeled(obs, nil, params)
}

// ScanLabeled makes a single left-to-right pass over the series. For each
// candidate split n in [1, k-1] it computes the two-segment negative
// log-likelihood plus the MDL complexity penalty 0.5*(log(n)+log(k-n)),
// EMA-smooths the raw value, and checks the trailing window for an
// interior minimum whose approach mean is below its departure mean. The
// first split that passes the check is locked in as the change point;
// later splits never revise it.
//
// labels may be nil; otherwise it must have one entry per observation,
// and the result series is keyed by labels[1..k-1].
func ScanLabeled(obs []int, labels []string, params Params) (*Result, error) {
	k := len(obs)
	if k < 2 {
		return nil, fmt.Errorf("%w: need at least 2 observations, got %d", ErrInvalidInput, k)
	}
	if labels != nil && len(labels) != k {
		return nil, fmt.Errorf("%w: %d labels for %d observations", ErrInvalidInput, len(labels), k)
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	totalHeads := 0
	for _, v := range obs {
		if v != 0 {
			totalHeads++
		}
	}

	res := &Result{Series: make([]Point, 0, k-1)}
	win := newRing(2 * params.Stride)
	leftHeads := 0
	smoothed := 0.0

	for n := 1; n < k; n++ {
		if obs[n-1] != 0 {
			leftHeads++
		}
		raw := rawDescriptionLength(leftHeads, n, totalHeads, k)
		if n == 1 {
			smoothed = raw // EMA seed
		} else {
			smoothed = smoothed*(1-params.Smoothing) + raw*params.Smoothing
		}
		win.push(smoothed)

		key := SplitKey{Index: n}
		if labels != nil {
			key.Label = labels[n]
		}
		res.Series = append(res.Series, Point{Key: key, Value: smoothed})

		if res.ChangePoint == nil && n > minHistory && windowSignalsChange(win.values()) {
			cp := key
			res.ChangePoint = &cp
		}
	}
	return res, nil
}

// rawDescriptionLength is the unsmoothed MDL statistic for splitting a
// k-length series at n: negative log-likelihood of both partitions plus
// the two-parameter model cost.
func rawDescriptionLength(leftHeads, n, totalHeads, k int) float64 {
	negLogLik := -logLikelihoodFromCounts(leftHeads, n) - logLikelihoodFromCounts(totalHeads-leftHeads, k-n)
	penalty := 0.5 * (math.Log(float64(n)) + math.Log(float64(k-n)))
	return negLogLik + penalty
}

// windowSignalsChange reports whether the trailing window shows a
// completed dip: the minimum sits strictly inside the window and the mean
// of the values before it is strictly below the mean from the minimum
// onward. The shape heuristic distinguishes a V-shaped local minimum from
// monotone drift; it carries no significance threshold.
func windowSignalsChange(win []float64) bool {
	minIdx := 0
	for i, v := range win {
		if v < win[minIdx] {
			minIdx = i
		}
	}
	if minIdx == 0 || minIdx == len(win)-1 {
		return false
	}
	return mean(win[:minIdx]) < mean(win[minIdx:])
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
