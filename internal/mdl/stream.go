package mdl

import "fmt"

// Stream is an incremental scan session for callers that receive
// observations over time, such as a live direction-of-change feed. Each
// Observe evaluates only the newest candidate split (between everything
// seen so far and the incoming observation), EMA-continuing from the
// preserved last smoothed value instead of rescanning prior splits whose
// raw values would shift as the series grows. The resulting series is
// therefore an online approximation of a batch Scan over the same data,
// not a replay of it; run Scan on the accumulated history when exact
// batch values are needed.
//
// A Stream owns all of its state and is not safe for concurrent use.
type Stream struct {
	params     Params
	count      int
	totalHeads int
	smoothed   float64
	win        *ring
	series     []Point
	change     *SplitKey
}

// NewStream creates an incremental session with the given parameters.
func NewStream(params Params) (*Stream, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Stream{
		params: params,
		win:    newRing(2 * params.Stride),
	}, nil
}

// Observe appends one unlabeled observation.
func (s *Stream) Observe(obs int) {
	s.ObserveLabeled(obs, "")
}

// ObserveLabeled appends one observation with its label. The first
// observation produces no split; every later one appends exactly one
// point to the series.
func (s *Stream) ObserveLabeled(obs int, label string) {
	s.count++
	if obs != 0 {
		s.totalHeads++
	}
	if s.count < 2 {
		return
	}

	// Newest split: left partition is everything before this
	// observation, right partition is the observation itself.
	n := s.count - 1
	leftHeads := s.totalHeads
	if obs != 0 {
		leftHeads--
	}
	raw := rawDescriptionLength(leftHeads, n, s.totalHeads, s.count)
	if n == 1 {
		s.smoothed = raw
	} else {
		s.smoothed = s.smoothed*(1-s.params.Smoothing) + raw*s.params.Smoothing
	}
	s.win.push(s.smoothed)
	s.series = append(s.series, Point{Key: SplitKey{Index: n, Label: label}, Value: s.smoothed})

	if s.change == nil && n > minHistory && windowSignalsChange(s.win.values()) {
		cp := s.series[len(s.series)-1].Key
		s.change = &cp
	}
}

// Len returns the number of observations seen so far.
func (s *Stream) Len() int {
	return s.count
}

// Snapshot returns the current prefix view: a copy of the smoothed series
// and the change point if one has been locked in. Safe to call after
// every Observe for incremental rendering.
func (s *Stream) Snapshot() *Result {
	res := &Result{Series: make([]Point, len(s.series))}
	copy(res.Series, s.series)
	if s.change != nil {
		cp := *s.change
		res.ChangePoint = &cp
	}
	return res
}

// ChangePoint returns the locked change point, or nil if none has been
// detected yet.
func (s *Stream) ChangePoint() *SplitKey {
	if s.change == nil {
		return nil
	}
	cp := *s.change
	return &cp
}

func (s *Stream) String() string {
	state := "watching"
	if s.change != nil {
		state = fmt.Sprintf("changed at %s", s.change)
	}
	return fmt.Sprintf("mdl.Stream{n=%d, %s}", s.count, state)
}
