package mdl

// ring is a fixed-capacity circular buffer over the trailing smoothed
// description-length values. The detector only ever looks at the last
// 2*stride entries, so there is no need to keep (or re-slice) the whole
// series on every split.
type ring struct {
	buf   []float64
	next  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// values returns the window contents oldest-first. The returned slice is
// freshly allocated and safe to retain.
func (r *ring) values() []float64 {
	out := make([]float64, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}
