package crown

import "math"

// VarianceTracker keeps the population variance of the most recent
// capacity samples. Add is O(1): the buffer is filled with the classic
// Welford update, then each new sample replaces the oldest one and the
// mean and sum of squared deviations are corrected incrementally.
type VarianceTracker struct {
	buf   []float64
	next  int // slot that receives the next sample (the oldest once full)
	count int
	mean  float64
	m2    float64
}

// NewVarianceTracker returns a tracker holding at most capacity samples.
func NewVarianceTracker(capacity int) (*VarianceTracker, error) {
	if capacity <= 0 {
		return nil, configErrorf("variance_window", "capacity must be positive, got %d", capacity)
	}
	return &VarianceTracker{buf: make([]float64, capacity)}, nil
}

// Add records value, evicting the oldest sample when the window is full.
func (v *VarianceTracker) Add(value float64) {
	if v.count < len(v.buf) {
		v.buf[v.next] = value
		v.next = (v.next + 1) % len(v.buf)
		v.count++

		delta := value - v.mean
		v.mean += delta / float64(v.count)
		v.m2 += delta * (value - v.mean)
		return
	}

	old := v.buf[v.next]
	v.buf[v.next] = value
	v.next = (v.next + 1) % len(v.buf)

	oldMean := v.mean
	v.mean += (value - old) / float64(v.count)
	v.m2 += (value - old) * (value - v.mean + old - oldMean)
	if math.IsNaN(v.m2) || math.IsInf(v.m2, 0) || math.IsNaN(v.mean) || math.IsInf(v.mean, 0) {
		v.rebuild()
		return
	}
	if v.m2 < 0 {
		// rounding only; a true sum of squares is never negative
		v.m2 = 0
	}
}

// rebuild recomputes mean and m2 from the held samples. Add falls back to it
// when an evicted overflow would otherwise leave the accumulators NaN.
func (v *VarianceTracker) rebuild() {
	v.mean, v.m2 = 0, 0
	for i := 1; i <= v.count; i++ {
		x := v.buf[(v.next+len(v.buf)-v.count+i-1)%len(v.buf)]
		delta := x - v.mean
		v.mean += delta / float64(i)
		v.m2 += delta * (x - v.mean)
	}
}

// Variance returns the population variance of the held samples, or 0 when
// the tracker is empty.
func (v *VarianceTracker) Variance() float64 {
	if v.count == 0 {
		return 0
	}
	return v.m2 / float64(v.count)
}

// Mean returns the mean of the held samples.
func (v *VarianceTracker) Mean() float64 { return v.mean }

// Count returns how many samples are currently held.
func (v *VarianceTracker) Count() int { return v.count }

// Capacity returns the window size.
func (v *VarianceTracker) Capacity() int { return len(v.buf) }

// Samples returns the held samples, oldest first.
func (v *VarianceTracker) Samples() []float64 {
	out := make([]float64, 0, v.count)
	start := 0
	if v.count == len(v.buf) {
		start = v.next
	}
	for i := 0; i < v.count; i++ {
		out = append(out, v.buf[(start+i)%len(v.buf)])
	}
	return out
}

// Resized returns a tracker of the given capacity seeded with the newest
// samples of v. v itself is returned when the capacity is unchanged.
func (v *VarianceTracker) Resized(capacity int) (*VarianceTracker, error) {
	if capacity == len(v.buf) {
		return v, nil
	}
	next, err := NewVarianceTracker(capacity)
	if err != nil {
		return nil, err
	}
	samples := v.Samples()
	if len(samples) > capacity {
		samples = samples[len(samples)-capacity:]
	}
	for _, s := range samples {
		next.Add(s)
	}
	return next, nil
}

// Reset empties the window without reallocating it.
func (v *VarianceTracker) Reset() {
	v.next = 0
	v.count = 0
	v.mean = 0
	v.m2 = 0
}
