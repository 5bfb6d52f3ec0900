package alerting

import (
	"sort"
	"sync"
	"time"
)

type sample struct {
	at    time.Time
	value float64
}

// Window is a time-bounded list of samples. Samples older than the span are
// purged on every insert and read.
type Window struct {
	mu      sync.Mutex
	span    time.Duration
	clock   func() time.Time
	samples []sample
}

// NewWindow creates a window covering span
func NewWindow(span time.Duration, clock func() time.Time) *Window {
	if clock == nil {
		clock = time.Now
	}
	return &Window{span: span, clock: clock}
}

// Add appends a sample stamped with the current time
func (w *Window) Add(value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock()
	w.samples = append(w.samples, sample{at: now, value: value})
	w.purge(now)
}

// Values returns the live samples in insertion order
func (w *Window) Values() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.purge(w.clock())

	values := make([]float64, len(w.samples))
	for i, s := range w.samples {
		values[i] = s.value
	}
	return values
}

// Len returns the number of live samples
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.purge(w.clock())
	return len(w.samples)
}

// Reset drops every sample
func (w *Window) Reset() {
	w.mu.Lock()
	w.samples = nil
	w.mu.Unlock()
}

func (w *Window) purge(now time.Time) {
	keep := 0
	for keep < len(w.samples) && now.Sub(w.samples[keep].at) >= w.span {
		keep++
	}
	if keep > 0 {
		w.samples = append(w.samples[:0], w.samples[keep:]...)
	}
}

// Percentile returns sorted[floor(n*p)] over values, or 0 when empty
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// Mean returns the arithmetic mean of values, or 0 when empty
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
