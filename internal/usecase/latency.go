package usecase

import (
	"math"
	"sort"
	"sync"
	"time"
)

const latencyWindowSize = 1000

// latencyWindow keeps running totals plus the last latencyWindowSize samples
// for the p95.
type latencyWindow struct {
	mu      sync.Mutex
	samples []float64
	next    int
	count   int64
	sumMs   float64
	maxMs   float64
}

func newLatencyWindow() *latencyWindow {
	return &latencyWindow{samples: make([]float64, 0, latencyWindowSize)}
}

func (w *latencyWindow) observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count++
	w.sumMs += ms
	if ms > w.maxMs {
		w.maxMs = ms
	}
	if len(w.samples) < latencyWindowSize {
		w.samples = append(w.samples, ms)
		return
	}
	w.samples[w.next] = ms
	w.next = (w.next + 1) % latencyWindowSize
}

// snapshot returns avg, max and p95 in milliseconds, rounded to 2 places.
func (w *latencyWindow) snapshot() (avg, maxMs, p95 float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, len(w.samples))
	copy(sorted, w.samples)
	sort.Float64s(sorted)
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return round2(w.sumMs / float64(w.count)), round2(w.maxMs), round2(sorted[idx])
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
