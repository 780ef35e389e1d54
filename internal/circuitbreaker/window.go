package circuitbreaker

import "time"

// callRecord is one sliding-window sample.
type callRecord struct {
	at      time.Time
	success bool
	latency time.Duration
}

// window is a bounded sliding window of recent call records, pruned to a
// maximum age. It is not safe for concurrent use; the breaker serializes
// access under its state mutex.
type window struct {
	records []callRecord
	maxAge  time.Duration
}

func newWindow(maxAge time.Duration) *window {
	return &window{maxAge: maxAge}
}

// add appends a record and prunes entries older than maxAge relative to now.
func (w *window) add(rec callRecord, now time.Time) {
	w.records = append(w.records, rec)
	w.prune(now)
}

// prune drops records older than maxAge. Records are appended in completion
// order, which is close enough to time order for cutoff pruning.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	idx := 0
	for idx < len(w.records) && w.records[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		w.records = append(w.records[:0], w.records[idx:]...)
	}
}

// size returns the number of samples currently in the window.
func (w *window) size() int {
	return len(w.records)
}

// failureRate returns the percentage of failed samples (0-100).
func (w *window) failureRate() float64 {
	if len(w.records) == 0 {
		return 0
	}
	failed := 0
	for _, rec := range w.records {
		if !rec.success {
			failed++
		}
	}
	return float64(failed) / float64(len(w.records)) * 100
}

// reset discards all samples.
func (w *window) reset() {
	w.records = w.records[:0]
}
