package events

import (
	"sync"
	"time"
)

// DefaultRetention is how long events stay in the sliding window.
const DefaultRetention = 24 * time.Hour

// Window is an in-memory sliding buffer retaining only events newer than a
// fixed horizon. Pruning happens on every Add, so the buffer never holds an
// event older than the retention at the time of the last ingest.
type Window struct {
	mu        sync.RWMutex
	retention time.Duration
	events    []Event
}

// NewWindow creates a window buffer. A non-positive retention falls back to
// DefaultRetention.
func NewWindow(retention time.Duration) *Window {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Window{retention: retention}
}

// Add appends an event and prunes entries older than the retention horizon.
func (w *Window) Add(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
	w.pruneLocked(time.Now())
}

// Prune drops events older than the retention horizon relative to now.
func (w *Window) Prune(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
}

func (w *Window) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.retention)
	// Timestamps are caller-supplied and not guaranteed ordered, so scan the
	// whole buffer rather than trimming a prefix.
	kept := w.events[:0]
	for _, ev := range w.events {
		if ev.Timestamp.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	w.events = kept
}

// RecentByKind returns events of the given kind with timestamp inside
// [now-within, now].
func (w *Window) RecentByKind(kind string, within time.Duration, now time.Time) []Event {
	cutoff := now.Add(-within)
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []Event
	for _, ev := range w.events {
		if ev.Kind != kind {
			continue
		}
		if ev.Timestamp.Before(cutoff) || ev.Timestamp.After(now) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Len returns the current buffer size.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.events)
}

// Snapshot returns a copy of the buffered events.
func (w *Window) Snapshot() []Event {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Event, len(w.events))
	copy(out, w.events)
	return out
}
