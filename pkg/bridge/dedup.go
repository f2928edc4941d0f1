// Copyright 2024-2026 Aiku AI

package bridge

import "time"

// DefaultDedupWindow is the bounded capacity of the recent-id set.
const DefaultDedupWindow = 1000

// DedupWindow filters already-seen inbound messages using a bounded
// recent-id set plus a monotonic timestamp high-watermark. It is mutated
// only by the source consumer goroutine and is deliberately unsynchronized;
// it must never be shared across consumers. State is not persisted, so
// duplicates around a process restart are tolerated.
type DedupWindow struct {
	capacity      int
	seen          map[string]struct{}
	order         []string
	highWatermark time.Time
}

// NewDedupWindow creates a window holding at most capacity ids. A capacity
// of zero or less falls back to DefaultDedupWindow.
func NewDedupWindow(capacity int) *DedupWindow {
	if capacity <= 0 {
		capacity = DefaultDedupWindow
	}
	return &DedupWindow{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Accept reports whether the message should be processed. It rejects ids
// that were already seen and timestamps at or below the high-watermark.
// On acceptance the id is recorded and the watermark advances. Eviction is
// strict FIFO by insertion order, not LRU.
func (w *DedupWindow) Accept(id string, timestamp time.Time) bool {
	if _, ok := w.seen[id]; ok {
		return false
	}
	if !timestamp.After(w.highWatermark) {
		return false
	}

	w.seen[id] = struct{}{}
	w.order = append(w.order, id)
	if len(w.order) > w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}
	w.highWatermark = timestamp
	return true
}

// Len returns the number of ids currently held.
func (w *DedupWindow) Len() int {
	return len(w.seen)
}

// HighWatermark returns the current timestamp boundary.
func (w *DedupWindow) HighWatermark() time.Time {
	return w.highWatermark
}
