// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"testing"
	"time"
)

// TestDedupWindow_DuplicateID verifies that a message delivered twice with
// the same id is accepted exactly once.
func TestDedupWindow_DuplicateID(t *testing.T) {
	t.Parallel()
	w := NewDedupWindow(10)
	ts := time.Unix(100, 0)

	if !w.Accept("m1", ts) {
		t.Fatal("first delivery of m1 should be accepted")
	}
	if w.Accept("m1", ts) {
		t.Error("second delivery of m1 should be rejected")
	}
	if w.Len() != 1 {
		t.Errorf("window length: got %d, want 1", w.Len())
	}
}

// TestDedupWindow_Watermark verifies that timestamps at or below the
// high-watermark are rejected even for unseen ids.
func TestDedupWindow_Watermark(t *testing.T) {
	t.Parallel()
	w := NewDedupWindow(10)

	if !w.Accept("m1", time.Unix(200, 0)) {
		t.Fatal("m1 should be accepted")
	}
	if w.Accept("m2", time.Unix(200, 0)) {
		t.Error("timestamp equal to watermark should be rejected")
	}
	if w.Accept("m3", time.Unix(150, 0)) {
		t.Error("timestamp below watermark should be rejected")
	}
	if !w.Accept("m4", time.Unix(201, 0)) {
		t.Error("timestamp above watermark should be accepted")
	}
	if got, want := w.HighWatermark(), time.Unix(201, 0); !got.Equal(want) {
		t.Errorf("watermark: got %v, want %v", got, want)
	}
}

// TestDedupWindow_FIFOEviction verifies the bounded capacity with strict
// FIFO eviction: once full, the oldest inserted id falls out first.
func TestDedupWindow_FIFOEviction(t *testing.T) {
	t.Parallel()
	w := NewDedupWindow(3)
	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("m%d", i)
		if !w.Accept(id, time.Unix(int64(i), 0)) {
			t.Fatalf("%s should be accepted", id)
		}
	}

	if w.Len() != 3 {
		t.Fatalf("window length after overflow: got %d, want 3", w.Len())
	}

	// m1 was evicted: a later delivery of the same id passes the id check
	// again (only the watermark now guards it).
	if !w.Accept("m1", time.Unix(10, 0)) {
		t.Error("evicted id m1 should be accepted again with a fresh timestamp")
	}
	// m2 is still held.
	if w.Accept("m2", time.Unix(11, 0)) {
		t.Error("retained id m2 should still be rejected")
	}
}

// TestDedupWindow_CapacityFallback verifies that non-positive capacities
// fall back to the default window size.
func TestDedupWindow_CapacityFallback(t *testing.T) {
	t.Parallel()
	w := NewDedupWindow(0)
	if w.capacity != DefaultDedupWindow {
		t.Errorf("capacity: got %d, want %d", w.capacity, DefaultDedupWindow)
	}
	w = NewDedupWindow(-5)
	if w.capacity != DefaultDedupWindow {
		t.Errorf("capacity: got %d, want %d", w.capacity, DefaultDedupWindow)
	}
}
