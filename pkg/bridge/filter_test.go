// Copyright 2024-2026 Aiku AI

package bridge

import "testing"

// TestTermFilter_PrefixMatch verifies case-insensitive prefix matching on
// trimmed text.
func TestTermFilter_PrefixMatch(t *testing.T) {
	t.Parallel()
	f := NewTermFilter([]string{"/cmd", "SPAM"})

	cases := []struct {
		text string
		want bool
	}{
		{"/cmd restart", true},
		{"  /CMD restart", true},
		{"spam offer", true},
		{"this is spam", false},
		{"hello", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := f.Blocked(tc.text); got != tc.want {
			t.Errorf("Blocked(%q): got %v, want %v", tc.text, got, tc.want)
		}
	}
}

// TestTermFilter_SetTerms verifies that the term list can be swapped at
// runtime and that empty terms are dropped.
func TestTermFilter_SetTerms(t *testing.T) {
	t.Parallel()
	f := NewTermFilter([]string{"old"})
	if !f.Blocked("old news") {
		t.Fatal("initial term should block")
	}

	f.SetTerms([]string{"new", "", "  "})
	if f.Blocked("old news") {
		t.Error("replaced term should no longer block")
	}
	if !f.Blocked("new offer") {
		t.Error("new term should block")
	}
	if f.Blocked("anything") {
		t.Error("blank terms must not block everything")
	}
}

// TestTermFilter_Empty verifies that an empty filter blocks nothing.
func TestTermFilter_Empty(t *testing.T) {
	t.Parallel()
	f := NewTermFilter(nil)
	if f.Blocked("any text at all") {
		t.Error("empty filter should not block")
	}
}
