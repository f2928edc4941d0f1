// Copyright 2024-2026 Aiku AI

package bridge

import (
	"strings"
	"sync"
)

// TermFilter drops messages whose text starts with a blocked term. Matching
// is case-insensitive against the trimmed text. The term list can be swapped
// at runtime by the config watcher, so access is guarded.
type TermFilter struct {
	mu    sync.RWMutex
	terms []string
}

// NewTermFilter builds a filter over the given blocked terms. Terms are
// normalized to lower case; empty terms are ignored.
func NewTermFilter(terms []string) *TermFilter {
	f := &TermFilter{}
	f.SetTerms(terms)
	return f
}

// SetTerms replaces the blocked-term list.
func (f *TermFilter) SetTerms(terms []string) {
	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			normalized = append(normalized, t)
		}
	}
	f.mu.Lock()
	f.terms = normalized
	f.mu.Unlock()
}

// Blocked reports whether the text starts with any blocked term.
func (f *TermFilter) Blocked(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, term := range f.terms {
		if strings.HasPrefix(text, term) {
			return true
		}
	}
	return false
}
