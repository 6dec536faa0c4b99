package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/satview/internal/imagery"
)

// DefaultFetchLogCapacity bounds the in-memory history.
const DefaultFetchLogCapacity = 200

// FetchLog keeps the most recent refresh attempts in a fixed-size ring.
type FetchLog struct {
	mu      sync.RWMutex
	entries []imagery.Attempt
	next    int
	full    bool
}

// NewFetchLog constructs a FetchLog holding up to capacity attempts.
func NewFetchLog(capacity int) *FetchLog {
	if capacity <= 0 {
		capacity = DefaultFetchLogCapacity
	}
	return &FetchLog{entries: make([]imagery.Attempt, capacity)}
}

// Record appends an attempt, evicting the oldest once full.
func (l *FetchLog) Record(_ context.Context, attempt imagery.Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = attempt
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (l *FetchLog) Recent(_ context.Context, limit int) ([]imagery.Attempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	size := l.next
	if l.full {
		size = len(l.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]imagery.Attempt, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out, nil
}
