package eviction

import (
	"sort"
	"sync"
	"time"
)

// Log is a capacity-bounded, timestamp-ordered log. When an append pushes it
// past capacity the oldest entries are dropped first. Out-of-order appends
// land at their timestamp position, so "oldest" always means earliest
// timestamp. Safe for concurrent use.
type Log[T any] struct {
	mu        sync.RWMutex
	entries   []T
	capacity  int
	timestamp func(T) time.Time
}

// NewLog creates a log holding at most capacity entries. A capacity below 1
// is treated as 1.
func NewLog[T any](capacity int, timestamp func(T) time.Time) *Log[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Log[T]{
		entries:   make([]T, 0, min(capacity, 64)),
		capacity:  capacity,
		timestamp: timestamp,
	}
}

// Append inserts entry and returns how many old entries were evicted to stay
// within capacity.
func (l *Log[T]) Append(entry T) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.timestamp(entry)
	// Insert after every entry with an equal or earlier timestamp.
	i := sort.Search(len(l.entries), func(i int) bool {
		return l.timestamp(l.entries[i]).After(ts)
	})
	var zero T
	l.entries = append(l.entries, zero)
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = entry

	return l.trimLocked(l.capacity)
}

// Items returns a copy of the entries, oldest first.
func (l *Log[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Cap returns the capacity.
func (l *Log[T]) Cap() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.capacity
}

// EvictOldest removes up to n of the oldest entries and returns how many were
// removed.
func (l *Log[T]) EvictOldest(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 {
		return 0
	}
	return l.trimLocked(max(len(l.entries)-n, 0))
}

// Replace swaps the contents for entries, sorted and trimmed to capacity.
// It returns how many entries were dropped.
func (l *Log[T]) Replace(entries []T) int {
	sorted := make([]T, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return l.timestamp(sorted[i]).Before(l.timestamp(sorted[j]))
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = sorted
	return l.trimLocked(l.capacity)
}

// trimLocked drops the oldest entries until at most keep remain.
func (l *Log[T]) trimLocked(keep int) int {
	excess := len(l.entries) - keep
	if excess <= 0 {
		return 0
	}
	n := copy(l.entries, l.entries[excess:])
	clear(l.entries[n:])
	l.entries = l.entries[:n]
	return excess
}
