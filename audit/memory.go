package audit

import (
	"context"
	"sync"
)

// MemorySink keeps the most recent entries in memory. Used in development
// and as the test double for handler persistence checks.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

// NewMemorySink creates a sink retaining at most max entries (oldest
// evicted first). max <= 0 means unbounded.
func NewMemorySink(max int) *MemorySink {
	return &MemorySink{max: max}
}

// Record implements Sink
func (s *MemorySink) Record(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	if s.max > 0 && len(s.entries) > s.max {
		s.entries = s.entries[len(s.entries)-s.max:]
	}
	return nil
}

// Close implements Sink
func (s *MemorySink) Close() error { return nil }

// Entries returns a copy of the recorded entries in order
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByType returns recorded entries matching the given message type
func (s *MemorySink) ByType(msgType string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Type == msgType {
			out = append(out, e)
		}
	}
	return out
}
