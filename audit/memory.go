package audit

import (
	"context"
	"sync"
)

// MemorySink keeps the most recent events in memory.
type MemorySink struct {
	maxRecords int

	mu     sync.Mutex
	events []Event
}

var _ Sink = (*MemorySink)(nil)

// NewMemorySink returns a MemorySink retaining maxRecords events.
func NewMemorySink(maxRecords int) *MemorySink {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &MemorySink{maxRecords: maxRecords}
}

func (s *MemorySink) Append(ctx context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	if over := len(s.events) - s.maxRecords; over > 0 {
		s.events = append([]Event(nil), s.events[over:]...)
	}
	return nil
}

func (s *MemorySink) Recent(ctx context.Context, limit, offset int) ([]Event, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(s.events, limit, offset), len(s.events), nil
}
