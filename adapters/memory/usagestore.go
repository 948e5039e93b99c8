package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/tradegate/domain/usage"
	"github.com/artpar/tradegate/ports"
)

// UsageStore is an in-memory implementation of ports.UsageStore.
type UsageStore struct {
	mu     sync.RWMutex
	events []usage.Event
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{
		events: make([]usage.Event, 0),
	}
}

// RecordBatch stores multiple usage events.
func (s *UsageStore) RecordBatch(ctx context.Context, events []usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
	return nil
}

// GetSummary returns aggregated usage for a period.
func (s *UsageStore) GetSummary(ctx context.Context, identity string, start, end time.Time) (usage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []usage.Event
	for _, e := range s.events {
		if e.Identity == identity && !e.Timestamp.Before(start) && e.Timestamp.Before(end) {
			matching = append(matching, e)
		}
	}

	summary := usage.Aggregate(matching, start, end)
	summary.Identity = identity
	return summary, nil
}

// GetRecentRequests returns the most recent events for an identity,
// newest first.
func (s *UsageStore) GetRecentRequests(ctx context.Context, identity string, limit int) ([]usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []usage.Event
	for i := len(s.events) - 1; i >= 0 && len(matching) < limit; i-- {
		if s.events[i].Identity == identity {
			matching = append(matching, s.events[i])
		}
	}

	return matching, nil
}

// GetAll returns all events (for testing).
func (s *UsageStore) GetAll() []usage.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]usage.Event{}, s.events...)
}

// Drain returns all events and clears the store (for testing).
func (s *UsageStore) Drain() []usage.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = make([]usage.Event, 0)
	return events
}

// Clear removes all events (for testing).
func (s *UsageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make([]usage.Event, 0)
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
