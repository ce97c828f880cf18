package eventstore

import (
	"context"
	"sync"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// MemoryStore keeps events in process. Used by tests and the memory backend.
type MemoryStore struct {
	mu       sync.RWMutex
	streams  map[string][]domain.DomainEvent
	log      []Record
	eventIDs map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:  make(map[string][]domain.DomainEvent),
		eventIDs: make(map[string]struct{}),
	}
}

func (s *MemoryStore) Append(ctx context.Context, aggregateID string, expectedVersion int, events []domain.DomainEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(aggregateID, expectedVersion, events); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := len(s.streams[aggregateID])
	if current != expectedVersion {
		return conflict(aggregateID, expectedVersion, current)
	}
	for _, e := range events {
		if _, dup := s.eventIDs[e.EventID]; dup {
			return ErrDuplicateEvent
		}
	}

	for _, e := range events {
		s.streams[aggregateID] = append(s.streams[aggregateID], e)
		s.eventIDs[e.EventID] = struct{}{}
		s.log = append(s.log, Record{Position: int64(len(s.log) + 1), Event: e})
	}
	return nil
}

func (s *MemoryStore) ReadStream(ctx context.Context, aggregateID string) ([]domain.DomainEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[aggregateID]
	out := make([]domain.DomainEvent, len(stream))
	copy(out, stream)
	return out, nil
}

func (s *MemoryStore) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if afterPosition < 0 {
		afterPosition = 0
	}
	if afterPosition >= int64(len(s.log)) {
		return nil, nil
	}
	end := int64(len(s.log))
	if limit > 0 && afterPosition+int64(limit) < end {
		end = afterPosition + int64(limit)
	}
	out := make([]Record, end-afterPosition)
	copy(out, s.log[afterPosition:end])
	return out, nil
}
