package repository

import (
	"context"
	"sync"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// MemoryCheckpointStore implements CheckpointStore in process
type MemoryCheckpointStore struct {
	mu        sync.Mutex
	positions map[string]int64
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{positions: make(map[string]int64)}
}

func (s *MemoryCheckpointStore) Load(ctx context.Context, consumer string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[consumer], nil
}

func (s *MemoryCheckpointStore) Store(ctx context.Context, consumer string, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position > s.positions[consumer] {
		s.positions[consumer] = position
	}
	return nil
}

type firedKey struct {
	rule   domain.RuleID
	ticket domain.TicketID
}

// MemoryAlertStateStore implements AlertStateStore in process
type MemoryAlertStateStore struct {
	mu       sync.Mutex
	versions map[string]int
	fired    map[firedKey]bool
}

func NewMemoryAlertStateStore() *MemoryAlertStateStore {
	return &MemoryAlertStateStore{
		versions: make(map[string]int),
		fired:    make(map[firedKey]bool),
	}
}

func (s *MemoryAlertStateStore) LastVersion(ctx context.Context, aggregateID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[aggregateID], nil
}

func (s *MemoryAlertStateStore) SetLastVersion(ctx context.Context, aggregateID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version > s.versions[aggregateID] {
		s.versions[aggregateID] = version
	}
	return nil
}

func (s *MemoryAlertStateStore) Fired(ctx context.Context, rule domain.RuleID, ticket domain.TicketID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired[firedKey{rule, ticket}], nil
}

func (s *MemoryAlertStateStore) SetFired(ctx context.Context, rule domain.RuleID, ticket domain.TicketID, fired bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fired {
		s.fired[firedKey{rule, ticket}] = true
	} else {
		delete(s.fired, firedKey{rule, ticket})
	}
	return nil
}
