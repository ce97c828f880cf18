package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
)

// MemorySportsEventRepository implements SportsEventRepository in process
type MemorySportsEventRepository struct {
	mu     sync.Mutex
	events eventstore.Store
	states map[domain.EventID]domain.SportsEventState
}

func NewMemorySportsEventRepository(events eventstore.Store) *MemorySportsEventRepository {
	return &MemorySportsEventRepository{
		events: events,
		states: make(map[domain.EventID]domain.SportsEventState),
	}
}

func (r *MemorySportsEventRepository) Save(ctx context.Context, event *domain.SportsEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := event.ID()
	stored, exists := r.states[id]
	if event.HasPendingEvents() {
		if err := r.events.Append(ctx, string(id), event.ExpectedVersion(), event.PendingEvents()); err != nil {
			return err
		}
	} else if !exists || stored.Version != event.ExpectedVersion() {
		return &domain.VersionConflictError{AggregateID: string(id), Expected: event.ExpectedVersion(), Actual: stored.Version}
	}

	event.DrainEvents()
	state := event.State()
	// attaching tickets is one-way
	state.TicketsAttached = state.TicketsAttached || stored.TicketsAttached
	r.states[id] = state
	return nil
}

func (r *MemorySportsEventRepository) FindByID(ctx context.Context, id domain.EventID) (*domain.SportsEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return domain.RestoreSportsEvent(state)
}

func (r *MemorySportsEventRepository) FindInWindow(ctx context.Context, start, end time.Time) ([]*domain.SportsEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var states []domain.SportsEventState
	for _, s := range r.states {
		if !s.EventDate.Before(start) && s.EventDate.Before(end) {
			states = append(states, s)
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].EventDate.Before(states[j].EventDate) })

	events := make([]*domain.SportsEvent, 0, len(states))
	for _, s := range states {
		e, err := domain.RestoreSportsEvent(s)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
