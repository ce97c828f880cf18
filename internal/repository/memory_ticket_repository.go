package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
)

// MemoryTicketRepository implements TicketRepository in process, appending
// to a shared event store
type MemoryTicketRepository struct {
	mu      sync.Mutex
	events  eventstore.Store
	tickets map[domain.TicketID]domain.TicketState
	byKey   map[string]domain.TicketID
}

func NewMemoryTicketRepository(events eventstore.Store) *MemoryTicketRepository {
	return &MemoryTicketRepository{
		events:  events,
		tickets: make(map[domain.TicketID]domain.TicketState),
		byKey:   make(map[string]domain.TicketID),
	}
}

func (r *MemoryTicketRepository) Save(ctx context.Context, ticket *domain.MonitoredTicket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ticket.ID()
	key := ticket.NaturalKey()
	if owner, ok := r.byKey[key]; ok && owner != id {
		return &domain.VersionConflictError{AggregateID: key, Expected: 0, Actual: r.tickets[owner].Version}
	}

	stored, exists := r.tickets[id]
	if ticket.HasPendingEvents() {
		if err := r.events.Append(ctx, string(id), ticket.ExpectedVersion(), ticket.PendingEvents()); err != nil {
			return err
		}
	} else if !exists || stored.Version != ticket.ExpectedVersion() {
		return &domain.VersionConflictError{AggregateID: string(id), Expected: ticket.ExpectedVersion(), Actual: stored.Version}
	}

	ticket.DrainEvents()
	r.tickets[id] = ticket.State()
	r.byKey[key] = id
	return nil
}

func (r *MemoryTicketRepository) FindByID(ctx context.Context, id domain.TicketID) (*domain.MonitoredTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.tickets[id]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	return domain.RestoreTicket(state)
}

func (r *MemoryTicketRepository) FindByNaturalKey(ctx context.Context, key string) (*domain.MonitoredTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byKey[key]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	return domain.RestoreTicket(r.tickets[id])
}

func (r *MemoryTicketRepository) FindByEvent(ctx context.Context, eventID domain.EventID) ([]*domain.MonitoredTicket, error) {
	return r.filter(func(s domain.TicketState) bool { return s.EventID == eventID }, 0)
}

func (r *MemoryTicketRepository) FindStale(ctx context.Context, before time.Time, limit int) ([]*domain.MonitoredTicket, error) {
	return r.filter(func(s domain.TicketState) bool { return s.LastMonitoredAt.Before(before) }, limit)
}

func (r *MemoryTicketRepository) filter(match func(domain.TicketState) bool, limit int) ([]*domain.MonitoredTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var states []domain.TicketState
	for _, s := range r.tickets {
		if match(s) {
			states = append(states, s)
		}
	}
	sort.Slice(states, func(i, j int) bool {
		if !states[i].LastMonitoredAt.Equal(states[j].LastMonitoredAt) {
			return states[i].LastMonitoredAt.Before(states[j].LastMonitoredAt)
		}
		return states[i].ID < states[j].ID
	})
	if limit > 0 && len(states) > limit {
		states = states[:limit]
	}

	tickets := make([]*domain.MonitoredTicket, 0, len(states))
	for _, s := range states {
		t, err := domain.RestoreTicket(s)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}
