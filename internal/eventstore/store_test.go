package eventstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/testutil"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discoveredTicket(t *testing.T) *domain.MonitoredTicket {
	t.Helper()
	src, err := domain.NewPlatformSource(domain.PlatformSeatGeek, "https://seatgeek.com/listing/7")
	require.NoError(t, err)
	ticket, err := domain.DiscoverTicket(domain.DiscoverTicketParams{
		EventID:      "evt-1",
		Price:        domain.MustPrice("120", "USD"),
		Availability: domain.AvailabilityAvailable,
		Source:       src,
	}, t0)
	require.NoError(t, err)
	return ticket
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("append and read stream", func(t *testing.T) {
		store := newStore(t)
		ticket := discoveredTicket(t)
		require.NoError(t, ticket.UpdatePrice(domain.MustPrice("99", "USD"), t0))
		require.NoError(t, ticket.UpdateAvailability(domain.AvailabilitySoldOut, t0))

		id := string(ticket.ID())
		require.NoError(t, store.Append(ctx, id, ticket.ExpectedVersion(), ticket.PendingEvents()))

		events, err := store.ReadStream(ctx, id)
		require.NoError(t, err)
		require.Len(t, events, 4)
		for i, e := range events {
			assert.Equal(t, i+1, e.Version)
		}
		assert.IsType(t, domain.TicketPriceChanged{}, events[1].Payload)
		assert.Equal(t, domain.EventTicketSoldOut, events[3].EventType)
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		store := newStore(t)
		ticket := discoveredTicket(t)
		id := string(ticket.ID())
		require.NoError(t, store.Append(ctx, id, 0, ticket.DrainEvents()))

		stale, err := domain.RestoreTicket(ticket.State())
		require.NoError(t, err)

		require.NoError(t, ticket.UpdatePrice(domain.MustPrice("80", "USD"), t0))
		require.NoError(t, store.Append(ctx, id, ticket.ExpectedVersion(), ticket.DrainEvents()))

		require.NoError(t, stale.UpdatePrice(domain.MustPrice("70", "USD"), t0))
		err = store.Append(ctx, id, stale.ExpectedVersion(), stale.PendingEvents())
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrVersionConflict))

		var vc *domain.VersionConflictError
		require.True(t, errors.As(err, &vc))
		assert.Equal(t, 1, vc.Expected)
		assert.Equal(t, 2, vc.Actual)

		events, err := store.ReadStream(ctx, id)
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("gap in versions is rejected", func(t *testing.T) {
		store := newStore(t)
		ticket := discoveredTicket(t)
		events := ticket.PendingEvents()
		events[0].Version = 2
		err := store.Append(ctx, string(ticket.ID()), 0, events)
		assert.True(t, domain.IsValidationError(err))
	})

	t.Run("read all in append order", func(t *testing.T) {
		store := newStore(t)
		a := discoveredTicket(t)
		b := discoveredTicket(t)
		require.NoError(t, store.Append(ctx, string(a.ID()), 0, a.DrainEvents()))
		require.NoError(t, store.Append(ctx, string(b.ID()), 0, b.DrainEvents()))
		require.NoError(t, a.UpdatePrice(domain.MustPrice("1", "USD"), t0))
		require.NoError(t, store.Append(ctx, string(a.ID()), 1, a.DrainEvents()))

		all, err := store.ReadAll(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, string(a.ID()), all[0].Event.AggregateID)
		assert.Equal(t, string(b.ID()), all[1].Event.AggregateID)
		assert.Equal(t, domain.EventTicketPriceChanged, all[2].Event.EventType)
		assert.Less(t, all[0].Position, all[1].Position)

		page, err := store.ReadAll(ctx, all[0].Position, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, all[1].Position, page[0].Position)

		rest, err := store.ReadAll(ctx, all[2].Position, 10)
		require.NoError(t, err)
		assert.Empty(t, rest)
	})

	t.Run("duplicate event id", func(t *testing.T) {
		store := newStore(t)
		ticket := discoveredTicket(t)
		events := ticket.PendingEvents()
		require.NoError(t, store.Append(ctx, string(ticket.ID()), 0, events))

		again := events[0]
		again.Version = 2
		err := store.Append(ctx, string(ticket.ID()), 1, []domain.DomainEvent{again})
		assert.True(t, errors.Is(err, ErrDuplicateEvent))
	})

	t.Run("concurrent writers, exactly one wins", func(t *testing.T) {
		store := newStore(t)
		ticket := discoveredTicket(t)
		id := string(ticket.ID())
		require.NoError(t, store.Append(ctx, id, 0, ticket.DrainEvents()))

		const writers = 5
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			ok        int
			conflicts int
		)
		prices := []string{"50", "51", "52", "53", "54"}
		for i := 0; i < writers; i++ {
			w, err := domain.RestoreTicket(ticket.State())
			require.NoError(t, err)
			require.NoError(t, w.UpdatePrice(domain.MustPrice(prices[i], "USD"), t0))

			wg.Add(1)
			go func(events []domain.DomainEvent) {
				defer wg.Done()
				err := store.Append(ctx, id, 1, events)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else if errors.Is(err, domain.ErrVersionConflict) {
					conflicts++
				}
			}(w.PendingEvents())
		}
		wg.Wait()

		assert.Equal(t, 1, ok)
		assert.Equal(t, writers-1, conflicts)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestPostgresStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewPostgresStore(testutil.NewTestPool(t))
	})
}

func TestMemoryStore_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore().ReadStream(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
