package demand

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
	"github.com/prohmpiriya/ticket-monitor/internal/metrics"
	"github.com/prohmpiriya/ticket-monitor/internal/repository"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type sweepFixture struct {
	clock   *clock.Manual
	store   *eventstore.MemoryStore
	events  *repository.MemorySportsEventRepository
	tickets *repository.MemoryTicketRepository
	sweeper *Sweeper
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	f := &sweepFixture{clock: clock.NewManual(t0), store: eventstore.NewMemoryStore()}
	f.events = repository.NewMemorySportsEventRepository(f.store)
	f.tickets = repository.NewMemoryTicketRepository(f.store)
	f.sweeper = NewSweeper(Config{Threshold: 0.7, MinTickets: 4, Horizon: 7 * 24 * time.Hour}, f.events, f.tickets, f.clock, nil)
	return f
}

func (f *sweepFixture) event(t *testing.T, name string, in time.Duration) *domain.SportsEvent {
	t.Helper()
	event, err := domain.ScheduleSportsEvent(domain.ScheduleEventParams{
		Name:      name,
		Category:  domain.CategoryBasketball,
		EventDate: t0.Add(in),
		Venue:     name + " Arena",
	}, t0)
	require.NoError(t, err)
	require.NoError(t, f.events.Save(context.Background(), event))
	return event
}

// stock adds tickets to event with the given availabilities
func (f *sweepFixture) stock(t *testing.T, event domain.EventID, statuses ...domain.AvailabilityStatus) []*domain.MonitoredTicket {
	t.Helper()
	existing, err := f.tickets.FindByEvent(context.Background(), event)
	require.NoError(t, err)
	var out []*domain.MonitoredTicket
	for n, status := range statuses {
		i := len(existing) + n
		src, err := domain.NewPlatformSource(domain.PlatformSeatGeek, fmt.Sprintf("https://seatgeek.com/l/%s/%d", event, i))
		require.NoError(t, err)
		ticket, err := domain.DiscoverTicket(domain.DiscoverTicketParams{
			EventID:      event,
			Location:     domain.SeatLocation{Section: "100", Row: "A", Seat: fmt.Sprint(i + 1)},
			Price:        domain.MustPrice("75", "USD"),
			Availability: status,
			Source:       src,
		}, t0)
		require.NoError(t, err)
		require.NoError(t, f.tickets.Save(context.Background(), ticket))
		out = append(out, ticket)
	}
	return out
}

func (f *sweepFixture) reload(t *testing.T, id domain.EventID) *domain.SportsEvent {
	t.Helper()
	event, err := f.events.FindByID(context.Background(), id)
	require.NoError(t, err)
	return event
}

func TestMeasure(t *testing.T) {
	f := newSweepFixture(t)
	event := f.event(t, "Finals", 48*time.Hour)
	tickets := f.stock(t, event.ID(),
		domain.AvailabilityAvailable, domain.AvailabilityLimited,
		domain.AvailabilitySoldOut, domain.AvailabilityUnknown)

	s := Measure(tickets)
	assert.Equal(t, Scarcity{Total: 4, Scarce: 2}, s)
	assert.InDelta(t, 0.5, s.Ratio(), 1e-9)
	assert.Zero(t, Measure(nil).Ratio())
}

func TestSweeper_MarksAndUnmarksWithHysteresis(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	event := f.event(t, "Finals", 48*time.Hour)
	tickets := f.stock(t, event.ID(),
		domain.AvailabilitySoldOut, domain.AvailabilitySoldOut,
		domain.AvailabilityLimited, domain.AvailabilityAvailable)

	result, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1, Marked: 1, HighDemand: 1}, result)
	assert.True(t, f.reload(t, event.ID()).IsHighDemand())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HighDemandEvents))

	// a second sweep with nothing changed records nothing
	result, err = f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1, HighDemand: 1}, result)

	// exactly at the threshold stays marked
	f.stock(t, event.ID(), domain.AvailabilitySoldOut, domain.AvailabilityAvailable, domain.AvailabilityLimited, domain.AvailabilityAvailable, domain.AvailabilitySoldOut, domain.AvailabilityLimited)
	assert.InDelta(t, 0.7, Measure(mustFind(t, f, event.ID())).Ratio(), 1e-9)
	result, err = f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Unmarked)

	// restocking drops the ratio below the threshold
	f.clock.Advance(time.Hour)
	for _, ticket := range tickets[:2] {
		_, err := ticket.ApplyObservation(domain.MustPrice("80", "USD"), domain.AvailabilityAvailable, f.clock.Now())
		require.NoError(t, err)
		require.NoError(t, f.tickets.Save(ctx, ticket))
	}
	result, err = f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1, Unmarked: 1}, result)
	assert.False(t, f.reload(t, event.ID()).IsHighDemand())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.HighDemandEvents))

	stream, err := f.store.ReadStream(ctx, string(event.ID()))
	require.NoError(t, err)
	types := make([]domain.EventType, 0, len(stream))
	for _, e := range stream {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventSportEventScheduled,
		domain.EventSportEventMarkedAsHighDemand,
		domain.EventSportEventUnmarkedAsHighDemand,
	}, types)
}

func TestSweeper_MarksOnlyAboveThreshold(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	event := f.event(t, "Derby", 72*time.Hour)
	f.stock(t, event.ID(),
		domain.AvailabilitySoldOut, domain.AvailabilitySoldOut, domain.AvailabilitySoldOut, domain.AvailabilitySoldOut,
		domain.AvailabilityLimited, domain.AvailabilityLimited, domain.AvailabilityLimited,
		domain.AvailabilityAvailable, domain.AvailabilityAvailable, domain.AvailabilityAvailable)
	assert.InDelta(t, 0.7, Measure(mustFind(t, f, event.ID())).Ratio(), 1e-9)

	result, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Marked, "a ratio equal to the threshold does not exceed it")
	assert.False(t, f.reload(t, event.ID()).IsHighDemand())

	f.stock(t, event.ID(), domain.AvailabilitySoldOut)
	result, err = f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Marked)
	assert.True(t, f.reload(t, event.ID()).IsHighDemand())
}

func mustFind(t *testing.T, f *sweepFixture, id domain.EventID) []*domain.MonitoredTicket {
	t.Helper()
	tickets, err := f.tickets.FindByEvent(context.Background(), id)
	require.NoError(t, err)
	return tickets
}

func TestSweeper_NeedsMinimumTickets(t *testing.T) {
	f := newSweepFixture(t)
	event := f.event(t, "Semis", 24*time.Hour)
	f.stock(t, event.ID(), domain.AvailabilitySoldOut, domain.AvailabilitySoldOut, domain.AvailabilitySoldOut)

	result, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Marked)
	assert.False(t, f.reload(t, event.ID()).IsHighDemand())
}

func TestSweeper_IgnoresEventsOutsideHorizon(t *testing.T) {
	f := newSweepFixture(t)
	far := f.event(t, "Next Season", 30*24*time.Hour)
	f.stock(t, far.ID(), domain.AvailabilitySoldOut, domain.AvailabilitySoldOut, domain.AvailabilitySoldOut, domain.AvailabilitySoldOut)

	result, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Checked)
	assert.False(t, f.reload(t, far.ID()).IsHighDemand())
}
