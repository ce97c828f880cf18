package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
	"github.com/prohmpiriya/ticket-monitor/internal/repository"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type engineFixture struct {
	clock   *clock.Manual
	store   *eventstore.MemoryStore
	tickets *repository.MemoryTicketRepository
	events  *repository.MemorySportsEventRepository
	rules   *repository.MemoryAlertRuleRepository
	state   *repository.MemoryAlertStateStore
	engine  *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		clock: clock.NewManual(t0),
		store: eventstore.NewMemoryStore(),
		state: repository.NewMemoryAlertStateStore(),
	}
	f.tickets = repository.NewMemoryTicketRepository(f.store)
	f.events = repository.NewMemorySportsEventRepository(f.store)
	f.rules = repository.NewMemoryAlertRuleRepository(f.store)
	f.engine = NewEngine(Config{BatchSize: 3}, Deps{
		Store:       f.store,
		Rules:       f.rules,
		State:       f.state,
		Checkpoints: repository.NewMemoryCheckpointStore(),
		Events:      f.events,
		Clock:       f.clock,
	})
	return f
}

func (f *engineFixture) ticket(t *testing.T, eventID domain.EventID, price string) *domain.MonitoredTicket {
	t.Helper()
	src, err := domain.NewPlatformSource(domain.PlatformStubHub, "https://www.stubhub.com/listing/42")
	require.NoError(t, err)
	ticket, err := domain.DiscoverTicket(domain.DiscoverTicketParams{
		EventID:      eventID,
		Location:     domain.SeatLocation{Section: "112", Row: "F", Seat: "7"},
		Price:        domain.MustPrice(price, "USD"),
		Availability: domain.AvailabilityAvailable,
		Source:       src,
	}, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.tickets.Save(context.Background(), ticket))
	return ticket
}

func (f *engineFixture) observe(t *testing.T, ticket *domain.MonitoredTicket, price string, status domain.AvailabilityStatus) {
	t.Helper()
	f.clock.Advance(time.Minute)
	_, err := ticket.ApplyObservation(domain.MustPrice(price, "USD"), status, f.clock.Now())
	require.NoError(t, err)
	ticket.AnnotatePending(domain.MetaCorrelationID, "corr-"+price)
	require.NoError(t, f.tickets.Save(context.Background(), ticket))
}

func (f *engineFixture) rule(t *testing.T, p domain.AlertRuleParams) *domain.AlertRule {
	t.Helper()
	if p.UserID == "" {
		p.UserID = "user-1"
	}
	rule, err := domain.NewAlertRule(p, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.rules.Create(context.Background(), rule))
	return rule
}

// drain processes the event log until the engine is caught up
func (f *engineFixture) drain(t *testing.T) {
	t.Helper()
	for {
		n, err := f.engine.ProcessBatch(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
}

func (f *engineFixture) alerts(t *testing.T, rule *domain.AlertRule) []domain.AlertTriggered {
	t.Helper()
	stream, err := f.store.ReadStream(context.Background(), string(rule.ID()))
	require.NoError(t, err)
	out := make([]domain.AlertTriggered, 0, len(stream))
	for _, e := range stream {
		out = append(out, e.Payload.(domain.AlertTriggered))
	}
	return out
}

func TestEngine_PriceRuleIsEdgeTriggered(t *testing.T) {
	f := newEngineFixture(t)
	rule := f.rule(t, domain.AlertRuleParams{
		EventID:     "evt-1",
		Kind:        domain.AlertPriceThreshold,
		TargetPrice: domain.MustPrice("100", "USD"),
		Operator:    domain.CompareLess,
	})
	ticket := f.ticket(t, "evt-1", "150")

	f.observe(t, ticket, "90", domain.AvailabilityAvailable)
	f.observe(t, ticket, "85", domain.AvailabilityAvailable)
	f.drain(t)
	alerts := f.alerts(t, rule)
	require.Len(t, alerts, 1, "still below target does not fire again")
	assert.True(t, alerts[0].Price.Equals(domain.MustPrice("90", "USD")))
	assert.Equal(t, ticket.ID(), alerts[0].TicketID)
	assert.Equal(t, "user-1", alerts[0].UserID)

	f.observe(t, ticket, "120", domain.AvailabilityAvailable)
	f.observe(t, ticket, "95", domain.AvailabilityAvailable)
	f.drain(t)
	alerts = f.alerts(t, rule)
	require.Len(t, alerts, 2, "re-armed above target and fired again")
	assert.True(t, alerts[1].Price.Equals(domain.MustPrice("95", "USD")))
}

func TestEngine_AlertMetadataAndDeterministicID(t *testing.T) {
	f := newEngineFixture(t)
	rule := f.rule(t, domain.AlertRuleParams{
		EventID:     "evt-1",
		Kind:        domain.AlertPriceThreshold,
		TargetPrice: domain.MustPrice("100", "USD"),
		Operator:    domain.CompareLessOrEqual,
	})
	ticket := f.ticket(t, "evt-1", "150")
	f.observe(t, ticket, "100", domain.AvailabilityAvailable)

	stream, err := f.store.ReadStream(context.Background(), string(ticket.ID()))
	require.NoError(t, err)
	cause := stream[len(stream)-1]

	triggered, err := f.engine.Handle(context.Background(), cause)
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.Equal(t, domain.TriggerEventID(rule.ID(), cause.EventID), triggered[0].EventID)
	assert.Equal(t, cause.EventID, triggered[0].Metadata[domain.MetaCausationID])
	assert.Equal(t, "corr-100", triggered[0].Metadata[domain.MetaCorrelationID])
	payload := triggered[0].Payload.(domain.AlertTriggered)
	assert.Equal(t, domain.AvailabilityAvailable, payload.Availability)
	assert.True(t, payload.Price.Equals(domain.MustPrice("100", "USD")))

	again, err := f.engine.Handle(context.Background(), cause)
	require.NoError(t, err)
	assert.Empty(t, again, "already processed version is skipped")
}

func TestEngine_PriceAlertCarriesObservedAvailability(t *testing.T) {
	f := newEngineFixture(t)
	rule := f.rule(t, domain.AlertRuleParams{
		EventID:     "evt-1",
		Kind:        domain.AlertPriceThreshold,
		TargetPrice: domain.MustPrice("100", "USD"),
		Operator:    domain.CompareLess,
	})
	ticket := f.ticket(t, "evt-1", "150")

	f.observe(t, ticket, "150", domain.AvailabilitySoldOut)
	f.observe(t, ticket, "90", domain.AvailabilityLimited)
	f.drain(t)

	alerts := f.alerts(t, rule)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AvailabilityLimited, alerts[0].Availability, "restock reported with the status it came back in")
}

func TestEngine_ReplayAfterLostStateDoesNotDuplicate(t *testing.T) {
	f := newEngineFixture(t)
	rule := f.rule(t, domain.AlertRuleParams{
		EventID:     "evt-1",
		Kind:        domain.AlertPriceThreshold,
		TargetPrice: domain.MustPrice("100", "USD"),
		Operator:    domain.CompareLess,
	})
	ticket := f.ticket(t, "evt-1", "150")
	f.observe(t, ticket, "90", domain.AvailabilityAvailable)
	f.drain(t)
	require.Len(t, f.alerts(t, rule), 1)

	// a fresh consumer that lost both checkpoint and trigger state
	replay := NewEngine(Config{}, Deps{
		Store:       f.store,
		Rules:       f.rules,
		State:       repository.NewMemoryAlertStateStore(),
		Checkpoints: repository.NewMemoryCheckpointStore(),
		Clock:       f.clock,
	})
	n, err := replay.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.Len(t, f.alerts(t, rule), 1)
}

func TestEngine_SoldOutFiresPerTransition(t *testing.T) {
	f := newEngineFixture(t)
	rule := f.rule(t, domain.AlertRuleParams{EventID: "evt-1", Kind: domain.AlertSoldOut})
	other := f.rule(t, domain.AlertRuleParams{EventID: "evt-1", Kind: domain.AlertSoldOut, Platform: domain.PlatformViagogo})
	ticket := f.ticket(t, "evt-1", "150")

	f.observe(t, ticket, "150", domain.AvailabilitySoldOut)
	f.observe(t, ticket, "160", domain.AvailabilityAvailable)
	f.observe(t, ticket, "160", domain.AvailabilitySoldOut)
	f.drain(t)

	alerts := f.alerts(t, rule)
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.Equal(t, domain.AlertSoldOut, a.Kind)
		assert.Equal(t, domain.AvailabilitySoldOut, a.Availability)
	}
	assert.Empty(t, f.alerts(t, other), "platform filter excludes stubhub")
}

func TestEngine_InactiveAndOtherEventRulesIgnored(t *testing.T) {
	f := newEngineFixture(t)
	params := domain.AlertRuleParams{
		EventID:     "evt-1",
		Kind:        domain.AlertPriceThreshold,
		TargetPrice: domain.MustPrice("100", "USD"),
		Operator:    domain.CompareLess,
	}
	inactive := f.rule(t, params)
	inactive.Deactivate(t0)
	require.NoError(t, f.rules.Save(context.Background(), inactive))

	params.EventID = "evt-2"
	elsewhere := f.rule(t, params)

	ticket := f.ticket(t, "evt-1", "150")
	f.observe(t, ticket, "50", domain.AvailabilityAvailable)
	f.drain(t)

	assert.Empty(t, f.alerts(t, inactive))
	assert.Empty(t, f.alerts(t, elsewhere))
}

func TestEngine_HighDemandFlag(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	event, err := domain.ScheduleSportsEvent(domain.ScheduleEventParams{
		Name:      "Derby",
		Category:  domain.CategoryFootball,
		EventDate: t0.Add(72 * time.Hour),
		Venue:     "Anfield",
	}, t0)
	require.NoError(t, err)
	event.MarkAsHighDemand(0.9, 20, t0)
	require.NoError(t, f.events.Save(ctx, event))

	rule := f.rule(t, domain.AlertRuleParams{EventID: event.ID(), Kind: domain.AlertSoldOut})
	ticket := f.ticket(t, event.ID(), "150")
	f.observe(t, ticket, "150", domain.AvailabilitySoldOut)
	f.drain(t)

	alerts := f.alerts(t, rule)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].HighDemand)
	assert.Equal(t, event.ID(), alerts[0].EventID)
}
