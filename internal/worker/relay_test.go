package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
	"github.com/prohmpiriya/ticket-monitor/internal/repository"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// MockPublisher is a mock implementation of Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	args := m.Called(ctx, topic, key, data, headers)
	return args.Error(0)
}

func seedTicket(t *testing.T, store eventstore.Store) *domain.MonitoredTicket {
	t.Helper()
	src, err := domain.NewPlatformSource(domain.PlatformViagogo, "https://www.viagogo.com/l/1")
	require.NoError(t, err)
	ticket, err := domain.DiscoverTicket(domain.DiscoverTicketParams{
		EventID:      "evt-1",
		Price:        domain.MustPrice("200", "EUR"),
		Availability: domain.AvailabilityAvailable,
		Source:       src,
	}, t0)
	require.NoError(t, err)
	require.NoError(t, ticket.UpdatePrice(domain.MustPrice("180", "EUR"), t0))
	ticket.AnnotatePending(domain.MetaCorrelationID, "corr-1")
	require.NoError(t, repository.NewMemoryTicketRepository(store).Save(context.Background(), ticket))
	return ticket
}

func seedAlert(t *testing.T, store eventstore.Store, ticket *domain.MonitoredTicket) *domain.AlertRule {
	t.Helper()
	rules := repository.NewMemoryAlertRuleRepository(store)
	rule, err := domain.NewAlertRule(domain.AlertRuleParams{UserID: "user-7", EventID: "evt-1", Kind: domain.AlertSoldOut}, t0)
	require.NoError(t, err)
	require.NoError(t, rules.Create(context.Background(), rule))
	rule.Trigger(domain.AlertTriggered{TicketID: ticket.ID(), EventID: "evt-1", TriggeringEventID: "cause-1"}, t0)
	require.NoError(t, rules.Save(context.Background(), rule))
	return rule
}

func TestEventRelay_PublishesInOrder(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	ticket := seedTicket(t, store)
	rule := seedAlert(t, store, ticket)
	checkpoints := repository.NewMemoryCheckpointStore()

	pub := new(MockPublisher)
	pub.On("ProduceJSON", mock.Anything, "ticket-events", string(ticket.ID()), mock.Anything, mock.MatchedBy(func(h map[string]string) bool {
		return h["correlation_id"] == "corr-1"
	})).Return(nil).Twice()
	pub.On("ProduceJSON", mock.Anything, "ticket-events", string(rule.ID()), mock.Anything, mock.Anything).Return(nil).Once()
	pub.On("ProduceJSON", mock.Anything, "ticket-alerts", "user-7", mock.Anything, mock.MatchedBy(func(h map[string]string) bool {
		return h["event_type"] == string(domain.EventAlertTriggered)
	})).Return(nil).Once()

	relay := NewEventRelay(&EventRelayConfig{}, store, checkpoints, pub, nil)
	n, err := relay.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	pub.AssertExpectations(t)

	pos, err := checkpoints.Load(ctx, RelayConsumerName)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos)

	n, err = relay.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEventRelay_StopsAtFailure(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	ticket := seedTicket(t, store)
	checkpoints := repository.NewMemoryCheckpointStore()

	pub := new(MockPublisher)
	pub.On("ProduceJSON", mock.Anything, "ticket-events", string(ticket.ID()), mock.Anything, mock.Anything).Return(nil).Once()
	pub.On("ProduceJSON", mock.Anything, "ticket-events", string(ticket.ID()), mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	relay := NewEventRelay(&EventRelayConfig{}, store, checkpoints, pub, nil)
	n, err := relay.ProcessBatch(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, n)

	pos, err := checkpoints.Load(ctx, RelayConsumerName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos, "only the published event is checkpointed")
}
