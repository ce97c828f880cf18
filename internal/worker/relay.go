package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
	"github.com/prohmpiriya/ticket-monitor/internal/metrics"
	"github.com/prohmpiriya/ticket-monitor/internal/repository"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

const (
	RelayConsumerName  = "event-relay"
	DefaultEventsTopic = "ticket-events"
	DefaultAlertsTopic = "ticket-alerts"
)

// Publisher produces JSON messages; satisfied by *kafka.Producer
type Publisher interface {
	ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error
}

// EventRelayConfig holds configuration for the event relay
type EventRelayConfig struct {
	EventsTopic string
	AlertsTopic string
	BatchSize   int
}

// EventRelay publishes the event log to Kafka in append order. Every event
// goes to the events topic keyed by aggregate id; AlertTriggered events are
// also published to the alerts topic keyed by user. Delivery is at least
// once: the checkpoint only moves past published events.
type EventRelay struct {
	config      *EventRelayConfig
	store       eventstore.Store
	checkpoints repository.CheckpointStore
	publisher   Publisher
	log         *logger.Logger
}

// NewEventRelay creates a new event relay
func NewEventRelay(cfg *EventRelayConfig, store eventstore.Store, checkpoints repository.CheckpointStore, publisher Publisher, log *logger.Logger) *EventRelay {
	if cfg.EventsTopic == "" {
		cfg.EventsTopic = DefaultEventsTopic
	}
	if cfg.AlertsTopic == "" {
		cfg.AlertsTopic = DefaultAlertsTopic
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if log == nil {
		log = logger.Get()
	}
	return &EventRelay{config: cfg, store: store, checkpoints: checkpoints, publisher: publisher, log: log}
}

// ProcessBatch relays the next batch and returns how many events were published
func (r *EventRelay) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "relay.process_batch")
	defer span.End()

	position, err := r.checkpoints.Load(ctx, RelayConsumerName)
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	records, err := r.store.ReadAll(ctx, position, r.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read event log: %w", err)
	}

	published := 0
	var publishErr error
	for _, rec := range records {
		if publishErr = r.publish(ctx, rec.Event); publishErr != nil {
			telemetry.RecordError(span, publishErr)
			break
		}
		position = rec.Position
		published++
	}

	if published > 0 {
		if err := r.checkpoints.Store(ctx, RelayConsumerName, position); err != nil {
			return published, fmt.Errorf("failed to store checkpoint: %w", err)
		}
	}
	if publishErr != nil {
		return published, fmt.Errorf("failed to relay event at %d: %w", position+1, publishErr)
	}
	return published, nil
}

func (r *EventRelay) publish(ctx context.Context, evt domain.DomainEvent) error {
	headers := map[string]string{
		"event_id":       evt.EventID,
		"event_type":     string(evt.EventType),
		"aggregate_type": string(evt.AggregateType),
	}
	if corr := evt.Metadata[domain.MetaCorrelationID]; corr != "" {
		headers[domain.MetaCorrelationID] = corr
	}
	telemetry.InjectHeaders(ctx, headers)

	if err := r.publisher.ProduceJSON(ctx, r.config.EventsTopic, evt.AggregateID, evt, headers); err != nil {
		return err
	}
	metrics.EventsRelayed.WithLabelValues(r.config.EventsTopic).Inc()

	alert, ok := evt.Payload.(domain.AlertTriggered)
	if !ok {
		return nil
	}
	if err := r.publisher.ProduceJSON(ctx, r.config.AlertsTopic, alert.UserID, evt, headers); err != nil {
		return err
	}
	metrics.EventsRelayed.WithLabelValues(r.config.AlertsTopic).Inc()
	r.log.Debug("Alert relayed",
		zap.String("event_id", evt.EventID),
		zap.String("rule_id", string(alert.RuleID)),
	)
	return nil
}
