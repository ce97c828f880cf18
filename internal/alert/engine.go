package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
	"github.com/prohmpiriya/ticket-monitor/internal/metrics"
	"github.com/prohmpiriya/ticket-monitor/internal/repository"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
	"github.com/prohmpiriya/ticket-monitor/pkg/retry"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

const (
	// ConsumerName is the checkpoint key of the engine's event-log cursor
	ConsumerName     = "alert-engine"
	DefaultBatchSize = 200
)

// Config holds engine settings
type Config struct {
	BatchSize int
}

// Deps are the engine's collaborators. Events is optional; without it
// alerts are emitted with HighDemand unset.
type Deps struct {
	Store       eventstore.Store
	Rules       repository.AlertRuleRepository
	State       repository.AlertStateStore
	Checkpoints repository.CheckpointStore
	Events      repository.SportsEventRepository
	Clock       clock.Clock
	Logger      *logger.Logger
}

// Engine turns ticket events into AlertTriggered events. Delivery is at
// least once: every event of a ticket stream at or below the last processed
// version is skipped, and alert ids are derived from the triggering event.
type Engine struct {
	cfg         Config
	store       eventstore.Store
	rules       repository.AlertRuleRepository
	state       repository.AlertStateStore
	checkpoints repository.CheckpointStore
	events      repository.SportsEventRepository
	clock       clock.Clock
	log         *logger.Logger
	conflict    *retry.Config
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Logger == nil {
		deps.Logger = logger.Get()
	}
	return &Engine{
		cfg:         cfg,
		store:       deps.Store,
		rules:       deps.Rules,
		state:       deps.State,
		checkpoints: deps.Checkpoints,
		events:      deps.Events,
		clock:       deps.Clock,
		log:         deps.Logger,
		conflict: &retry.Config{
			MaxRetries:      5,
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     100 * time.Millisecond,
			Multiplier:      2,
			JitterFactor:    0.2,
			RetryIf:         func(err error) bool { return errors.Is(err, domain.ErrVersionConflict) },
		},
	}
}

// ProcessBatch reads the next batch of the event log after the stored
// checkpoint, handles it and advances the checkpoint. It returns the number
// of events read; zero means the engine is caught up.
func (e *Engine) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "alert.process_batch")
	defer span.End()

	position, err := e.checkpoints.Load(ctx, ConsumerName)
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	records, err := e.store.ReadAll(ctx, position, e.cfg.BatchSize)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("failed to read event log: %w", err)
	}

	handled := 0
	for _, rec := range records {
		if _, err := e.Handle(ctx, rec.Event); err != nil {
			telemetry.RecordError(span, err)
			// the failed event is retried by the next batch
			if handled > 0 {
				if cerr := e.checkpoints.Store(ctx, ConsumerName, position); cerr != nil {
					e.log.Warn("Failed to store checkpoint", zap.Error(cerr))
				}
			}
			return handled, fmt.Errorf("failed to handle event %s at %d: %w", rec.Event.EventID, rec.Position, err)
		}
		position = rec.Position
		handled++
	}

	if handled > 0 {
		if err := e.checkpoints.Store(ctx, ConsumerName, position); err != nil {
			return handled, fmt.Errorf("failed to store checkpoint: %w", err)
		}
	}
	span.SetAttributes(attribute.Int("events", len(records)))
	return len(records), nil
}

// Handle evaluates one event against the active rules and returns the
// alerts it triggered. Non-ticket events and replays are ignored.
func (e *Engine) Handle(ctx context.Context, evt domain.DomainEvent) ([]domain.DomainEvent, error) {
	if evt.AggregateType != domain.AggregateMonitoredTicket {
		return nil, nil
	}

	last, err := e.state.LastVersion(ctx, evt.AggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load processed version: %w", err)
	}
	if evt.Version <= last {
		return nil, nil
	}

	var triggered []domain.DomainEvent
	switch p := evt.Payload.(type) {
	case domain.TicketPriceChanged:
		triggered, err = e.onPriceChanged(ctx, evt, p)
	case domain.TicketSoldOut:
		triggered, err = e.onSoldOut(ctx, evt, p)
	}
	if err != nil {
		return nil, err
	}

	if err := e.state.SetLastVersion(ctx, evt.AggregateID, evt.Version); err != nil {
		return triggered, fmt.Errorf("failed to store processed version: %w", err)
	}
	return triggered, nil
}

func (e *Engine) onPriceChanged(ctx context.Context, evt domain.DomainEvent, p domain.TicketPriceChanged) ([]domain.DomainEvent, error) {
	rules, err := e.rules.FindActiveByEvent(ctx, p.EventID, domain.AlertPriceThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to load price rules: %w", err)
	}

	var triggered []domain.DomainEvent
	for _, rule := range rules {
		if !rule.Matches(domain.AlertPriceThreshold, p.EventID, p.TicketID, p.Platform) {
			continue
		}
		met := rule.PriceConditionMet(p.OldPrice, p.NewPrice)
		availability := p.Availability
		if availability == "" {
			availability = domain.AvailabilityUnknown
		}
		fired, err := e.state.Fired(ctx, rule.ID(), p.TicketID)
		if err != nil {
			return nil, fmt.Errorf("failed to load trigger state: %w", err)
		}

		switch {
		case met && !fired:
			alert, err := e.trigger(ctx, rule.ID(), evt, domain.AlertTriggered{
				TicketID:     p.TicketID,
				EventID:      p.EventID,
				Platform:     p.Platform,
				Price:        p.NewPrice,
				Availability: availability,
			})
			if err != nil {
				return nil, err
			}
			if alert != nil {
				triggered = append(triggered, *alert)
			}
			if err := e.state.SetFired(ctx, rule.ID(), p.TicketID, true); err != nil {
				return nil, fmt.Errorf("failed to store trigger state: %w", err)
			}
		case !met && fired:
			if err := e.state.SetFired(ctx, rule.ID(), p.TicketID, false); err != nil {
				return nil, fmt.Errorf("failed to re-arm rule: %w", err)
			}
			e.log.Debug("Price rule re-armed",
				zap.String("rule_id", string(rule.ID())),
				zap.String("ticket_id", string(p.TicketID)),
			)
		}
	}
	return triggered, nil
}

func (e *Engine) onSoldOut(ctx context.Context, evt domain.DomainEvent, p domain.TicketSoldOut) ([]domain.DomainEvent, error) {
	rules, err := e.rules.FindActiveByEvent(ctx, p.EventID, domain.AlertSoldOut)
	if err != nil {
		return nil, fmt.Errorf("failed to load sold-out rules: %w", err)
	}

	var triggered []domain.DomainEvent
	for _, rule := range rules {
		if !rule.Matches(domain.AlertSoldOut, p.EventID, p.TicketID, p.Platform) {
			continue
		}
		alert, err := e.trigger(ctx, rule.ID(), evt, domain.AlertTriggered{
			TicketID:     p.TicketID,
			EventID:      p.EventID,
			Platform:     p.Platform,
			Price:        p.LastPrice,
			Availability: domain.AvailabilitySoldOut,
		})
		if err != nil {
			return nil, err
		}
		if alert != nil {
			triggered = append(triggered, *alert)
		}
	}
	return triggered, nil
}

// trigger appends AlertTriggered to the rule's stream, re-reading the rule on
// a version conflict. It returns nil when the alert was already recorded.
func (e *Engine) trigger(ctx context.Context, ruleID domain.RuleID, cause domain.DomainEvent, alert domain.AlertTriggered) (*domain.DomainEvent, error) {
	alert.TriggeringEventID = cause.EventID
	alert.HighDemand = e.isHighDemand(ctx, alert.EventID)

	var recorded *domain.DomainEvent
	res := retry.New(e.conflict).Do(ctx, func(ctx context.Context) error {
		rule, err := e.rules.FindByID(ctx, ruleID)
		if err != nil {
			return retry.Permanent(err)
		}
		if !rule.IsActive() {
			return nil
		}
		rule.Trigger(alert, e.clock.Now())
		if corr := cause.Metadata[domain.MetaCorrelationID]; corr != "" {
			rule.AnnotatePending(domain.MetaCorrelationID, corr)
		}
		rule.AnnotatePending(domain.MetaCausationID, cause.EventID)
		pending := rule.PendingEvents()
		event := pending[len(pending)-1]

		err = e.rules.Save(ctx, rule)
		if errors.Is(err, eventstore.ErrDuplicateEvent) {
			return nil
		}
		if err != nil {
			return err
		}
		recorded = &event
		return nil
	})
	if res.Err != nil {
		err := res.Err
		if res.LastError != nil {
			err = res.LastError
		}
		return nil, fmt.Errorf("failed to trigger rule %s: %w", ruleID, err)
	}
	if recorded == nil {
		return nil, nil
	}

	if payload, ok := recorded.Payload.(domain.AlertTriggered); ok {
		metrics.AlertsTriggered.WithLabelValues(string(payload.Kind)).Inc()
	}
	e.log.Info("Alert triggered",
		zap.String("rule_id", string(ruleID)),
		zap.String("ticket_id", string(alert.TicketID)),
		zap.String("event_id", string(alert.EventID)),
		zap.String("triggering_event_id", cause.EventID),
	)
	return recorded, nil
}

func (e *Engine) isHighDemand(ctx context.Context, id domain.EventID) bool {
	if e.events == nil {
		return false
	}
	event, err := e.events.FindByID(ctx, id)
	if err != nil {
		if !domain.IsNotFoundError(err) {
			e.log.Warn("Failed to load event for alert", zap.String("event_id", string(id)), zap.Error(err))
		}
		return false
	}
	return event.IsHighDemand()
}
