package monitor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
	"github.com/prohmpiriya/ticket-monitor/internal/repository"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

// overlapLookback bounds how long before a new event another event at the
// same venue may start and still overlap it
const overlapLookback = 48 * time.Hour

// Catalog manages what is monitored: sports events and alert rules
type Catalog struct {
	events  repository.SportsEventRepository
	tickets repository.TicketRepository
	rules   repository.AlertRuleRepository
	store   eventstore.Store
	clock   clock.Clock
	log     *logger.Logger
}

func NewCatalog(
	events repository.SportsEventRepository,
	tickets repository.TicketRepository,
	rules repository.AlertRuleRepository,
	store eventstore.Store,
	clk clock.Clock,
	log *logger.Logger,
) *Catalog {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.Get()
	}
	return &Catalog{events: events, tickets: tickets, rules: rules, store: store, clock: clk, log: log}
}

// ScheduleEvent creates an event, rejecting it when it overlaps another
// event at the same venue
func (c *Catalog) ScheduleEvent(ctx context.Context, params domain.ScheduleEventParams) (*domain.SportsEvent, error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.schedule_event")
	defer span.End()

	event, err := domain.ScheduleSportsEvent(params, c.clock.Now())
	if err != nil {
		return nil, err
	}

	start := event.EventDate().Add(-overlapLookback)
	end := event.EndsAt()
	nearby, err := c.events.FindInWindow(ctx, start, end)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load venue schedule: %w", err)
	}
	schedule, err := domain.LoadEventSchedule(start, end, nearby)
	if err != nil {
		return nil, err
	}
	if err := schedule.AddEvent(event); err != nil {
		return nil, err
	}

	if err := c.events.Save(ctx, event); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to save event: %w", err)
	}
	span.SetAttributes(attribute.String("event_id", string(event.ID())))
	c.log.Info("Sports event scheduled",
		zap.String("event_id", string(event.ID())),
		zap.String("name", event.Name()),
		zap.Time("event_date", event.EventDate()),
	)
	return event, nil
}

// GetEvent returns an event by id
func (c *Catalog) GetEvent(ctx context.Context, id domain.EventID) (*domain.SportsEvent, error) {
	return c.events.FindByID(ctx, id)
}

// UpcomingEvents lists events starting within horizon
func (c *Catalog) UpcomingEvents(ctx context.Context, horizon time.Duration) ([]*domain.SportsEvent, error) {
	now := c.clock.Now()
	return c.events.FindInWindow(ctx, now, now.Add(horizon))
}

// Tickets lists the tickets monitored for an event
func (c *Catalog) Tickets(ctx context.Context, eventID domain.EventID) ([]*domain.MonitoredTicket, error) {
	if _, err := c.events.FindByID(ctx, eventID); err != nil {
		return nil, err
	}
	return c.tickets.FindByEvent(ctx, eventID)
}

// GetTicket returns a ticket by id
func (c *Catalog) GetTicket(ctx context.Context, id domain.TicketID) (*domain.MonitoredTicket, error) {
	return c.tickets.FindByID(ctx, id)
}

// CreateAlertRule subscribes a user to an event's tickets
func (c *Catalog) CreateAlertRule(ctx context.Context, params domain.AlertRuleParams) (*domain.AlertRule, error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog.create_alert_rule")
	defer span.End()

	if _, err := c.events.FindByID(ctx, params.EventID); err != nil {
		return nil, err
	}
	rule, err := domain.NewAlertRule(params, c.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := c.rules.Create(ctx, rule); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to create alert rule: %w", err)
	}
	c.log.Info("Alert rule created",
		zap.String("rule_id", string(rule.ID())),
		zap.String("event_id", string(rule.EventID())),
		zap.String("kind", string(rule.Kind())),
	)
	return rule, nil
}

// DeactivateAlertRule stops a rule from firing
func (c *Catalog) DeactivateAlertRule(ctx context.Context, id domain.RuleID) (*domain.AlertRule, error) {
	rule, err := c.rules.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rule.IsActive() {
		return rule, nil
	}
	rule.Deactivate(c.clock.Now())
	if err := c.rules.Save(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to deactivate alert rule: %w", err)
	}
	return rule, nil
}

// Stream returns the recorded history of an aggregate
func (c *Catalog) Stream(ctx context.Context, aggregateID string) ([]domain.DomainEvent, error) {
	return c.store.ReadStream(ctx, aggregateID)
}
