package demand

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/metrics"
	"github.com/prohmpiriya/ticket-monitor/internal/repository"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
	"github.com/prohmpiriya/ticket-monitor/pkg/retry"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

// Config holds sweep thresholds
type Config struct {
	// Threshold is the scarcity ratio an event must exceed to be marked high
	// demand. A marked event is unmarked only once the ratio drops below it.
	Threshold float64
	// MinTickets is the number of monitored tickets needed before marking
	MinTickets int
	// Horizon limits the sweep to events starting within it
	Horizon time.Duration
}

// Scarcity is the share of an event's monitored tickets that are limited or sold out
type Scarcity struct {
	Total  int
	Scarce int
}

func (s Scarcity) Ratio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Scarce) / float64(s.Total)
}

// Measure computes the scarcity of a set of tickets
func Measure(tickets []*domain.MonitoredTicket) Scarcity {
	s := Scarcity{Total: len(tickets)}
	for _, t := range tickets {
		switch t.Availability() {
		case domain.AvailabilityLimited, domain.AvailabilitySoldOut:
			s.Scarce++
		}
	}
	return s
}

// SweepResult reports what one sweep changed
type SweepResult struct {
	Checked  int
	Marked   int
	Unmarked int
	// HighDemand is the number of high-demand events after the sweep
	HighDemand int
}

// Sweeper periodically flags upcoming events whose tickets are running out.
// Events are marked at or above the threshold once enough tickets are
// monitored, and unmarked only when the ratio drops below it.
type Sweeper struct {
	cfg      Config
	events   repository.SportsEventRepository
	tickets  repository.TicketRepository
	clock    clock.Clock
	log      *logger.Logger
	conflict *retry.Config
}

func NewSweeper(cfg Config, events repository.SportsEventRepository, tickets repository.TicketRepository, clk clock.Clock, log *logger.Logger) *Sweeper {
	if cfg.Horizon <= 0 {
		cfg.Horizon = 30 * 24 * time.Hour
	}
	if log == nil {
		log = logger.Get()
	}
	return &Sweeper{
		cfg:     cfg,
		events:  events,
		tickets: tickets,
		clock:   clk,
		log:     log,
		conflict: &retry.Config{
			MaxRetries:      3,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     100 * time.Millisecond,
			Multiplier:      2,
			RetryIf:         func(err error) bool { return errors.Is(err, domain.ErrVersionConflict) },
		},
	}
}

// Sweep evaluates every upcoming event in the horizon once. A failure on
// one event is logged and does not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "demand.sweep")
	defer span.End()

	now := s.clock.Now()
	events, err := s.events.FindInWindow(ctx, now, now.Add(s.cfg.Horizon))
	if err != nil {
		telemetry.RecordError(span, err)
		return SweepResult{}, fmt.Errorf("failed to list upcoming events: %w", err)
	}

	var result SweepResult
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		change, err := s.evaluate(ctx, event.ID())
		if err != nil {
			s.log.Warn("Demand evaluation failed", zap.String("event_id", string(event.ID())), zap.Error(err))
			if event.IsHighDemand() {
				result.HighDemand++
			}
			continue
		}
		result.Checked++
		switch change {
		case changeMarked:
			result.Marked++
			result.HighDemand++
		case changeUnmarked:
			result.Unmarked++
		case changeNone:
			if event.IsHighDemand() {
				result.HighDemand++
			}
		}
	}

	metrics.HighDemandEvents.Set(float64(result.HighDemand))
	span.SetAttributes(
		attribute.Int("checked", result.Checked),
		attribute.Int("marked", result.Marked),
		attribute.Int("unmarked", result.Unmarked),
	)
	return result, nil
}

type change int

const (
	changeNone change = iota
	changeMarked
	changeUnmarked
)

func (s *Sweeper) evaluate(ctx context.Context, id domain.EventID) (change, error) {
	var outcome change
	res := retry.New(s.conflict).Do(ctx, func(ctx context.Context) error {
		outcome = changeNone
		event, err := s.events.FindByID(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		tickets, err := s.tickets.FindByEvent(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}

		scarcity := Measure(tickets)
		ratio := scarcity.Ratio()
		now := s.clock.Now()

		switch {
		case !event.IsHighDemand() && scarcity.Total >= s.cfg.MinTickets && scarcity.Total > 0 && ratio > s.cfg.Threshold:
			event.MarkAsHighDemand(ratio, scarcity.Total, now)
			outcome = changeMarked
		case event.IsHighDemand() && scarcity.Total > 0 && ratio < s.cfg.Threshold:
			event.UnmarkAsHighDemand(ratio, scarcity.Total, now)
			outcome = changeUnmarked
		default:
			return nil
		}
		return s.events.Save(ctx, event)
	})
	if res.Err != nil {
		if res.LastError != nil {
			return changeNone, res.LastError
		}
		return changeNone, res.Err
	}

	if outcome != changeNone {
		s.log.Info("Event demand changed",
			zap.String("event_id", string(id)),
			zap.Bool("high_demand", outcome == changeMarked),
		)
	}
	return outcome, nil
}
