package monitor

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
	"github.com/prohmpiriya/ticket-monitor/internal/scraper"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
	"github.com/prohmpiriya/ticket-monitor/pkg/retry"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

// Outcome of applying one observation
type Outcome string

const (
	OutcomeDiscovered Outcome = "discovered"
	OutcomeChanged    Outcome = "changed"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeRejected   Outcome = "rejected"
	// OutcomeDuplicate marks a later observation of a listing already seen in the same batch
	OutcomeDuplicate Outcome = "duplicate"
)

// ApplyResult summarises a batch of snapshots
type ApplyResult struct {
	Seen       int
	Discovered int
	Changed    int
	Unchanged  int
	Rejected   int
	Duplicates int
	Events     int
}

func (r *ApplyResult) add(o Outcome, events int) {
	r.Seen++
	r.Events += events
	switch o {
	case OutcomeDiscovered:
		r.Discovered++
	case OutcomeChanged:
		r.Changed++
	case OutcomeUnchanged:
		r.Unchanged++
	case OutcomeRejected:
		r.Rejected++
	case OutcomeDuplicate:
		r.Duplicates++
	}
}

// Source identifies the job a batch of snapshots came from
type Source struct {
	JobID    domain.JobID
	Platform domain.Platform
	EventID  domain.EventID
}

// Service reconciles scraped snapshots with MonitoredTickets. Each
// observation is read, mutated and saved as one unit; a concurrent writer
// causes a VersionConflict and the unit is replayed on a fresh copy.
type Service struct {
	tickets  repository.TicketRepository
	events   repository.SportsEventRepository
	clock    clock.Clock
	log      *logger.Logger
	conflict *retry.Config
}

func NewService(tickets repository.TicketRepository, events repository.SportsEventRepository, clk clock.Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Get()
	}
	return &Service{
		tickets: tickets,
		events:  events,
		clock:   clk,
		log:     log,
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

// ApplySnapshots validates and applies a scrape result. Invalid snapshots
// are skipped; when none of a non-empty batch is valid the whole batch is a
// hard failure. Only the first observation of a natural key is applied.
func (s *Service) ApplySnapshots(ctx context.Context, src Source, snapshots []scraper.Snapshot) (ApplyResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "monitor.apply_snapshots")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", string(src.JobID)),
		attribute.String("platform", string(src.Platform)),
		attribute.Int("snapshots", len(snapshots)),
	)

	if _, err := s.events.FindByID(ctx, src.EventID); err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			return ApplyResult{}, domain.HardFailure(src.Platform, "event is not monitored", err)
		}
		return ApplyResult{}, err
	}

	var (
		result       ApplyResult
		firstInvalid error
		observedAt   = s.clock.Now()
		observations = make([]scraper.Observation, 0, len(snapshots))
		seen         = make(map[string]struct{}, len(snapshots))
	)
	for _, snap := range snapshots {
		obs, err := snap.Parse(src.Platform, src.EventID, observedAt)
		if err != nil {
			if firstInvalid == nil {
				firstInvalid = err
			}
			result.add(OutcomeRejected, 0)
			metrics.SnapshotsApplied.WithLabelValues(string(src.Platform), string(OutcomeRejected)).Inc()
			continue
		}
		if _, dup := seen[obs.NaturalKey()]; dup {
			result.add(OutcomeDuplicate, 0)
			metrics.SnapshotsApplied.WithLabelValues(string(src.Platform), string(OutcomeDuplicate)).Inc()
			continue
		}
		seen[obs.NaturalKey()] = struct{}{}
		observations = append(observations, obs)
	}
	if len(snapshots) > 0 && len(observations) == 0 {
		return result, firstInvalid
	}
	if result.Duplicates > 0 {
		s.log.Warn("Skipped duplicate listings",
			zap.String("job_id", string(src.JobID)),
			zap.Int("duplicates", result.Duplicates),
		)
	}
	if firstInvalid != nil {
		s.log.Warn("Skipped invalid snapshots",
			zap.String("job_id", string(src.JobID)),
			zap.Int("rejected", result.Rejected),
			zap.Error(firstInvalid),
		)
	}

	for _, obs := range observations {
		outcome, events, err := s.Apply(ctx, src, obs)
		if err != nil {
			telemetry.RecordError(span, err)
			return result, err
		}
		result.add(outcome, events)
		metrics.SnapshotsApplied.WithLabelValues(string(src.Platform), string(outcome)).Inc()
	}

	span.SetAttributes(attribute.Int("events", result.Events))
	return result, nil
}

// Apply applies one observation, discovering the ticket on first sight.
// Observations the ticket rejects (currency change, sold out to on sale
// soon) are reported as OutcomeRejected, not as errors.
func (s *Service) Apply(ctx context.Context, src Source, obs scraper.Observation) (Outcome, int, error) {
	var (
		outcome Outcome
		events  int
	)
	res := retry.New(s.conflict).Do(ctx, func(ctx context.Context) error {
		var err error
		outcome, events, err = s.applyOnce(ctx, src, obs)
		return err
	})
	if res.Err != nil {
		if errors.Is(res.Err, retry.ErrMaxRetriesExceeded) {
			return "", 0, fmt.Errorf("ticket %s kept conflicting: %w", obs.NaturalKey(), res.LastError)
		}
		return "", 0, res.Err
	}
	return outcome, events, nil
}

func (s *Service) applyOnce(ctx context.Context, src Source, obs scraper.Observation) (Outcome, int, error) {
	ticket, err := s.tickets.FindByNaturalKey(ctx, obs.NaturalKey())
	if errors.Is(err, domain.ErrTicketNotFound) {
		return s.discover(ctx, src, obs)
	}
	if err != nil {
		return "", 0, retry.Permanent(err)
	}

	n, err := ticket.ApplyObservation(obs.Price, obs.Availability, obs.ObservedAt)
	if err != nil {
		if domain.IsValidationError(err) {
			s.log.Info("Observation rejected by ticket",
				zap.String("ticket_id", string(ticket.ID())),
				zap.String("job_id", string(src.JobID)),
				zap.Error(err),
			)
			return OutcomeRejected, 0, nil
		}
		return "", 0, retry.Permanent(err)
	}

	s.annotate(ticket, src)
	pending := ticket.PendingEvents()
	if err := s.tickets.Save(ctx, ticket); err != nil {
		return "", 0, err
	}
	countEvents(pending)
	if n == 0 {
		return OutcomeUnchanged, 0, nil
	}
	return OutcomeChanged, n, nil
}

func (s *Service) discover(ctx context.Context, src Source, obs scraper.Observation) (Outcome, int, error) {
	ticket, err := domain.DiscoverTicket(domain.DiscoverTicketParams{
		EventID:      obs.EventID,
		Location:     obs.Location,
		Price:        obs.Price,
		Availability: obs.Availability,
		Source:       obs.Source,
		Description:  obs.Description,
	}, obs.ObservedAt)
	if err != nil {
		s.log.Info("Listing rejected at discovery",
			zap.String("natural_key", obs.NaturalKey()),
			zap.String("job_id", string(src.JobID)),
			zap.Error(err),
		)
		return OutcomeRejected, 0, nil
	}

	s.annotate(ticket, src)
	pending := ticket.PendingEvents()
	if err := s.tickets.Save(ctx, ticket); err != nil {
		// a concurrent discovery of the same listing surfaces as a conflict
		return "", 0, err
	}
	countEvents(pending)

	if err := s.attachTickets(ctx, obs.EventID); err != nil {
		return "", 0, retry.Permanent(err)
	}
	return OutcomeDiscovered, len(pending), nil
}

// attachTickets freezes the event date once the first ticket is monitored
func (s *Service) attachTickets(ctx context.Context, eventID domain.EventID) error {
	res := retry.New(s.conflict).Do(ctx, func(ctx context.Context) error {
		event, err := s.events.FindByID(ctx, eventID)
		if err != nil {
			return retry.Permanent(err)
		}
		if !event.AttachTickets(s.clock.Now()) {
			return nil
		}
		return s.events.Save(ctx, event)
	})
	if res.Err != nil {
		return fmt.Errorf("failed to attach tickets to event %s: %w", eventID, res.LastError)
	}
	return nil
}

func (s *Service) annotate(ticket *domain.MonitoredTicket, src Source) {
	if src.JobID != "" {
		ticket.AnnotatePending(domain.MetaJobID, string(src.JobID))
	}
	ticket.AnnotatePending(domain.MetaPlatform, string(src.Platform))
}

func countEvents(events []domain.DomainEvent) {
	for _, e := range events {
		metrics.DomainEvents.WithLabelValues(string(e.EventType)).Inc()
	}
}
