package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// TicketRepository persists MonitoredTickets together with their pending events
type TicketRepository interface {
	// Save appends the ticket's pending events and stores its state atomically,
	// then drains the events. Fails with a VersionConflictError on a race.
	Save(ctx context.Context, ticket *domain.MonitoredTicket) error
	// FindByID retrieves a ticket by ID
	FindByID(ctx context.Context, id domain.TicketID) (*domain.MonitoredTicket, error)
	// FindByNaturalKey retrieves the ticket matching a scraped listing
	FindByNaturalKey(ctx context.Context, key string) (*domain.MonitoredTicket, error)
	// FindByEvent lists the tickets monitored for an event
	FindByEvent(ctx context.Context, eventID domain.EventID) ([]*domain.MonitoredTicket, error)
	// FindStale lists tickets not observed since before
	FindStale(ctx context.Context, before time.Time, limit int) ([]*domain.MonitoredTicket, error)
}

// SportsEventRepository persists SportsEvents together with their pending events
type SportsEventRepository interface {
	// Save appends pending events and stores the event state atomically
	Save(ctx context.Context, event *domain.SportsEvent) error
	// FindByID retrieves an event by ID
	FindByID(ctx context.Context, id domain.EventID) (*domain.SportsEvent, error)
	// FindInWindow lists events starting in [start, end)
	FindInWindow(ctx context.Context, start, end time.Time) ([]*domain.SportsEvent, error)
}

// JobRepository persists scraping jobs
type JobRepository interface {
	// CreateIfNoActive stores job unless a pending or processing job exists
	// for the same (platform, event); in that case the active job is returned
	// with coalesced set.
	CreateIfNoActive(ctx context.Context, job *domain.ScrapingJob) (active *domain.ScrapingJob, coalesced bool, err error)
	// GetByID retrieves a job by ID
	GetByID(ctx context.Context, id domain.JobID) (*domain.ScrapingJob, error)
	// ClaimNext atomically moves the oldest eligible pending job of platform
	// to processing. Returns nil when nothing is eligible.
	ClaimNext(ctx context.Context, platform domain.Platform, now time.Time) (*domain.ScrapingJob, error)
	// Update stores a non-terminal job's new state. A cancellation requested
	// concurrently is never lost; job.CancelRequested is refreshed.
	Update(ctx context.Context, job *domain.ScrapingJob) error
	// FailAndRetry stores the failed state of a processing job and, in the
	// same atomic step, schedules next unless a cancellation was requested.
	// next may be nil; it coalesces like CreateIfNoActive. Fails with
	// ErrJobTerminal when job is no longer processing.
	FailAndRetry(ctx context.Context, job, next *domain.ScrapingJob) (active *domain.ScrapingJob, coalesced bool, err error)
	// ListExpired lists processing jobs of platform started before
	// startedBefore, oldest first
	ListExpired(ctx context.Context, platform domain.Platform, startedBefore time.Time, limit int) ([]*domain.ScrapingJob, error)
	// DeletePending removes a job that is still pending. Returns false when the
	// job has moved on.
	DeletePending(ctx context.Context, id domain.JobID) (bool, error)
	// ListByStatus lists the most recent jobs in status
	ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.ScrapingJob, error)
	// CountByStatus counts jobs per status
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
}

// AlertRuleRepository persists alert rules and their AlertTriggered streams
type AlertRuleRepository interface {
	// Create stores a new rule
	Create(ctx context.Context, rule *domain.AlertRule) error
	// Save appends pending AlertTriggered events and stores the rule state
	Save(ctx context.Context, rule *domain.AlertRule) error
	// FindByID retrieves a rule by ID
	FindByID(ctx context.Context, id domain.RuleID) (*domain.AlertRule, error)
	// FindActiveByEvent lists the active rules of a kind for an event
	FindActiveByEvent(ctx context.Context, eventID domain.EventID, kind domain.AlertKind) ([]*domain.AlertRule, error)
}

// CheckpointStore remembers how far a consumer has read the event log
type CheckpointStore interface {
	Load(ctx context.Context, consumer string) (int64, error)
	Store(ctx context.Context, consumer string, position int64) error
}

// AlertStateStore tracks alert engine progress and edge-trigger state
type AlertStateStore interface {
	// LastVersion is the last processed version of an aggregate's stream
	LastVersion(ctx context.Context, aggregateID string) (int, error)
	SetLastVersion(ctx context.Context, aggregateID string, version int) error
	// Fired reports whether rule is currently fired for ticket
	Fired(ctx context.Context, rule domain.RuleID, ticket domain.TicketID) (bool, error)
	SetFired(ctx context.Context, rule domain.RuleID, ticket domain.TicketID, fired bool) error
}
