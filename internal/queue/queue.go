package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/metrics"
	"github.com/prohmpiriya/ticket-monitor/internal/proxy"
	"github.com/prohmpiriya/ticket-monitor/internal/ratelimit"
	"github.com/prohmpiriya/ticket-monitor/internal/repository"
	"github.com/prohmpiriya/ticket-monitor/internal/scraper"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
	"github.com/prohmpiriya/ticket-monitor/pkg/retry"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

const (
	DefaultJobsTopic   = "scrape-jobs"
	DefaultInFlightTTL  = 10 * time.Minute
	DefaultReapInterval = 30 * time.Second
	defaultListLimit    = 50
	cancelAttempts      = 3
	reapBatchSize       = 50
	finishTimeout       = 10 * time.Second
)

// Config holds queue settings
type Config struct {
	// JobsTopic is the logical topic of scraping jobs; exhausted jobs go to its DLQ
	JobsTopic string
	// InFlightTTL bounds how long a job may stay processing; older jobs are
	// reaped as soft failures
	InFlightTTL  time.Duration
	ReapInterval time.Duration
}

// Deps are the collaborators of a Queue. Jobs, Configs and Limiter are
// required; the rest fall back to in-process defaults.
type Deps struct {
	Jobs    repository.JobRepository
	Configs scraper.ConfigProvider
	Limiter ratelimit.Limiter
	Proxies *proxy.Pool
	Locks   InFlightLock
	DLQ     retry.DLQPublisher
	Clock   clock.Clock
	Logger  *logger.Logger
	// Sleep waits out rate-limit reservations; tests swap in a fake clock advance
	Sleep func(ctx context.Context, d time.Duration) error
}

// Queue schedules scraping jobs: one active job per (platform, event),
// per-platform rate-limited dispatch and retry with backoff
type Queue struct {
	cfg     Config
	jobs    repository.JobRepository
	configs scraper.ConfigProvider
	limiter ratelimit.Limiter
	proxies *proxy.Pool
	locks   InFlightLock
	dlq     retry.DLQPublisher
	clock   clock.Clock
	log     *logger.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	reapMu   sync.Mutex
	lastReap map[domain.Platform]time.Time
}

func New(cfg Config, deps Deps) *Queue {
	if cfg.JobsTopic == "" {
		cfg.JobsTopic = DefaultJobsTopic
	}
	if cfg.InFlightTTL <= 0 {
		cfg.InFlightTTL = DefaultInFlightTTL
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Proxies == nil {
		deps.Proxies = proxy.NewPool(proxy.Config{}, deps.Clock)
	}
	if deps.Locks == nil {
		deps.Locks = NewMemoryLock(deps.Clock)
	}
	if deps.DLQ == nil {
		deps.DLQ = retry.NewNoOpDLQPublisher()
	}
	if deps.Logger == nil {
		deps.Logger = logger.Get()
	}
	if deps.Sleep == nil {
		deps.Sleep = ratelimit.Sleep
	}
	return &Queue{
		cfg:     cfg,
		jobs:    deps.Jobs,
		configs: deps.Configs,
		limiter: deps.Limiter,
		proxies: deps.Proxies,
		locks:   deps.Locks,
		dlq:     deps.DLQ,
		clock:   deps.Clock,
		log:     deps.Logger,
		sleep:   deps.Sleep,

		lastReap: make(map[domain.Platform]time.Time),
	}
}

// Enqueue schedules a scrape of eventID on platform. When a pending or
// processing job already exists for the pair it is returned instead and
// coalesced is true.
func (q *Queue) Enqueue(ctx context.Context, platform domain.Platform, eventID domain.EventID, criteria domain.SearchCriteria) (*domain.ScrapingJob, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.enqueue")
	defer span.End()
	span.SetAttributes(
		attribute.String("platform", string(platform)),
		attribute.String("event_id", string(eventID)),
	)

	job, err := domain.NewScrapingJob(platform, eventID, criteria, q.clock.Now())
	if err != nil {
		return nil, false, err
	}

	active, coalesced, err := q.jobs.CreateIfNoActive(ctx, job)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	span.SetAttributes(attribute.Bool("coalesced", coalesced))
	metrics.JobsEnqueued.WithLabelValues(string(platform), strconv.FormatBool(coalesced)).Inc()
	if !coalesced {
		q.log.Debug("Scraping job enqueued",
			zap.String("job_id", string(active.ID)),
			zap.String("platform", string(platform)),
			zap.String("event_id", string(eventID)),
		)
	}
	return active, coalesced, nil
}

// Cancel cancels a job. A pending job is removed and returned with
// removed set; a processing job is flagged so its outcome is recorded but it
// is never retried. Terminal jobs fail with ErrJobTerminal.
func (q *Queue) Cancel(ctx context.Context, id domain.JobID) (job *domain.ScrapingJob, removed bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", string(id)))

	// a pending job may be claimed between the read and the delete
	for i := 0; i < cancelAttempts; i++ {
		job, err = q.jobs.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}

		remove, err := job.RequestCancel()
		if err != nil {
			return job, false, err
		}

		if remove {
			deleted, err := q.jobs.DeletePending(ctx, id)
			if err != nil {
				telemetry.RecordError(span, err)
				return nil, false, fmt.Errorf("failed to delete pending job: %w", err)
			}
			if deleted {
				q.log.Info("Pending scraping job cancelled", zap.String("job_id", string(id)))
				return job, true, nil
			}
			continue
		}

		if err := q.jobs.Update(ctx, job); err != nil {
			if errors.Is(err, domain.ErrJobTerminal) {
				return job, false, err
			}
			telemetry.RecordError(span, err)
			return nil, false, fmt.Errorf("failed to flag job cancelled: %w", err)
		}
		q.log.Info("Processing scraping job flagged for cancellation", zap.String("job_id", string(id)))
		return job, false, nil
	}
	return nil, false, fmt.Errorf("job %s kept changing state while cancelling", id)
}

// Get returns a job by id
func (q *Queue) Get(ctx context.Context, id domain.JobID) (*domain.ScrapingJob, error) {
	return q.jobs.GetByID(ctx, id)
}

// Stats counts jobs per status and refreshes the status gauge
func (q *Queue) Stats(ctx context.Context) (map[domain.JobStatus]int, error) {
	counts, err := q.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	for status, n := range counts {
		metrics.JobsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
	return counts, nil
}

// List returns the most recent jobs, optionally filtered by status
func (q *Queue) List(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.ScrapingJob, error) {
	if status != "" && !status.IsValid() {
		return nil, domain.NewValidationError("status", "unknown job status %q", status)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return q.jobs.ListByStatus(ctx, status, limit)
}

// Proxies exposes the proxy pool for dashboards
func (q *Queue) Proxies() *proxy.Pool {
	return q.proxies
}
