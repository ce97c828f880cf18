package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/metrics"
	"github.com/prohmpiriya/ticket-monitor/internal/proxy"
	"github.com/prohmpiriya/ticket-monitor/internal/ratelimit"
	"github.com/prohmpiriya/ticket-monitor/internal/scraper"
	"github.com/prohmpiriya/ticket-monitor/pkg/retry"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

// Lease is a job claimed by a worker, with the configuration it was
// dispatched under. It must end with Complete or Fail.
type Lease struct {
	Job    *domain.ScrapingJob
	Config scraper.PlatformConfig
}

// Dispatch waits for the platform's rate-limit budget and then claims the
// oldest eligible pending job of platform. It returns nil when nothing is
// eligible; the reserved budget is then handed back.
func (q *Queue) Dispatch(ctx context.Context, platform domain.Platform) (*Lease, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("platform", string(platform)))

	cfg, err := q.configs.Get(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s configuration: %w", platform, err)
	}
	if !cfg.Enabled {
		return nil, scraper.ErrPlatformDisabled
	}

	if q.reapDue(platform, q.clock.Now()) {
		if _, err := q.ReapExpired(ctx, platform); err != nil {
			q.log.Warn("Failed to reap expired jobs", zap.String("platform", string(platform)), zap.Error(err))
		}
	}

	reservation, err := q.limiter.Reserve(ctx, platform, cfg.RequestsPerSecond, cfg.Burst)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if reservation.Delay > 0 {
		span.SetAttributes(attribute.Int64("rate_limit_wait_ms", reservation.Delay.Milliseconds()))
		if err := q.sleep(ctx, reservation.Delay); err != nil {
			q.refund(reservation, platform)
			return nil, err
		}
	}

	job, err := q.jobs.ClaimNext(ctx, platform, q.clock.Now())
	if err != nil {
		q.refund(reservation, platform)
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		q.refund(reservation, platform)
		return nil, nil
	}
	metrics.RateLimitWait.WithLabelValues(string(platform)).Observe(reservation.Delay.Seconds())
	span.SetAttributes(attribute.String("job_id", string(job.ID)))

	lease := &Lease{Job: job, Config: cfg}

	acquired, err := q.locks.Acquire(ctx, job.Key(), string(job.ID), q.cfg.InFlightTTL)
	if err != nil {
		return nil, q.abandon(ctx, lease, domain.SoftFailure(platform, "in-flight lock unavailable", err))
	}
	if !acquired {
		return nil, q.abandon(ctx, lease, domain.SoftFailure(platform, "pair already in flight", nil))
	}

	if cfg.ProxyRotation {
		q.proxies.SetProxies(platform, cfg.Proxies)
		proxyURL, err := q.proxies.Acquire(platform)
		if err != nil {
			failure := domain.SoftFailure(platform, "no proxy available", err)
			var exhausted *proxy.ExhaustedError
			if errors.As(err, &exhausted) {
				failure.RetryAfter = exhausted.RetryIn
			}
			return nil, q.abandon(ctx, lease, failure)
		}
		job.ProxyURL = proxyURL
		if err := q.jobs.Update(ctx, job); err != nil {
			return nil, q.abandon(ctx, lease, err)
		}
	}

	q.log.Debug("Scraping job dispatched",
		zap.String("job_id", string(job.ID)),
		zap.String("platform", string(platform)),
		zap.String("event_id", string(job.EventID)),
		zap.Int("attempt", job.Attempt),
		zap.Duration("rate_limit_wait", reservation.Delay),
	)
	return lease, nil
}

// abandon fails a freshly claimed job that could not be started and reports
// why dispatch produced nothing
func (q *Queue) abandon(ctx context.Context, lease *Lease, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if _, err := q.Fail(ctx, lease, cause); err != nil {
		return fmt.Errorf("%v; failing job: %w", cause, err)
	}
	return fmt.Errorf("job %s not started: %w", lease.Job.ID, cause)
}

func (q *Queue) refund(r *ratelimit.Reservation, platform domain.Platform) {
	// the caller's context may already be done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Cancel(ctx); err != nil {
		q.log.Warn("Failed to refund rate-limit budget", zap.String("platform", string(platform)), zap.Error(err))
	}
}

// Complete records a successful scrape and releases the pair
func (q *Queue) Complete(ctx context.Context, lease *Lease, ticketsSeen int) error {
	ctx, span := telemetry.StartSpan(ctx, "queue.complete")
	defer span.End()

	job := lease.Job
	span.SetAttributes(attribute.String("job_id", string(job.ID)))
	defer q.release(ctx, job)

	if err := job.Complete(ticketsSeen, q.clock.Now()); err != nil {
		return err
	}
	if err := q.jobs.Update(ctx, job); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if job.ProxyURL != "" {
		q.proxies.Report(job.Platform, job.ProxyURL, false)
	}

	metrics.JobsFinished.WithLabelValues(string(job.Platform), string(job.Status), "").Inc()
	metrics.JobDuration.WithLabelValues(string(job.Platform)).Observe(job.Duration().Seconds())
	return nil
}

// Fail records a failed scrape. When the job may be retried the pending
// retry is returned; exhausted jobs are published to the dead letter queue
// and stay queryable as failed. The failure and its retry are stored in one
// atomic step.
func (q *Queue) Fail(ctx context.Context, lease *Lease, cause error) (*domain.ScrapingJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.fail")
	defer span.End()

	job := lease.Job
	span.SetAttributes(attribute.String("job_id", string(job.ID)))

	now := q.clock.Now()
	if err := job.Fail(cause, now); err != nil {
		return nil, err
	}

	var (
		next      *domain.ScrapingJob
		exhausted bool
	)
	if !job.CancelRequested {
		var err error
		next, err = job.NextAttempt(lease.Config.Retry, now)
		if errors.Is(err, domain.ErrJobRetriesExhausted) {
			exhausted = true
		} else if err != nil {
			return nil, err
		}
	}

	active, coalesced, err := q.jobs.FailAndRetry(ctx, job, next)
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, domain.ErrJobTerminal) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record job failure: %w", err)
	}
	defer q.release(ctx, job)

	failure := domain.AsScrapeError(job.Platform, cause)
	if job.ProxyURL != "" && q.proxies.Report(job.Platform, job.ProxyURL, failure.Blocked) {
		metrics.ProxyQuarantines.WithLabelValues(string(job.Platform)).Inc()
		q.log.Warn("Proxy quarantined",
			zap.String("platform", string(job.Platform)),
			zap.String("proxy", job.ProxyURL),
		)
	}

	metrics.JobsFinished.WithLabelValues(string(job.Platform), string(job.Status), string(job.FailureKind)).Inc()
	metrics.JobDuration.WithLabelValues(string(job.Platform)).Observe(job.Duration().Seconds())

	if job.CancelRequested {
		q.log.Info("Cancelled scraping job failed; not retrying", zap.String("job_id", string(job.ID)))
		return nil, nil
	}
	if exhausted || active == nil {
		q.deadLetter(ctx, job)
		return nil, nil
	}

	metrics.JobsRetried.WithLabelValues(string(job.Platform)).Inc()
	q.log.Info("Scraping job scheduled for retry",
		zap.String("job_id", string(job.ID)),
		zap.String("retry_job_id", string(active.ID)),
		zap.Bool("coalesced", coalesced),
		zap.String("failure_kind", string(job.FailureKind)),
		zap.Time("available_at", active.AvailableAt),
	)
	return active, nil
}

// ReapExpired fails processing jobs of platform whose worker stopped
// reporting for longer than the in-flight TTL, freeing their slot through
// the usual retry path. It returns how many jobs were reaped.
func (q *Queue) ReapExpired(ctx context.Context, platform domain.Platform) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.reap_expired")
	defer span.End()
	span.SetAttributes(attribute.String("platform", string(platform)))

	cfg, err := q.configs.Get(ctx, platform)
	if err != nil {
		return 0, fmt.Errorf("failed to load %s configuration: %w", platform, err)
	}

	now := q.clock.Now()
	expired, err := q.jobs.ListExpired(ctx, platform, now.Add(-q.cfg.InFlightTTL), reapBatchSize)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("failed to list expired jobs: %w", err)
	}

	reaped := 0
	for _, job := range expired {
		q.log.Warn("Reaping expired scraping job",
			zap.String("job_id", string(job.ID)),
			zap.String("platform", string(platform)),
			zap.String("event_id", string(job.EventID)),
			zap.Time("started_at", *job.StartedAt),
		)
		cause := domain.SoftFailure(platform, "processing lease expired", nil)
		if _, err := q.Fail(ctx, &Lease{Job: job, Config: cfg}, cause); err != nil {
			if errors.Is(err, domain.ErrJobTerminal) {
				continue
			}
			telemetry.RecordError(span, err)
			return reaped, err
		}
		reaped++
	}
	if reaped > 0 {
		metrics.JobsReaped.WithLabelValues(string(platform)).Add(float64(reaped))
	}
	span.SetAttributes(attribute.Int("reaped", reaped))
	return reaped, nil
}

// reapDue reports whether platform is due for a reap and records the attempt
func (q *Queue) reapDue(platform domain.Platform, now time.Time) bool {
	q.reapMu.Lock()
	defer q.reapMu.Unlock()

	if last, ok := q.lastReap[platform]; ok && now.Sub(last) < q.cfg.ReapInterval {
		return false
	}
	q.lastReap[platform] = now
	return true
}

func (q *Queue) deadLetter(ctx context.Context, job *domain.ScrapingJob) {
	metrics.JobsDeadLettered.WithLabelValues(string(job.Platform)).Inc()
	q.log.Error("Scraping job exhausted its retries",
		zap.String("job_id", string(job.ID)),
		zap.String("platform", string(job.Platform)),
		zap.String("event_id", string(job.EventID)),
		zap.Int("attempt", job.Attempt),
		zap.String("error", job.LastError),
	)

	payload, err := json.Marshal(job)
	if err != nil {
		q.log.Error("Failed to encode job for DLQ", zap.String("job_id", string(job.ID)), zap.Error(err))
		return
	}
	var lastAttempt time.Time
	if job.CompletedAt != nil {
		lastAttempt = *job.CompletedAt
	}
	msg := &retry.DLQMessage{
		ID:             string(job.ID),
		OriginalTopic:  q.cfg.JobsTopic,
		OriginalKey:    job.Key(),
		Payload:        payload,
		Error:          job.LastError,
		ErrorCode:      string(job.FailureKind),
		Attempts:       job.Attempt + 1,
		FirstAttemptAt: job.CreatedAt,
		LastAttemptAt:  lastAttempt,
		Metadata: map[string]string{
			"platform": string(job.Platform),
			"event_id": string(job.EventID),
		},
	}
	if err := q.dlq.PublishToDLQ(ctx, msg); err != nil {
		q.log.Error("Failed to publish job to DLQ", zap.String("job_id", string(job.ID)), zap.Error(err))
	}
}

func (q *Queue) release(ctx context.Context, job *domain.ScrapingJob) {
	if err := q.locks.Release(ctx, job.Key(), string(job.ID)); err != nil {
		q.log.Warn("Failed to release in-flight lock", zap.String("job_id", string(job.ID)), zap.Error(err))
	}
}
