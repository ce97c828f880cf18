package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/queue"
	"github.com/prohmpiriya/ticket-monitor/internal/scraper"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
)

// finishTimeout bounds recording a job outcome after the worker context ended
const finishTimeout = 10 * time.Second

// Runner executes scraping jobs end to end: dispatch, scrape, apply, and
// report the outcome back to the queue
type Runner struct {
	queue    *queue.Queue
	adapters *scraper.Registry
	service  *Service
	log      *logger.Logger
}

func NewRunner(q *queue.Queue, adapters *scraper.Registry, service *Service, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Get()
	}
	return &Runner{queue: q, adapters: adapters, service: service, log: log}
}

// RunOnce runs at most one job of platform. It reports false when no job was
// eligible. A failed scrape is recorded on the job and is not an error here.
func (r *Runner) RunOnce(ctx context.Context, platform domain.Platform) (bool, error) {
	lease, err := r.queue.Dispatch(ctx, platform)
	if err != nil {
		return false, err
	}
	if lease == nil {
		return false, nil
	}
	job := lease.Job

	result, runErr := r.run(ctx, lease)

	// the outcome is recorded even when the worker is shutting down
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if runErr == nil {
		if err := r.queue.Complete(finishCtx, lease, result.Seen); err != nil {
			return true, fmt.Errorf("failed to complete job %s: %w", job.ID, err)
		}
		r.log.Info("Scraping job completed",
			zap.String("job_id", string(job.ID)),
			zap.String("platform", string(platform)),
			zap.String("event_id", string(job.EventID)),
			zap.Int("seen", result.Seen),
			zap.Int("discovered", result.Discovered),
			zap.Int("changed", result.Changed),
			zap.Int("rejected", result.Rejected),
			zap.Int("events", result.Events),
		)
		return true, nil
	}

	r.log.Warn("Scraping job failed",
		zap.String("job_id", string(job.ID)),
		zap.String("platform", string(platform)),
		zap.Int("attempt", job.Attempt),
		zap.Error(runErr),
	)
	if _, err := r.queue.Fail(finishCtx, lease, runErr); err != nil {
		return true, fmt.Errorf("failed to record failure of job %s: %w", job.ID, err)
	}
	return true, nil
}

func (r *Runner) run(ctx context.Context, lease *queue.Lease) (ApplyResult, error) {
	job := lease.Job
	adapter, err := r.adapters.Get(job.Platform)
	if err != nil {
		return ApplyResult{}, domain.HardFailure(job.Platform, "no adapter", err)
	}

	snapshots, err := adapter.Scrape(ctx, scraper.Request{
		JobID:    job.ID,
		Platform: job.Platform,
		EventID:  job.EventID,
		Criteria: job.Criteria,
		ProxyURL: job.ProxyURL,
		Config:   lease.Config,
	})
	if err != nil {
		var scrapeErr *domain.ScrapeError
		if ctx.Err() != nil && !errors.As(err, &scrapeErr) {
			return ApplyResult{}, domain.SoftFailure(job.Platform, "scrape interrupted", err)
		}
		return ApplyResult{}, err
	}

	result, err := r.service.ApplySnapshots(ctx, Source{
		JobID:    job.ID,
		Platform: job.Platform,
		EventID:  job.EventID,
	}, snapshots)
	if err != nil {
		var scrapeErr *domain.ScrapeError
		if errors.As(err, &scrapeErr) {
			return result, err
		}
		// storage trouble is transient from the job's point of view
		return result, domain.SoftFailure(job.Platform, "failed to apply snapshots", err)
	}
	return result, nil
}
