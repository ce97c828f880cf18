package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/scraper"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
)

// JobRunner runs at most one scraping job of a platform
type JobRunner interface {
	RunOnce(ctx context.Context, platform domain.Platform) (bool, error)
}

// ScrapeWorkerConfig holds configuration for the scrape workers
type ScrapeWorkerConfig struct {
	// Platforms to serve; each gets its own loops so a slow platform
	// never holds up another
	Platforms []domain.Platform
	// Concurrency is the number of loops per platform (default: 1)
	Concurrency int
	// PollInterval is the idle wait when a platform has no eligible job (default: 1 second)
	PollInterval time.Duration
}

// ScrapeWorkerMetrics is a snapshot of worker counters
type ScrapeWorkerMetrics struct {
	JobsRun   int64
	Idle      int64
	Errors    int64
	LastRunAt time.Time
}

// ScrapeWorker drains the scraping job queue
type ScrapeWorker struct {
	config *ScrapeWorkerConfig
	runner JobRunner
	log    *logger.Logger

	jobsRun atomic.Int64
	idle    atomic.Int64
	errs    atomic.Int64
	lastRun atomic.Int64
}

// NewScrapeWorker creates a new scrape worker
func NewScrapeWorker(cfg *ScrapeWorkerConfig, runner JobRunner, log *logger.Logger) *ScrapeWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if log == nil {
		log = logger.Get()
	}
	return &ScrapeWorker{config: cfg, runner: runner, log: log}
}

// Start runs the worker loops until ctx is cancelled
func (w *ScrapeWorker) Start(ctx context.Context) error {
	w.log.Info("Scrape worker started",
		zap.Int("platforms", len(w.config.Platforms)),
		zap.Int("concurrency", w.config.Concurrency),
		zap.Duration("poll_interval", w.config.PollInterval),
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, platform := range w.config.Platforms {
		for i := 0; i < w.config.Concurrency; i++ {
			platform := platform
			g.Go(func() error {
				w.loop(ctx, platform)
				return nil
			})
		}
	}
	err := g.Wait()
	w.log.Info("Scrape worker stopped")
	return err
}

func (w *ScrapeWorker) loop(ctx context.Context, platform domain.Platform) {
	for {
		if ctx.Err() != nil {
			return
		}

		ran, err := w.runner.RunOnce(ctx, platform)
		switch {
		case err == nil && ran:
			w.jobsRun.Add(1)
			w.lastRun.Store(time.Now().UnixNano())
			continue
		case errors.Is(err, scraper.ErrPlatformDisabled):
			w.idle.Add(1)
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			w.errs.Add(1)
			w.log.Warn("Scrape iteration failed", zap.String("platform", string(platform)), zap.Error(err))
		default:
			w.idle.Add(1)
		}

		if !sleep(ctx, w.config.PollInterval) {
			return
		}
	}
}

// GetMetrics returns current worker metrics
func (w *ScrapeWorker) GetMetrics() ScrapeWorkerMetrics {
	m := ScrapeWorkerMetrics{
		JobsRun: w.jobsRun.Load(),
		Idle:    w.idle.Load(),
		Errors:  w.errs.Load(),
	}
	if ns := w.lastRun.Load(); ns > 0 {
		m.LastRunAt = time.Unix(0, ns)
	}
	return m
}

// sleep waits for d or until ctx is done; false means ctx is done
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
