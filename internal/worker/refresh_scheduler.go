package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/repository"
	"github.com/prohmpiriya/ticket-monitor/internal/scraper"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
)

// Enqueuer schedules scraping jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, platform domain.Platform, eventID domain.EventID, criteria domain.SearchCriteria) (*domain.ScrapingJob, bool, error)
}

// RefreshSchedulerConfig holds configuration for the refresh scheduler
type RefreshSchedulerConfig struct {
	Platforms []domain.Platform
	// Interval between refresh passes (default: 10 minutes)
	Interval time.Duration
	// Horizon limits refreshes to events starting within it (default: 90 days)
	Horizon time.Duration
	// FreshnessWindow marks tickets not observed for this long as stale (default: 30 minutes)
	FreshnessWindow time.Duration
	// StaleLimit caps the stale tickets looked at per pass (default: 500)
	StaleLimit int
}

// RefreshResult reports one refresh pass
type RefreshResult struct {
	Events    int
	Stale     int
	Enqueued  int
	Coalesced int
	Skipped   int
}

// RefreshScheduler keeps monitored events fresh by enqueueing a job per
// (platform, event) for upcoming events, plus a job for every platform
// with tickets that went stale
type RefreshScheduler struct {
	config  *RefreshSchedulerConfig
	queue   Enqueuer
	events  repository.SportsEventRepository
	tickets repository.TicketRepository
	configs scraper.ConfigProvider
	clock   clock.Clock
	log     *logger.Logger
}

// NewRefreshScheduler creates a new refresh scheduler
func NewRefreshScheduler(
	cfg *RefreshSchedulerConfig,
	queue Enqueuer,
	events repository.SportsEventRepository,
	tickets repository.TicketRepository,
	configs scraper.ConfigProvider,
	clk clock.Clock,
	log *logger.Logger,
) *RefreshScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 90 * 24 * time.Hour
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = 30 * time.Minute
	}
	if cfg.StaleLimit <= 0 {
		cfg.StaleLimit = 500
	}
	if log == nil {
		log = logger.Get()
	}
	return &RefreshScheduler{
		config:  cfg,
		queue:   queue,
		events:  events,
		tickets: tickets,
		configs: configs,
		clock:   clk,
		log:     log,
	}
}

// Start runs a pass immediately and then on every interval
func (s *RefreshScheduler) Start(ctx context.Context) error {
	s.log.Info("Refresh scheduler started", zap.Duration("interval", s.config.Interval))
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("Refresh pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("Refresh scheduler stopping...")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one refresh pass
func (s *RefreshScheduler) RunOnce(ctx context.Context) (RefreshResult, error) {
	var result RefreshResult
	now := s.clock.Now()

	enabled := s.enabledPlatforms(ctx)
	if len(enabled) == 0 {
		return result, nil
	}

	events, err := s.events.FindInWindow(ctx, now, now.Add(s.config.Horizon))
	if err != nil {
		return result, err
	}
	result.Events = len(events)
	for _, event := range events {
		criteria := domain.SearchCriteria{Keywords: event.Name(), Location: event.Venue()}
		for _, platform := range enabled {
			s.enqueue(ctx, platform, event.ID(), criteria, &result)
		}
	}

	stale, err := s.tickets.FindStale(ctx, now.Add(-s.config.FreshnessWindow), s.config.StaleLimit)
	if err != nil {
		return result, err
	}
	result.Stale = len(stale)
	seen := make(map[string]bool)
	for _, ticket := range stale {
		platform := ticket.Source().Platform()
		key := string(platform) + ":" + string(ticket.EventID())
		if seen[key] || !contains(enabled, platform) {
			continue
		}
		seen[key] = true
		s.enqueue(ctx, platform, ticket.EventID(), domain.SearchCriteria{}, &result)
	}

	s.log.Debug("Refresh pass done",
		zap.Int("events", result.Events),
		zap.Int("stale", result.Stale),
		zap.Int("enqueued", result.Enqueued),
		zap.Int("coalesced", result.Coalesced),
	)
	return result, nil
}

func (s *RefreshScheduler) enqueue(ctx context.Context, platform domain.Platform, eventID domain.EventID, criteria domain.SearchCriteria, result *RefreshResult) {
	_, coalesced, err := s.queue.Enqueue(ctx, platform, eventID, criteria)
	switch {
	case err != nil:
		result.Skipped++
		s.log.Warn("Failed to enqueue refresh",
			zap.String("platform", string(platform)),
			zap.String("event_id", string(eventID)),
			zap.Error(err),
		)
	case coalesced:
		result.Coalesced++
	default:
		result.Enqueued++
	}
}

func (s *RefreshScheduler) enabledPlatforms(ctx context.Context) []domain.Platform {
	var out []domain.Platform
	for _, p := range s.config.Platforms {
		cfg, err := s.configs.Get(ctx, p)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Warn("Failed to load platform configuration", zap.String("platform", string(p)), zap.Error(err))
			}
			continue
		}
		if cfg.Enabled {
			out = append(out, p)
		}
	}
	return out
}

func contains(platforms []domain.Platform, p domain.Platform) bool {
	for _, candidate := range platforms {
		if candidate == p {
			return true
		}
	}
	return false
}
