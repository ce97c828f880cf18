package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-monitor/internal/demand"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
)

// DemandWorker runs the high-demand sweep on a ticker
type DemandWorker struct {
	interval time.Duration
	sweeper  *demand.Sweeper
	log      *logger.Logger
}

// NewDemandWorker creates a new demand worker
func NewDemandWorker(interval time.Duration, sweeper *demand.Sweeper, log *logger.Logger) *DemandWorker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if log == nil {
		log = logger.Get()
	}
	return &DemandWorker{interval: interval, sweeper: sweeper, log: log}
}

// Start sweeps immediately and then on every interval
func (w *DemandWorker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		result, err := w.sweeper.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error("Demand sweep failed", zap.Error(err))
		} else if result.Marked+result.Unmarked > 0 {
			w.log.Info("Demand sweep changed events",
				zap.Int("marked", result.Marked),
				zap.Int("unmarked", result.Unmarked),
				zap.Int("high_demand", result.HighDemand),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// BatchProcessor handles the next batch of some backlog and reports how much it handled
type BatchProcessor interface {
	ProcessBatch(ctx context.Context) (int, error)
}

// PollingWorker drains a BatchProcessor and waits PollInterval once it is
// caught up. Used for the alert engine and the event relay.
type PollingWorker struct {
	name         string
	pollInterval time.Duration
	processor    BatchProcessor
	log          *logger.Logger
}

// NewPollingWorker creates a new polling worker
func NewPollingWorker(name string, pollInterval time.Duration, processor BatchProcessor, log *logger.Logger) *PollingWorker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if log == nil {
		log = logger.Get()
	}
	return &PollingWorker{name: name, pollInterval: pollInterval, processor: processor, log: log}
}

// Start runs until ctx is cancelled
func (w *PollingWorker) Start(ctx context.Context) error {
	w.log.Info("Polling worker started", zap.String("worker", w.name), zap.Duration("poll_interval", w.pollInterval))
	for {
		n, err := w.processor.ProcessBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error("Batch failed", zap.String("worker", w.name), zap.Error(err))
		}
		if n > 0 && err == nil {
			continue
		}
		if !sleep(ctx, w.pollInterval) {
			w.log.Info("Polling worker stopping...", zap.String("worker", w.name))
			return nil
		}
	}
}
