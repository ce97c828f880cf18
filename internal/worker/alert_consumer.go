package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/pkg/kafka"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

// RecordSource is a Kafka consumer with manual commits; satisfied by *kafka.Consumer
type RecordSource interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
}

// EventHandler evaluates one domain event; satisfied by *alert.Engine
type EventHandler interface {
	Handle(ctx context.Context, evt domain.DomainEvent) ([]domain.DomainEvent, error)
}

// AlertConsumer feeds the ticket-events topic into the alert engine. A
// record that fails is retried in place until it succeeds or the consumer
// stops; offsets are committed only for handled records. The engine skips
// versions it already processed, so redelivery after a restart is harmless.
type AlertConsumer struct {
	source  RecordSource
	handler EventHandler
	log     *logger.Logger
	backoff time.Duration
}

// NewAlertConsumer creates a new alert consumer
func NewAlertConsumer(source RecordSource, handler EventHandler, log *logger.Logger) *AlertConsumer {
	if log == nil {
		log = logger.Get()
	}
	return &AlertConsumer{source: source, handler: handler, log: log, backoff: time.Second}
}

// Start consumes until ctx is cancelled
func (c *AlertConsumer) Start(ctx context.Context) error {
	c.log.Info("Alert consumer started")
	for {
		if ctx.Err() != nil {
			c.log.Info("Alert consumer stopping...")
			return nil
		}

		records, err := c.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("Failed to poll Kafka", zap.Error(err))
			sleep(ctx, c.backoff)
			continue
		}
		if len(records) == 0 {
			continue
		}

		handled := c.handleRecords(ctx, records)
		if handled == 0 {
			continue
		}
		// the caller's ctx may be done; commit what was handled regardless
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.source.CommitRecords(commitCtx, records[:handled]); err != nil {
			c.log.Error("Failed to commit offsets", zap.Error(err))
		}
		cancel()
	}
}

// handleRecords returns how many leading records were handled before ctx ended
func (c *AlertConsumer) handleRecords(ctx context.Context, records []*kafka.Record) int {
	for i, rec := range records {
		var evt domain.DomainEvent
		if err := json.Unmarshal(rec.Value, &evt); err != nil {
			// undecodable records can never succeed; skip them
			c.log.Error("Dropping undecodable event",
				zap.String("topic", rec.Topic),
				zap.Int64("offset", rec.Offset),
				zap.Error(err),
			)
			continue
		}
		for {
			err := c.handle(ctx, rec, evt)
			if err == nil {
				break
			}
			c.log.Error("Failed to evaluate alert rules",
				zap.String("event_id", evt.EventID),
				zap.Int64("offset", rec.Offset),
				zap.Error(err),
			)
			if !sleep(ctx, c.backoff) {
				return i
			}
		}
	}
	return len(records)
}

func (c *AlertConsumer) handle(ctx context.Context, rec *kafka.Record, evt domain.DomainEvent) error {
	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	ctx, span := telemetry.StartSpan(telemetry.ExtractHeaders(ctx, headers), "alert.consume")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", evt.EventID),
		attribute.String("event_type", string(evt.EventType)),
		attribute.Int64("offset", rec.Offset),
	)

	_, err := c.handler.Handle(ctx, evt)
	telemetry.RecordError(span, err)
	return err
}
