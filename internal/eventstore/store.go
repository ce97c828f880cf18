package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// ErrDuplicateEvent is returned when an event id was already appended
var ErrDuplicateEvent = errors.New("event already appended")

// Record is an event with its global append position
type Record struct {
	Position int64
	Event    domain.DomainEvent
}

// Store is the append-only domain event store
type Store interface {
	// Append adds events to the aggregate's stream if its current version is
	// expectedVersion; otherwise it returns *domain.VersionConflictError.
	Append(ctx context.Context, aggregateID string, expectedVersion int, events []domain.DomainEvent) error
	// ReadStream returns the aggregate's events in version order
	ReadStream(ctx context.Context, aggregateID string) ([]domain.DomainEvent, error)
	// ReadAll returns up to limit events appended after position, in append order
	ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Record, error)
}

// validateBatch checks that events belong to aggregateID and continue its
// stream gaplessly from expectedVersion
func validateBatch(aggregateID string, expectedVersion int, events []domain.DomainEvent) error {
	if aggregateID == "" {
		return domain.NewValidationError("aggregate_id", "must not be empty")
	}
	if expectedVersion < 0 {
		return domain.NewValidationError("expected_version", "must not be negative")
	}
	for i, e := range events {
		if e.AggregateID != aggregateID {
			return domain.NewValidationError("events", "event %d belongs to %s, not %s", i, e.AggregateID, aggregateID)
		}
		if e.Version != expectedVersion+i+1 {
			return domain.NewValidationError("events", "event %d has version %d, want %d", i, e.Version, expectedVersion+i+1)
		}
		if e.EventID == "" || e.Payload == nil {
			return domain.NewValidationError("events", "event %d is incomplete", i)
		}
	}
	return nil
}

func conflict(aggregateID string, expected, actual int) error {
	return fmt.Errorf("append to %s: %w", aggregateID, &domain.VersionConflictError{
		AggregateID: aggregateID,
		Expected:    expected,
		Actual:      actual,
	})
}
