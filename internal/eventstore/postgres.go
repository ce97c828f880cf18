package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/pkg/database"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

const (
	streamVersionConstraint = "domain_events_stream_version_key"
	eventIDConstraint       = "domain_events_event_id_key"

	// appendLockID serializes appends so positions become visible in order
	appendLockID int64 = 720113902
)

// DB is satisfied by *pgxpool.Pool
type DB interface {
	database.TxBeginner
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists events in the domain_events table
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, aggregateID string, expectedVersion int, events []domain.DomainEvent) error {
	if len(events) == 0 {
		return validateBatch(aggregateID, expectedVersion, events)
	}
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return s.AppendTx(ctx, tx, aggregateID, expectedVersion, events)
	})
}

// AppendTx appends inside the caller's transaction so state rows and events
// commit together
func (s *PostgresStore) AppendTx(ctx context.Context, tx pgx.Tx, aggregateID string, expectedVersion int, events []domain.DomainEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "eventstore.postgres.append")
	defer span.End()

	span.SetAttributes(
		attribute.String("aggregate_id", aggregateID),
		attribute.Int("expected_version", expectedVersion),
		attribute.Int("event_count", len(events)),
	)

	if err := validateBatch(aggregateID, expectedVersion, events); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockID); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to acquire append lock: %w", err)
	}

	var current int
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM domain_events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&current)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to read stream version: %w", err)
	}
	if current != expectedVersion {
		return conflict(aggregateID, expectedVersion, current)
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", e.EventType, err)
		}
		meta := e.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		metadata, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		batch.Queue(`
			INSERT INTO domain_events (
				event_id, aggregate_id, aggregate_type, event_type,
				version, payload, metadata, occurred_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.EventID, e.AggregateID, string(e.AggregateType), string(e.EventType),
			e.Version, payload, metadata, e.OccurredAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			telemetry.RecordError(span, err)
			switch {
			case database.IsUniqueViolation(err, streamVersionConstraint):
				// another writer got there first; its exact version is unknown here
				return conflict(aggregateID, expectedVersion, expectedVersion+1)
			case database.IsUniqueViolation(err, eventIDConstraint):
				return ErrDuplicateEvent
			}
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReadStream(ctx context.Context, aggregateID string) ([]domain.DomainEvent, error) {
	ctx, span := telemetry.StartSpan(ctx, "eventstore.postgres.read_stream")
	defer span.End()
	span.SetAttributes(attribute.String("aggregate_id", aggregateID))

	rows, err := s.db.Query(ctx, `
		SELECT position, event_id, aggregate_id, aggregate_type, event_type,
		       version, payload, metadata, occurred_at
		FROM domain_events
		WHERE aggregate_id = $1
		ORDER BY version ASC`, aggregateID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	events := make([]domain.DomainEvent, len(records))
	for i, r := range records {
		events[i] = r.Event
	}
	return events, nil
}

func (s *PostgresStore) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Record, error) {
	ctx, span := telemetry.StartSpan(ctx, "eventstore.postgres.read_all")
	defer span.End()
	span.SetAttributes(attribute.Int64("after_position", afterPosition))

	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx, `
		SELECT position, event_id, aggregate_id, aggregate_type, event_type,
		       version, payload, metadata, occurred_at
		FROM domain_events
		WHERE position > $1
		ORDER BY position ASC
		LIMIT $2`, afterPosition, limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r             Record
			aggregateType string
			eventType     string
			payload       []byte
			metadata      []byte
			occurredAt    time.Time
		)
		if err := rows.Scan(
			&r.Position, &r.Event.EventID, &r.Event.AggregateID, &aggregateType, &eventType,
			&r.Event.Version, &payload, &metadata, &occurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event, err := decodeRow(r.Event, aggregateType, eventType, payload, metadata, occurredAt)
		if err != nil {
			return nil, err
		}
		r.Event = event
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return records, nil
}

func decodeRow(e domain.DomainEvent, aggregateType, eventType string, payload, metadata []byte, occurredAt time.Time) (domain.DomainEvent, error) {
	e.AggregateType = domain.AggregateType(aggregateType)
	e.EventType = domain.EventType(eventType)
	e.OccurredAt = occurredAt.UTC()

	p, err := domain.DecodePayload(e.EventType, payload)
	if err != nil {
		return e, err
	}
	e.Payload = p

	e.Metadata = map[string]string{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return e, fmt.Errorf("failed to decode metadata of %s: %w", e.EventID, err)
		}
		if e.Metadata == nil {
			e.Metadata = map[string]string{}
		}
	}
	return e, nil
}
