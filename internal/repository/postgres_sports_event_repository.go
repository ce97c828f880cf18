package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
	"github.com/prohmpiriya/ticket-monitor/pkg/database"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

const sportsEventColumns = `
	id, name, category, event_date, duration_seconds, venue, teams,
	is_high_demand, tickets_attached, created_at, updated_at, version`

// PostgresSportsEventRepository implements SportsEventRepository using PostgreSQL
type PostgresSportsEventRepository struct {
	db     DB
	events *eventstore.PostgresStore
}

// NewPostgresSportsEventRepository creates a new PostgresSportsEventRepository
func NewPostgresSportsEventRepository(db DB, events *eventstore.PostgresStore) *PostgresSportsEventRepository {
	return &PostgresSportsEventRepository{db: db, events: events}
}

func (r *PostgresSportsEventRepository) Save(ctx context.Context, event *domain.SportsEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.sports_event.save")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", string(event.ID())))

	if !event.HasPendingEvents() {
		return r.touch(ctx, event)
	}

	s := event.State()
	teams, err := json.Marshal(s.Teams)
	if err != nil {
		return fmt.Errorf("failed to marshal teams: %w", err)
	}

	err = database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := r.events.AppendTx(ctx, tx, string(s.ID), event.ExpectedVersion(), event.PendingEvents()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO sports_events (
				id, name, category, event_date, duration_seconds, venue, teams,
				is_high_demand, tickets_attached, created_at, updated_at, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				event_date       = EXCLUDED.event_date,
				is_high_demand   = EXCLUDED.is_high_demand,
				tickets_attached = sports_events.tickets_attached OR EXCLUDED.tickets_attached,
				updated_at       = EXCLUDED.updated_at,
				version          = EXCLUDED.version`,
			string(s.ID), s.Name, string(s.Category), s.EventDate, int64(s.Duration/time.Second), s.Venue, teams,
			s.IsHighDemand, s.TicketsAttached, s.CreatedAt, s.UpdatedAt, s.Version,
		)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to save sports event: %w", err)
	}

	event.DrainEvents()
	return nil
}

// touch stores state changes that record no event, such as attaching tickets
func (r *PostgresSportsEventRepository) touch(ctx context.Context, event *domain.SportsEvent) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sports_events
		SET tickets_attached = tickets_attached OR $2, updated_at = GREATEST(updated_at, $3)
		WHERE id = $1 AND version = $4`,
		string(event.ID()), event.HasTicketsAttached(), event.State().UpdatedAt, event.ExpectedVersion(),
	)
	if err != nil {
		return fmt.Errorf("failed to save sports event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.VersionConflictError{AggregateID: string(event.ID()), Expected: event.ExpectedVersion()}
	}
	return nil
}

func (r *PostgresSportsEventRepository) FindByID(ctx context.Context, id domain.EventID) (*domain.SportsEvent, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.sports_event.find_by_id")
	defer span.End()

	row := r.db.QueryRow(ctx, `SELECT `+sportsEventColumns+` FROM sports_events WHERE id = $1`, string(id))
	event, err := scanSportsEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get sports event: %w", err)
	}
	return event, nil
}

func (r *PostgresSportsEventRepository) FindInWindow(ctx context.Context, start, end time.Time) ([]*domain.SportsEvent, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.sports_event.find_in_window")
	defer span.End()

	rows, err := r.db.Query(ctx, `
		SELECT `+sportsEventColumns+`
		FROM sports_events
		WHERE event_date >= $1 AND event_date < $2
		ORDER BY event_date ASC, id ASC`, start, end)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list sports events: %w", err)
	}
	return collect(rows, scanSportsEvent)
}

func scanSportsEvent(row pgx.Row) (*domain.SportsEvent, error) {
	var (
		s               domain.SportsEventState
		id, category    string
		durationSeconds int64
		teams           []byte
	)
	if err := row.Scan(
		&id, &s.Name, &category, &s.EventDate, &durationSeconds, &s.Venue, &teams,
		&s.IsHighDemand, &s.TicketsAttached, &s.CreatedAt, &s.UpdatedAt, &s.Version,
	); err != nil {
		return nil, err
	}
	if len(teams) > 0 {
		if err := json.Unmarshal(teams, &s.Teams); err != nil {
			return nil, fmt.Errorf("failed to unmarshal teams: %w", err)
		}
	}
	s.ID = domain.EventID(id)
	s.Category = domain.EventCategory(category)
	s.Duration = time.Duration(durationSeconds) * time.Second
	return domain.RestoreSportsEvent(s)
}
