package repository

import (
	"context"
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

const ticketNaturalKeyConstraint = "monitored_tickets_natural_key"

const ticketColumns = `
	id, event_id, platform, section, seat_row, seat,
	price_amount::text, price_currency, availability, source_url, description,
	last_monitored_at, created_at, updated_at, version`

// PostgresTicketRepository implements TicketRepository using PostgreSQL
type PostgresTicketRepository struct {
	db     DB
	events *eventstore.PostgresStore
}

// NewPostgresTicketRepository creates a new PostgresTicketRepository
func NewPostgresTicketRepository(db DB, events *eventstore.PostgresStore) *PostgresTicketRepository {
	return &PostgresTicketRepository{db: db, events: events}
}

// Save appends pending events and upserts the ticket row in one transaction
func (r *PostgresTicketRepository) Save(ctx context.Context, ticket *domain.MonitoredTicket) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.save")
	defer span.End()

	span.SetAttributes(
		attribute.String("ticket_id", string(ticket.ID())),
		attribute.Int("expected_version", ticket.ExpectedVersion()),
	)

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if ticket.HasPendingEvents() {
			if err := r.events.AppendTx(ctx, tx, string(ticket.ID()), ticket.ExpectedVersion(), ticket.PendingEvents()); err != nil {
				return err
			}
			return r.upsert(ctx, tx, ticket.State())
		}
		return r.touch(ctx, tx, ticket)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		if database.IsUniqueViolation(err, ticketNaturalKeyConstraint) {
			return &domain.VersionConflictError{AggregateID: ticket.NaturalKey(), Expected: ticket.ExpectedVersion()}
		}
		return fmt.Errorf("failed to save ticket: %w", err)
	}

	ticket.DrainEvents()
	return nil
}

func (r *PostgresTicketRepository) upsert(ctx context.Context, tx pgx.Tx, s domain.TicketState) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO monitored_tickets (
			id, event_id, platform, natural_key, section, seat_row, seat,
			price_amount, price_currency, availability, source_url, description,
			is_official, last_monitored_at, created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			CAST($8::text AS NUMERIC), $9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)
		ON CONFLICT (id) DO UPDATE SET
			price_amount      = EXCLUDED.price_amount,
			price_currency    = EXCLUDED.price_currency,
			availability      = EXCLUDED.availability,
			description       = EXCLUDED.description,
			last_monitored_at = EXCLUDED.last_monitored_at,
			updated_at        = EXCLUDED.updated_at,
			version           = EXCLUDED.version`,
		string(s.ID), string(s.EventID), string(s.Source.Platform()),
		domain.NaturalTicketKey(s.EventID, s.Source, s.Location),
		s.Location.Section, s.Location.Row, s.Location.Seat,
		s.Price.Amount().String(), s.Price.Currency(), string(s.Availability),
		s.Source.URL(), s.Description, s.IsOfficial,
		s.LastMonitoredAt, s.CreatedAt, s.UpdatedAt, s.Version,
	)
	return err
}

// touch stores the monitoring timestamp of a ticket without new events
func (r *PostgresTicketRepository) touch(ctx context.Context, tx pgx.Tx, ticket *domain.MonitoredTicket) error {
	tag, err := tx.Exec(ctx, `
		UPDATE monitored_tickets
		SET last_monitored_at = GREATEST(last_monitored_at, $2)
		WHERE id = $1 AND version = $3`,
		string(ticket.ID()), ticket.LastMonitoredAt(), ticket.ExpectedVersion(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.VersionConflictError{AggregateID: string(ticket.ID()), Expected: ticket.ExpectedVersion()}
	}
	return nil
}

func (r *PostgresTicketRepository) FindByID(ctx context.Context, id domain.TicketID) (*domain.MonitoredTicket, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.find_by_id")
	defer span.End()

	row := r.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM monitored_tickets WHERE id = $1`, string(id))
	return scanTicketOrNotFound(row)
}

func (r *PostgresTicketRepository) FindByNaturalKey(ctx context.Context, key string) (*domain.MonitoredTicket, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.find_by_natural_key")
	defer span.End()

	row := r.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM monitored_tickets WHERE natural_key = $1`, key)
	return scanTicketOrNotFound(row)
}

func (r *PostgresTicketRepository) FindByEvent(ctx context.Context, eventID domain.EventID) ([]*domain.MonitoredTicket, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.find_by_event")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", string(eventID)))

	rows, err := r.db.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM monitored_tickets
		WHERE event_id = $1
		ORDER BY last_monitored_at ASC, id ASC`, string(eventID))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return collect(rows, scanTicket)
}

func (r *PostgresTicketRepository) FindStale(ctx context.Context, before time.Time, limit int) ([]*domain.MonitoredTicket, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.find_stale")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM monitored_tickets
		WHERE last_monitored_at < $1
		ORDER BY last_monitored_at ASC, id ASC
		LIMIT $2`, before, limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list stale tickets: %w", err)
	}
	return collect(rows, scanTicket)
}

func scanTicketOrNotFound(row pgx.Row) (*domain.MonitoredTicket, error) {
	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return ticket, nil
}

func scanTicket(row pgx.Row) (*domain.MonitoredTicket, error) {
	var (
		s                                domain.TicketState
		id, eventID, platform, sourceURL string
		amount, currency, availability   string
	)
	if err := row.Scan(
		&id, &eventID, &platform, &s.Location.Section, &s.Location.Row, &s.Location.Seat,
		&amount, &currency, &availability, &sourceURL, &s.Description,
		&s.LastMonitoredAt, &s.CreatedAt, &s.UpdatedAt, &s.Version,
	); err != nil {
		return nil, err
	}

	price, err := domain.ParsePrice(amount, currency)
	if err != nil {
		return nil, err
	}
	source, err := domain.NewPlatformSource(domain.Platform(platform), sourceURL)
	if err != nil {
		return nil, err
	}
	s.ID = domain.TicketID(id)
	s.EventID = domain.EventID(eventID)
	s.Price = price
	s.Source = source
	s.Availability = domain.AvailabilityStatus(availability)
	return domain.RestoreTicket(s)
}
