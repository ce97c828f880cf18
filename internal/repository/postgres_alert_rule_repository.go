package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
	"github.com/prohmpiriya/ticket-monitor/pkg/database"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

const alertRuleColumns = `
	id, user_id, event_id, ticket_id, platform, kind,
	target_amount::text, target_currency, operator, min_savings_percent::text,
	active, created_at, updated_at, version`

// PostgresAlertRuleRepository implements AlertRuleRepository using PostgreSQL
type PostgresAlertRuleRepository struct {
	db     DB
	events *eventstore.PostgresStore
}

// NewPostgresAlertRuleRepository creates a new PostgresAlertRuleRepository
func NewPostgresAlertRuleRepository(db DB, events *eventstore.PostgresStore) *PostgresAlertRuleRepository {
	return &PostgresAlertRuleRepository{db: db, events: events}
}

func (r *PostgresAlertRuleRepository) Create(ctx context.Context, rule *domain.AlertRule) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.alert_rule.create")
	defer span.End()

	s := rule.State()
	var amount, currency *string
	if !s.TargetPrice.IsEmpty() {
		a, c := s.TargetPrice.Amount().String(), s.TargetPrice.Currency()
		amount, currency = &a, &c
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO alert_rules (
			id, user_id, event_id, ticket_id, platform, kind,
			target_amount, target_currency, operator, min_savings_percent,
			active, created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			CAST($7::text AS NUMERIC), $8, $9, CAST($10::text AS NUMERIC),
			$11, $12, $13, $14
		)`,
		string(s.ID), s.UserID, string(s.EventID), string(s.TicketID), string(s.Platform), string(s.Kind),
		amount, currency, string(s.Operator), s.MinSavingsPercent.String(),
		s.Active, s.CreatedAt, s.UpdatedAt, s.Version,
	)
	if err != nil {
		telemetry.RecordError(span, err)
		if database.IsUniqueViolation(err, "") {
			return domain.NewValidationError("id", "rule %s already exists", s.ID)
		}
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

// Save appends pending AlertTriggered events and stores the active flag
func (r *PostgresAlertRuleRepository) Save(ctx context.Context, rule *domain.AlertRule) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.alert_rule.save")
	defer span.End()
	span.SetAttributes(attribute.String("rule_id", string(rule.ID())))

	s := rule.State()
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if rule.HasPendingEvents() {
			if err := r.events.AppendTx(ctx, tx, string(s.ID), rule.ExpectedVersion(), rule.PendingEvents()); err != nil {
				return err
			}
		}

		var stored int
		err := tx.QueryRow(ctx, `
			UPDATE alert_rules
			SET active = $2, updated_at = $3, version = $4
			WHERE id = $1
			RETURNING version`,
			string(s.ID), s.Active, s.UpdatedAt, s.Version,
		).Scan(&stored)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAlertRuleNotFound
		}
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, domain.ErrAlertRuleNotFound) || errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to save alert rule: %w", err)
	}

	rule.DrainEvents()
	return nil
}

func (r *PostgresAlertRuleRepository) FindByID(ctx context.Context, id domain.RuleID) (*domain.AlertRule, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.alert_rule.find_by_id")
	defer span.End()

	rule, err := scanAlertRule(r.db.QueryRow(ctx, `SELECT `+alertRuleColumns+` FROM alert_rules WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAlertRuleNotFound
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get alert rule: %w", err)
	}
	return rule, nil
}

func (r *PostgresAlertRuleRepository) FindActiveByEvent(ctx context.Context, eventID domain.EventID, kind domain.AlertKind) ([]*domain.AlertRule, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.alert_rule.find_active_by_event")
	defer span.End()

	rows, err := r.db.Query(ctx, `
		SELECT `+alertRuleColumns+`
		FROM alert_rules
		WHERE event_id = $1 AND kind = $2 AND active
		ORDER BY created_at ASC, id ASC`, string(eventID), string(kind))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	return collect(rows, scanAlertRule)
}

func scanAlertRule(row pgx.Row) (*domain.AlertRule, error) {
	var (
		s                                     domain.AlertRuleState
		id, eventID, ticketID, platform, kind string
		operator, minSavings                  string
		amount, currency                      *string
	)
	if err := row.Scan(
		&id, &s.UserID, &eventID, &ticketID, &platform, &kind,
		&amount, &currency, &operator, &minSavings,
		&s.Active, &s.CreatedAt, &s.UpdatedAt, &s.Version,
	); err != nil {
		return nil, err
	}

	if amount != nil && currency != nil {
		price, err := domain.ParsePrice(*amount, *currency)
		if err != nil {
			return nil, err
		}
		s.TargetPrice = price
	}
	savings, err := decimal.NewFromString(minSavings)
	if err != nil {
		return nil, fmt.Errorf("failed to parse min_savings_percent: %w", err)
	}

	s.ID = domain.RuleID(id)
	s.EventID = domain.EventID(eventID)
	s.TicketID = domain.TicketID(ticketID)
	s.Platform = domain.Platform(platform)
	s.Kind = domain.AlertKind(kind)
	s.Operator = domain.Comparison(operator)
	s.MinSavingsPercent = savings
	return domain.RestoreAlertRule(s)
}
