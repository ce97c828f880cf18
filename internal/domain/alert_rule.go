package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertKind is what a rule watches for
type AlertKind string

const (
	AlertPriceThreshold AlertKind = "price_threshold"
	AlertSoldOut        AlertKind = "sold_out"
)

func (k AlertKind) IsValid() bool {
	return k == AlertPriceThreshold || k == AlertSoldOut
}

// Comparison is the operator applied as operator(newPrice, target)
type Comparison string

const (
	CompareLess           Comparison = "lt"
	CompareLessOrEqual    Comparison = "lte"
	CompareGreater        Comparison = "gt"
	CompareGreaterOrEqual Comparison = "gte"
)

// ParseComparison accepts the short names and their symbols
func ParseComparison(s string) (Comparison, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "lt", "<":
		return CompareLess, nil
	case "lte", "<=":
		return CompareLessOrEqual, nil
	case "gt", ">":
		return CompareGreater, nil
	case "gte", ">=":
		return CompareGreaterOrEqual, nil
	}
	return "", NewValidationError("operator", "unknown comparison %q", s)
}

func (c Comparison) IsValid() bool {
	switch c {
	case CompareLess, CompareLessOrEqual, CompareGreater, CompareGreaterOrEqual:
		return true
	}
	return false
}

func (c Comparison) holds(cmp int) bool {
	switch c {
	case CompareLess:
		return cmp < 0
	case CompareLessOrEqual:
		return cmp <= 0
	case CompareGreater:
		return cmp > 0
	case CompareGreaterOrEqual:
		return cmp >= 0
	}
	return false
}

// alertNamespace scopes deterministic AlertTriggered ids
var alertNamespace = uuid.MustParse("6f1c3a52-9a0e-4d8b-bb53-2f0c7d4e8a11")

// AlertRule is a user subscription evaluated against ticket events.
// AlertTriggered events are appended to the rule's own stream.
type AlertRule struct {
	aggregateRoot

	id                RuleID
	userID            string
	eventID           EventID
	ticketID          TicketID
	platform          Platform
	kind              AlertKind
	targetPrice       Price
	operator          Comparison
	minSavingsPercent decimal.Decimal
	active            bool
	createdAt         time.Time
	updatedAt         time.Time
}

// AlertRuleParams describes a new rule. TicketID and Platform are optional filters.
type AlertRuleParams struct {
	UserID            string
	EventID           EventID
	TicketID          TicketID
	Platform          Platform
	Kind              AlertKind
	TargetPrice       Price
	Operator          Comparison
	MinSavingsPercent decimal.Decimal
}

// NewAlertRule creates an active rule
func NewAlertRule(p AlertRuleParams, now time.Time) (*AlertRule, error) {
	r := &AlertRule{
		id:                NewRuleID(),
		userID:            strings.TrimSpace(p.UserID),
		eventID:           p.EventID,
		ticketID:          p.TicketID,
		platform:          p.Platform,
		kind:              p.Kind,
		targetPrice:       p.TargetPrice,
		operator:          p.Operator,
		minSavingsPercent: p.MinSavingsPercent,
		active:            true,
		createdAt:         now,
		updatedAt:         now,
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *AlertRule) validate() error {
	if r.userID == "" {
		return NewValidationError("user_id", "must not be empty")
	}
	if r.eventID == "" {
		return NewValidationError("event_id", "must not be empty")
	}
	if !r.kind.IsValid() {
		return NewValidationError("kind", "unknown alert kind %q", r.kind)
	}
	if r.platform != "" && !r.platform.IsValid() {
		return NewValidationError("platform", "unknown platform %q", r.platform)
	}
	if r.minSavingsPercent.IsNegative() {
		return NewValidationError("min_savings_percent", "must not be negative")
	}
	if r.kind == AlertPriceThreshold {
		if r.targetPrice.IsEmpty() {
			return NewValidationError("target_price", "is required for price alerts")
		}
		if !r.operator.IsValid() {
			return NewValidationError("operator", "unknown comparison %q", r.operator)
		}
	}
	return nil
}

// AlertRuleState is the persisted form of an AlertRule
type AlertRuleState struct {
	ID                RuleID          `json:"id"`
	UserID            string          `json:"user_id"`
	EventID           EventID         `json:"event_id"`
	TicketID          TicketID        `json:"ticket_id,omitempty"`
	Platform          Platform        `json:"platform,omitempty"`
	Kind              AlertKind       `json:"kind"`
	TargetPrice       Price           `json:"target_price"`
	Operator          Comparison      `json:"operator,omitempty"`
	MinSavingsPercent decimal.Decimal `json:"min_savings_percent"`
	Active            bool            `json:"active"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Version           int             `json:"version"`
}

// RestoreAlertRule rebuilds a rule from storage
func RestoreAlertRule(s AlertRuleState) (*AlertRule, error) {
	r := &AlertRule{
		aggregateRoot:     aggregateRoot{version: s.Version},
		id:                s.ID,
		userID:            s.UserID,
		eventID:           s.EventID,
		ticketID:          s.TicketID,
		platform:          s.Platform,
		kind:              s.Kind,
		targetPrice:       s.TargetPrice,
		operator:          s.Operator,
		minSavingsPercent: s.MinSavingsPercent,
		active:            s.Active,
		createdAt:         s.CreatedAt,
		updatedAt:         s.UpdatedAt,
	}
	if r.id == "" {
		return nil, NewValidationError("id", "must not be empty")
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *AlertRule) State() AlertRuleState {
	return AlertRuleState{
		ID:                r.id,
		UserID:            r.userID,
		EventID:           r.eventID,
		TicketID:          r.ticketID,
		Platform:          r.platform,
		Kind:              r.kind,
		TargetPrice:       r.targetPrice,
		Operator:          r.operator,
		MinSavingsPercent: r.minSavingsPercent,
		Active:            r.active,
		CreatedAt:         r.createdAt,
		UpdatedAt:         r.updatedAt,
		Version:           r.Version(),
	}
}

func (r *AlertRule) ID() RuleID                         { return r.id }
func (r *AlertRule) UserID() string                     { return r.userID }
func (r *AlertRule) EventID() EventID                   { return r.eventID }
func (r *AlertRule) TicketID() TicketID                 { return r.ticketID }
func (r *AlertRule) Platform() Platform                 { return r.platform }
func (r *AlertRule) Kind() AlertKind                    { return r.kind }
func (r *AlertRule) TargetPrice() Price                 { return r.targetPrice }
func (r *AlertRule) Operator() Comparison               { return r.operator }
func (r *AlertRule) MinSavingsPercent() decimal.Decimal { return r.minSavingsPercent }
func (r *AlertRule) IsActive() bool                     { return r.active }

func (r *AlertRule) Deactivate(now time.Time) {
	r.active = false
	r.updatedAt = now
}

func (r *AlertRule) Activate(now time.Time) {
	r.active = true
	r.updatedAt = now
}

// Matches reports whether the rule watches the given listing
func (r *AlertRule) Matches(kind AlertKind, eventID EventID, ticketID TicketID, platform Platform) bool {
	if !r.active || r.kind != kind || r.eventID != eventID {
		return false
	}
	if r.ticketID != "" && r.ticketID != ticketID {
		return false
	}
	if r.platform != "" && r.platform != platform {
		return false
	}
	return true
}

// PriceConditionMet evaluates operator(newPrice, target) and, when a
// minimum is set, the savings relative to the previous price. Prices in a
// different currency than the target never match.
func (r *AlertRule) PriceConditionMet(oldPrice, newPrice Price) bool {
	if r.kind != AlertPriceThreshold {
		return false
	}
	cmp, err := newPrice.Compare(r.targetPrice)
	if err != nil || !r.operator.holds(cmp) {
		return false
	}
	if !r.minSavingsPercent.IsPositive() {
		return true
	}
	change, err := oldPrice.PercentageChange(newPrice)
	if err != nil {
		return false
	}
	return change.Neg().GreaterThanOrEqual(r.minSavingsPercent)
}

// Trigger records AlertTriggered. The event id is derived from the rule and
// the triggering event so a replayed trigger produces the same id.
func (r *AlertRule) Trigger(alert AlertTriggered, now time.Time) DomainEvent {
	alert.RuleID = r.id
	alert.UserID = r.userID
	alert.Kind = r.kind
	r.record(string(r.id), AggregateAlertRule, alert, now)

	last := &r.pending[len(r.pending)-1]
	last.EventID = TriggerEventID(r.id, alert.TriggeringEventID)
	return *last
}

// TriggerEventID is the deterministic id of the alert fired by rule for a triggering event
func TriggerEventID(rule RuleID, triggeringEventID string) string {
	return uuid.NewSHA1(alertNamespace, []byte(string(rule)+"|"+triggeringEventID)).String()
}
