package domain

import (
	"strings"

	"github.com/google/uuid"
)

// TicketID identifies a MonitoredTicket
type TicketID string

// EventID identifies a SportsEvent
type EventID string

// PurchaseID identifies a purchase made through a monitored listing
type PurchaseID string

// JobID identifies a ScrapingJob attempt
type JobID string

// RuleID identifies an AlertRule
type RuleID string

func NewTicketID() TicketID     { return TicketID(uuid.NewString()) }
func NewEventID() EventID       { return EventID(uuid.NewString()) }
func NewPurchaseID() PurchaseID { return PurchaseID(uuid.NewString()) }
func NewJobID() JobID           { return JobID(uuid.NewString()) }
func NewRuleID() RuleID         { return RuleID(uuid.NewString()) }

func (id TicketID) String() string   { return string(id) }
func (id EventID) String() string    { return string(id) }
func (id PurchaseID) String() string { return string(id) }
func (id JobID) String() string      { return string(id) }
func (id RuleID) String() string     { return string(id) }

// ParseTicketID validates a ticket id received from outside the domain
func ParseTicketID(s string) (TicketID, error) {
	v, err := parseID("ticket_id", s)
	return TicketID(v), err
}

// ParseEventID validates an event id received from outside the domain
func ParseEventID(s string) (EventID, error) {
	v, err := parseID("event_id", s)
	return EventID(v), err
}

// ParsePurchaseID validates a purchase id received from outside the domain
func ParsePurchaseID(s string) (PurchaseID, error) {
	v, err := parseID("purchase_id", s)
	return PurchaseID(v), err
}

// ParseJobID validates a job id received from outside the domain
func ParseJobID(s string) (JobID, error) {
	v, err := parseID("job_id", s)
	return JobID(v), err
}

// ParseRuleID validates a rule id received from outside the domain
func ParseRuleID(s string) (RuleID, error) {
	v, err := parseID("rule_id", s)
	return RuleID(v), err
}

func parseID(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", NewValidationError(field, "must not be empty")
	}
	if len(s) > 128 {
		return "", NewValidationError(field, "must be at most 128 characters")
	}
	return s, nil
}
