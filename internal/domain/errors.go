package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrValidation         = errors.New("validation error")
	ErrSchedulingConflict = errors.New("scheduling conflict")
	ErrVersionConflict    = errors.New("version conflict")

	// Not found errors
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrEventNotFound     = errors.New("event not found")
	ErrJobNotFound       = errors.New("scraping job not found")
	ErrAlertRuleNotFound = errors.New("alert rule not found")

	// Ticket errors
	ErrInvalidAvailabilityTransition = errors.New("invalid availability transition")
	ErrCurrencyMismatch              = errors.New("currency mismatch")

	// Event errors
	ErrEventDateLocked = errors.New("event date cannot change once tickets are attached")

	// Job errors
	ErrJobTerminal          = errors.New("scraping job is in a terminal state")
	ErrInvalidJobTransition = errors.New("invalid scraping job transition")
	ErrJobRetriesExhausted  = errors.New("scraping job retries exhausted")

	// Event stream errors
	ErrUnknownEventType = errors.New("unknown event type")
)

// ValidationError reports a malformed value object or entity
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError creates a ValidationError for field
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ValidationError) Unwrap() error        { return e.Err }

// SchedulingConflictError reports overlapping events at the same venue
type SchedulingConflictError struct {
	EventID            EventID
	ConflictingEventID EventID
	Venue              string
}

func (e *SchedulingConflictError) Error() string {
	return fmt.Sprintf("scheduling conflict: event %s overlaps event %s at %q",
		e.EventID, e.ConflictingEventID, e.Venue)
}

func (e *SchedulingConflictError) Is(target error) bool { return target == ErrSchedulingConflict }

// VersionConflictError signals that a concurrent writer appended to the stream first
type VersionConflictError struct {
	AggregateID string
	Expected    int
	Actual      int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, actual %d", e.AggregateID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// FailureKind classifies a scrape failure
type FailureKind string

const (
	FailureSoft FailureKind = "soft"
	FailureHard FailureKind = "hard"
)

// ScrapeError is a classified platform adapter failure
type ScrapeError struct {
	Kind       FailureKind
	Platform   Platform
	StatusCode int
	// RetryAfter is the server-requested wait, zero when absent
	RetryAfter time.Duration
	// Blocked is set for bot-detection and rate-limit responses
	Blocked bool
	Reason  string
	Err     error
}

// SoftFailure builds a transient scrape failure
func SoftFailure(platform Platform, reason string, err error) *ScrapeError {
	return &ScrapeError{Kind: FailureSoft, Platform: platform, Reason: reason, Err: err}
}

// HardFailure builds a non-transient scrape failure
func HardFailure(platform Platform, reason string, err error) *ScrapeError {
	return &ScrapeError{Kind: FailureHard, Platform: platform, Reason: reason, Err: err}
}

func (e *ScrapeError) Error() string {
	msg := fmt.Sprintf("%s scrape failure on %s: %s", e.Kind, e.Platform, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// IsSoft reports whether the failure is transient
func (e *ScrapeError) IsSoft() bool { return e.Kind == FailureSoft }

// AsScrapeError extracts a ScrapeError, treating any other error as a hard failure
func AsScrapeError(platform Platform, err error) *ScrapeError {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return HardFailure(platform, "unclassified error", err)
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrAlertRuleNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
