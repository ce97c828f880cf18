package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prohmpiriya/ticket-monitor/pkg/retry"
)

// JobStatus is the state of one scrape attempt
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobStatuses lists every status in lifecycle order
func JobStatuses() []JobStatus {
	return []JobStatus{JobPending, JobProcessing, JobCompleted, JobFailed}
}

// ParseJobStatus validates a status received from outside the domain
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", NewValidationError("status", "unknown job status %q", s)
	}
	return status, nil
}

func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the job can no longer change
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// IsActive reports whether the job still occupies its (platform, event) slot
func (s JobStatus) IsActive() bool {
	return s == JobPending || s == JobProcessing
}

// SearchCriteria narrows what an adapter looks for on the platform
type SearchCriteria struct {
	Keywords string              `json:"keywords,omitempty"`
	Location string              `json:"location,omitempty"`
	MaxPrice decimal.NullDecimal `json:"max_price"`
	DateFrom *time.Time          `json:"date_from,omitempty"`
	DateTo   *time.Time          `json:"date_to,omitempty"`
}

// Validate checks the criteria bounds
func (c SearchCriteria) Validate() error {
	if c.MaxPrice.Valid && c.MaxPrice.Decimal.IsNegative() {
		return NewValidationError("max_price", "must not be negative")
	}
	if c.DateFrom != nil && c.DateTo != nil && c.DateTo.Before(*c.DateFrom) {
		return NewValidationError("date_to", "must not be before date_from")
	}
	return nil
}

// RetryPolicy decides whether and when a failed job is attempted again
type RetryPolicy struct {
	MaxRetries int
	Backoff    retry.Backoff
}

// Delay is the wait before retrying a job that failed on attempt. A
// server-provided Retry-After wins when it is longer.
func (p RetryPolicy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	delay := p.Backoff.Interval(attempt)
	if retryAfter > delay {
		return retryAfter
	}
	return delay
}

// ScrapingJob is one scrape attempt for one (platform, event) pair.
// A retry is a new job; terminal jobs are never mutated.
type ScrapingJob struct {
	ID       JobID          `json:"id"`
	Platform Platform       `json:"platform"`
	EventID  EventID        `json:"event_id"`
	Criteria SearchCriteria `json:"criteria"`
	Status   JobStatus      `json:"status"`
	// Attempt is 0 for the first try
	Attempt         int           `json:"attempt"`
	CreatedAt       time.Time     `json:"created_at"`
	AvailableAt     time.Time     `json:"available_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	FailureKind     FailureKind   `json:"failure_kind,omitempty"`
	RetryAfter      time.Duration `json:"retry_after,omitempty"`
	CancelRequested bool          `json:"cancel_requested"`
	PreviousJobID   JobID         `json:"previous_job_id,omitempty"`
	ProxyURL        string        `json:"proxy_url,omitempty"`
	TicketsSeen     int           `json:"tickets_seen"`
}

// NewScrapingJob creates a pending first attempt that is eligible immediately
func NewScrapingJob(platform Platform, eventID EventID, criteria SearchCriteria, now time.Time) (*ScrapingJob, error) {
	if !platform.IsValid() {
		return nil, NewValidationError("platform", "unknown platform %q", platform)
	}
	if eventID == "" {
		return nil, NewValidationError("event_id", "must not be empty")
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	return &ScrapingJob{
		ID:          NewJobID(),
		Platform:    platform,
		EventID:     eventID,
		Criteria:    criteria,
		Status:      JobPending,
		CreatedAt:   now,
		AvailableAt: now,
	}, nil
}

// JobKey identifies the (platform, event) slot a job occupies
func JobKey(platform Platform, eventID EventID) string {
	return string(platform) + ":" + string(eventID)
}

func (j *ScrapingJob) Key() string {
	return JobKey(j.Platform, j.EventID)
}

// IsEligible reports whether a pending job may be dispatched at now
func (j *ScrapingJob) IsEligible(now time.Time) bool {
	return j.Status == JobPending && !j.AvailableAt.After(now)
}

// Start moves a pending job to processing
func (j *ScrapingJob) Start(proxyURL string, now time.Time) error {
	if j.Status != JobPending {
		return j.transitionError(JobProcessing)
	}
	j.Status = JobProcessing
	j.StartedAt = &now
	j.ProxyURL = proxyURL
	return nil
}

// Complete records a successful scrape
func (j *ScrapingJob) Complete(ticketsSeen int, now time.Time) error {
	if j.Status != JobProcessing {
		return j.transitionError(JobCompleted)
	}
	j.Status = JobCompleted
	j.CompletedAt = &now
	j.TicketsSeen = ticketsSeen
	return nil
}

// Fail records a classified failure. Unclassified errors count as hard.
func (j *ScrapingJob) Fail(err error, now time.Time) error {
	if j.Status != JobProcessing {
		return j.transitionError(JobFailed)
	}
	failure := AsScrapeError(j.Platform, err)
	j.Status = JobFailed
	j.CompletedAt = &now
	j.LastError = failure.Error()
	j.FailureKind = failure.Kind
	j.RetryAfter = failure.RetryAfter
	return nil
}

// RequestCancel cancels the job. It returns true when the job is still
// pending and should be removed; a processing job is only flagged so it is
// not retried.
func (j *ScrapingJob) RequestCancel() (bool, error) {
	switch j.Status {
	case JobPending:
		return true, nil
	case JobProcessing:
		j.CancelRequested = true
		return false, nil
	default:
		return false, ErrJobTerminal
	}
}

// CanRetry reports whether a failed job gets another attempt
func (j *ScrapingJob) CanRetry(policy RetryPolicy) bool {
	return j.Status == JobFailed && !j.CancelRequested && j.Attempt < policy.MaxRetries
}

// NextAttempt builds the pending retry of a failed job
func (j *ScrapingJob) NextAttempt(policy RetryPolicy, now time.Time) (*ScrapingJob, error) {
	if j.Status != JobFailed {
		return nil, j.transitionError(JobPending)
	}
	if !j.CanRetry(policy) {
		return nil, ErrJobRetriesExhausted
	}
	return &ScrapingJob{
		ID:            NewJobID(),
		Platform:      j.Platform,
		EventID:       j.EventID,
		Criteria:      j.Criteria,
		Status:        JobPending,
		Attempt:       j.Attempt + 1,
		CreatedAt:     now,
		AvailableAt:   now.Add(policy.Delay(j.Attempt, j.RetryAfter)),
		PreviousJobID: j.ID,
	}, nil
}

// Duration is the processing time of a finished job
func (j *ScrapingJob) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

func (j *ScrapingJob) transitionError(to JobStatus) error {
	if j.Status.IsTerminal() {
		return ErrJobTerminal
	}
	return &ValidationError{
		Field:   "status",
		Message: "cannot move job " + string(j.ID) + " from " + string(j.Status) + " to " + string(to),
		Err:     ErrInvalidJobTransition,
	}
}
