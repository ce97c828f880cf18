package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// EnqueueJobRequest represents the request to schedule a scrape
type EnqueueJobRequest struct {
	Platform string               `json:"platform" binding:"required"`
	EventID  string               `json:"event_id" binding:"required"`
	Criteria SearchCriteriaFields `json:"criteria"`
}

// SearchCriteriaFields narrows what the platform adapter looks for
type SearchCriteriaFields struct {
	Keywords string           `json:"keywords"`
	Location string           `json:"location"`
	MaxPrice *decimal.Decimal `json:"max_price"`
	DateFrom *time.Time       `json:"date_from"`
	DateTo   *time.Time       `json:"date_to"`
}

// Validate validates the EnqueueJobRequest
func (r *EnqueueJobRequest) Validate() (bool, string) {
	if _, err := domain.ParsePlatform(r.Platform); err != nil {
		return false, "Unknown platform"
	}
	if _, err := domain.ParseEventID(r.EventID); err != nil {
		return false, "Event ID is required"
	}
	if r.Criteria.DateFrom != nil && r.Criteria.DateTo != nil && r.Criteria.DateTo.Before(*r.Criteria.DateFrom) {
		return false, "date_to must not be before date_from"
	}
	return true, ""
}

// ToCriteria converts the request criteria to the domain type
func (r *EnqueueJobRequest) ToCriteria() domain.SearchCriteria {
	c := domain.SearchCriteria{
		Keywords: r.Criteria.Keywords,
		Location: r.Criteria.Location,
		DateFrom: r.Criteria.DateFrom,
		DateTo:   r.Criteria.DateTo,
	}
	if r.Criteria.MaxPrice != nil {
		c.MaxPrice = decimal.NewNullDecimal(*r.Criteria.MaxPrice)
	}
	return c
}

// JobListFilter represents the query of GET /jobs
type JobListFilter struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

// SetDefaults sets default values
func (f *JobListFilter) SetDefaults() {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
}

// JobResponse represents a scraping job
type JobResponse struct {
	ID              string                `json:"id"`
	Platform        string                `json:"platform"`
	EventID         string                `json:"event_id"`
	Status          string                `json:"status"`
	Attempt         int                   `json:"attempt"`
	Criteria        domain.SearchCriteria `json:"criteria"`
	CreatedAt       time.Time             `json:"created_at"`
	AvailableAt     time.Time             `json:"available_at"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	DurationMs      int64                 `json:"duration_ms,omitempty"`
	LastError       string                `json:"last_error,omitempty"`
	FailureKind     string                `json:"failure_kind,omitempty"`
	CancelRequested bool                  `json:"cancel_requested"`
	PreviousJobID   string                `json:"previous_job_id,omitempty"`
	TicketsSeen     int                   `json:"tickets_seen"`
	Coalesced       bool                  `json:"coalesced,omitempty"`
}

// ToJobResponse converts a job to its response
func ToJobResponse(job *domain.ScrapingJob) *JobResponse {
	return &JobResponse{
		ID:              string(job.ID),
		Platform:        string(job.Platform),
		EventID:         string(job.EventID),
		Status:          string(job.Status),
		Attempt:         job.Attempt,
		Criteria:        job.Criteria,
		CreatedAt:       job.CreatedAt,
		AvailableAt:     job.AvailableAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		DurationMs:      job.Duration().Milliseconds(),
		LastError:       job.LastError,
		FailureKind:     string(job.FailureKind),
		CancelRequested: job.CancelRequested,
		PreviousJobID:   string(job.PreviousJobID),
		TicketsSeen:     job.TicketsSeen,
	}
}

// CancelJobResponse reports the outcome of a cancellation
type CancelJobResponse struct {
	Job     *JobResponse `json:"job"`
	Removed bool         `json:"removed"`
}

// JobStatsResponse counts jobs per status
type JobStatsResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}
