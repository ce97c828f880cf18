package dto

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// ScheduleEventRequest represents the request to start monitoring an event
type ScheduleEventRequest struct {
	Name            string    `json:"name" binding:"required"`
	Category        string    `json:"category"`
	EventDate       time.Time `json:"event_date" binding:"required"`
	DurationMinutes int       `json:"duration_minutes"`
	Venue           string    `json:"venue" binding:"required"`
	Teams           []string  `json:"teams"`
}

// Validate validates the ScheduleEventRequest
func (r *ScheduleEventRequest) Validate() (bool, string) {
	if strings.TrimSpace(r.Name) == "" {
		return false, "Name is required"
	}
	if strings.TrimSpace(r.Venue) == "" {
		return false, "Venue is required"
	}
	if r.DurationMinutes < 0 {
		return false, "Duration must not be negative"
	}
	if r.Category != "" && !domain.EventCategory(strings.ToLower(r.Category)).IsValid() {
		return false, "Unknown category"
	}
	return true, ""
}

// ToParams converts the request to domain parameters
func (r *ScheduleEventRequest) ToParams() domain.ScheduleEventParams {
	return domain.ScheduleEventParams{
		Name:      r.Name,
		Category:  domain.EventCategory(strings.ToLower(r.Category)),
		EventDate: r.EventDate,
		Duration:  time.Duration(r.DurationMinutes) * time.Minute,
		Venue:     r.Venue,
		Teams:     r.Teams,
	}
}

// EventResponse represents a monitored sports event
type EventResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	EventDate       time.Time `json:"event_date"`
	EndsAt          time.Time `json:"ends_at"`
	Venue           string    `json:"venue"`
	Teams           []string  `json:"teams,omitempty"`
	IsHighDemand    bool      `json:"is_high_demand"`
	TicketsAttached bool      `json:"tickets_attached"`
	Version         int       `json:"version"`
}

// ToEventResponse converts a sports event to its response
func ToEventResponse(e *domain.SportsEvent) *EventResponse {
	return &EventResponse{
		ID:              string(e.ID()),
		Name:            e.Name(),
		Category:        string(e.Category()),
		EventDate:       e.EventDate(),
		EndsAt:          e.EndsAt(),
		Venue:           e.Venue(),
		Teams:           e.Teams(),
		IsHighDemand:    e.IsHighDemand(),
		TicketsAttached: e.HasTicketsAttached(),
		Version:         e.Version(),
	}
}

// TicketResponse represents a monitored ticket
type TicketResponse struct {
	ID              string              `json:"id"`
	EventID         string              `json:"event_id"`
	Location        domain.SeatLocation `json:"location"`
	Price           domain.Price        `json:"price"`
	Availability    string              `json:"availability"`
	Platform        string              `json:"platform"`
	URL             string              `json:"url,omitempty"`
	IsOfficial      bool                `json:"is_official"`
	Description     string              `json:"description,omitempty"`
	LastMonitoredAt time.Time           `json:"last_monitored_at"`
	Version         int                 `json:"version"`
}

// ToTicketResponse converts a monitored ticket to its response
func ToTicketResponse(t *domain.MonitoredTicket) *TicketResponse {
	return &TicketResponse{
		ID:              string(t.ID()),
		EventID:         string(t.EventID()),
		Location:        t.Location(),
		Price:           t.Price(),
		Availability:    string(t.Availability()),
		Platform:        string(t.Source().Platform()),
		URL:             t.Source().URL(),
		IsOfficial:      t.IsFromOfficialSource(),
		Description:     t.Description(),
		LastMonitoredAt: t.LastMonitoredAt(),
		Version:         t.Version(),
	}
}

// StreamEventResponse represents one recorded domain event
type StreamEventResponse struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	Version    int               `json:"version"`
	OccurredAt time.Time         `json:"occurred_at"`
	Payload    json.RawMessage   `json:"payload"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ToStreamEventResponse converts a domain event to its response
func ToStreamEventResponse(e domain.DomainEvent) (*StreamEventResponse, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return &StreamEventResponse{
		EventID:    e.EventID,
		EventType:  string(e.EventType),
		Version:    e.Version,
		OccurredAt: e.OccurredAt,
		Payload:    payload,
		Metadata:   e.Metadata,
	}, nil
}
