package domain

import (
	"strings"
	"time"
)

// DefaultEventDuration is used when an event is scheduled without a duration
const DefaultEventDuration = 3 * time.Hour

// EventCategory groups events for browsing and alerting
type EventCategory string

const (
	CategoryFootball   EventCategory = "football"
	CategoryBasketball EventCategory = "basketball"
	CategoryBaseball   EventCategory = "baseball"
	CategoryHockey     EventCategory = "hockey"
	CategoryTennis     EventCategory = "tennis"
	CategoryCricket    EventCategory = "cricket"
	CategoryRugby      EventCategory = "rugby"
	CategoryMotorsport EventCategory = "motorsport"
	CategoryConcert    EventCategory = "concert"
	CategoryTheatre    EventCategory = "theatre"
	CategoryOther      EventCategory = "other"
)

func (c EventCategory) IsValid() bool {
	switch c {
	case CategoryFootball, CategoryBasketball, CategoryBaseball, CategoryHockey, CategoryTennis,
		CategoryCricket, CategoryRugby, CategoryMotorsport, CategoryConcert, CategoryTheatre, CategoryOther:
		return true
	}
	return false
}

// SportsEvent is a live event whose tickets are monitored
type SportsEvent struct {
	aggregateRoot

	id              EventID
	name            string
	category        EventCategory
	eventDate       time.Time
	duration        time.Duration
	venue           string
	teams           []string
	highDemand      bool
	ticketsAttached bool
	createdAt       time.Time
	updatedAt       time.Time
}

// ScheduleEventParams describes a new event
type ScheduleEventParams struct {
	Name      string
	Category  EventCategory
	EventDate time.Time
	Duration  time.Duration
	Venue     string
	Teams     []string
}

// ScheduleSportsEvent creates an event and records SportEventScheduled
func ScheduleSportsEvent(p ScheduleEventParams, now time.Time) (*SportsEvent, error) {
	if p.Category == "" {
		p.Category = CategoryOther
	}
	if p.Duration == 0 {
		p.Duration = DefaultEventDuration
	}

	e := &SportsEvent{
		id:        NewEventID(),
		name:      strings.TrimSpace(p.Name),
		category:  p.Category,
		eventDate: p.EventDate.UTC(),
		duration:  p.Duration,
		venue:     strings.TrimSpace(p.Venue),
		teams:     append([]string(nil), p.Teams...),
		createdAt: now,
		updatedAt: now,
	}
	if err := e.validate(); err != nil {
		return nil, err
	}

	e.record(string(e.id), AggregateSportsEvent, SportEventScheduled{
		EventID:   e.id,
		Name:      e.name,
		Category:  e.category,
		EventDate: e.eventDate,
		Duration:  e.duration,
		Venue:     e.venue,
		Teams:     e.Teams(),
	}, now)
	return e, nil
}

// SportsEventState is the persisted form of a SportsEvent
type SportsEventState struct {
	ID              EventID       `json:"id"`
	Name            string        `json:"name"`
	Category        EventCategory `json:"category"`
	EventDate       time.Time     `json:"event_date"`
	Duration        time.Duration `json:"duration"`
	Venue           string        `json:"venue"`
	Teams           []string      `json:"teams,omitempty"`
	IsHighDemand    bool          `json:"is_high_demand"`
	TicketsAttached bool          `json:"tickets_attached"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Version         int           `json:"version"`
}

// RestoreSportsEvent rebuilds an event from storage without recording events
func RestoreSportsEvent(s SportsEventState) (*SportsEvent, error) {
	e := &SportsEvent{
		aggregateRoot:   aggregateRoot{version: s.Version},
		id:              s.ID,
		name:            s.Name,
		category:        s.Category,
		eventDate:       s.EventDate.UTC(),
		duration:        s.Duration,
		venue:           s.Venue,
		teams:           append([]string(nil), s.Teams...),
		highDemand:      s.IsHighDemand,
		ticketsAttached: s.TicketsAttached,
		createdAt:       s.CreatedAt,
		updatedAt:       s.UpdatedAt,
	}
	if e.id == "" {
		return nil, NewValidationError("id", "must not be empty")
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// State snapshots the event, including pending changes
func (e *SportsEvent) State() SportsEventState {
	return SportsEventState{
		ID:              e.id,
		Name:            e.name,
		Category:        e.category,
		EventDate:       e.eventDate,
		Duration:        e.duration,
		Venue:           e.venue,
		Teams:           e.Teams(),
		IsHighDemand:    e.highDemand,
		TicketsAttached: e.ticketsAttached,
		CreatedAt:       e.createdAt,
		UpdatedAt:       e.updatedAt,
		Version:         e.Version(),
	}
}

func (e *SportsEvent) validate() error {
	if e.name == "" {
		return NewValidationError("name", "must not be empty")
	}
	if e.venue == "" {
		return NewValidationError("venue", "must not be empty")
	}
	if e.eventDate.IsZero() {
		return NewValidationError("event_date", "is required")
	}
	if !e.category.IsValid() {
		return NewValidationError("category", "unknown category %q", e.category)
	}
	if e.duration <= 0 {
		return NewValidationError("duration", "must be positive")
	}
	return nil
}

func (e *SportsEvent) ID() EventID              { return e.id }
func (e *SportsEvent) Name() string             { return e.name }
func (e *SportsEvent) Category() EventCategory  { return e.category }
func (e *SportsEvent) EventDate() time.Time     { return e.eventDate }
func (e *SportsEvent) Duration() time.Duration  { return e.duration }
func (e *SportsEvent) Venue() string            { return e.venue }
func (e *SportsEvent) IsHighDemand() bool       { return e.highDemand }
func (e *SportsEvent) HasTicketsAttached() bool { return e.ticketsAttached }
func (e *SportsEvent) Teams() []string          { return append([]string(nil), e.teams...) }
func (e *SportsEvent) EndsAt() time.Time        { return e.eventDate.Add(e.duration) }

// IsUpcoming reports whether the event has not started yet
func (e *SportsEvent) IsUpcoming(now time.Time) bool {
	return e.eventDate.After(now)
}

// AttachTickets freezes the event date. Returns true the first time.
func (e *SportsEvent) AttachTickets(now time.Time) bool {
	if e.ticketsAttached {
		return false
	}
	e.ticketsAttached = true
	e.updatedAt = now
	return true
}

// Reschedule moves the event; only allowed while no tickets are attached
func (e *SportsEvent) Reschedule(newDate time.Time, now time.Time) error {
	if newDate.IsZero() {
		return NewValidationError("event_date", "is required")
	}
	newDate = newDate.UTC()
	if newDate.Equal(e.eventDate) {
		return nil
	}
	if e.ticketsAttached {
		return ErrEventDateLocked
	}

	e.record(string(e.id), AggregateSportsEvent, SportEventRescheduled{
		EventID: e.id,
		OldDate: e.eventDate,
		NewDate: newDate,
	}, now)
	e.eventDate = newDate
	e.updatedAt = now
	return nil
}

// MarkAsHighDemand flags the event and records SportEventMarkedAsHighDemand.
// Returns false when the event was already flagged.
func (e *SportsEvent) MarkAsHighDemand(ratio float64, ticketCount int, now time.Time) bool {
	if e.highDemand {
		return false
	}
	e.record(string(e.id), AggregateSportsEvent, SportEventMarkedAsHighDemand{
		EventID:       e.id,
		ScarcityRatio: ratio,
		TicketCount:   ticketCount,
	}, now)
	e.highDemand = true
	e.updatedAt = now
	return true
}

// UnmarkAsHighDemand clears the flag and records SportEventUnmarkedAsHighDemand.
// Returns false when the event was not flagged.
func (e *SportsEvent) UnmarkAsHighDemand(ratio float64, ticketCount int, now time.Time) bool {
	if !e.highDemand {
		return false
	}
	e.record(string(e.id), AggregateSportsEvent, SportEventUnmarkedAsHighDemand{
		EventID:       e.id,
		ScarcityRatio: ratio,
		TicketCount:   ticketCount,
	}, now)
	e.highDemand = false
	e.updatedAt = now
	return true
}

// OverlapsWith reports whether both events occupy the same venue at the same time
func (e *SportsEvent) OverlapsWith(other *SportsEvent) bool {
	if normalizeVenue(e.venue) != normalizeVenue(other.venue) {
		return false
	}
	return e.eventDate.Before(other.EndsAt()) && other.eventDate.Before(e.EndsAt())
}

func normalizeVenue(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}
