package domain

import (
	"sort"
	"time"
)

// EventSchedule owns the events inside a time window and guards the
// one-event-per-venue-at-a-time rule
type EventSchedule struct {
	windowStart time.Time
	windowEnd   time.Time
	events      []*SportsEvent
}

// NewEventSchedule creates an empty schedule for [start, end)
func NewEventSchedule(start, end time.Time) (*EventSchedule, error) {
	if !end.After(start) {
		return nil, NewValidationError("window", "end must be after start")
	}
	return &EventSchedule{windowStart: start.UTC(), windowEnd: end.UTC()}, nil
}

// LoadEventSchedule builds a schedule from already persisted events without re-checking conflicts
func LoadEventSchedule(start, end time.Time, events []*SportsEvent) (*EventSchedule, error) {
	s, err := NewEventSchedule(start, end)
	if err != nil {
		return nil, err
	}
	s.events = append(s.events, events...)
	return s, nil
}

func (s *EventSchedule) WindowStart() time.Time { return s.windowStart }
func (s *EventSchedule) WindowEnd() time.Time   { return s.windowEnd }

// AddEvent adds e, failing with *SchedulingConflictError when it overlaps
// another event at the same venue
func (s *EventSchedule) AddEvent(e *SportsEvent) error {
	if e == nil {
		return NewValidationError("event", "is required")
	}
	if e.EventDate().Before(s.windowStart) || !e.EventDate().Before(s.windowEnd) {
		return NewValidationError("event_date", "%s is outside the schedule window", e.EventDate().Format(time.RFC3339))
	}
	for _, existing := range s.events {
		if existing.ID() == e.ID() {
			return NewValidationError("event", "%s is already scheduled", e.ID())
		}
		if existing.OverlapsWith(e) {
			return &SchedulingConflictError{
				EventID:            e.ID(),
				ConflictingEventID: existing.ID(),
				Venue:              e.Venue(),
			}
		}
	}
	s.events = append(s.events, e)
	return nil
}

// Events returns the scheduled events ordered by date
func (s *EventSchedule) Events() []*SportsEvent {
	out := append([]*SportsEvent(nil), s.events...)
	sort.Slice(out, func(i, j int) bool { return out[i].EventDate().Before(out[j].EventDate()) })
	return out
}

// EventsAtVenue returns the events held at venue
func (s *EventSchedule) EventsAtVenue(venue string) []*SportsEvent {
	var out []*SportsEvent
	for _, e := range s.Events() {
		if normalizeVenue(e.Venue()) == normalizeVenue(venue) {
			out = append(out, e)
		}
	}
	return out
}

// HighDemandEvents returns the flagged events in the window
func (s *EventSchedule) HighDemandEvents() []*SportsEvent {
	var out []*SportsEvent
	for _, e := range s.Events() {
		if e.IsHighDemand() {
			out = append(out, e)
		}
	}
	return out
}
