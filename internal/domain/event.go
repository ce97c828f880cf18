package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType discriminates domain event payloads
type EventType string

const (
	EventTicketDiscovered               EventType = "ticket.discovered"
	EventTicketPriceChanged             EventType = "ticket.price_changed"
	EventTicketAvailabilityChanged      EventType = "ticket.availability_changed"
	EventTicketSoldOut                  EventType = "ticket.sold_out"
	EventSportEventScheduled            EventType = "sport_event.scheduled"
	EventSportEventRescheduled          EventType = "sport_event.rescheduled"
	EventSportEventMarkedAsHighDemand   EventType = "sport_event.marked_as_high_demand"
	EventSportEventUnmarkedAsHighDemand EventType = "sport_event.unmarked_as_high_demand"
	EventAlertTriggered                 EventType = "alert.triggered"
)

// AggregateType names the stream an event belongs to
type AggregateType string

const (
	AggregateMonitoredTicket AggregateType = "monitored_ticket"
	AggregateSportsEvent     AggregateType = "sports_event"
	AggregateAlertRule       AggregateType = "alert_rule"
)

// Metadata keys
const (
	MetaCorrelationID = "correlation_id"
	MetaCausationID   = "causation_id"
	MetaJobID         = "job_id"
	MetaPlatform      = "platform"
)

// DomainEvent is the immutable envelope appended to an aggregate's stream
type DomainEvent struct {
	EventID       string
	EventType     EventType
	AggregateID   string
	AggregateType AggregateType
	OccurredAt    time.Time
	Version       int
	Payload       Payload
	Metadata      map[string]string
}

// Payload is implemented by every concrete event body
type Payload interface {
	EventType() EventType
}

// NewDomainEvent builds an envelope for payload. Version is assigned by the aggregate.
func NewDomainEvent(aggregateID string, aggregateType AggregateType, version int, payload Payload, occurredAt time.Time) DomainEvent {
	return DomainEvent{
		EventID:       uuid.NewString(),
		EventType:     payload.EventType(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		OccurredAt:    occurredAt.UTC(),
		Version:       version,
		Payload:       payload,
		Metadata:      map[string]string{},
	}
}

type TicketDiscovered struct {
	TicketID     TicketID           `json:"ticket_id"`
	EventID      EventID            `json:"event_id"`
	Source       PlatformSource     `json:"source"`
	Section      string             `json:"section,omitempty"`
	Row          string             `json:"row,omitempty"`
	Seat         string             `json:"seat,omitempty"`
	Price        Price              `json:"price"`
	Availability AvailabilityStatus `json:"availability"`
}

type TicketPriceChanged struct {
	TicketID         TicketID        `json:"ticket_id"`
	EventID          EventID         `json:"event_id"`
	Platform         Platform        `json:"platform"`
	OldPrice         Price           `json:"old_price"`
	NewPrice         Price           `json:"new_price"`
	Delta            decimal.Decimal `json:"delta"`
	PercentageChange decimal.Decimal `json:"percentage_change"`
	IsIncrease       bool            `json:"is_increase"`
	// Availability is the listing's status once the observation carrying the new price is applied
	Availability AvailabilityStatus `json:"availability,omitempty"`
}

type TicketAvailabilityChanged struct {
	TicketID  TicketID           `json:"ticket_id"`
	EventID   EventID            `json:"event_id"`
	Platform  Platform           `json:"platform"`
	OldStatus AvailabilityStatus `json:"old_status"`
	NewStatus AvailabilityStatus `json:"new_status"`
}

type TicketSoldOut struct {
	TicketID       TicketID           `json:"ticket_id"`
	EventID        EventID            `json:"event_id"`
	Platform       Platform           `json:"platform"`
	LastPrice      Price              `json:"last_price"`
	PreviousStatus AvailabilityStatus `json:"previous_status"`
}

type SportEventScheduled struct {
	EventID   EventID       `json:"event_id"`
	Name      string        `json:"name"`
	Category  EventCategory `json:"category"`
	EventDate time.Time     `json:"event_date"`
	Duration  time.Duration `json:"duration"`
	Venue     string        `json:"venue"`
	Teams     []string      `json:"teams,omitempty"`
}

type SportEventRescheduled struct {
	EventID EventID   `json:"event_id"`
	OldDate time.Time `json:"old_date"`
	NewDate time.Time `json:"new_date"`
}

type SportEventMarkedAsHighDemand struct {
	EventID       EventID `json:"event_id"`
	ScarcityRatio float64 `json:"scarcity_ratio"`
	TicketCount   int     `json:"ticket_count"`
}

type SportEventUnmarkedAsHighDemand struct {
	EventID       EventID `json:"event_id"`
	ScarcityRatio float64 `json:"scarcity_ratio"`
	TicketCount   int     `json:"ticket_count"`
}

type AlertTriggered struct {
	RuleID            RuleID             `json:"rule_id"`
	UserID            string             `json:"user_id"`
	Kind              AlertKind          `json:"kind"`
	TicketID          TicketID           `json:"ticket_id"`
	EventID           EventID            `json:"event_id"`
	Platform          Platform           `json:"platform"`
	Price             Price              `json:"price"`
	Availability      AvailabilityStatus `json:"availability"`
	TriggeringEventID string             `json:"triggering_event_id"`
	HighDemand        bool               `json:"high_demand"`
}

func (TicketDiscovered) EventType() EventType               { return EventTicketDiscovered }
func (TicketPriceChanged) EventType() EventType             { return EventTicketPriceChanged }
func (TicketAvailabilityChanged) EventType() EventType      { return EventTicketAvailabilityChanged }
func (TicketSoldOut) EventType() EventType                  { return EventTicketSoldOut }
func (SportEventScheduled) EventType() EventType            { return EventSportEventScheduled }
func (SportEventRescheduled) EventType() EventType          { return EventSportEventRescheduled }
func (SportEventMarkedAsHighDemand) EventType() EventType   { return EventSportEventMarkedAsHighDemand }
func (SportEventUnmarkedAsHighDemand) EventType() EventType { return EventSportEventUnmarkedAsHighDemand }
func (AlertTriggered) EventType() EventType                 { return EventAlertTriggered }

// DecodePayload restores the typed payload for eventType
func DecodePayload(eventType EventType, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch eventType {
	case EventTicketDiscovered:
		p, err = decodeAs[TicketDiscovered](data)
	case EventTicketPriceChanged:
		p, err = decodeAs[TicketPriceChanged](data)
	case EventTicketAvailabilityChanged:
		p, err = decodeAs[TicketAvailabilityChanged](data)
	case EventTicketSoldOut:
		p, err = decodeAs[TicketSoldOut](data)
	case EventSportEventScheduled:
		p, err = decodeAs[SportEventScheduled](data)
	case EventSportEventRescheduled:
		p, err = decodeAs[SportEventRescheduled](data)
	case EventSportEventMarkedAsHighDemand:
		p, err = decodeAs[SportEventMarkedAsHighDemand](data)
	case EventSportEventUnmarkedAsHighDemand:
		p, err = decodeAs[SportEventUnmarkedAsHighDemand](data)
	case EventAlertTriggered:
		p, err = decodeAs[AlertTriggered](data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", eventType, err)
	}
	return p, nil
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type domainEventJSON struct {
	EventID       string            `json:"event_id"`
	EventType     EventType         `json:"event_type"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType AggregateType     `json:"aggregate_type"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Version       int               `json:"version"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (e DomainEvent) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(domainEventJSON{
		EventID:       e.EventID,
		EventType:     e.EventType,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		OccurredAt:    e.OccurredAt,
		Version:       e.Version,
		Payload:       payload,
		Metadata:      e.Metadata,
	})
}

func (e *DomainEvent) UnmarshalJSON(data []byte) error {
	var raw domainEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.EventType, raw.Payload)
	if err != nil {
		return err
	}
	*e = DomainEvent{
		EventID:       raw.EventID,
		EventType:     raw.EventType,
		AggregateID:   raw.AggregateID,
		AggregateType: raw.AggregateType,
		OccurredAt:    raw.OccurredAt,
		Version:       raw.Version,
		Payload:       payload,
		Metadata:      raw.Metadata,
	}
	return nil
}
