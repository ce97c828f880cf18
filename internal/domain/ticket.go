package domain

import (
	"strings"
	"time"
)

const maxDescriptionLength = 1000

// SeatLocation is the optional placement of a listing inside the venue
type SeatLocation struct {
	Section string `json:"section,omitempty"`
	Row     string `json:"row,omitempty"`
	Seat    string `json:"seat,omitempty"`
}

func (l SeatLocation) normalize() SeatLocation {
	return SeatLocation{
		Section: strings.TrimSpace(l.Section),
		Row:     strings.TrimSpace(l.Row),
		Seat:    strings.TrimSpace(l.Seat),
	}
}

func (l SeatLocation) validate() error {
	if l.Row != "" && l.Section == "" {
		return NewValidationError("row", "requires a section")
	}
	if l.Seat != "" && l.Row == "" {
		return NewValidationError("seat", "requires a row")
	}
	return nil
}

// MonitoredTicket is one listing for one event on one platform
type MonitoredTicket struct {
	aggregateRoot

	id              TicketID
	eventID         EventID
	location        SeatLocation
	price           Price
	availability    AvailabilityStatus
	source          PlatformSource
	description     string
	lastMonitoredAt time.Time
	createdAt       time.Time
	updatedAt       time.Time
}

// DiscoverTicketParams describes a listing seen for the first time
type DiscoverTicketParams struct {
	EventID      EventID
	Location     SeatLocation
	Price        Price
	Availability AvailabilityStatus
	Source       PlatformSource
	Description  string
}

// DiscoverTicket creates a ticket from its first successful scrape and records TicketDiscovered
func DiscoverTicket(p DiscoverTicketParams, now time.Time) (*MonitoredTicket, error) {
	t := &MonitoredTicket{
		id:              NewTicketID(),
		eventID:         p.EventID,
		location:        p.Location.normalize(),
		price:           p.Price,
		availability:    p.Availability,
		source:          p.Source,
		description:     strings.TrimSpace(p.Description),
		lastMonitoredAt: now,
		createdAt:       now,
		updatedAt:       now,
	}
	if err := t.validate(); err != nil {
		return nil, err
	}

	t.record(string(t.id), AggregateMonitoredTicket, TicketDiscovered{
		TicketID:     t.id,
		EventID:      t.eventID,
		Source:       t.source,
		Section:      t.location.Section,
		Row:          t.location.Row,
		Seat:         t.location.Seat,
		Price:        t.price,
		Availability: t.availability,
	}, now)
	return t, nil
}

// TicketState is the persisted form of a MonitoredTicket
type TicketState struct {
	ID              TicketID           `json:"id"`
	EventID         EventID            `json:"event_id"`
	Location        SeatLocation       `json:"location"`
	Price           Price              `json:"price"`
	Availability    AvailabilityStatus `json:"availability"`
	Source          PlatformSource     `json:"source"`
	Description     string             `json:"description,omitempty"`
	IsOfficial      bool               `json:"is_official"`
	LastMonitoredAt time.Time          `json:"last_monitored_at"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	Version         int                `json:"version"`
}

// RestoreTicket rebuilds a ticket from storage without recording events
func RestoreTicket(s TicketState) (*MonitoredTicket, error) {
	t := &MonitoredTicket{
		aggregateRoot:   aggregateRoot{version: s.Version},
		id:              s.ID,
		eventID:         s.EventID,
		location:        s.Location.normalize(),
		price:           s.Price,
		availability:    s.Availability,
		source:          s.Source,
		description:     s.Description,
		lastMonitoredAt: s.LastMonitoredAt,
		createdAt:       s.CreatedAt,
		updatedAt:       s.UpdatedAt,
	}
	if t.id == "" {
		return nil, NewValidationError("id", "must not be empty")
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// State snapshots the ticket, including pending changes
func (t *MonitoredTicket) State() TicketState {
	return TicketState{
		ID:              t.id,
		EventID:         t.eventID,
		Location:        t.location,
		Price:           t.price,
		Availability:    t.availability,
		Source:          t.source,
		Description:     t.description,
		IsOfficial:      t.IsFromOfficialSource(),
		LastMonitoredAt: t.lastMonitoredAt,
		CreatedAt:       t.createdAt,
		UpdatedAt:       t.updatedAt,
		Version:         t.Version(),
	}
}

func (t *MonitoredTicket) validate() error {
	if t.eventID == "" {
		return NewValidationError("event_id", "must not be empty")
	}
	if t.source.IsEmpty() {
		return NewValidationError("source", "is required")
	}
	if t.price.IsEmpty() {
		return NewValidationError("price", "is required")
	}
	if !t.availability.IsValid() {
		return NewValidationError("availability", "unknown status %q", t.availability)
	}
	if err := t.location.validate(); err != nil {
		return err
	}
	if t.availability.IsPurchasable() && t.price.IsZero() {
		return NewValidationError("price", "must be positive while %s", t.availability)
	}
	if len(t.description) > maxDescriptionLength {
		return NewValidationError("description", "must be at most %d characters", maxDescriptionLength)
	}
	return nil
}

func (t *MonitoredTicket) ID() TicketID                     { return t.id }
func (t *MonitoredTicket) EventID() EventID                 { return t.eventID }
func (t *MonitoredTicket) Location() SeatLocation           { return t.location }
func (t *MonitoredTicket) Price() Price                     { return t.price }
func (t *MonitoredTicket) Availability() AvailabilityStatus { return t.availability }
func (t *MonitoredTicket) Source() PlatformSource           { return t.source }
func (t *MonitoredTicket) Description() string              { return t.description }
func (t *MonitoredTicket) LastMonitoredAt() time.Time       { return t.lastMonitoredAt }
func (t *MonitoredTicket) CreatedAt() time.Time             { return t.createdAt }
func (t *MonitoredTicket) UpdatedAt() time.Time             { return t.updatedAt }

// NaturalKey identifies the same listing across scrapes
func (t *MonitoredTicket) NaturalKey() string {
	return NaturalTicketKey(t.eventID, t.source, t.location)
}

// NaturalTicketKey builds the key used to match a snapshot to an existing
// ticket. A location down to the seat identifies the ticket by itself;
// without a seat the listing URL tells apart listings sharing a section,
// row or nothing at all.
func NaturalTicketKey(eventID EventID, source PlatformSource, loc SeatLocation) string {
	loc = loc.normalize()
	key := strings.ToLower(strings.Join([]string{
		string(eventID), string(source.Platform()), loc.Section, loc.Row, loc.Seat,
	}, "|"))
	if loc.Seat == "" {
		key += "|" + source.listingRef()
	}
	return key
}

// UpdatePrice records TicketPriceChanged unless newPrice equals the current price
func (t *MonitoredTicket) UpdatePrice(newPrice Price, now time.Time) error {
	return t.updatePrice(newPrice, t.availability, now)
}

// updatePrice stamps the change with the availability the ticket ends up in
func (t *MonitoredTicket) updatePrice(newPrice Price, availability AvailabilityStatus, now time.Time) error {
	if newPrice.IsEmpty() {
		return NewValidationError("price", "is required")
	}
	if newPrice.Currency() != t.price.Currency() {
		return &ValidationError{
			Field:   "price.currency",
			Message: "cannot change from " + t.price.Currency() + " to " + newPrice.Currency(),
			Err:     ErrCurrencyMismatch,
		}
	}
	if newPrice.Equals(t.price) {
		return nil
	}
	if t.availability.IsPurchasable() && newPrice.IsZero() {
		return NewValidationError("price", "must be positive while %s", t.availability)
	}

	delta, _ := t.price.Delta(newPrice)
	pct, _ := t.price.PercentageChange(newPrice)
	t.record(string(t.id), AggregateMonitoredTicket, TicketPriceChanged{
		TicketID:         t.id,
		EventID:          t.eventID,
		Platform:         t.source.Platform(),
		OldPrice:         t.price,
		NewPrice:         newPrice,
		Delta:            delta,
		PercentageChange: pct,
		IsIncrease:       delta.IsPositive(),
		Availability:     availability,
	}, now)

	t.price = newPrice
	t.updatedAt = now
	return nil
}

// UpdateAvailability records TicketAvailabilityChanged and, when the new
// status is sold_out, TicketSoldOut right after it
func (t *MonitoredTicket) UpdateAvailability(status AvailabilityStatus, now time.Time) error {
	if err := t.checkAvailability(status, t.price); err != nil {
		return err
	}
	if status == t.availability {
		return nil
	}

	old := t.availability
	t.record(string(t.id), AggregateMonitoredTicket, TicketAvailabilityChanged{
		TicketID:  t.id,
		EventID:   t.eventID,
		Platform:  t.source.Platform(),
		OldStatus: old,
		NewStatus: status,
	}, now)
	if status == AvailabilitySoldOut {
		t.record(string(t.id), AggregateMonitoredTicket, TicketSoldOut{
			TicketID:       t.id,
			EventID:        t.eventID,
			Platform:       t.source.Platform(),
			LastPrice:      t.price,
			PreviousStatus: old,
		}, now)
	}

	t.availability = status
	t.updatedAt = now
	return nil
}

func (t *MonitoredTicket) checkAvailability(status AvailabilityStatus, price Price) error {
	if !status.IsValid() {
		return NewValidationError("availability", "unknown status %q", status)
	}
	if !t.availability.CanTransitionTo(status) {
		return &ValidationError{
			Field:   "availability",
			Message: "cannot change from " + string(t.availability) + " to " + string(status),
			Err:     ErrInvalidAvailabilityTransition,
		}
	}
	if status.IsPurchasable() && price.IsZero() {
		return NewValidationError("price", "must be positive while %s", status)
	}
	return nil
}

// UpdateMonitoringTimestamp marks the ticket as freshly observed; no event is recorded
func (t *MonitoredTicket) UpdateMonitoringTimestamp(now time.Time) {
	t.lastMonitoredAt = now
}

// ApplyObservation applies a scraped price and status in one step. The
// combined target state is validated first so a rejected observation leaves
// the ticket untouched. It returns the number of events recorded.
func (t *MonitoredTicket) ApplyObservation(price Price, status AvailabilityStatus, now time.Time) (int, error) {
	if price.IsEmpty() {
		return 0, NewValidationError("price", "is required")
	}
	if price.Currency() != t.price.Currency() {
		return 0, &ValidationError{
			Field:   "price.currency",
			Message: "cannot change from " + t.price.Currency() + " to " + price.Currency(),
			Err:     ErrCurrencyMismatch,
		}
	}
	if err := t.checkAvailability(status, price); err != nil {
		return 0, err
	}

	before := len(t.pending)
	// Purchasable targets need the new price in place first; others need the
	// status change first so a zero price is accepted.
	steps := []func() error{
		func() error { return t.UpdateAvailability(status, now) },
		func() error { return t.updatePrice(price, status, now) },
	}
	if status.IsPurchasable() {
		steps[0], steps[1] = steps[1], steps[0]
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return len(t.pending) - before, err
		}
	}
	t.UpdateMonitoringTimestamp(now)
	return len(t.pending) - before, nil
}

// IsAvailable reports whether the listing can currently be purchased
func (t *MonitoredTicket) IsAvailable() bool {
	return t.availability.IsPurchasable()
}

// IsFromOfficialSource reports whether the listing is on a primary seller
func (t *MonitoredTicket) IsFromOfficialSource() bool {
	return t.source.IsOfficial()
}

// IsStale reports whether the ticket has not been observed within window
func (t *MonitoredTicket) IsStale(window time.Duration, now time.Time) bool {
	return now.Sub(t.lastMonitoredAt) > window
}
