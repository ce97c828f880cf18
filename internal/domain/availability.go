package domain

import "strings"

// AvailabilityStatus is the sale state of a listing
type AvailabilityStatus string

const (
	AvailabilityAvailable  AvailabilityStatus = "available"
	AvailabilityLimited    AvailabilityStatus = "limited"
	AvailabilitySoldOut    AvailabilityStatus = "sold_out"
	AvailabilityOnSaleSoon AvailabilityStatus = "on_sale_soon"
	AvailabilityUnknown    AvailabilityStatus = "unknown"
)

// ParseAvailability accepts platform spellings such as "Sold Out" or "on-sale-soon"
func ParseAvailability(s string) (AvailabilityStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)

	status := AvailabilityStatus(normalized)
	if !status.IsValid() {
		return "", NewValidationError("availability", "unknown status %q", s)
	}
	return status, nil
}

// IsValid checks if the status is one of the known variants
func (s AvailabilityStatus) IsValid() bool {
	switch s {
	case AvailabilityAvailable, AvailabilityLimited, AvailabilitySoldOut,
		AvailabilityOnSaleSoon, AvailabilityUnknown:
		return true
	}
	return false
}

func (s AvailabilityStatus) String() string {
	return string(s)
}

// IsPurchasable reports whether tickets can be bought right now
func (s AvailabilityStatus) IsPurchasable() bool {
	return s == AvailabilityAvailable || s == AvailabilityLimited
}

// IsScarce counts towards an event's scarcity ratio
func (s AvailabilityStatus) IsScarce() bool {
	return s == AvailabilityLimited || s == AvailabilitySoldOut
}

// CanTransitionTo reports whether next may follow s. Sold out only clears
// on a fresh purchasable observation.
func (s AvailabilityStatus) CanTransitionTo(next AvailabilityStatus) bool {
	if !next.IsValid() {
		return false
	}
	if s == AvailabilitySoldOut {
		return next == AvailabilitySoldOut || next.IsPurchasable()
	}
	return true
}
