package scraper

import (
	"context"
	"strings"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// Adapter fetches raw ticket listings from one platform. Implementations
// classify failures with Classify so the queue can tell soft from hard.
type Adapter interface {
	Platform() domain.Platform
	Scrape(ctx context.Context, req Request) ([]Snapshot, error)
}

// Request is one scrape of one (platform, event) pair
type Request struct {
	JobID    domain.JobID
	Platform domain.Platform
	EventID  domain.EventID
	Criteria domain.SearchCriteria
	// ProxyURL is empty when proxy rotation is disabled for the platform
	ProxyURL string
	Config   PlatformConfig
}

// Snapshot is a raw listing exactly as the platform reported it
type Snapshot struct {
	Section      string `json:"section"`
	Row          string `json:"row"`
	Seat         string `json:"seat"`
	Price        string `json:"price"`
	Currency     string `json:"currency"`
	Availability string `json:"availability"`
	URL          string `json:"url"`
	Description  string `json:"description"`
}

// Observation is a validated Snapshot
type Observation struct {
	EventID      domain.EventID
	Location     domain.SeatLocation
	Price        domain.Price
	Availability domain.AvailabilityStatus
	Source       domain.PlatformSource
	Description  string
	ObservedAt   time.Time
}

// NaturalKey matches the observation to an existing MonitoredTicket
func (o Observation) NaturalKey() string {
	return domain.NaturalTicketKey(o.EventID, o.Source, o.Location)
}

// Parse validates a snapshot. Validation failures are hard scrape failures.
func (s Snapshot) Parse(platform domain.Platform, eventID domain.EventID, observedAt time.Time) (Observation, error) {
	amount, err := parseAmount(s.Price)
	if err != nil {
		return Observation{}, HardValidationFailure(platform, err)
	}
	price, err := domain.ParsePrice(amount, s.Currency)
	if err != nil {
		return Observation{}, HardValidationFailure(platform, err)
	}

	availability := domain.AvailabilityUnknown
	if strings.TrimSpace(s.Availability) != "" {
		availability, err = domain.ParseAvailability(s.Availability)
		if err != nil {
			return Observation{}, HardValidationFailure(platform, err)
		}
	}

	source, err := domain.NewPlatformSource(platform, s.URL)
	if err != nil {
		return Observation{}, HardValidationFailure(platform, err)
	}

	return Observation{
		EventID:      eventID,
		Location:     domain.SeatLocation{Section: s.Section, Row: s.Row, Seat: s.Seat},
		Price:        price,
		Availability: availability,
		Source:       source,
		Description:  strings.TrimSpace(s.Description),
		ObservedAt:   observedAt,
	}, nil
}

// groupSeparators may split the integer part of an amount into thousands
var groupSeparators = map[rune]bool{',': true, '.': true, ' ': true, '\u00a0': true, '\u202f': true, '\'': true}

// parseAmount turns a displayed amount such as "$1,250.50", "12,50 €" or
// "1.234,56" into a plain decimal string. When both '.' and ',' appear the
// last one is the decimal point. A lone ',' followed by exactly three
// digits groups thousands, any other lone separator is the decimal point.
// Anything that does not group cleanly is rejected rather than guessed.
func parseAmount(raw string) (string, error) {
	malformed := domain.NewValidationError("price.amount", "malformed amount %q", raw)

	s := strings.TrimLeftFunc(raw, func(r rune) bool {
		return !isDigit(r) && r != '-' && r != '.' && r != ','
	})
	s = strings.TrimRightFunc(s, func(r rune) bool { return !isDigit(r) })

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if s == "" {
		return "", malformed
	}

	intPart, frac := s, ""
	var point rune
	if i := decimalPoint(s); i >= 0 {
		point = rune(s[i])
		intPart, frac = s[:i], s[i+1:]
		if frac == "" || strings.IndexFunc(frac, func(r rune) bool { return !isDigit(r) }) >= 0 {
			return "", malformed
		}
	}

	digits, ok := ungroup(intPart, point)
	if !ok {
		return "", malformed
	}
	if frac != "" {
		return sign + digits + "." + frac, nil
	}
	return sign + digits, nil
}

// decimalPoint returns the index of the decimal point in s, or -1
func decimalPoint(s string) int {
	dot, comma := strings.LastIndexByte(s, '.'), strings.LastIndexByte(s, ',')
	switch {
	case dot >= 0 && comma >= 0:
		if dot > comma {
			return dot
		}
		return comma
	case dot >= 0:
		if strings.Count(s, ".") == 1 {
			return dot
		}
	case comma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-comma-1 != 3 {
			return comma
		}
	}
	return -1
}

// ungroup strips one kind of thousands separator, requiring groups of three
func ungroup(s string, point rune) (string, bool) {
	if s == "" {
		return "0", true
	}
	var sep rune
	for _, r := range s {
		if isDigit(r) {
			continue
		}
		if !groupSeparators[r] || r == point || (sep != 0 && r != sep) {
			return "", false
		}
		sep = r
	}
	if sep == 0 {
		return s, true
	}
	groups := strings.Split(s, string(sep))
	for i, g := range groups {
		if g == "" || len(g) > 3 || (i > 0 && len(g) != 3) {
			return "", false
		}
	}
	return strings.Join(groups, ""), true
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// HardValidationFailure wraps a snapshot validation error
func HardValidationFailure(platform domain.Platform, err error) *domain.ScrapeError {
	return domain.HardFailure(platform, "snapshot validation failed", err)
}
