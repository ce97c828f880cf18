package domain

import (
	"encoding/json"
	"net/url"
	"strings"
)

// PlatformCatalogVersion versions the closed set of supported platforms
const PlatformCatalogVersion = "2025.1"

// Platform is a ticket sales platform
type Platform string

const (
	PlatformTicketmaster Platform = "ticketmaster"
	PlatformAXS          Platform = "axs"
	PlatformLiveNation   Platform = "livenation"
	PlatformSeeTickets   Platform = "seetickets"
	PlatformTicketek     Platform = "ticketek"
	PlatformStubHub      Platform = "stubhub"
	PlatformViagogo      Platform = "viagogo"
	PlatformSeatGeek     Platform = "seatgeek"
	PlatformTickPick     Platform = "tickpick"
	PlatformFunZone      Platform = "funzone"
)

// platformCatalog maps each known platform to whether it is an official primary seller
var platformCatalog = map[Platform]bool{
	PlatformTicketmaster: true,
	PlatformAXS:          true,
	PlatformLiveNation:   true,
	PlatformSeeTickets:   true,
	PlatformTicketek:     true,
	PlatformStubHub:      false,
	PlatformViagogo:      false,
	PlatformSeatGeek:     false,
	PlatformTickPick:     false,
	PlatformFunZone:      false,
}

// Platforms returns the catalogue in a stable order
func Platforms() []Platform {
	return []Platform{
		PlatformTicketmaster, PlatformAXS, PlatformLiveNation, PlatformSeeTickets, PlatformTicketek,
		PlatformStubHub, PlatformViagogo, PlatformSeatGeek, PlatformTickPick, PlatformFunZone,
	}
}

// ParsePlatform rejects platforms outside the catalogue
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := platformCatalog[p]; !ok {
		return "", NewValidationError("platform", "unknown platform %q (catalog %s)", s, PlatformCatalogVersion)
	}
	return p, nil
}

func (p Platform) IsValid() bool {
	_, ok := platformCatalog[p]
	return ok
}

func (p Platform) IsOfficial() bool {
	return platformCatalog[p]
}

func (p Platform) String() string {
	return string(p)
}

// PlatformSource is where a listing was observed
type PlatformSource struct {
	platform Platform
	url      string
}

// NewPlatformSource validates the platform and listing URL
func NewPlatformSource(platform Platform, rawURL string) (PlatformSource, error) {
	if !platform.IsValid() {
		return PlatformSource{}, NewValidationError("source.platform", "unknown platform %q (catalog %s)", platform, PlatformCatalogVersion)
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return PlatformSource{}, NewValidationError("source.url", "must be an absolute http(s) URL, got %q", rawURL)
	}
	return PlatformSource{platform: platform, url: u.String()}, nil
}

func (s PlatformSource) Platform() Platform { return s.platform }
func (s PlatformSource) URL() string        { return s.url }
func (s PlatformSource) IsOfficial() bool   { return s.platform.IsOfficial() }
func (s PlatformSource) IsEmpty() bool      { return s.platform == "" }

// listingRef is the URL without scheme and fragment, host lower-cased
func (s PlatformSource) listingRef() string {
	u, err := url.Parse(s.url)
	if err != nil {
		return s.url
	}
	ref := strings.ToLower(u.Host) + strings.TrimSuffix(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		ref += "?" + u.RawQuery
	}
	return ref
}

type platformSourceJSON struct {
	Platform   Platform `json:"platform"`
	URL        string   `json:"url"`
	IsOfficial bool     `json:"is_official"`
}

func (s PlatformSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(platformSourceJSON{Platform: s.platform, URL: s.url, IsOfficial: s.IsOfficial()})
}

func (s *PlatformSource) UnmarshalJSON(data []byte) error {
	var raw platformSourceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewPlatformSource(raw.Platform, raw.URL)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
