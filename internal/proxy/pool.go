package proxy

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// ErrNoProxyAvailable is matched by *ExhaustedError
var ErrNoProxyAvailable = errors.New("no proxy available")

// ExhaustedError reports that every proxy of a platform is quarantined
type ExhaustedError struct {
	Platform domain.Platform
	// RetryIn is the time until the first quarantine ends, zero for an empty pool
	RetryIn time.Duration
}

func (e *ExhaustedError) Error() string {
	if e.RetryIn == 0 {
		return fmt.Sprintf("no proxies configured for %s", e.Platform)
	}
	return fmt.Sprintf("all %s proxies quarantined, next release in %s", e.Platform, e.RetryIn)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrNoProxyAvailable }

const (
	DefaultCooldown   = 10 * time.Minute
	DefaultBlockLimit = 2
)

// Config configures quarantine behaviour
type Config struct {
	// Cooldown is how long a quarantined proxy is excluded from selection
	Cooldown time.Duration
	// BlockLimit is the number of consecutive blocked responses that quarantines a proxy
	BlockLimit int
}

type proxyState struct {
	url               string
	lastUsed          uint64
	consecutiveBlocks int
	quarantinedUntil  time.Time
}

// Status is a snapshot of one proxy for dashboards
type Status struct {
	URL               string     `json:"url"`
	ConsecutiveBlocks int        `json:"consecutive_blocks"`
	QuarantinedUntil  *time.Time `json:"quarantined_until,omitempty"`
}

// Pool rotates proxies per platform, least recently used first. All state
// changes happen under one mutex so two workers never pick the same idle
// proxy off a stale read.
type Pool struct {
	cfg   Config
	clock clock.Clock

	mu      sync.Mutex
	seq     uint64
	proxies map[domain.Platform][]*proxyState
}

func NewPool(cfg Config, clk clock.Clock) *Pool {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.BlockLimit <= 0 {
		cfg.BlockLimit = DefaultBlockLimit
	}
	return &Pool{
		cfg:     cfg,
		clock:   clk,
		proxies: make(map[domain.Platform][]*proxyState),
	}
}

// SetProxies replaces the proxy list of a platform. Proxies that remain in
// the list keep their usage and quarantine state.
func (p *Pool) SetProxies(platform domain.Platform, urls []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing := make(map[string]*proxyState, len(p.proxies[platform]))
	for _, s := range p.proxies[platform] {
		existing[s.url] = s
	}

	next := make([]*proxyState, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		if s, ok := existing[u]; ok {
			next = append(next, s)
			continue
		}
		next = append(next, &proxyState{url: u})
	}
	p.proxies[platform] = next
}

// Acquire selects the least recently used proxy that is not quarantined and
// marks it used
func (p *Pool) Acquire(platform domain.Platform) (string, error) {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		best         *proxyState
		firstRelease time.Time
	)
	for _, s := range p.proxies[platform] {
		if now.Before(s.quarantinedUntil) {
			if firstRelease.IsZero() || s.quarantinedUntil.Before(firstRelease) {
				firstRelease = s.quarantinedUntil
			}
			continue
		}
		if best == nil || s.lastUsed < best.lastUsed {
			best = s
		}
	}

	if best == nil {
		err := &ExhaustedError{Platform: platform}
		if !firstRelease.IsZero() {
			err.RetryIn = firstRelease.Sub(now)
		}
		return "", err
	}

	p.seq++
	best.lastUsed = p.seq
	return best.url, nil
}

// Report records the outcome of a request made through a proxy. Blocked
// outcomes count towards quarantine; anything else resets the streak. It
// returns true when this report quarantined the proxy.
func (p *Pool) Report(platform domain.Platform, url string, blocked bool) bool {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.find(platform, url)
	if s == nil {
		return false
	}
	if !blocked {
		s.consecutiveBlocks = 0
		return false
	}

	s.consecutiveBlocks++
	if s.consecutiveBlocks < p.cfg.BlockLimit {
		return false
	}
	s.consecutiveBlocks = 0
	s.quarantinedUntil = now.Add(p.cfg.Cooldown)
	return true
}

// Statuses lists the proxies of a platform ordered by URL
func (p *Pool) Statuses(platform domain.Platform) []Status {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Status, 0, len(p.proxies[platform]))
	for _, s := range p.proxies[platform] {
		st := Status{URL: s.url, ConsecutiveBlocks: s.consecutiveBlocks}
		if now.Before(s.quarantinedUntil) {
			until := s.quarantinedUntil
			st.QuarantinedUntil = &until
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func (p *Pool) find(platform domain.Platform, url string) *proxyState {
	for _, s := range p.proxies[platform] {
		if s.url == url {
			return s
		}
	}
	return nil
}
