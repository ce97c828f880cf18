package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

const (
	defaultMaxBodyBytes = 4 << 20
	defaultTimeout      = 30 * time.Second
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// FetcherConfig configures the HTTP fetcher
type FetcherConfig struct {
	UserAgents   []string
	MaxBodyBytes int64
	// Transport is cloned per proxy; nil uses http.DefaultTransport
	Transport *http.Transport
}

// Fetcher performs GET requests with rotating User-Agents and optional
// per-request proxies, and classifies the outcome
type Fetcher struct {
	userAgents   []string
	maxBodyBytes int64
	base         *http.Transport
	clock        clock.Clock

	mu      sync.Mutex
	rng     *rand.Rand
	clients map[string]*http.Client
}

func NewFetcher(cfg FetcherConfig, clk clock.Clock) *Fetcher {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = []string{defaultUserAgent}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport.(*http.Transport)
	}
	return &Fetcher{
		userAgents:   cfg.UserAgents,
		maxBodyBytes: cfg.MaxBodyBytes,
		base:         cfg.Transport,
		clock:        clk,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		clients:      make(map[string]*http.Client),
	}
}

// Get fetches rawURL. A non-nil error is always a *domain.ScrapeError.
func (f *Fetcher) Get(ctx context.Context, platform domain.Platform, rawURL, proxyURL string, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := f.client(proxyURL)
	if err != nil {
		return nil, domain.HardFailure(platform, "invalid proxy", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, domain.HardFailure(platform, "invalid request", err)
	}
	req.Header.Set("User-Agent", f.userAgent())
	req.Header.Set("Accept", "application/json,text/html;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "max-age=0")

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, Classify(platform, nil, err, f.clock.Now())
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, Classify(platform, nil, err, f.clock.Now())
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}
	if se := Classify(platform, resp, nil, f.clock.Now()); se != nil {
		return resp, se
	}
	return resp, nil
}

func (f *Fetcher) userAgent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userAgents[f.rng.Intn(len(f.userAgents))]
}

// client returns one http.Client per proxy so connections are pooled per exit
func (f *Fetcher) client(proxyURL string) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[proxyURL]; ok {
		return c, nil
	}

	transport := f.base.Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("parse proxy %q: %v", proxyURL, err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	c := &http.Client{Transport: transport}
	f.clients[proxyURL] = c
	return c, nil
}

// HTTPAdapter scrapes platforms that expose a JSON listing feed at the
// configured search URL. The URL may reference {event_id}, {keywords},
// {location} and {max_price}.
type HTTPAdapter struct {
	platform domain.Platform
	fetcher  *Fetcher
}

func NewHTTPAdapter(platform domain.Platform, fetcher *Fetcher) *HTTPAdapter {
	return &HTTPAdapter{platform: platform, fetcher: fetcher}
}

func (a *HTTPAdapter) Platform() domain.Platform {
	return a.platform
}

type listingFeed struct {
	Listings []Snapshot `json:"listings"`
}

func (a *HTTPAdapter) Scrape(ctx context.Context, req Request) ([]Snapshot, error) {
	if req.Config.SearchURL == "" {
		return nil, domain.HardFailure(a.platform, "no search url configured", nil)
	}

	resp, err := a.fetcher.Get(ctx, a.platform, SearchURL(req.Config.SearchURL, req), req.ProxyURL, req.Config.Timeout)
	if err != nil {
		return nil, err
	}

	var feed listingFeed
	if err := json.Unmarshal(resp.Body, &feed); err != nil {
		return nil, domain.HardFailure(a.platform, "malformed listing feed", err)
	}
	return feed.Listings, nil
}

// SearchURL expands the placeholders of a search URL template
func SearchURL(template string, req Request) string {
	maxPrice := ""
	if req.Criteria.MaxPrice.Valid {
		maxPrice = req.Criteria.MaxPrice.Decimal.String()
	}
	return strings.NewReplacer(
		"{event_id}", url.QueryEscape(string(req.EventID)),
		"{keywords}", url.QueryEscape(req.Criteria.Keywords),
		"{location}", url.QueryEscape(req.Criteria.Location),
		"{max_price}", url.QueryEscape(maxPrice),
	).Replace(template)
}
