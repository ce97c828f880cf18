package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*HTTPAdapter, Request) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	fetcher := NewFetcher(FetcherConfig{UserAgents: []string{"agent-a", "agent-b"}}, clock.NewFixed(t0))
	adapter := NewHTTPAdapter(domain.PlatformSeatGeek, fetcher)

	cfg := DefaultPlatformConfig(domain.PlatformSeatGeek)
	cfg.SearchURL = srv.URL + "/search?event={event_id}&q={keywords}"
	cfg.Timeout = 2 * time.Second
	return adapter, Request{
		Platform: domain.PlatformSeatGeek,
		EventID:  "evt 1",
		Criteria: domain.SearchCriteria{Keywords: "cup final"},
		Config:   cfg,
	}
}

func TestHTTPAdapter_Scrape(t *testing.T) {
	var (
		mu     sync.Mutex
		agents = map[string]bool{}
		query  string
	)
	adapter, req := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents[r.UserAgent()] = true
		query = r.URL.RawQuery
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"listings":[
			{"section":"101","row":"B","price":"85.00","currency":"USD","availability":"available","url":"https://seatgeek.com/l/1"},
			{"section":"102","price":"60","currency":"USD","availability":"limited","url":"https://seatgeek.com/l/2","description":"Blocked view"}
		]}`))
	})

	for i := 0; i < 20; i++ {
		snaps, err := adapter.Scrape(context.Background(), req)
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, "101", snaps[0].Section)
		assert.Equal(t, "Blocked view", snaps[1].Description)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "event=evt+1&q=cup+final", query)
	for ua := range agents {
		assert.Contains(t, []string{"agent-a", "agent-b"}, ua)
	}
}

func TestHTTPAdapter_RateLimited(t *testing.T) {
	adapter, req := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "45")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := adapter.Scrape(context.Background(), req)
	require.Error(t, err)
	se := domain.AsScrapeError(domain.PlatformSeatGeek, err)
	assert.Equal(t, domain.FailureSoft, se.Kind)
	assert.True(t, se.Blocked)
	assert.Equal(t, 45*time.Second, se.RetryAfter)
}

func TestHTTPAdapter_CaptchaPage(t *testing.T) {
	adapter, req := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>Please complete the security check</body></html>"))
	})

	_, err := adapter.Scrape(context.Background(), req)
	se := domain.AsScrapeError(domain.PlatformSeatGeek, err)
	assert.Equal(t, domain.FailureSoft, se.Kind)
}

func TestHTTPAdapter_MalformedFeedIsHard(t *testing.T) {
	adapter, req := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"listings": "nope"}`))
	})

	_, err := adapter.Scrape(context.Background(), req)
	se := domain.AsScrapeError(domain.PlatformSeatGeek, err)
	assert.Equal(t, domain.FailureHard, se.Kind)
}

func TestHTTPAdapter_TimeoutIsSoft(t *testing.T) {
	release := make(chan struct{})
	adapter, req := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	req.Config.Timeout = 50 * time.Millisecond

	_, err := adapter.Scrape(context.Background(), req)
	se := domain.AsScrapeError(domain.PlatformSeatGeek, err)
	assert.Equal(t, domain.FailureSoft, se.Kind)
}

func TestHTTPAdapter_NoSearchURL(t *testing.T) {
	adapter, req := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	req.Config.SearchURL = ""

	_, err := adapter.Scrape(context.Background(), req)
	se := domain.AsScrapeError(domain.PlatformSeatGeek, err)
	assert.Equal(t, domain.FailureHard, se.Kind)
}

func TestSearchURL(t *testing.T) {
	got := SearchURL("https://x.test/s?e={event_id}&max={max_price}&loc={location}", Request{
		EventID: "evt-1",
		Criteria: domain.SearchCriteria{
			Location: "London, UK",
			MaxPrice: decimal.NewNullDecimal(decimal.RequireFromString("150.5")),
		},
	})
	assert.Equal(t, "https://x.test/s?e=evt-1&max=150.5&loc=London%2C+UK", got)
}
