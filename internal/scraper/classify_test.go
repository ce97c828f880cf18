package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	longPage := "<html><body>" + strings.Repeat("<div>Row A seat 4 $120</div>", 40) + "</body></html>"

	tests := []struct {
		name        string
		resp        *Response
		err         error
		wantNil     bool
		wantKind    domain.FailureKind
		wantBlocked bool
	}{
		{name: "ok html", resp: &Response{StatusCode: 200, Body: []byte(longPage)}, wantNil: true},
		{name: "ok json mentioning challenge", resp: &Response{
			StatusCode: 200,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       []byte(`{"listings":[{"description":"Challenge Cup final"}]}`),
		}, wantNil: true},
		{name: "429", resp: &Response{StatusCode: 429}, wantKind: domain.FailureSoft, wantBlocked: true},
		{name: "403 captcha", resp: &Response{StatusCode: 403, Body: []byte("Please solve the CAPTCHA")}, wantKind: domain.FailureSoft, wantBlocked: true},
		{name: "403 plain", resp: &Response{StatusCode: 403, Body: []byte(longPage)}, wantKind: domain.FailureHard},
		{name: "503 cloudflare", resp: &Response{StatusCode: 503, Body: []byte("Checking your browser before accessing")}, wantKind: domain.FailureSoft, wantBlocked: true},
		{name: "503 plain", resp: &Response{StatusCode: 503, Body: []byte(longPage)}, wantKind: domain.FailureHard},
		{name: "500", resp: &Response{StatusCode: 500}, wantKind: domain.FailureHard},
		{name: "404", resp: &Response{StatusCode: 404}, wantKind: domain.FailureHard},
		{name: "200 challenge page", resp: &Response{StatusCode: 200, Body: []byte("Verify you are human")}, wantKind: domain.FailureSoft, wantBlocked: true},
		{name: "200 short script page", resp: &Response{StatusCode: 200, Body: []byte("<html><script>location='/x'</script></html>")}, wantKind: domain.FailureSoft, wantBlocked: true},
		{name: "deadline", err: fmt.Errorf("get: %w", context.DeadlineExceeded), wantKind: domain.FailureSoft},
		{name: "net timeout", err: timeoutError{}, wantKind: domain.FailureSoft},
		{name: "other error", err: fmt.Errorf("boom"), wantKind: domain.FailureHard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := Classify(domain.PlatformStubHub, tt.resp, tt.err, t0)
			if tt.wantNil {
				assert.Nil(t, se)
				return
			}
			require.NotNil(t, se)
			assert.Equal(t, tt.wantKind, se.Kind)
			assert.Equal(t, tt.wantBlocked, se.Blocked)
		})
	}
}

func TestClassify_RetryAfter(t *testing.T) {
	se := Classify(domain.PlatformStubHub, &Response{
		StatusCode: 429,
		Header:     http.Header{"Retry-After": []string{"120"}},
	}, nil, t0)
	require.NotNil(t, se)
	assert.Equal(t, 2*time.Minute, se.RetryAfter)
	assert.Equal(t, 429, se.StatusCode)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", t0))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(" 30 ", t0))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-5", t0))
	assert.Equal(t, 90*time.Second, ParseRetryAfter(t0.Add(90*time.Second).Format(http.TimeFormat), t0))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(t0.Add(-time.Minute).Format(http.TimeFormat), t0))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", t0))
}

func TestParseAmount(t *testing.T) {
	valid := []struct {
		raw  string
		want string
	}{
		{"$100", "100"},
		{"12,50", "12.50"},
		{"12,50 €", "12.50"},
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"$1,250.50", "1250.50"},
		{"1,234", "1234"},
		{"1,234,567", "1234567"},
		{"1.234.567,89", "1234567.89"},
		{"1 234,56", "1234.56"},
		{"1\u00a0234,56", "1234.56"},
		{"CHF 1'234.50", "1234.50"},
		{"0,5", "0.5"},
		{".75", "0.75"},
		{"99.9", "99.9"},
		{"-5", "-5"},
	}
	for _, tc := range valid {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := parseAmount(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, raw := range []string{"", "n/a", "free", "1,23,4", "12abc34", "1.234.56", "1,2345,678", "1.234 567,00", "10 - 20", "1,234.5.6"} {
		t.Run("reject "+raw, func(t *testing.T) {
			_, err := parseAmount(raw)
			assert.True(t, domain.IsValidationError(err))
		})
	}
}

func TestSnapshot_ParseCommaDecimalPrice(t *testing.T) {
	snap := Snapshot{Price: "12,50", Currency: "EUR", URL: "https://www.viagogo.com/listing/9"}
	obs, err := snap.Parse(domain.PlatformViagogo, "evt-1", t0)
	require.NoError(t, err)
	assert.True(t, obs.Price.Equals(domain.MustPrice("12.50", "EUR")))

	snap.Price = "1,23,4"
	_, err = snap.Parse(domain.PlatformViagogo, "evt-1", t0)
	se := domain.AsScrapeError(domain.PlatformViagogo, err)
	assert.Equal(t, domain.FailureHard, se.Kind)
}

func TestSnapshot_Parse(t *testing.T) {
	snap := Snapshot{
		Section:      " 112 ",
		Row:          "F",
		Price:        "$1,250.50",
		Currency:     "usd",
		Availability: "Sold Out",
		URL:          "https://www.stubhub.com/listing/1",
	}
	obs, err := snap.Parse(domain.PlatformStubHub, "evt-1", t0)
	require.NoError(t, err)
	assert.True(t, obs.Price.Equals(domain.MustPrice("1250.50", "USD")))
	assert.Equal(t, domain.AvailabilitySoldOut, obs.Availability)
	assert.Equal(t, "evt-1|stubhub|112|f||www.stubhub.com/listing/1", obs.NaturalKey())

	unknown := snap
	unknown.Availability = ""
	obs, err = unknown.Parse(domain.PlatformStubHub, "evt-1", t0)
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityUnknown, obs.Availability)

	for name, bad := range map[string]Snapshot{
		"price":        {Price: "n/a", Currency: "USD", URL: snap.URL},
		"currency":     {Price: "10", Currency: "dollars", URL: snap.URL},
		"availability": {Price: "10", Currency: "USD", Availability: "maybe", URL: snap.URL},
		"url":          {Price: "10", Currency: "USD", URL: "/relative"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := bad.Parse(domain.PlatformStubHub, "evt-1", t0)
			se := domain.AsScrapeError(domain.PlatformStubHub, err)
			assert.Equal(t, domain.FailureHard, se.Kind)
			assert.True(t, domain.IsValidationError(err))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewHTTPAdapter(domain.PlatformViagogo, nil), NewHTTPAdapter(domain.PlatformAXS, nil))

	a, err := r.Get(domain.PlatformViagogo)
	require.NoError(t, err)
	assert.Equal(t, domain.PlatformViagogo, a.Platform())

	_, err = r.Get(domain.PlatformSeatGeek)
	assert.ErrorIs(t, err, ErrNoAdapter)

	assert.Equal(t, []domain.Platform{domain.PlatformAXS, domain.PlatformViagogo}, r.Platforms())
}
