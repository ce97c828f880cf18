package scraper

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// botPatterns mark challenge and CAPTCHA pages served instead of content
var botPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)captcha`),
	regexp.MustCompile(`(?i)cloudflare`),
	regexp.MustCompile(`(?i)access\s+denied`),
	regexp.MustCompile(`(?i)blocked`),
	regexp.MustCompile(`(?i)security\s+check`),
	regexp.MustCompile(`(?i)unusual\s+traffic`),
	regexp.MustCompile(`(?i)verify\s+you\s+are\s+human`),
	regexp.MustCompile(`(?i)challenge`),
	regexp.MustCompile(`(?i)protected\s+by\s+recaptcha`),
	regexp.MustCompile(`(?i)checking\s+your\s+browser`),
}

// shortPageLimit is the size under which a script-only page is treated as a
// redirect to a challenge
const shortPageLimit = 500

// Response is the part of an HTTP response classification looks at
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsBotPage reports whether body looks like a bot-detection page
func IsBotPage(body []byte) bool {
	for _, p := range botPatterns {
		if p.Match(body) {
			return true
		}
	}
	return len(body) < shortPageLimit && strings.Contains(string(body), "<script>")
}

// Classify turns a fetch outcome into a ScrapeError, or nil when the
// response is usable. now resolves HTTP-date Retry-After values.
func Classify(platform domain.Platform, resp *Response, err error, now time.Time) *domain.ScrapeError {
	if err != nil {
		return classifyTransportError(platform, err)
	}
	if resp == nil {
		return domain.HardFailure(platform, "empty response", nil)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		se := domain.SoftFailure(platform, "rate limited", nil)
		se.StatusCode = resp.StatusCode
		se.Blocked = true
		se.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), now)
		return se

	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable:
		if IsBotPage(resp.Body) {
			se := domain.SoftFailure(platform, "bot detection", nil)
			se.StatusCode = resp.StatusCode
			se.Blocked = true
			return se
		}
		se := domain.HardFailure(platform, http.StatusText(resp.StatusCode), nil)
		se.StatusCode = resp.StatusCode
		return se

	case resp.StatusCode >= 400:
		se := domain.HardFailure(platform, http.StatusText(resp.StatusCode), nil)
		se.StatusCode = resp.StatusCode
		return se

	case !isJSON(resp.Header) && IsBotPage(resp.Body):
		se := domain.SoftFailure(platform, "bot detection page", nil)
		se.StatusCode = resp.StatusCode
		se.Blocked = true
		return se
	}
	return nil
}

// isJSON reports a structured feed; listing text inside it is content, not a challenge page
func isJSON(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Content-Type")), "json")
}

// classifyTransportError treats timeouts and connection level failures as
// transient. Anything else is a hard failure.
func classifyTransportError(platform domain.Platform, err error) *domain.ScrapeError {
	var se *domain.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.SoftFailure(platform, "timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.SoftFailure(platform, "timeout", err)
		}
		return domain.SoftFailure(platform, "network error", err)
	}
	return domain.HardFailure(platform, "request failed", err)
}

// ParseRetryAfter accepts delta-seconds or an HTTP date. Zero means absent.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
