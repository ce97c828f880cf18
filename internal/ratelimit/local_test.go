package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func reserveDelays(t *testing.T, l Limiter, platform domain.Platform, rps float64, burst, n int) []time.Duration {
	t.Helper()
	delays := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		r, err := l.Reserve(context.Background(), platform, rps, burst)
		require.NoError(t, err)
		delays = append(delays, r.Delay)
	}
	return delays
}

func TestLocalLimiter_OnePerSecond(t *testing.T) {
	l := NewLocalLimiter(clock.NewFixed(t0))

	got := reserveDelays(t, l, domain.PlatformTicketmaster, 1, 1, 5)
	assert.Equal(t, []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second}, got)
}

func TestLocalLimiter_Burst(t *testing.T) {
	l := NewLocalLimiter(clock.NewFixed(t0))

	got := reserveDelays(t, l, domain.PlatformStubHub, 2, 3, 5)
	assert.Equal(t, []time.Duration{0, 0, 0, 500 * time.Millisecond, time.Second}, got)
}

func TestLocalLimiter_PlatformsAreIndependent(t *testing.T) {
	l := NewLocalLimiter(clock.NewFixed(t0))

	assert.Equal(t, []time.Duration{0, time.Second}, reserveDelays(t, l, domain.PlatformTicketmaster, 1, 1, 2))
	assert.Equal(t, []time.Duration{0}, reserveDelays(t, l, domain.PlatformViagogo, 1, 1, 1))
}

func TestLocalLimiter_Refill(t *testing.T) {
	clk := clock.NewManual(t0)
	l := NewLocalLimiter(clk)

	assert.Equal(t, []time.Duration{0, time.Second}, reserveDelays(t, l, domain.PlatformAXS, 1, 1, 2))
	clk.Advance(10 * time.Second)
	assert.Equal(t, []time.Duration{0}, reserveDelays(t, l, domain.PlatformAXS, 1, 1, 1))
}

func TestLocalLimiter_CancelRefunds(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLimiter(clock.NewFixed(t0))

	first, err := l.Reserve(ctx, domain.PlatformSeatGeek, 1, 1)
	require.NoError(t, err)
	assert.Zero(t, first.Delay)

	second, err := l.Reserve(ctx, domain.PlatformSeatGeek, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Second, second.Delay)
	require.NoError(t, second.Cancel(ctx))
	require.NoError(t, second.Cancel(ctx), "cancel is idempotent")

	third, err := l.Reserve(ctx, domain.PlatformSeatGeek, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Second, third.Delay)
}

func TestLocalLimiter_Unlimited(t *testing.T) {
	l := NewLocalLimiter(clock.NewFixed(t0))

	got := reserveDelays(t, l, domain.PlatformFunZone, 0, 0, 3)
	assert.Equal(t, []time.Duration{0, 0, 0}, got)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
