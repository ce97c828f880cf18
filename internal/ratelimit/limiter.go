package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// ErrNoBudget is returned when a platform's burst is too small to ever admit a request
var ErrNoBudget = errors.New("rate limit admits no requests")

// Limiter hands out per-platform request budget. Reserve never blocks: it
// returns how long the caller must wait before acting on the reservation.
type Limiter interface {
	Reserve(ctx context.Context, platform domain.Platform, rps float64, burst int) (*Reservation, error)
}

// Reservation is one unit of platform budget
type Reservation struct {
	// Delay is how long to wait before the request may be made
	Delay  time.Duration
	cancel func(ctx context.Context) error
}

// Cancel returns the budget of a reservation that will not be used
func (r *Reservation) Cancel(ctx context.Context) error {
	if r == nil || r.cancel == nil {
		return nil
	}
	cancel := r.cancel
	r.cancel = nil
	return cancel(ctx)
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func normalizeBurst(burst int) int {
	if burst < 1 {
		return 1
	}
	return burst
}
