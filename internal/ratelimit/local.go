package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// LocalLimiter keeps one token bucket per platform in process memory
type LocalLimiter struct {
	clock clock.Clock

	mu       sync.Mutex
	limiters map[domain.Platform]*rate.Limiter
}

func NewLocalLimiter(clk clock.Clock) *LocalLimiter {
	return &LocalLimiter{
		clock:    clk,
		limiters: make(map[domain.Platform]*rate.Limiter),
	}
}

// Reserve takes one token from the platform bucket. A non-positive rps means
// the platform is unlimited. Changed rps or burst values take effect
// immediately without resetting tokens already spent.
func (l *LocalLimiter) Reserve(ctx context.Context, platform domain.Platform, rps float64, burst int) (*Reservation, error) {
	if rps <= 0 {
		return &Reservation{}, nil
	}
	burst = normalizeBurst(burst)
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[platform]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rps), burst)
		l.limiters[platform] = lim
	}
	if lim.Limit() != rate.Limit(rps) {
		lim.SetLimitAt(now, rate.Limit(rps))
	}
	if lim.Burst() != burst {
		lim.SetBurstAt(now, burst)
	}

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return nil, ErrNoBudget
	}
	return &Reservation{
		Delay: r.DelayFrom(now),
		cancel: func(context.Context) error {
			r.CancelAt(l.clock.Now())
			return nil
		},
	}, nil
}
