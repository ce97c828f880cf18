package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/pkg/redis"
)

//go:embed scripts/reserve.lua
var reserveScript string

//go:embed scripts/refund.lua
var refundScript string

const (
	reserveScriptName = "ratelimit_reserve"
	refundScriptName  = "ratelimit_refund"
	keyPrefix         = "ratelimit:platform:"
)

// RedisLimiter shares platform budgets between processes. Each platform is a
// GCRA bucket whose theoretical arrival time lives in one Redis key, updated
// by a Lua script so concurrent workers can never overspend it.
type RedisLimiter struct {
	client *redis.Client
	clock  clock.Clock
}

func NewRedisLimiter(client *redis.Client, clk clock.Clock) *RedisLimiter {
	return &RedisLimiter{client: client, clock: clk}
}

func (l *RedisLimiter) Reserve(ctx context.Context, platform domain.Platform, rps float64, burst int) (*Reservation, error) {
	if rps <= 0 {
		return &Reservation{}, nil
	}
	burst = normalizeBurst(burst)
	interval := emissionInterval(rps)
	key := keyPrefix + string(platform)

	waitMicros, err := l.client.EvalWithFallback(ctx, reserveScriptName, reserveScript,
		[]string{key},
		l.clock.Now().UnixMicro(),
		interval,
		int64(burst),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve %s budget: %w", platform, err)
	}

	return &Reservation{
		Delay: time.Duration(waitMicros) * time.Microsecond,
		cancel: func(ctx context.Context) error {
			err := l.client.EvalWithFallback(ctx, refundScriptName, refundScript,
				[]string{key},
				l.clock.Now().UnixMicro(),
				interval,
			).Err()
			if err != nil {
				return fmt.Errorf("failed to refund %s budget: %w", platform, err)
			}
			return nil
		},
	}, nil
}

// emissionInterval is the spacing between requests in microseconds
func emissionInterval(rps float64) int64 {
	return int64(math.Ceil(1e6 / rps))
}
