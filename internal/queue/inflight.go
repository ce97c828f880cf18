package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/pkg/redis"
)

// InFlightLock guards a (platform, event) pair while one of its jobs is processing
type InFlightLock interface {
	// Acquire takes the lock for owner. It returns false when another owner holds it.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release drops the lock if owner still holds it
	Release(ctx context.Context, key, owner string) error
}

type memoryLockEntry struct {
	owner     string
	expiresAt time.Time
}

// MemoryLock is an in-process InFlightLock
type MemoryLock struct {
	clock clock.Clock

	mu    sync.Mutex
	locks map[string]memoryLockEntry
}

func NewMemoryLock(clk clock.Clock) *MemoryLock {
	return &MemoryLock{clock: clk, locks: make(map[string]memoryLockEntry)}
}

func (l *MemoryLock) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.locks[key]; ok && e.owner != owner && now.Before(e.expiresAt) {
		return false, nil
	}
	l.locks[key] = memoryLockEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLock) Release(ctx context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.locks[key]; ok && e.owner == owner {
		delete(l.locks, key)
	}
	return nil
}

//go:embed scripts/release_lock.lua
var releaseLockScript string

const (
	releaseLockScriptName = "inflight_release"
	inFlightKeyPrefix     = "scrape:inflight:"
)

// RedisLock is an InFlightLock shared by every worker process. The TTL
// frees pairs held by a worker that died mid-job.
type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

func (l *RedisLock) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, inFlightKeyPrefix+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire in-flight lock %s: %w", key, err)
	}
	if ok {
		return true, nil
	}

	// re-entrant for the same owner
	current, err := l.client.Get(ctx, inFlightKeyPrefix+key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to read in-flight lock %s: %w", key, err)
	}
	return current == owner, nil
}

func (l *RedisLock) Release(ctx context.Context, key, owner string) error {
	err := l.client.EvalWithFallback(ctx, releaseLockScriptName, releaseLockScript,
		[]string{inFlightKeyPrefix + key}, owner).Err()
	if err != nil {
		return fmt.Errorf("failed to release in-flight lock %s: %w", key, err)
	}
	return nil
}
