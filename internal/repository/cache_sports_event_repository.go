package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/pkg/redis"
)

const (
	sportsEventKeyPrefix = "sports_event:detail:"

	// Default TTL for event caches
	sportsEventCacheTTL = 5 * time.Minute
)

// CachedSportsEventRepository wraps SportsEventRepository with Redis caching.
// Only lookups by ID are cached; window queries always hit the store.
type CachedSportsEventRepository struct {
	repo  SportsEventRepository
	cache *redis.Client
	ttl   time.Duration
}

// NewCachedSportsEventRepository creates a new CachedSportsEventRepository
func NewCachedSportsEventRepository(repo SportsEventRepository, cache *redis.Client) *CachedSportsEventRepository {
	return &CachedSportsEventRepository{
		repo:  repo,
		cache: cache,
		ttl:   sportsEventCacheTTL,
	}
}

// Save persists the event and invalidates its cache entry
func (r *CachedSportsEventRepository) Save(ctx context.Context, event *domain.SportsEvent) error {
	if err := r.repo.Save(ctx, event); err != nil {
		return err
	}
	r.cache.Del(ctx, sportsEventKeyPrefix+string(event.ID()))
	return nil
}

// FindByID retrieves an event by ID with caching
func (r *CachedSportsEventRepository) FindByID(ctx context.Context, id domain.EventID) (*domain.SportsEvent, error) {
	cacheKey := sportsEventKeyPrefix + string(id)
	cached, err := r.cache.Get(ctx, cacheKey).Result()
	if err == nil && cached != "" {
		var state domain.SportsEventState
		if err := json.Unmarshal([]byte(cached), &state); err == nil {
			if event, err := domain.RestoreSportsEvent(state); err == nil {
				return event, nil
			}
		}
	}

	// Cache miss
	event, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheEvent(ctx, cacheKey, event)
	return event, nil
}

// FindInWindow bypasses the cache
func (r *CachedSportsEventRepository) FindInWindow(ctx context.Context, start, end time.Time) ([]*domain.SportsEvent, error) {
	return r.repo.FindInWindow(ctx, start, end)
}

func (r *CachedSportsEventRepository) cacheEvent(ctx context.Context, key string, event *domain.SportsEvent) {
	data, err := json.Marshal(event.State())
	if err != nil {
		return
	}
	r.cache.Set(ctx, key, string(data), r.ttl)
}
