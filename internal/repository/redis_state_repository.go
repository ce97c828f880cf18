package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	pkgredis "github.com/prohmpiriya/ticket-monitor/pkg/redis"
)

//go:embed scripts/set_max.lua
var setMaxScript string

const scriptSetMax = "set_max"

// RedisAlertStateStore implements AlertStateStore using Redis. Stream versions
// are plain counters; fired rules are kept as one set of tickets per rule.
type RedisAlertStateStore struct {
	client *pkgredis.Client
}

// NewRedisAlertStateStore creates a new RedisAlertStateStore
func NewRedisAlertStateStore(client *pkgredis.Client) *RedisAlertStateStore {
	return &RedisAlertStateStore{client: client}
}

func alertVersionKey(aggregateID string) string {
	return fmt.Sprintf("alert:version:%s", aggregateID)
}

func alertFiredKey(rule domain.RuleID) string {
	return fmt.Sprintf("alert:fired:%s", rule)
}

func (s *RedisAlertStateStore) LastVersion(ctx context.Context, aggregateID string) (int, error) {
	v, err := s.client.Get(ctx, alertVersionKey(aggregateID)).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get last version: %w", err)
	}
	return v, nil
}

func (s *RedisAlertStateStore) SetLastVersion(ctx context.Context, aggregateID string, version int) error {
	err := s.client.EvalWithFallback(ctx, scriptSetMax, setMaxScript, []string{alertVersionKey(aggregateID)}, version).Err()
	if err != nil {
		return fmt.Errorf("failed to set last version: %w", err)
	}
	return nil
}

func (s *RedisAlertStateStore) Fired(ctx context.Context, rule domain.RuleID, ticket domain.TicketID) (bool, error) {
	fired, err := s.client.Client().SIsMember(ctx, alertFiredKey(rule), string(ticket)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to get fired state: %w", err)
	}
	return fired, nil
}

func (s *RedisAlertStateStore) SetFired(ctx context.Context, rule domain.RuleID, ticket domain.TicketID, fired bool) error {
	var err error
	if fired {
		err = s.client.Client().SAdd(ctx, alertFiredKey(rule), string(ticket)).Err()
	} else {
		err = s.client.Client().SRem(ctx, alertFiredKey(rule), string(ticket)).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to set fired state: %w", err)
	}
	return nil
}

// RedisCheckpointStore implements CheckpointStore using Redis counters
type RedisCheckpointStore struct {
	client *pkgredis.Client
}

func NewRedisCheckpointStore(client *pkgredis.Client) *RedisCheckpointStore {
	return &RedisCheckpointStore{client: client}
}

func checkpointKey(consumer string) string {
	return fmt.Sprintf("checkpoint:%s", consumer)
}

func (s *RedisCheckpointStore) Load(ctx context.Context, consumer string) (int64, error) {
	v, err := s.client.Get(ctx, checkpointKey(consumer)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return v, nil
}

func (s *RedisCheckpointStore) Store(ctx context.Context, consumer string, position int64) error {
	err := s.client.EvalWithFallback(ctx, scriptSetMax, setMaxScript, []string{checkpointKey(consumer)}, position).Err()
	if err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}
