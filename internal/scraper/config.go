package scraper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/pkg/config"
	"github.com/prohmpiriya/ticket-monitor/pkg/redis"
	"github.com/prohmpiriya/ticket-monitor/pkg/retry"
)

// ErrPlatformDisabled is returned when dispatching to a disabled platform
var ErrPlatformDisabled = errors.New("platform disabled")

// PlatformConfig is the admin-managed configuration the queue reads at dispatch time
type PlatformConfig struct {
	Platform          domain.Platform    `json:"platform"`
	Enabled           bool               `json:"enabled"`
	RequestsPerSecond float64            `json:"requests_per_second"`
	Burst             int                `json:"burst"`
	Timeout           time.Duration      `json:"timeout"`
	Retry             domain.RetryPolicy `json:"retry"`
	ProxyRotation     bool               `json:"proxy_rotation"`
	Proxies           []string           `json:"proxies,omitempty"`
	SearchURL         string             `json:"search_url,omitempty"`
}

// DefaultPlatformConfig is used for platforms with no configuration at all
func DefaultPlatformConfig(p domain.Platform) PlatformConfig {
	return PlatformConfig{
		Platform:          p,
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
		Timeout:           30 * time.Second,
		Retry: domain.RetryPolicy{
			MaxRetries: 3,
			Backoff:    retry.Backoff{Base: 2 * time.Second, Factor: 2, Max: 10 * time.Minute},
		},
	}
}

// ConfigProvider supplies platform configuration. The core never writes it.
type ConfigProvider interface {
	Get(ctx context.Context, platform domain.Platform) (PlatformConfig, error)
}

// StaticConfigProvider serves configuration loaded at startup
type StaticConfigProvider struct {
	configs map[domain.Platform]PlatformConfig
}

func NewStaticConfigProvider(configs map[domain.Platform]PlatformConfig) *StaticConfigProvider {
	return &StaticConfigProvider{configs: configs}
}

// PlatformConfigsFromConfig converts the environment configuration
func PlatformConfigsFromConfig(cfg *config.Config) map[domain.Platform]PlatformConfig {
	out := make(map[domain.Platform]PlatformConfig, len(cfg.Platforms))
	for name, pc := range cfg.Platforms {
		p := domain.Platform(name)
		if !p.IsValid() {
			continue
		}
		out[p] = PlatformConfig{
			Platform:          p,
			Enabled:           pc.Enabled,
			RequestsPerSecond: pc.RequestsPerSecond,
			Burst:             pc.Burst,
			Timeout:           pc.Timeout,
			Retry: domain.RetryPolicy{
				MaxRetries: pc.MaxRetries,
				Backoff:    retry.Backoff{Base: pc.BaseDelay, Factor: pc.BackoffFactor, Max: pc.MaxDelay},
			},
			ProxyRotation: pc.ProxyRotation,
			Proxies:       pc.Proxies,
			SearchURL:     pc.SearchURL,
		}
	}
	return out
}

func (p *StaticConfigProvider) Get(ctx context.Context, platform domain.Platform) (PlatformConfig, error) {
	if !platform.IsValid() {
		return PlatformConfig{}, domain.NewValidationError("platform", "unknown platform %q", platform)
	}
	if cfg, ok := p.configs[platform]; ok {
		return cfg, nil
	}
	return DefaultPlatformConfig(platform), nil
}

// Redis hash fields an admin tool may set to override the static defaults
const (
	fieldEnabled           = "enabled"
	fieldRequestsPerSecond = "requests_per_second"
	fieldBurst             = "burst"
	fieldTimeoutMs         = "timeout_ms"
	fieldMaxRetries        = "max_retries"
	fieldBackoffFactor     = "backoff_factor"
	fieldProxyRotation     = "proxy_rotation"
)

func platformConfigKey(p domain.Platform) string {
	return "platform:config:" + string(p)
}

type cachedConfig struct {
	cfg       PlatformConfig
	expiresAt time.Time
}

// RedisConfigProvider overlays per-platform overrides stored in Redis hashes
// on top of a fallback provider. Results are cached for ttl and concurrent
// misses share one Redis round trip.
type RedisConfigProvider struct {
	client   *redis.Client
	fallback ConfigProvider
	ttl      time.Duration
	clock    clock.Clock

	group singleflight.Group
	mu    sync.RWMutex
	cache map[domain.Platform]cachedConfig
}

func NewRedisConfigProvider(client *redis.Client, fallback ConfigProvider, ttl time.Duration, clk clock.Clock) *RedisConfigProvider {
	return &RedisConfigProvider{
		client:   client,
		fallback: fallback,
		ttl:      ttl,
		clock:    clk,
		cache:    make(map[domain.Platform]cachedConfig),
	}
}

func (p *RedisConfigProvider) Get(ctx context.Context, platform domain.Platform) (PlatformConfig, error) {
	now := p.clock.Now()
	p.mu.RLock()
	entry, ok := p.cache[platform]
	p.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.cfg, nil
	}

	v, err, _ := p.group.Do(string(platform), func() (interface{}, error) {
		return p.load(ctx, platform)
	})
	if err != nil {
		return PlatformConfig{}, err
	}
	cfg := v.(PlatformConfig)

	p.mu.Lock()
	p.cache[platform] = cachedConfig{cfg: cfg, expiresAt: now.Add(p.ttl)}
	p.mu.Unlock()
	return cfg, nil
}

// Invalidate drops the cached configuration of a platform
func (p *RedisConfigProvider) Invalidate(platform domain.Platform) {
	p.mu.Lock()
	delete(p.cache, platform)
	p.mu.Unlock()
}

func (p *RedisConfigProvider) load(ctx context.Context, platform domain.Platform) (PlatformConfig, error) {
	cfg, err := p.fallback.Get(ctx, platform)
	if err != nil {
		return PlatformConfig{}, err
	}

	fields, err := p.client.HGetAll(ctx, platformConfigKey(platform)).Result()
	if err != nil {
		return PlatformConfig{}, fmt.Errorf("failed to load %s configuration: %w", platform, err)
	}
	return applyOverrides(cfg, fields)
}

func applyOverrides(cfg PlatformConfig, fields map[string]string) (PlatformConfig, error) {
	for field, raw := range fields {
		var err error
		switch field {
		case fieldEnabled:
			cfg.Enabled, err = strconv.ParseBool(raw)
		case fieldRequestsPerSecond:
			cfg.RequestsPerSecond, err = strconv.ParseFloat(raw, 64)
		case fieldBurst:
			cfg.Burst, err = strconv.Atoi(raw)
		case fieldTimeoutMs:
			var ms int64
			ms, err = strconv.ParseInt(raw, 10, 64)
			cfg.Timeout = time.Duration(ms) * time.Millisecond
		case fieldMaxRetries:
			cfg.Retry.MaxRetries, err = strconv.Atoi(raw)
		case fieldBackoffFactor:
			cfg.Retry.Backoff.Factor, err = strconv.ParseFloat(raw, 64)
		case fieldProxyRotation:
			cfg.ProxyRotation, err = strconv.ParseBool(raw)
		}
		if err != nil {
			return PlatformConfig{}, fmt.Errorf("invalid %s override %q: %w", field, raw, err)
		}
	}
	return cfg, nil
}
