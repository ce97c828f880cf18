package scraper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/pkg/config"
	"github.com/prohmpiriya/ticket-monitor/pkg/redis"
)

func TestPlatformConfigsFromConfig(t *testing.T) {
	cfg := &config.Config{Platforms: map[string]config.PlatformConfig{
		"ticketmaster": {
			Enabled:           true,
			RequestsPerSecond: 1,
			Burst:             1,
			MaxRetries:        3,
			BaseDelay:         2 * time.Second,
			BackoffFactor:     2,
			MaxDelay:          time.Minute,
		},
		"ticketbarn": {Enabled: true},
	}}

	configs := PlatformConfigsFromConfig(cfg)
	require.Len(t, configs, 1)
	tm := configs[domain.PlatformTicketmaster]
	assert.Equal(t, 3, tm.Retry.MaxRetries)
	assert.Equal(t, 8*time.Second, tm.Retry.Delay(2, 0))

	provider := NewStaticConfigProvider(configs)
	got, err := provider.Get(context.Background(), domain.PlatformTicketmaster)
	require.NoError(t, err)
	assert.Equal(t, tm, got)

	got, err = provider.Get(context.Background(), domain.PlatformFunZone)
	require.NoError(t, err)
	assert.Equal(t, DefaultPlatformConfig(domain.PlatformFunZone), got)

	_, err = provider.Get(context.Background(), "ticketbarn")
	assert.True(t, domain.IsValidationError(err))
}

func TestRedisConfigProvider_OverridesAndCaches(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	clk := clock.NewManual(t0)
	static := NewStaticConfigProvider(nil)
	provider := NewRedisConfigProvider(redis.NewFromClient(db), static, 30*time.Second, clk)

	mock.ExpectHGetAll("platform:config:stubhub").SetVal(map[string]string{
		"requests_per_second": "0.5",
		"max_retries":         "5",
		"proxy_rotation":      "true",
		"timeout_ms":          "1500",
	})

	cfg, err := provider.Get(ctx, domain.PlatformStubHub)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.RequestsPerSecond)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.True(t, cfg.ProxyRotation)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 1, cfg.Burst, "unset fields keep the static value")

	// served from cache inside the ttl
	cfg, err = provider.Get(ctx, domain.PlatformStubHub)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.RequestsPerSecond)
	require.NoError(t, mock.ExpectationsWereMet())

	clk.Advance(31 * time.Second)
	mock.ExpectHGetAll("platform:config:stubhub").SetVal(map[string]string{"enabled": "false"})
	cfg, err = provider.Get(ctx, domain.PlatformStubHub)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.RequestsPerSecond)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisConfigProvider_InvalidOverride(t *testing.T) {
	db, mock := redismock.NewClientMock()
	provider := NewRedisConfigProvider(redis.NewFromClient(db), NewStaticConfigProvider(nil), time.Minute, clock.NewFixed(t0))

	mock.ExpectHGetAll("platform:config:axs").SetVal(map[string]string{"burst": "lots"})
	_, err := provider.Get(context.Background(), domain.PlatformAXS)
	assert.Error(t, err)
}

func TestRedisConfigProvider_ConcurrentMissesShareLoad(t *testing.T) {
	db, mock := redismock.NewClientMock()
	provider := NewRedisConfigProvider(redis.NewFromClient(db), NewStaticConfigProvider(nil), time.Minute, clock.NewFixed(t0))

	mock.ExpectHGetAll("platform:config:viagogo").SetVal(map[string]string{})

	// prime the cache, then hammer it
	_, err := provider.Get(context.Background(), domain.PlatformViagogo)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg, err := provider.Get(context.Background(), domain.PlatformViagogo)
			assert.NoError(t, err)
			assert.True(t, cfg.Enabled)
		}()
	}
	wg.Wait()
	assert.NoError(t, mock.ExpectationsWereMet())
}
