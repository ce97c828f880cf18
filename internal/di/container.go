package di

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-monitor/internal/alert"
	"github.com/prohmpiriya/ticket-monitor/internal/clock"
	"github.com/prohmpiriya/ticket-monitor/internal/demand"
	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
	"github.com/prohmpiriya/ticket-monitor/internal/handler"
	"github.com/prohmpiriya/ticket-monitor/internal/monitor"
	"github.com/prohmpiriya/ticket-monitor/internal/proxy"
	"github.com/prohmpiriya/ticket-monitor/internal/queue"
	"github.com/prohmpiriya/ticket-monitor/internal/ratelimit"
	"github.com/prohmpiriya/ticket-monitor/internal/repository"
	"github.com/prohmpiriya/ticket-monitor/internal/scraper"
	"github.com/prohmpiriya/ticket-monitor/pkg/config"
	"github.com/prohmpiriya/ticket-monitor/pkg/database"
	"github.com/prohmpiriya/ticket-monitor/pkg/logger"
	"github.com/prohmpiriya/ticket-monitor/pkg/middleware"
	"github.com/prohmpiriya/ticket-monitor/pkg/redis"
	"github.com/prohmpiriya/ticket-monitor/pkg/retry"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendLocal    = "local"
)

// Container holds all dependencies of the monitor processes
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client
	Clock clock.Clock

	// Storage
	Store       eventstore.Store
	Tickets     repository.TicketRepository
	Events      repository.SportsEventRepository
	Jobs        repository.JobRepository
	Rules       repository.AlertRuleRepository
	Checkpoints repository.CheckpointStore
	AlertState  repository.AlertStateStore

	// Scraping pipeline
	Configs  scraper.ConfigProvider
	Adapters *scraper.Registry
	Queue    *queue.Queue
	Service  *monitor.Service
	Runner   *monitor.Runner
	Catalog  *monitor.Catalog

	// Background processing
	Sweeper *demand.Sweeper
	Engine  *alert.Engine

	// Handlers
	JobHandler       *handler.JobHandler
	EventHandler     *handler.EventHandler
	AlertRuleHandler *handler.AlertRuleHandler
	HealthHandler    *handler.HealthHandler
}

// ContainerConfig contains configuration for building the container. DB and
// Redis may be nil when the configured backends do not need them.
type ContainerConfig struct {
	Config *config.Config
	DB     *database.PostgresDB
	Redis  *redis.Client
	DLQ    retry.DLQPublisher
	Clock  clock.Clock
	Logger *logger.Logger
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}
	appCfg := cfg.Config
	c := &Container{DB: cfg.DB, Redis: cfg.Redis, Clock: cfg.Clock}

	if err := c.initStorage(appCfg); err != nil {
		return nil, err
	}

	// Initialize the scraping pipeline
	static := scraper.NewStaticConfigProvider(scraper.PlatformConfigsFromConfig(appCfg))
	c.Configs = static
	if c.Redis != nil {
		c.Configs = scraper.NewRedisConfigProvider(c.Redis, static, appCfg.Scraper.ConfigCacheTTL, c.Clock)
	}

	fetcher := scraper.NewFetcher(scraper.FetcherConfig{UserAgents: appCfg.Scraper.UserAgents}, c.Clock)
	adapters := make([]scraper.Adapter, 0, len(domain.Platforms()))
	for _, p := range domain.Platforms() {
		adapters = append(adapters, scraper.NewHTTPAdapter(p, fetcher))
	}
	c.Adapters = scraper.NewRegistry(adapters...)

	deps := queue.Deps{
		Jobs:    c.Jobs,
		Configs: c.Configs,
		Proxies: proxy.NewPool(proxy.Config{
			Cooldown:   appCfg.Scraper.ProxyCooldown,
			BlockLimit: appCfg.Scraper.ProxyBlockLimit,
		}, c.Clock),
		DLQ:    cfg.DLQ,
		Clock:  c.Clock,
		Logger: cfg.Logger.With(zap.String("component", "queue")),
	}
	switch appCfg.Scraper.RateLimitBackend {
	case BackendRedis:
		if c.Redis == nil {
			return nil, fmt.Errorf("rate limit backend %q requires Redis", BackendRedis)
		}
		deps.Limiter = ratelimit.NewRedisLimiter(c.Redis, c.Clock)
		deps.Locks = queue.NewRedisLock(c.Redis)
	default:
		deps.Limiter = ratelimit.NewLocalLimiter(c.Clock)
		deps.Locks = queue.NewMemoryLock(c.Clock)
	}
	c.Queue = queue.New(queue.Config{
		JobsTopic:   appCfg.Kafka.JobsTopic,
		InFlightTTL: appCfg.Scraper.InFlightTTL,
	}, deps)

	c.Service = monitor.NewService(c.Tickets, c.Events, c.Clock, cfg.Logger.With(zap.String("component", "monitor")))
	c.Runner = monitor.NewRunner(c.Queue, c.Adapters, c.Service, cfg.Logger.With(zap.String("component", "runner")))
	c.Catalog = monitor.NewCatalog(c.Events, c.Tickets, c.Rules, c.Store, c.Clock, cfg.Logger)

	c.Sweeper = demand.NewSweeper(demand.Config{
		Threshold:  appCfg.Demand.Threshold,
		MinTickets: appCfg.Demand.MinTickets,
		Horizon:    appCfg.Demand.Horizon,
	}, c.Events, c.Tickets, c.Clock, cfg.Logger.With(zap.String("component", "demand")))

	c.Engine = alert.NewEngine(alert.Config{BatchSize: appCfg.Alert.BatchSize}, alert.Deps{
		Store:       c.Store,
		Rules:       c.Rules,
		State:       c.AlertState,
		Checkpoints: c.Checkpoints,
		Events:      c.Events,
		Clock:       c.Clock,
		Logger:      cfg.Logger.With(zap.String("component", "alert-engine")),
	})

	// Initialize handlers
	health := map[string]handler.HealthChecker{}
	if c.DB != nil {
		health["database"] = c.DB
	}
	if c.Redis != nil {
		health["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(health)
	c.JobHandler = handler.NewJobHandler(c.Queue)
	c.EventHandler = handler.NewEventHandler(c.Catalog)
	c.AlertRuleHandler = handler.NewAlertRuleHandler(c.Catalog)
	return c, nil
}

func (c *Container) initStorage(appCfg *config.Config) error {
	switch appCfg.Scraper.StoreBackend {
	case BackendMemory:
		store := eventstore.NewMemoryStore()
		c.Store = store
		c.Tickets = repository.NewMemoryTicketRepository(store)
		c.Events = repository.NewMemorySportsEventRepository(store)
		c.Jobs = repository.NewMemoryJobRepository()
		c.Rules = repository.NewMemoryAlertRuleRepository(store)
		c.Checkpoints = repository.NewMemoryCheckpointStore()
	default:
		if c.DB == nil {
			return fmt.Errorf("store backend %q requires a database", BackendPostgres)
		}
		pool := c.DB.Pool()
		store := eventstore.NewPostgresStore(pool)
		c.Store = store
		c.Tickets = repository.NewPostgresTicketRepository(pool, store)
		c.Events = repository.NewPostgresSportsEventRepository(pool, store)
		c.Jobs = repository.NewPostgresJobRepository(pool)
		c.Rules = repository.NewPostgresAlertRuleRepository(pool, store)
		c.Checkpoints = repository.NewPostgresCheckpointStore(pool)
	}

	// Wrap with cache if Redis is available
	if c.Redis != nil {
		c.Events = repository.NewCachedSportsEventRepository(c.Events, c.Redis)
		c.AlertState = repository.NewRedisAlertStateStore(c.Redis)
	} else {
		c.AlertState = repository.NewMemoryAlertStateStore()
	}
	return nil
}

// Router builds the ops API. The idempotency middleware is only installed
// when Redis is available.
func (c *Container) Router(serviceName string, tracing bool) *gin.Engine {
	rc := handler.RouterConfig{
		Jobs:       c.JobHandler,
		Events:     c.EventHandler,
		AlertRules: c.AlertRuleHandler,
		Health:     c.HealthHandler,
	}
	if tracing {
		rc.Tracing = telemetry.TracingMiddleware(serviceName)
	}
	if c.Redis != nil {
		rc.Idempotency = middleware.Idempotency(middleware.IdempotencyConfig{
			Redis: c.Redis,
			TTL:   24 * time.Hour,
		})
	}
	return handler.NewRouter(rc)
}

// Platforms lists the platforms enabled in configuration
func (c *Container) Platforms(ctx context.Context) []domain.Platform {
	var out []domain.Platform
	for _, p := range c.Adapters.Platforms() {
		cfg, err := c.Configs.Get(ctx, p)
		if err != nil || !cfg.Enabled {
			continue
		}
		out = append(out, p)
	}
	return out
}
