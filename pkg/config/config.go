package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig                 `mapstructure:"app"`
	Server    ServerConfig              `mapstructure:"server"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Redis     RedisConfig               `mapstructure:"redis"`
	Kafka     KafkaConfig               `mapstructure:"kafka"`
	OTel      OTelConfig                `mapstructure:"otel"`
	Scraper   ScraperConfig             `mapstructure:"scraper"`
	Platforms map[string]PlatformConfig `mapstructure:"platforms"`
	Demand    DemandConfig              `mapstructure:"demand"`
	Alert     AlertConfig               `mapstructure:"alert"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ClientID      string   `mapstructure:"client_id"`
	EventsTopic   string   `mapstructure:"events_topic"`
	AlertsTopic   string   `mapstructure:"alerts_topic"`
	JobsTopic     string   `mapstructure:"jobs_topic"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// ScraperConfig holds settings for the scraping job pipeline
type ScraperConfig struct {
	Workers          int           `mapstructure:"workers"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	FreshnessWindow  time.Duration `mapstructure:"freshness_window"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	RefreshHorizon   time.Duration `mapstructure:"refresh_horizon"`
	ProxyCooldown    time.Duration `mapstructure:"proxy_cooldown"`
	ProxyBlockLimit  int           `mapstructure:"proxy_block_limit"`
	InFlightTTL      time.Duration `mapstructure:"in_flight_ttl"`
	StoreBackend     string        `mapstructure:"store_backend"`      // postgres, memory
	RateLimitBackend string        `mapstructure:"rate_limit_backend"` // redis, local
	ConfigCacheTTL   time.Duration `mapstructure:"config_cache_ttl"`
	UserAgents       []string      `mapstructure:"user_agents"`
}

// PlatformConfig is the admin-managed scraping configuration of one platform
type PlatformConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	ProxyRotation     bool          `mapstructure:"proxy_rotation"`
	Proxies           []string      `mapstructure:"proxies"`
	SearchURL         string        `mapstructure:"search_url"`
}

// DemandConfig holds high-demand sweep settings
type DemandConfig struct {
	Threshold     float64       `mapstructure:"threshold"`
	MinTickets    int           `mapstructure:"min_tickets"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Horizon       time.Duration `mapstructure:"horizon"`
}

// AlertConfig holds alert engine settings
type AlertConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// platformRequestsPerMinute are the observed per-platform request budgets.
var platformRequestsPerMinute = map[string]float64{
	"ticketmaster": 5,
	"stubhub":      10,
	"seatgeek":     20,
	"viagogo":      5,
	"tickpick":     15,
	"funzone":      10,
	"axs":          10,
	"livenation":   10,
	"seetickets":   10,
	"ticketek":     10,
}

// PlatformNames returns the platforms that have configuration keys
func PlatformNames() []string {
	return []string{
		"ticketmaster", "axs", "livenation", "seetickets", "ticketek",
		"stubhub", "viagogo", "seatgeek", "tickpick", "funzone",
	}
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional; environment variables still apply
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "ticket-monitor")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "ticket_monitor")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 50)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 5)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_ENABLED", true)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "ticket-monitor")
	v.SetDefault("KAFKA_CLIENT_ID", "ticket-monitor")
	v.SetDefault("KAFKA_EVENTS_TOPIC", "ticket-events")
	v.SetDefault("KAFKA_ALERTS_TOPIC", "ticket-alerts")
	v.SetDefault("KAFKA_JOBS_TOPIC", "scrape-jobs")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "ticket-monitor")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Scraper defaults
	v.SetDefault("SCRAPER_WORKERS", 4)
	v.SetDefault("SCRAPER_POLL_INTERVAL", "1s")
	v.SetDefault("SCRAPER_FRESHNESS_WINDOW", "30m")
	v.SetDefault("SCRAPER_REFRESH_INTERVAL", "10m")
	v.SetDefault("SCRAPER_REFRESH_HORIZON", "2160h") // 90 days
	v.SetDefault("SCRAPER_PROXY_COOLDOWN", "10m")
	v.SetDefault("SCRAPER_PROXY_BLOCK_LIMIT", 2)
	v.SetDefault("SCRAPER_IN_FLIGHT_TTL", "5m")
	v.SetDefault("SCRAPER_STORE_BACKEND", "postgres")
	v.SetDefault("SCRAPER_RATE_LIMIT_BACKEND", "redis")
	v.SetDefault("SCRAPER_CONFIG_CACHE_TTL", "30s")
	v.SetDefault("SCRAPER_USER_AGENTS", strings.Join([]string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	}, "|"))

	// Per-platform defaults
	for _, name := range PlatformNames() {
		prefix := platformPrefix(name)
		v.SetDefault(prefix+"ENABLED", true)
		v.SetDefault(prefix+"REQUESTS_PER_SECOND", platformRequestsPerMinute[name]/60)
		v.SetDefault(prefix+"BURST", 1)
		v.SetDefault(prefix+"TIMEOUT", "30s")
		v.SetDefault(prefix+"MAX_RETRIES", 3)
		v.SetDefault(prefix+"BASE_DELAY", "2s")
		v.SetDefault(prefix+"BACKOFF_FACTOR", 2.0)
		v.SetDefault(prefix+"MAX_DELAY", "10m")
		v.SetDefault(prefix+"PROXY_ROTATION", false)
		v.SetDefault(prefix+"PROXIES", "")
		v.SetDefault(prefix+"SEARCH_URL", "")
	}

	// Demand defaults
	v.SetDefault("DEMAND_THRESHOLD", 0.7)
	v.SetDefault("DEMAND_MIN_TICKETS", 10)
	v.SetDefault("DEMAND_SWEEP_INTERVAL", "15m")
	v.SetDefault("DEMAND_HORIZON", "720h") // 30 days

	// Alert defaults
	v.SetDefault("ALERT_POLL_INTERVAL", "2s")
	v.SetDefault("ALERT_BATCH_SIZE", 500)
}

func platformPrefix(name string) string {
	return "PLATFORM_" + strings.ToUpper(name) + "_"
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")
	cfg.Database.AutoMigrate = v.GetBool("DATABASE_AUTO_MIGRATE")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"), ",")
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.EventsTopic = v.GetString("KAFKA_EVENTS_TOPIC")
	cfg.Kafka.AlertsTopic = v.GetString("KAFKA_ALERTS_TOPIC")
	cfg.Kafka.JobsTopic = v.GetString("KAFKA_JOBS_TOPIC")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Scraper
	cfg.Scraper.Workers = v.GetInt("SCRAPER_WORKERS")
	cfg.Scraper.PollInterval = v.GetDuration("SCRAPER_POLL_INTERVAL")
	cfg.Scraper.FreshnessWindow = v.GetDuration("SCRAPER_FRESHNESS_WINDOW")
	cfg.Scraper.RefreshInterval = v.GetDuration("SCRAPER_REFRESH_INTERVAL")
	cfg.Scraper.RefreshHorizon = v.GetDuration("SCRAPER_REFRESH_HORIZON")
	cfg.Scraper.ProxyCooldown = v.GetDuration("SCRAPER_PROXY_COOLDOWN")
	cfg.Scraper.ProxyBlockLimit = v.GetInt("SCRAPER_PROXY_BLOCK_LIMIT")
	cfg.Scraper.InFlightTTL = v.GetDuration("SCRAPER_IN_FLIGHT_TTL")
	cfg.Scraper.StoreBackend = v.GetString("SCRAPER_STORE_BACKEND")
	cfg.Scraper.RateLimitBackend = v.GetString("SCRAPER_RATE_LIMIT_BACKEND")
	cfg.Scraper.ConfigCacheTTL = v.GetDuration("SCRAPER_CONFIG_CACHE_TTL")
	cfg.Scraper.UserAgents = splitList(v.GetString("SCRAPER_USER_AGENTS"), "|")

	// Platforms
	cfg.Platforms = make(map[string]PlatformConfig, len(PlatformNames()))
	for _, name := range PlatformNames() {
		prefix := platformPrefix(name)
		cfg.Platforms[name] = PlatformConfig{
			Enabled:           v.GetBool(prefix + "ENABLED"),
			RequestsPerSecond: v.GetFloat64(prefix + "REQUESTS_PER_SECOND"),
			Burst:             v.GetInt(prefix + "BURST"),
			Timeout:           v.GetDuration(prefix + "TIMEOUT"),
			MaxRetries:        v.GetInt(prefix + "MAX_RETRIES"),
			BaseDelay:         v.GetDuration(prefix + "BASE_DELAY"),
			BackoffFactor:     v.GetFloat64(prefix + "BACKOFF_FACTOR"),
			MaxDelay:          v.GetDuration(prefix + "MAX_DELAY"),
			ProxyRotation:     v.GetBool(prefix + "PROXY_ROTATION"),
			Proxies:           splitList(v.GetString(prefix+"PROXIES"), ","),
			SearchURL:         v.GetString(prefix + "SEARCH_URL"),
		}
	}

	// Demand
	cfg.Demand.Threshold = v.GetFloat64("DEMAND_THRESHOLD")
	cfg.Demand.MinTickets = v.GetInt("DEMAND_MIN_TICKETS")
	cfg.Demand.SweepInterval = v.GetDuration("DEMAND_SWEEP_INTERVAL")
	cfg.Demand.Horizon = v.GetDuration("DEMAND_HORIZON")

	// Alert
	cfg.Alert.PollInterval = v.GetDuration("ALERT_POLL_INTERVAL")
	cfg.Alert.BatchSize = v.GetInt("ALERT_BATCH_SIZE")

	return nil
}

func splitList(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Scraper.Workers <= 0 {
		return fmt.Errorf("scraper workers must be positive, got %d", c.Scraper.Workers)
	}

	switch c.Scraper.StoreBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported store backend: %q", c.Scraper.StoreBackend)
	}

	switch c.Scraper.RateLimitBackend {
	case "redis", "local":
	default:
		return fmt.Errorf("unsupported rate limit backend: %q", c.Scraper.RateLimitBackend)
	}

	if c.Demand.Threshold <= 0 || c.Demand.Threshold > 1 {
		return fmt.Errorf("demand threshold must be in (0, 1], got %v", c.Demand.Threshold)
	}

	for name, p := range c.Platforms {
		if !p.Enabled {
			continue
		}
		if p.RequestsPerSecond <= 0 {
			return fmt.Errorf("platform %s: requests_per_second must be positive", name)
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("platform %s: max_retries must not be negative", name)
		}
		if p.BackoffFactor < 1 {
			return fmt.Errorf("platform %s: backoff_factor must be >= 1", name)
		}
		if p.ProxyRotation && len(p.Proxies) == 0 {
			return fmt.Errorf("platform %s: proxy rotation enabled without proxies", name)
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
