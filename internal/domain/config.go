package domain

import (
	"strconv"
	"strings"
	"time"
)

// Config holds the complete findex configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Rule configuration source
	Rules RulesConfig `json:"rules"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// AllowedOrigins lists browser origins for CORS; empty allows any
	AllowedOrigins []string `json:"allowedOrigins"`
}

// RulesConfig locates the rule configuration text.
type RulesConfig struct {
	// File is the rule file path; empty means the XDG config location
	File string `json:"file"`

	// Watch reloads the rules when the file changes on disk
	Watch bool `json:"watch"`

	// CollectionID is the collection the rule file belongs to
	CollectionID string `json:"collectionId"`

	// Verbose adds baseline intervals to card reports
	Verbose bool `json:"verbose"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultCollectionID is used when no collection is configured.
const DefaultCollectionID = "default"

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Rules: RulesConfig{
			Watch:        true,
			CollectionID: DefaultCollectionID,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./findex.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
			DocumentTTL:  time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "findex",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "findex",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "findex",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		DocumentTTL:    time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// ApplyEnv overrides fields from FINDEX_* environment variables.
// Unset variables leave the current value alone.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}
	flag := func(key string, dst *bool) {
		if v, err := strconv.ParseBool(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}

	str("FINDEX_HOST", &c.Server.Host)
	num("FINDEX_PORT", &c.Server.Port)
	if v := strings.TrimSpace(getenv("FINDEX_CORS_ORIGINS")); v != "" {
		c.Server.AllowedOrigins = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	}

	str("FINDEX_RULES_FILE", &c.Rules.File)
	flag("FINDEX_RULES_WATCH", &c.Rules.Watch)
	str("FINDEX_COLLECTION", &c.Rules.CollectionID)
	flag("FINDEX_VERBOSE", &c.Rules.Verbose)

	str("FINDEX_DB_DRIVER", &c.Repository.Driver)
	str("FINDEX_SQLITE_PATH", &c.Repository.SQLitePath)
	str("FINDEX_POSTGRES_HOST", &c.Repository.PostgresHost)
	num("FINDEX_POSTGRES_PORT", &c.Repository.PostgresPort)
	str("FINDEX_POSTGRES_USER", &c.Repository.PostgresUser)
	str("FINDEX_POSTGRES_PASSWORD", &c.Repository.PostgresPassword)
	str("FINDEX_POSTGRES_DB", &c.Repository.PostgresDB)
	str("FINDEX_POSTGRES_SSLMODE", &c.Repository.PostgresSSLMode)

	str("FINDEX_CACHE", &c.Cache.Type)
	str("FINDEX_REDIS_ADDR", &c.Cache.RedisAddr)
	str("FINDEX_REDIS_PASSWORD", &c.Cache.RedisPassword)

	str("FINDEX_BUS", &c.EventBus.Type)
	str("FINDEX_NATS_URL", &c.EventBus.NATSUrl)
	str("FINDEX_NATS_TOKEN", &c.EventBus.NATSToken)

	str("FINDEX_LOG_LEVEL", &c.Logging.Level)
	str("FINDEX_LOG_FORMAT", &c.Logging.Format)
	if debug, err := strconv.ParseBool(getenv("FINDEX_DEBUG")); err == nil && debug {
		c.Logging.Level = "debug"
	}

	flag("FINDEX_TRACING", &c.Tracing.Enabled)
	flag("FINDEX_METRICS", &c.Metrics.Enabled)
}
