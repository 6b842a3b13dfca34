package domain

import (
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Engine     EngineConfig     `json:"engine"`
	Scoring    ScoringConfig    `json:"scoring"`
	Alerting   AlertingConfig   `json:"alerting"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// CacheConfig holds evaluation cache settings.
type CacheConfig struct {
	// Backend is "memory" or "redis"
	Backend string `json:"backend"`

	// Capacity bounds the in-memory LRU entry count.
	Capacity int `json:"capacity"`

	// TTL for successful results; ErrorTTL is the shorter expiry applied
	// to failed results so a persistently failing rule is retried sooner.
	TTL      time.Duration `json:"ttl"`
	ErrorTTL time.Duration `json:"errorTtl"`

	// Redis settings
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redisDb"`
}

// EngineConfig holds evaluation pipeline settings.
type EngineConfig struct {
	// RuleTimeout bounds a single rule evaluation.
	RuleTimeout time.Duration `json:"ruleTimeout"`

	// EvalDeadline bounds one transaction's whole evaluation batch;
	// rules still outstanding when it elapses are marked timed out.
	EvalDeadline time.Duration `json:"evalDeadline"`

	// EnrichTimeout bounds each external enrichment query.
	EnrichTimeout time.Duration `json:"enrichTimeout"`

	// MaxRuleWorkers bounds rule fan-out concurrency per transaction.
	MaxRuleWorkers int `json:"maxRuleWorkers"`

	// MaxConcurrentTransactions bounds transactions in flight; extra
	// callers queue rather than spawning unbounded work.
	MaxConcurrentTransactions int `json:"maxConcurrentTransactions"`

	// Enrichment windows for account activity aggregation.
	RecentWindow time.Duration `json:"recentWindow"`
	PriorWindow  time.Duration `json:"priorWindow"`
}

// ScoringConfig holds composite scoring settings.
type ScoringConfig struct {
	// MaxScore clamps the composite score.
	MaxScore float64 `json:"maxScore"`

	// Tiers maps inclusive lower score bounds to tier labels; scores
	// below the lowest bound fall into TierNone.
	Tiers []TierThreshold `json:"tiers"`
}

// AlertingConfig holds alert workflow settings.
type AlertingConfig struct {
	// CutoffTier is the minimum tier that opens an alert.
	CutoffTier string `json:"cutoffTier"`
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
	Endpoint    string `json:"endpoint"`
}

// DefaultConfig returns the single-node default configuration: SQLite,
// in-memory cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Backend:  "memory",
			Capacity: 10000,
			TTL:      5 * time.Minute,
			ErrorTTL: 30 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			RuleTimeout:               500 * time.Millisecond,
			EvalDeadline:              2 * time.Second,
			EnrichTimeout:             300 * time.Millisecond,
			MaxRuleWorkers:            16,
			MaxConcurrentTransactions: 64,
			RecentWindow:              30 * 24 * time.Hour,
			PriorWindow:               180 * 24 * time.Hour,
		},
		Scoring: ScoringConfig{
			MaxScore: 1.0,
			Tiers: []TierThreshold{
				{Score: 0.2, Tier: TierLow},
				{Score: 0.5, Tier: TierMedium},
				{Score: 0.7, Tier: TierHigh},
			},
		},
		Alerting: AlertingConfig{
			CutoffTier: TierMedium,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// DistributedConfig returns a configuration for multi-node deployments:
// PostgreSQL, Redis-backed cache, NATS bus.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = "localhost:6379"
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
