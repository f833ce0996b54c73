package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Edition determines which backends are wired in.
	Edition Edition `json:"edition"`

	// Component configurations
	Rules      RulesConfig      `json:"rules"`
	Scoring    ScoringConfig    `json:"scoring"`
	Quota      QuotaConfig      `json:"quota"`
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// Edition is the deployment edition, which selects backing services.
// Distinct from Tier: tiers arrive per validation call, the edition is
// fixed at startup.
type Edition string

const (
	// EditionCommunity runs on SQLite, in-process channels and a local LRU.
	EditionCommunity Edition = "community"

	// EditionPro runs on PostgreSQL, NATS and Redis.
	EditionPro Edition = "pro"
)

// RulesConfig locates and controls the rule set repository.
type RulesConfig struct {
	// Dir holds the YAML rule set files.
	Dir string `json:"dir"`

	// BankProfilePath holds the issuing-bank profile file.
	BankProfilePath string `json:"bankProfilePath"`

	// Watch enables hot reload on file changes.
	Watch bool `json:"watch"`

	// MaxConcurrentEvals bounds parallel rule evaluation per document.
	MaxConcurrentEvals int `json:"maxConcurrentEvals"`
}

// ScoringConfig holds the severity weights for the compliance score.
type ScoringConfig struct {
	CriticalWeight float64 `json:"criticalWeight"`
	MajorWeight    float64 `json:"majorWeight"`
	MinorWeight    float64 `json:"minorWeight"`
}

// Weight returns the configured weight for a severity.
func (c ScoringConfig) Weight(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return c.CriticalWeight
	case SeverityMajor:
		return c.MajorWeight
	default:
		return c.MinorWeight
	}
}

// QuotaConfig controls free-tier metering.
type QuotaConfig struct {
	// FreeCheckLimit is the number of free validations per window.
	FreeCheckLimit int `json:"freeCheckLimit"`

	// Window is the rolling usage window.
	Window time.Duration `json:"window"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// DefaultConfig returns a default configuration for the Community edition.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Edition: EditionCommunity,
		Rules: RulesConfig{
			Dir:                "./rulesets",
			BankProfilePath:    "./profiles/banks.yaml",
			Watch:              true,
			MaxConcurrentEvals: 10,
		},
		Scoring: ScoringConfig{
			CriticalWeight: 3,
			MajorWeight:    2,
			MinorWeight:    1,
		},
		Quota: QuotaConfig{
			FreeCheckLimit: 10,
			Window:         30 * 24 * time.Hour,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
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
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the Pro edition.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Edition = EditionPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
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
