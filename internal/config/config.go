package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/LeadRouter/internal/scoring"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
	"github.com/MikeSquared-Agency/LeadRouter/internal/validate"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Hermes   HermesConfig   `yaml:"hermes"`
	CRM      CRMConfig      `yaml:"crm"`
	Routing  RoutingConfig  `yaml:"routing"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port               int    `yaml:"port" validate:"gte=1,lte=65535"`
	MetricsPort        int    `yaml:"metrics_port" validate:"gte=1,lte=65535"`
	AdminToken         string `yaml:"admin_token"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" validate:"gte=1"`
}

// DatabaseConfig selects Postgres; an empty URL runs on the in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig selects Redis capacity counters; an empty URL keeps them in memory.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type HermesConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

type CRMConfig struct {
	URL       string `yaml:"url" validate:"omitempty,url"`
	Token     string `yaml:"token"`
	TimeoutMs int    `yaml:"timeout_ms" validate:"gte=0"`
	// SnapshotPath loads a JSON fixture instead of calling the connector.
	SnapshotPath string `yaml:"snapshot_path"`
}

type RoutingConfig struct {
	Tenants            []string `yaml:"tenants"`
	BoardID            string   `yaml:"board_id"`
	AutoCommit         bool     `yaml:"auto_commit"`
	TickIntervalMs     int      `yaml:"tick_interval_ms" validate:"gte=100"`
	RescoreIntervalMs  int      `yaml:"rescore_interval_ms" validate:"gte=100"`
	RetryIntervalMs    int      `yaml:"retry_interval_ms" validate:"gte=100"`
	RetryAfterMs       int      `yaml:"retry_after_ms" validate:"gte=0"`
	WriteBackTimeoutMs int      `yaml:"write_back_timeout_ms" validate:"gte=1"`
	Workers            int      `yaml:"workers" validate:"gte=1,lte=64"`
	PreviewLimit       int      `yaml:"preview_limit" validate:"gte=1"`
	MaxPreviewLimit    int      `yaml:"max_preview_limit" validate:"gtefield=PreviewLimit"`
	AlternativesTopN   int      `yaml:"alternatives_top_n" validate:"gte=0,lte=20"`
}

// ScoringConfig is the fallback routing config for tenants with none stored.
type ScoringConfig struct {
	KPI      store.KPIConfig        `yaml:"kpi"`
	Capacity store.CapacitySettings `yaml:"capacity"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Routing.TickIntervalMs) * time.Millisecond
}

func (c *Config) RescoreInterval() time.Duration {
	return time.Duration(c.Routing.RescoreIntervalMs) * time.Millisecond
}

func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Routing.RetryIntervalMs) * time.Millisecond
}

// RetryAfter is how long an APPROVED proposal waits before the retry loop
// repeats its write-back.
func (c *Config) RetryAfter() time.Duration {
	return time.Duration(c.Routing.RetryAfterMs) * time.Millisecond
}

func (c *Config) WriteBackTimeout() time.Duration {
	return time.Duration(c.Routing.WriteBackTimeoutMs) * time.Millisecond
}

func (c *Config) CRMTimeout() time.Duration {
	return time.Duration(c.CRM.TimeoutMs) * time.Millisecond
}

// DefaultRoutingConfig builds the fallback routing config for a tenant.
func (c *Config) DefaultRoutingConfig(tenant string) *store.RoutingConfig {
	kpi := c.Scoring.KPI
	kpi.FieldMapping = make(map[string]string, len(c.Scoring.KPI.FieldMapping))
	for k, v := range c.Scoring.KPI.FieldMapping {
		kpi.FieldMapping[k] = v
	}
	return &store.RoutingConfig{
		Tenant:   tenant,
		KPI:      kpi,
		Capacity: c.Scoring.Capacity,
	}
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               8700,
			MetricsPort:        8701,
			RateLimitPerMinute: 120,
		},
		Hermes: HermesConfig{
			URL:   "nats://localhost:4222",
			Queue: "leadrouter",
		},
		CRM: CRMConfig{
			TimeoutMs: 10000,
		},
		Routing: RoutingConfig{
			TickIntervalMs:     60000,
			RescoreIntervalMs:  300000,
			RetryIntervalMs:    30000,
			RetryAfterMs:       60000,
			WriteBackTimeoutMs: 15000,
			Workers:            8,
			PreviewLimit:       50,
			MaxPreviewLimit:    500,
			AlternativesTopN:   3,
		},
		Scoring: ScoringConfig{
			KPI: scoring.DefaultKPIConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and the fallback KPI config.
func (c *Config) Validate() error {
	fieldErrs, err := validate.Struct(c)
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if len(fieldErrs) > 0 {
		return fmt.Errorf("invalid config: %s", validate.Summary(fieldErrs))
	}
	if err := scoring.ValidateConfig(&c.Scoring.KPI); err != nil {
		return fmt.Errorf("invalid scoring config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	envInt("LEADROUTER_PORT", &cfg.Server.Port)
	envInt("LEADROUTER_METRICS_PORT", &cfg.Server.MetricsPort)
	envInt("LEADROUTER_RATE_LIMIT_PER_MINUTE", &cfg.Server.RateLimitPerMinute)
	if v := os.Getenv("LEADROUTER_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("LEADROUTER_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("LEADROUTER_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v, ok := os.LookupEnv("LEADROUTER_HERMES_URL"); ok {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("LEADROUTER_CRM_URL"); v != "" {
		cfg.CRM.URL = v
	}
	if v := os.Getenv("LEADROUTER_CRM_TOKEN"); v != "" {
		cfg.CRM.Token = v
	}
	if v := os.Getenv("LEADROUTER_CRM_SNAPSHOT_PATH"); v != "" {
		cfg.CRM.SnapshotPath = v
	}
	if v := os.Getenv("LEADROUTER_TENANTS"); v != "" {
		cfg.Routing.Tenants = splitList(v)
	}
	if v := os.Getenv("LEADROUTER_AUTO_COMMIT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Routing.AutoCommit = b
		}
	}
	envInt("LEADROUTER_TICK_INTERVAL_MS", &cfg.Routing.TickIntervalMs)
	envInt("LEADROUTER_RESCORE_INTERVAL_MS", &cfg.Routing.RescoreIntervalMs)
	envInt("LEADROUTER_WORKERS", &cfg.Routing.Workers)
	if v := os.Getenv("LEADROUTER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LEADROUTER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
