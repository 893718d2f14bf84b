package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity   PerplexityConfig   `yaml:"perplexity" mapstructure:"perplexity"`
	Salesforce   SalesforceConfig   `yaml:"salesforce" mapstructure:"salesforce"`
	Notify       NotifyConfig       `yaml:"notify" mapstructure:"notify"`
	Lease        LeaseConfig        `yaml:"lease" mapstructure:"lease"`
	Heartbeat    HeartbeatConfig    `yaml:"heartbeat" mapstructure:"heartbeat"`
	Discovery    DiscoveryConfig    `yaml:"discovery" mapstructure:"discovery"`
	Contacts     ContactsConfig     `yaml:"contacts" mapstructure:"contacts"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Worker       WorkerConfig       `yaml:"worker" mapstructure:"worker"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// SalesforceConfig holds Salesforce JWT auth settings for CRM suppression.
// All fields empty disables suppression entirely.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// NotifyConfig holds the outbound event webhook.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LeaseConfig sizes work-unit leases.
type LeaseConfig struct {
	Seconds int `yaml:"seconds" mapstructure:"seconds"`
}

// HeartbeatConfig configures the emitter and the liveness monitor.
type HeartbeatConfig struct {
	IntervalSecs   int `yaml:"interval_secs" mapstructure:"interval_secs"`
	DeadMultiplier int `yaml:"dead_multiplier" mapstructure:"dead_multiplier"`
	SweepSecs      int `yaml:"sweep_secs" mapstructure:"sweep_secs"`
	StaleHours     int `yaml:"stale_hours" mapstructure:"stale_hours"`
}

// DiscoveryConfig configures the discovery stage.
type DiscoveryConfig struct {
	OversampleFactor float64 `yaml:"oversample_factor" mapstructure:"oversample_factor"`
	PoolSize         int     `yaml:"pool_size" mapstructure:"pool_size"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ContactsConfig bounds contacts per promoted company.
type ContactsConfig struct {
	Min         int `yaml:"min_per_company" mapstructure:"min_per_company"`
	Max         int `yaml:"max_per_company" mapstructure:"max_per_company"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// RetryConfig sizes the retry presets.
type RetryConfig struct {
	DiscoveryAttempts int `yaml:"discovery_attempts" mapstructure:"discovery_attempts"`
	StoreAttempts     int `yaml:"store_attempts" mapstructure:"store_attempts"`
}

// WorkerConfig configures the poll loop.
type WorkerConfig struct {
	IdleSleepSecs int `yaml:"idle_sleep_secs" mapstructure:"idle_sleep_secs"`
}

// OrchestratorConfig bounds gap-closing escalation.
type OrchestratorConfig struct {
	MaxCloseAttempts int `yaml:"max_close_attempts" mapstructure:"max_close_attempts"`
}

// ServerConfig configures the status API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CAMPAIGN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("lease.seconds", 300)
	v.SetDefault("heartbeat.interval_secs", 30)
	v.SetDefault("heartbeat.dead_multiplier", 5)
	v.SetDefault("heartbeat.sweep_secs", 60)
	v.SetDefault("heartbeat.stale_hours", 24)
	v.SetDefault("discovery.oversample_factor", 2.0)
	v.SetDefault("discovery.pool_size", 4)
	v.SetDefault("discovery.rate_per_sec", 2.0)
	v.SetDefault("contacts.min_per_company", 2)
	v.SetDefault("contacts.max_per_company", 3)
	v.SetDefault("contacts.max_attempts", 3)
	v.SetDefault("retry.discovery_attempts", 3)
	v.SetDefault("retry.store_attempts", 5)
	v.SetDefault("worker.idle_sleep_secs", 15)
	v.SetDefault("orchestrator.max_close_attempts", 3)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields the given mode actually needs. Modes map to
// commands: worker, monitor, serve, run, migrate.
func (c *Config) Validate(mode string) error {
	var problems []string

	needDB := func() {
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}

	switch mode {
	case "worker":
		needDB()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Perplexity.Key == "" {
			problems = append(problems, "perplexity.key is required")
		}
		if c.Discovery.OversampleFactor < 1.0 {
			problems = append(problems, "discovery.oversample_factor must be >= 1.0")
		}
		if c.Contacts.Min < 1 || c.Contacts.Max < c.Contacts.Min {
			problems = append(problems, "contacts bounds must satisfy 1 <= min <= max")
		}
	case "monitor":
		needDB()
		if c.Heartbeat.DeadMultiplier < 2 {
			problems = append(problems, "heartbeat.dead_multiplier must be >= 2")
		}
	case "serve":
		needDB()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "run", "migrate":
		needDB()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Lease.Seconds <= 0 {
		problems = append(problems, "lease.seconds must be > 0")
	}
	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
