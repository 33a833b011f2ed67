package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	TNVED     TNVEDConfig     `yaml:"tnved" mapstructure:"tnved"`
	EAEU      EAEUConfig      `yaml:"eaeu" mapstructure:"eaeu"`
	Qichacha  QichachaConfig  `yaml:"qichacha" mapstructure:"qichacha"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Airtable  AirtableConfig  `yaml:"airtable" mapstructure:"airtable"`
	Telegram  TelegramConfig  `yaml:"telegram" mapstructure:"telegram"`
	Quote     QuoteConfig     `yaml:"quote" mapstructure:"quote"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PipelineConfig bounds the run lifecycle.
type PipelineConfig struct {
	// RunDeadline is the overall wall-clock bound for a run; a run always
	// reaches a terminal state within this deadline plus a small epsilon.
	RunDeadline time.Duration `yaml:"run_deadline" mapstructure:"run_deadline"`
	// GracePeriod keeps terminal runs joinable so duplicate inquiries that
	// arrive shortly after completion receive the cached result.
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
	// Required lists the provider kinds a report cannot proceed without.
	Required []string `yaml:"required" mapstructure:"required"`
}

// ProviderTuning holds the per-provider resilience knobs.
type ProviderTuning struct {
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxAttempts      int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff   time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	BreakerThreshold int           `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" mapstructure:"breaker_cooldown"`
	CacheTTL         time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	MaxInflight      int           `yaml:"max_inflight" mapstructure:"max_inflight"`
	RatePerSec       float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ProvidersConfig holds tuning per provider kind.
type ProvidersConfig struct {
	Classification ProviderTuning `yaml:"classification" mapstructure:"classification"`
	Supplier       ProviderTuning `yaml:"supplier" mapstructure:"supplier"`
	Tariff         ProviderTuning `yaml:"tariff" mapstructure:"tariff"`
	Synthesis      ProviderTuning `yaml:"synthesis" mapstructure:"synthesis"`
}

// TNVEDConfig holds classification API settings.
type TNVEDConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	KedenKey      string `yaml:"keden_key" mapstructure:"keden_key"`
	KedenBaseURL  string `yaml:"keden_base_url" mapstructure:"keden_base_url"`
	MaxCandidates int    `yaml:"max_candidates" mapstructure:"max_candidates"`
}

// EAEUConfig holds EAEU commission API settings.
type EAEUConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// QichachaConfig holds supplier verification API credentials.
type QichachaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Secret  string `yaml:"secret" mapstructure:"secret"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds ai-synthesis settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AirtableConfig holds CRM persistence settings.
type AirtableConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseID  string  `yaml:"base_id" mapstructure:"base_id"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	Table   string  `yaml:"table" mapstructure:"table"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// TelegramConfig holds notification delivery settings. ChatID, when set,
// receives a message for every settled run in addition to webhook replies.
type TelegramConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	ChatID  int64  `yaml:"chat_id" mapstructure:"chat_id"`
}

// QuoteConfig configures the deterministic cost analysis.
type QuoteConfig struct {
	// TariffFile optionally overrides the built-in default rate table (YAML).
	TariffFile string `yaml:"tariff_file" mapstructure:"tariff_file"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Tuning returns the ProviderTuning for a provider kind name, falling back to
// classification's tuning for unknown names.
func (p ProvidersConfig) Tuning(kind string) ProviderTuning {
	switch kind {
	case "supplier":
		return p.Supplier
	case "tariff":
		return p.Tariff
	case "synthesis":
		return p.Synthesis
	default:
		return p.Classification
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LOGISTICS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "logistics.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("pipeline.run_deadline", "3m")
	v.SetDefault("pipeline.grace_period", "30s")
	v.SetDefault("pipeline.required", []string{"classification", "tariff"})

	for kind, tune := range map[string]map[string]any{
		"classification": {"timeout": "20s", "cache_ttl": "12h", "rate_per_sec": 5.0},
		"supplier":       {"timeout": "30s", "cache_ttl": "1h", "rate_per_sec": 2.0},
		"tariff":         {"timeout": "20s", "cache_ttl": "24h", "rate_per_sec": 5.0},
		"synthesis":      {"timeout": "60s", "cache_ttl": "0s", "rate_per_sec": 1.0},
	} {
		v.SetDefault("providers."+kind+".max_attempts", 3)
		v.SetDefault("providers."+kind+".initial_backoff", "500ms")
		v.SetDefault("providers."+kind+".breaker_threshold", 5)
		v.SetDefault("providers."+kind+".breaker_cooldown", "30s")
		v.SetDefault("providers."+kind+".max_inflight", 8)
		for key, val := range tune {
			v.SetDefault("providers."+kind+"."+key, val)
		}
	}

	v.SetDefault("tnved.base_url", "https://api.tnved.info")
	v.SetDefault("tnved.keden_base_url", "https://api.keden.kz")
	v.SetDefault("tnved.max_candidates", 3)
	v.SetDefault("eaeu.base_url", "https://nsi.eaeunion.org/api/v1")
	v.SetDefault("qichacha.base_url", "https://open.qichacha.com")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("airtable.base_url", "https://api.airtable.com/v0")
	v.SetDefault("airtable.table", "Reports")
	v.SetDefault("airtable.rps", 4)
	v.SetDefault("telegram.base_url", "https://api.telegram.org")

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
