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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Backfill BackfillConfig `yaml:"backfill" mapstructure:"backfill"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProviderConfig holds upstream API settings. RatePerSec is the aggregate
// request budget shared by listing and detail calls.
type ProviderConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Username    string  `yaml:"username" mapstructure:"username"`
	Password    string  `yaml:"password" mapstructure:"password"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// BackfillConfig configures the chunked ingestion run.
type BackfillConfig struct {
	ChunkDays        int  `yaml:"chunk_days" mapstructure:"chunk_days"`
	Workers          int  `yaml:"workers" mapstructure:"workers"`
	ChunkRetries     int  `yaml:"chunk_retries" mapstructure:"chunk_retries"`
	EnrichRetries    int  `yaml:"enrich_retries" mapstructure:"enrich_retries"`
	RetryBackoffSecs int  `yaml:"retry_backoff_secs" mapstructure:"retry_backoff_secs"`
	SkipFailed       bool `yaml:"skip_failed" mapstructure:"skip_failed"`
}

// ServerConfig configures the status HTTP server.
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
	v.SetEnvPrefix("RACESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "racesync.db")
	v.SetDefault("provider.base_url", "https://api.theracingapi.com/v1")
	v.SetDefault("provider.rate_per_sec", 2.0)
	v.SetDefault("provider.burst", 2)
	v.SetDefault("provider.timeout_secs", 30)
	v.SetDefault("backfill.chunk_days", 90)
	v.SetDefault("backfill.workers", 4)
	v.SetDefault("backfill.chunk_retries", 3)
	v.SetDefault("backfill.enrich_retries", 3)
	v.SetDefault("backfill.retry_backoff_secs", 2)
	v.SetDefault("backfill.skip_failed", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the configuration for the given mode ("backfill",
// "serve", "migrate") and reports every problem at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "backfill":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Provider.BaseURL == "" {
			problems = append(problems, "provider.base_url is required")
		}
		if c.Provider.RatePerSec <= 0 {
			problems = append(problems, "provider.rate_per_sec must be > 0")
		}
		if c.Backfill.ChunkDays < 1 || c.Backfill.ChunkDays > 90 {
			problems = append(problems, "backfill.chunk_days must be between 1 and 90")
		}
		if c.Backfill.Workers < 1 || c.Backfill.Workers > 16 {
			problems = append(problems, "backfill.workers must be between 1 and 16")
		}
	case "serve":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "migrate":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
