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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Matcher   MatcherConfig   `yaml:"matcher" mapstructure:"matcher"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// MatcherConfig configures the matching tiers.
type MatcherConfig struct {
	FuzzyThreshold  float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	VectorThreshold float64 `yaml:"vector_threshold" mapstructure:"vector_threshold"`
	BucketBound     int     `yaml:"bucket_bound" mapstructure:"bucket_bound"`
	SizeTolerance   float64 `yaml:"size_tolerance" mapstructure:"size_tolerance"`
	LLMSampleSize   int     `yaml:"llm_sample_size" mapstructure:"llm_sample_size"`
	LLMBatchSize    int     `yaml:"llm_batch_size" mapstructure:"llm_batch_size"`
}

// AnthropicConfig holds Anthropic API settings for the arbitration tier.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxConcurrent     int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// ServerConfig configures the stats server.
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
	v.SetEnvPrefix("PRICEMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "pricematch.db")
	v.SetDefault("matcher.fuzzy_threshold", 0.85)
	v.SetDefault("matcher.vector_threshold", 0.78)
	v.SetDefault("matcher.bucket_bound", 300)
	v.SetDefault("matcher.size_tolerance", 0.20)
	v.SetDefault("matcher.llm_sample_size", 200)
	v.SetDefault("matcher.llm_batch_size", 10)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_concurrent", 4)
	v.SetDefault("anthropic.requests_per_second", 2.0)
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
