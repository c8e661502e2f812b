package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/pennsieve/pennsieve-go-bedrock/llm"
)

// Config holds all configuration for bedrockctl.
type Config struct {
	CredentialsPath string  `mapstructure:"credentials_path"`
	Region          string  `mapstructure:"region"`
	Model           string  `mapstructure:"model"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	EnableCaching   bool    `mapstructure:"enable_caching"`
	CatalogFile     string  `mapstructure:"catalog_file"`
	ProxyFunction   string  `mapstructure:"proxy_function"`
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateBurst       int     `mapstructure:"rate_burst"`
	ExportEnv       bool    `mapstructure:"export_env"`
	ForceEnv        bool    `mapstructure:"force_env"`
	LogLevel        string  `mapstructure:"log_level"`
}

// Load reads configuration from file, environment, and defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("credentials_path", "")
	v.SetDefault("region", "")
	v.SetDefault("model", "Claude 3.5 Haiku")
	v.SetDefault("temperature", 0.0)
	v.SetDefault("max_tokens", llm.DefaultMaxTokens)
	v.SetDefault("enable_caching", true)
	v.SetDefault("catalog_file", "")
	v.SetDefault("proxy_function", "")
	v.SetDefault("rate_limit", 0.0)
	v.SetDefault("rate_burst", 1)
	v.SetDefault("export_env", false)
	v.SetDefault("force_env", false)
	v.SetDefault("log_level", "info")

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("bedrock")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/bedrock")
	}

	// Environment variables
	v.SetEnvPrefix("BEDROCK")
	v.AutomaticEnv()

	// Bind specific env vars
	_ = v.BindEnv("region", "BEDROCK_REGION", "AWS_REGION", "AWS_DEFAULT_REGION")
	_ = v.BindEnv("proxy_function", "BEDROCK_PROXY_FUNCTION", "LLM_PROXY_FUNCTION")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if _, err := cfg.RequestConfig(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Level(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// RequestConfig returns the validated sampling settings.
func (c *Config) RequestConfig() (llm.RequestConfig, error) {
	return llm.NewRequestConfig(c.Temperature, c.MaxTokens, c.EnableCaching)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
