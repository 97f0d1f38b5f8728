package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LogLevel         string          `mapstructure:"log_level"`
	Tenant           string          `mapstructure:"tenant"`
	Backend          BackendConfig   `mapstructure:"backend"`
	BootstrapTimeout time.Duration   `mapstructure:"bootstrap_timeout"`
	UploadTimeout    time.Duration   `mapstructure:"upload_timeout"`
	Retry            RetryConfig     `mapstructure:"retry"`
	History          HistoryConfig   `mapstructure:"history"`
	DevServer        DevServerConfig `mapstructure:"devserver"`
	LLM              LLMConfig       `mapstructure:"llm"`
}

// BackendConfig points the client at a tenant-scoped chat backend.
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// RetryConfig controls how chat sends are retried.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	RetryHTTPErrors bool          `mapstructure:"retry_http_errors"`
}

// HistoryConfig enables the local SQLite transcript when Path is set.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// DevServerConfig configures the local tenant backend.
type DevServerConfig struct {
	Addr      string         `mapstructure:"addr"`
	PublicURL string         `mapstructure:"public_url"`
	Tenants   []TenantConfig `mapstructure:"tenants"`
}

// TenantConfig describes one tenant served by the dev backend.
type TenantConfig struct {
	Slug        string `mapstructure:"slug"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

// LLMConfig holds the LLM configuration used by the dev backend to
// generate agent replies. Empty Model means replies are echoed.
type LLMConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// Enabled reports whether a model is configured.
func (c LLMConfig) Enabled() bool {
	return c.Model != "" && c.APIKey != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	// keys without a meaningful default are still registered so AutomaticEnv
	// can populate them during Unmarshal
	v.SetDefault("tenant", "")
	v.SetDefault("history.path", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("backend.base_url", "http://localhost:8000/api")
	v.SetDefault("bootstrap_timeout", 30*time.Second)
	v.SetDefault("upload_timeout", 60*time.Second)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.attempt_timeout", 30*time.Second)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.retry_http_errors", true)
	v.SetDefault("devserver.addr", ":8000")
	v.SetDefault("devserver.public_url", "")
}

// Load reads configuration from path, CONFIG_PATH, or ./config.yaml, in that
// order. Environment variables prefixed with TENANTCHAT_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("tenantchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the chat engine cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("backend.base_url is required")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.AttemptTimeout <= 0 {
		return fmt.Errorf("retry.attempt_timeout must be positive, got %s", c.Retry.AttemptTimeout)
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must not be negative, got %s", c.Retry.BaseDelay)
	}
	if c.BootstrapTimeout <= 0 {
		return fmt.Errorf("bootstrap_timeout must be positive, got %s", c.BootstrapTimeout)
	}
	if c.UploadTimeout <= 0 {
		return fmt.Errorf("upload_timeout must be positive, got %s", c.UploadTimeout)
	}
	return nil
}
