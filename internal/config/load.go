package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally a config file.
// Environment variables use the SCRY_ prefix with "_" in place of "."
// (SCRY_GATEWAY_MAX_ATTEMPTS) and take precedence over values from the file.
// Returns a populated Config or an error if loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("SCRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct tag validation followed by cross-section checks.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.Storage.Driver == "postgres" && c.Database.URL == "" {
		return errors.New("config validation failed: database.url is required for the postgres storage driver")
	}

	for _, target := range c.Router.Targets() {
		if !c.LLM.hasCredentials(target.Backend) {
			return fmt.Errorf("config validation failed: router uses backend %q but no API key is configured", target.Backend)
		}
	}

	return nil
}

func (l LLMConfig) hasCredentials(backend string) bool {
	switch backend {
	case "openai":
		return l.OpenAIAPIKey != ""
	case "gemini":
		return l.GeminiAPIKey != ""
	case "anthropic":
		return l.AnthropicAPIKey != ""
	default:
		return false
	}
}

// setDefaults registers a default for every key so AutomaticEnv can bind
// nested keys during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime", time.Hour)

	v.SetDefault("storage.driver", "memory")

	v.SetDefault("queue.visibility_timeout", 5*time.Minute)
	v.SetDefault("queue.prefetch", 4)
	v.SetDefault("queue.poll_interval", 2*time.Second)
	v.SetDefault("queue.buffer", 1000)

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.embedded", true)
	v.SetDefault("worker.claim_lease", 10*time.Minute)
	v.SetDefault("worker.sweep_interval", time.Minute)
	v.SetDefault("worker.stale_after", 2*time.Minute)
	v.SetDefault("worker.sweep_batch", 100)

	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.initial_backoff", time.Second)
	v.SetDefault("gateway.max_backoff", 20*time.Second)
	v.SetDefault("gateway.call_timeout", 60*time.Second)
	v.SetDefault("gateway.requests_per_second", 5.0)
	v.SetDefault("gateway.burst", 5)

	v.SetDefault("router.standard.backend", "openai")
	v.SetDefault("router.standard.model", "gpt-4o-mini")
	v.SetDefault("router.structured.backend", "openai")
	v.SetDefault("router.structured.model", "gpt-4o")
	v.SetDefault("router.long_context.backend", "gemini")
	v.SetDefault("router.long_context.model", "gemini-2.0-flash")
	v.SetDefault("router.reasoning.backend", "anthropic")
	v.SetDefault("router.reasoning.model", "claude-3-7-sonnet-latest")
	v.SetDefault("router.long_context_threshold", 48000)

	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.openai_base_url", "")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("llm.anthropic_base_url", "")
	v.SetDefault("llm.prompt_dir", "")

	v.SetDefault("content.cache_ttl", 10*time.Minute)
	v.SetDefault("content.document_dir", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "scry-tasks")
}
