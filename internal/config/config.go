package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
	Queue     QueueConfig     `mapstructure:"queue" validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker" validate:"required"`
	Gateway   GatewayConfig   `mapstructure:"gateway" validate:"required"`
	Router    RouterConfig    `mapstructure:"router" validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Content   ContentConfig   `mapstructure:"content" validate:"required"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// URL is only required when the postgres storage driver is selected.
type DatabaseConfig struct {
	URL      string `mapstructure:"url" validate:"omitempty,url"`
	MaxConns int    `mapstructure:"max_conns" validate:"gte=1"`
}

// AuthConfig contains the settings used to verify bearer tokens.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
	// TokenLifetime bounds tokens minted by the token command.
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// StorageConfig selects where tasks and queue messages live.
type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=memory postgres"`
}

// QueueConfig controls delivery of task references to workers.
type QueueConfig struct {
	// VisibilityTimeout is how long a delivered message stays invisible before
	// it is redelivered if not acknowledged.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"gt=0"`
	// Prefetch bounds unacknowledged deliveries held by one consumer.
	Prefetch     int           `mapstructure:"prefetch" validate:"gte=1"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Buffer       int           `mapstructure:"buffer" validate:"gte=1"`
}

// WorkerConfig controls the worker pool and the staleness sweeper.
type WorkerConfig struct {
	Count int `mapstructure:"count" validate:"gte=1"`
	// Embedded runs the worker pool inside the serve command.
	Embedded      bool          `mapstructure:"embedded"`
	ClaimLease    time.Duration `mapstructure:"claim_lease" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	StaleAfter    time.Duration `mapstructure:"stale_after" validate:"gt=0"`
	SweepBatch    int           `mapstructure:"sweep_batch" validate:"gte=1"`
}

// GatewayConfig is the single source of retry and timeout policy for every
// AI call regardless of task type.
type GatewayConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" validate:"gtefield=InitialBackoff"`
	CallTimeout       time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=1"`
}

// RouteTarget names a backend and model.
type RouteTarget struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=openai gemini anthropic"`
	Model   string `mapstructure:"model" validate:"required"`
}

// RouterConfig holds the per-class routing table.
type RouterConfig struct {
	Standard             RouteTarget `mapstructure:"standard"`
	Structured           RouteTarget `mapstructure:"structured"`
	LongContext          RouteTarget `mapstructure:"long_context"`
	Reasoning            RouteTarget `mapstructure:"reasoning"`
	LongContextThreshold int         `mapstructure:"long_context_threshold" validate:"gt=0"`
}

// Targets returns every configured target.
func (r RouterConfig) Targets() []RouteTarget {
	return []RouteTarget{r.Standard, r.Structured, r.LongContext, r.Reasoning}
}

// LLMConfig contains credentials and endpoints for AI backends.
type LLMConfig struct {
	OpenAIAPIKey     string `mapstructure:"openai_api_key"`
	OpenAIBaseURL    string `mapstructure:"openai_base_url" validate:"omitempty,url"`
	GeminiAPIKey     string `mapstructure:"gemini_api_key"`
	AnthropicAPIKey  string `mapstructure:"anthropic_api_key"`
	AnthropicBaseURL string `mapstructure:"anthropic_base_url" validate:"omitempty,url"`
	// PromptDir optionally overrides the built-in prompt templates.
	PromptDir string `mapstructure:"prompt_dir"`
}

// ContentConfig controls payload loading.
type ContentConfig struct {
	CacheTTL    time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	DocumentDir string        `mapstructure:"document_dir"`
}

// TelemetryConfig controls OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string `mapstructure:"service_name"`
}
