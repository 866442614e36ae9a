package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage" validate:"required"`
	Redis      RedisConfig      `mapstructure:"redis"`
	LLM        LLMConfig        `mapstructure:"llm" validate:"required"`
	Task       TaskConfig       `mapstructure:"task" validate:"required"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" validate:"required"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast" validate:"required"`
	Fusion     FusionConfig     `mapstructure:"fusion"`
	MarketData MarketDataConfig `mapstructure:"market_data" validate:"required"`
	Universe   UniverseConfig   `mapstructure:"universe" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// URL is only required when a Postgres backed store is selected.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// Storage driver names.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
)

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	// Driver stores tasks and results.
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres memory"`
	// ProgressLog stores progress events.
	ProgressLog string `mapstructure:"progress_log" validate:"required,oneof=postgres redis memory"`
}

// RedisConfig configures the Redis client used for the progress log and the
// market data cache.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db" validate:"gte=0"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	ProgressTTL time.Duration `mapstructure:"progress_ttl" validate:"gte=0"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey      string  `mapstructure:"gemini_api_key" validate:"required"`
	ModelName         string  `mapstructure:"model_name" validate:"required"`
	Temperature       float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxRetries        int     `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"gte=1,lte=60"`
}

// TaskConfig configures the task manager.
type TaskConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"required,gte=1,lte=64"`
}

// PipelineConfig configures the recommendation pipeline.
type PipelineConfig struct {
	BatchSize          int     `mapstructure:"batch_size" validate:"required,gte=1,lte=32"`
	DefaultSelectRatio float64 `mapstructure:"default_select_ratio" validate:"gt=0,lte=1"`
	ScreeningPool      int     `mapstructure:"screening_pool" validate:"required,gte=1"`
	// PromptTemplatePath optionally overrides the built-in analysis prompt.
	PromptTemplatePath string `mapstructure:"prompt_template_path"`
}

// BroadcastConfig configures live progress delivery.
type BroadcastConfig struct {
	QueueSize         int           `mapstructure:"queue_size" validate:"required,gte=1"`
	ReplayLimit       int           `mapstructure:"replay_limit" validate:"gte=0,lte=1000"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	LivenessTimeout   time.Duration `mapstructure:"liveness_timeout" validate:"gt=0"`
}

// FusionConfig configures score fusion.
type FusionConfig struct {
	Alpha float64 `mapstructure:"alpha" validate:"gte=0,lte=1"`
}

// MarketDataConfig configures the daily bar source.
type MarketDataConfig struct {
	BaseURL  string        `mapstructure:"base_url" validate:"required,url"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	Lookback int           `mapstructure:"lookback" validate:"gte=60"`
}

// UniverseConfig locates the tradable universe listing.
type UniverseConfig struct {
	Format string `mapstructure:"format" validate:"required,oneof=yaml html"`
	// Source is a file path or an http(s) URL.
	Source string `mapstructure:"source" validate:"required"`
}
