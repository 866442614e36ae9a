package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SIGNAL_SERVER_PORT.
const EnvPrefix = "SIGNAL"

var defaults = map[string]any{
	"server.port":             8080,
	"server.log_level":        "info",
	"server.shutdown_timeout": 10 * time.Second,

	"database.url":            "",
	"database.max_open_conns": 10,
	"database.max_idle_conns": 5,

	"storage.driver":       DriverPostgres,
	"storage.progress_log": DriverPostgres,

	"redis.addr":         "",
	"redis.password":     "",
	"redis.db":           0,
	"redis.key_prefix":   "signal:",
	"redis.progress_ttl": 7 * 24 * time.Hour,

	"llm.gemini_api_key":      "",
	"llm.model_name":          "gemini-2.0-flash",
	"llm.temperature":         0.3,
	"llm.max_retries":         3,
	"llm.retry_delay_seconds": 2,

	"task.max_concurrent": 3,

	"pipeline.batch_size":           3,
	"pipeline.default_select_ratio": 0.5,
	"pipeline.screening_pool":       500,
	"pipeline.prompt_template_path": "",

	"broadcast.queue_size":         1000,
	"broadcast.replay_limit":       10,
	"broadcast.heartbeat_interval": 30 * time.Second,
	"broadcast.sweep_interval":     15 * time.Second,
	"broadcast.liveness_timeout":   90 * time.Second,

	"fusion.alpha": 0.4,

	"market_data.base_url":  "http://localhost:9000",
	"market_data.timeout":   15 * time.Second,
	"market_data.cache_ttl": time.Hour,
	"market_data.lookback":  120,

	"universe.format": "yaml",
	"universe.source": "universe.yaml",
}

// Load reads configuration from an optional config.yaml (working directory
// or ./config) and from SIGNAL_* environment variables. Environment variables
// take precedence. The result is validated before it is returned.
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
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

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	usesPostgres := c.Storage.Driver == DriverPostgres || c.Storage.ProgressLog == DriverPostgres
	if usesPostgres && c.Database.URL == "" {
		return errors.New("config validation failed: database.url is required for the postgres driver")
	}
	if c.Storage.ProgressLog == DriverRedis && !c.Redis.Enabled() {
		return errors.New("config validation failed: redis.addr is required for the redis progress log")
	}
	if c.Broadcast.LivenessTimeout <= c.Broadcast.HeartbeatInterval {
		return errors.New("config validation failed: broadcast.liveness_timeout must exceed broadcast.heartbeat_interval")
	}
	return nil
}
