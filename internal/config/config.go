// Package config loads and validates orchestrator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Depth      DepthConfig      `mapstructure:"depth"`
	Priority   PriorityConfig   `mapstructure:"priority"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	DB         DBConfig         `mapstructure:"db"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PipelineConfig governs stage execution.
type PipelineConfig struct {
	DataDir             string `mapstructure:"data_dir"`
	SeedFile            string `mapstructure:"seed_file"`
	Workers             int    `mapstructure:"workers"`
	BatchSize           int    `mapstructure:"batch_size"`
	QueueCapacity       int    `mapstructure:"queue_capacity"`
	BatchTimeoutSeconds int    `mapstructure:"batch_timeout_seconds"`
}

// DepthConfig bounds adaptive depth recommendations.
type DepthConfig struct {
	Base int `mapstructure:"base"`
	Max  int `mapstructure:"max"`
}

// PriorityConfig selects the batch ordering strategy.
type PriorityConfig struct {
	Strategy   string  `mapstructure:"strategy"`
	Ablation   bool    `mapstructure:"ablation"`
	SplitRatio float64 `mapstructure:"split_ratio"`
	Seed       int64   `mapstructure:"seed"`
}

// ScoringConfig tunes the link-graph importance computation.
type ScoringConfig struct {
	Damping       float64 `mapstructure:"damping"`
	MaxIterations int     `mapstructure:"max_iterations"`
	Tolerance     float64 `mapstructure:"tolerance"`
}

// RetryConfig sets per-class retry budgets and the backoff curve.
type RetryConfig struct {
	TransientMaxAttempts int     `mapstructure:"transient_max_attempts"`
	RateLimitMaxAttempts int     `mapstructure:"rate_limit_max_attempts"`
	BaseDelayMs          int     `mapstructure:"base_delay_ms"`
	RateLimitBaseDelayMs int     `mapstructure:"rate_limit_base_delay_ms"`
	MaxDelayMs           int     `mapstructure:"max_delay_ms"`
	Multiplier           float64 `mapstructure:"multiplier"`
	JitterFactor         float64 `mapstructure:"jitter_factor"`
}

// BreakerConfig tunes the per-domain circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	SuccessThreshold int `mapstructure:"success_threshold"`
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
}

// RateLimitConfig sets the per-domain token bucket.
type RateLimitConfig struct {
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// CheckpointConfig controls durable progress persistence.
type CheckpointConfig struct {
	Dir                  string `mapstructure:"dir"`
	FlushEvery           int    `mapstructure:"flush_every"`
	FlushIntervalSeconds int    `mapstructure:"flush_interval_seconds"`
}

// DBConfig controls the durable dedup and graph stores. An empty DSN selects
// the in-memory implementations.
type DBConfig struct {
	DSN        string `mapstructure:"dsn"`
	DedupTable string `mapstructure:"dedup_table"`
}

// StorageConfig selects the stage-output archive backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for stage-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.data_dir", "data")
	v.SetDefault("pipeline.seed_file", "data/seeds.ndjson")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.queue_capacity", 200)
	v.SetDefault("pipeline.batch_timeout_seconds", 2)
	v.SetDefault("depth.base", 3)
	v.SetDefault("depth.max", 10)
	v.SetDefault("priority.strategy", "score")
	v.SetDefault("priority.split_ratio", 0.5)
	v.SetDefault("scoring.damping", 0.85)
	v.SetDefault("scoring.max_iterations", 50)
	v.SetDefault("scoring.tolerance", 1e-6)
	v.SetDefault("retry.transient_max_attempts", 3)
	v.SetDefault("retry.rate_limit_max_attempts", 5)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.rate_limit_base_delay_ms", 5000)
	v.SetDefault("retry.max_delay_ms", 60000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_factor", 0.2)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.timeout_seconds", 60)
	v.SetDefault("rate_limit.default_rps", 2.0)
	v.SetDefault("rate_limit.default_burst", 1)
	v.SetDefault("checkpoint.dir", "data/checkpoints")
	v.SetDefault("checkpoint.flush_every", 50)
	v.SetDefault("checkpoint.flush_interval_seconds", 5)
	v.SetDefault("db.dedup_table", "seen_urls")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data/archive")
	v.SetDefault("storage.prefix", "stages")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Depth.Base <= 0 || c.Depth.Max < c.Depth.Base {
		return fmt.Errorf("depth.base must be > 0 and depth.max >= depth.base")
	}
	if c.Scoring.Damping <= 0 || c.Scoring.Damping >= 1 {
		return fmt.Errorf("scoring.damping must be in (0,1)")
	}
	switch c.Priority.Strategy {
	case "score", "fifo", "depth", "random":
	default:
		return fmt.Errorf("priority.strategy %q unknown", c.Priority.Strategy)
	}
	switch c.Storage.Backend {
	case "local", "memory", "gcs":
	default:
		return fmt.Errorf("storage.backend %q unknown", c.Storage.Backend)
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	return nil
}

// BatchTimeout returns the consumer batch wait as a duration.
func (c Config) BatchTimeout() time.Duration {
	return time.Duration(c.Pipeline.BatchTimeoutSeconds) * time.Second
}

// BreakerTimeout returns the circuit cool-down as a duration.
func (c Config) BreakerTimeout() time.Duration {
	return time.Duration(c.Breaker.TimeoutSeconds) * time.Second
}
