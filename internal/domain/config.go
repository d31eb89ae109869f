package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	MinParallelism   = 1
	MaxParallelism   = 10
	MaxRetryAttempts = 10
)

// RequestConfig is the immutable parameter snapshot of a request
type RequestConfig struct {
	Quality         string `json:"quality" mapstructure:"quality"`
	Format          string `json:"format" mapstructure:"format"`
	OutputDirectory string `json:"output_directory" mapstructure:"output_directory"`
	Parallelism     int    `json:"parallelism" mapstructure:"parallelism"`
	ResumeEnabled   bool   `json:"resume_enabled" mapstructure:"resume_enabled"`
	RetryAttempts   int    `json:"retry_attempts" mapstructure:"retry_attempts"`
}

// Normalize clamps parallelism to 1..10 and retry attempts to 0..10
func (c RequestConfig) Normalize() RequestConfig {
	if c.Parallelism < MinParallelism {
		c.Parallelism = MinParallelism
	} else if c.Parallelism > MaxParallelism {
		c.Parallelism = MaxParallelism
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	} else if c.RetryAttempts > MaxRetryAttempts {
		c.RetryAttempts = MaxRetryAttempts
	}
	return c
}

// FormatSpec returns the quality/format pair handed to the fetcher
func (c RequestConfig) FormatSpec() FormatSpec {
	return FormatSpec{Quality: c.Quality, Format: c.Format}
}

// Fingerprint hashes the parameters that affect the on-disk byte layout
func (c RequestConfig) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.Quality + "\x00" + c.Format + "\x00" + c.OutputDirectory))
	return hex.EncodeToString(sum[:])
}

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Resume       ResumeConfig       `mapstructure:"resume"`
	Progress     ProgressConfig     `mapstructure:"progress"`
	Store        StoreConfig        `mapstructure:"store"`
	Events       EventsConfig       `mapstructure:"events"`
	Tools        ToolsConfig        `mapstructure:"tools"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// OrchestratorConfig contains scheduling defaults
type OrchestratorConfig struct {
	Defaults    RequestConfig `mapstructure:"defaults"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	PurgeAfter  int           `mapstructure:"purge_after"` // purge terminal tasks every N completions, 0 disables
}

// RetryConfig contains backoff parameters
type RetryConfig struct {
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	JitterFactor float64       `mapstructure:"jitter_factor"`
}

// ResumeConfig contains checkpoint storage configuration
type ResumeConfig struct {
	Backend       string  `mapstructure:"backend"`    // blob, redis or none
	BucketURL     string  `mapstructure:"bucket_url"` // file:///path or mem://
	RedisAddress  string  `mapstructure:"redis_address"`
	RedisPassword string  `mapstructure:"redis_password"`
	RedisDB       int     `mapstructure:"redis_db"`
	MaxAgeDays    int     `mapstructure:"max_age_days"`
	PercentStep   float64 `mapstructure:"percent_step"`
	ByteStep      int64   `mapstructure:"byte_step"`
}

// ProgressConfig contains progress emission configuration
type ProgressConfig struct {
	EmitInterval time.Duration `mapstructure:"emit_interval"`
	Console      bool          `mapstructure:"console"`
}

// StoreConfig contains task history configuration
type StoreConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// EventsConfig contains task event publishing configuration
type EventsConfig struct {
	KafkaBrokers string `mapstructure:"kafka_brokers"`
	KafkaTopic   string `mapstructure:"kafka_topic"`
	Notify       bool   `mapstructure:"notify"`
	NotifyMethod string `mapstructure:"notify_method"` // osascript, notify-send
}

// ToolsConfig contains external binary locations
type ToolsConfig struct {
	YTDLPBinary  string `mapstructure:"ytdlp_binary"`
	FFmpegBinary string `mapstructure:"ffmpeg_binary"`
	LogsDir      string `mapstructure:"logs_dir"`
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8090,
		},
		Orchestrator: OrchestratorConfig{
			Defaults: RequestConfig{
				Quality:         "best",
				Format:          "mp4",
				OutputDirectory: "$HOME/Downloads/fetchq",
				Parallelism:     3,
				ResumeEnabled:   true,
				RetryAttempts:   3,
			},
			PollTimeout: 200 * time.Millisecond,
			PurgeAfter:  100,
		},
		Retry: RetryConfig{
			BaseDelay:    time.Second,
			MaxDelay:     60 * time.Second,
			JitterFactor: 0.1,
		},
		Resume: ResumeConfig{
			Backend:      "blob",
			BucketURL:    "file://$HOME/.fetchq/resume",
			RedisAddress: "localhost:6379",
			MaxAgeDays:   7,
			PercentStep:  5,
			ByteStep:     10 * 1024 * 1024,
		},
		Progress: ProgressConfig{
			EmitInterval: 500 * time.Millisecond,
			Console:      true,
		},
		Store: StoreConfig{
			DatabasePath: "$HOME/.fetchq/history.db",
		},
		Events: EventsConfig{
			KafkaTopic:   "fetchq-task-events",
			NotifyMethod: "notify-send",
		},
		Tools: ToolsConfig{
			YTDLPBinary:  "yt-dlp",
			FFmpegBinary: "ffmpeg",
			LogsDir:      "$HOME/.fetchq/logs",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stderr",
		},
	}
}
