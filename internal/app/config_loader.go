package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/yourusername/fetchq-go/internal/domain"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.fetchq")
		v.AddConfigPath("/etc/fetchq")
	}

	// Environment overrides only reach Unmarshal for keys viper knows about
	setDefaults(v, config)

	v.SetEnvPrefix("FETCHQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper, config *domain.Config) {
	v.SetDefault("server.host", config.Server.Host)
	v.SetDefault("server.port", config.Server.Port)

	d := config.Orchestrator.Defaults
	v.SetDefault("orchestrator.defaults.quality", d.Quality)
	v.SetDefault("orchestrator.defaults.format", d.Format)
	v.SetDefault("orchestrator.defaults.output_directory", d.OutputDirectory)
	v.SetDefault("orchestrator.defaults.parallelism", d.Parallelism)
	v.SetDefault("orchestrator.defaults.resume_enabled", d.ResumeEnabled)
	v.SetDefault("orchestrator.defaults.retry_attempts", d.RetryAttempts)
	v.SetDefault("orchestrator.poll_timeout", config.Orchestrator.PollTimeout)
	v.SetDefault("orchestrator.purge_after", config.Orchestrator.PurgeAfter)

	v.SetDefault("retry.base_delay", config.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", config.Retry.MaxDelay)
	v.SetDefault("retry.jitter_factor", config.Retry.JitterFactor)

	v.SetDefault("resume.backend", config.Resume.Backend)
	v.SetDefault("resume.bucket_url", config.Resume.BucketURL)
	v.SetDefault("resume.redis_address", config.Resume.RedisAddress)
	v.SetDefault("resume.redis_password", config.Resume.RedisPassword)
	v.SetDefault("resume.redis_db", config.Resume.RedisDB)
	v.SetDefault("resume.max_age_days", config.Resume.MaxAgeDays)
	v.SetDefault("resume.percent_step", config.Resume.PercentStep)
	v.SetDefault("resume.byte_step", config.Resume.ByteStep)

	v.SetDefault("progress.emit_interval", config.Progress.EmitInterval)
	v.SetDefault("progress.console", config.Progress.Console)

	v.SetDefault("store.database_path", config.Store.DatabasePath)

	v.SetDefault("events.kafka_brokers", config.Events.KafkaBrokers)
	v.SetDefault("events.kafka_topic", config.Events.KafkaTopic)
	v.SetDefault("events.notify", config.Events.Notify)
	v.SetDefault("events.notify_method", config.Events.NotifyMethod)

	v.SetDefault("tools.ytdlp_binary", config.Tools.YTDLPBinary)
	v.SetDefault("tools.ffmpeg_binary", config.Tools.FFmpegBinary)
	v.SetDefault("tools.logs_dir", config.Tools.LogsDir)

	v.SetDefault("logging.level", config.Logging.Level)
	v.SetDefault("logging.format", config.Logging.Format)
	v.SetDefault("logging.output_path", config.Logging.OutputPath)
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Orchestrator.Defaults.OutputDirectory = expandPath(config.Orchestrator.Defaults.OutputDirectory)
	config.Store.DatabasePath = expandPath(config.Store.DatabasePath)
	config.Tools.LogsDir = expandPath(config.Tools.LogsDir)
	config.Resume.BucketURL = expandPath(config.Resume.BucketURL)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if strings.Contains(path, "$HOME") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	path = os.ExpandEnv(path)

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return path
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	d := config.Orchestrator.Defaults
	if d.OutputDirectory == "" {
		return fmt.Errorf("output directory not configured")
	}
	if d.Parallelism < domain.MinParallelism || d.Parallelism > domain.MaxParallelism {
		return fmt.Errorf("parallelism must be between %d and %d, got %d",
			domain.MinParallelism, domain.MaxParallelism, d.Parallelism)
	}
	if d.RetryAttempts < 0 || d.RetryAttempts > domain.MaxRetryAttempts {
		return fmt.Errorf("retry attempts must be between 0 and %d, got %d", domain.MaxRetryAttempts, d.RetryAttempts)
	}

	if config.Retry.BaseDelay <= 0 || config.Retry.MaxDelay < config.Retry.BaseDelay {
		return fmt.Errorf("invalid retry delays: base %s, max %s", config.Retry.BaseDelay, config.Retry.MaxDelay)
	}
	if config.Retry.JitterFactor < 0 {
		return fmt.Errorf("jitter factor cannot be negative")
	}

	switch config.Resume.Backend {
	case "blob":
		if config.Resume.BucketURL == "" {
			return fmt.Errorf("resume bucket url not configured")
		}
	case "redis":
		if config.Resume.RedisAddress == "" {
			return fmt.Errorf("resume redis address not configured")
		}
	case "none":
	default:
		return fmt.Errorf("unknown resume backend: %q", config.Resume.Backend)
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}
