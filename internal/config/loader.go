package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "corral.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.BaseDir, "CORRAL_BASE_DIR")
	setDuration(&cfg.SummaryInterval, "CORRAL_SUMMARY_INTERVAL")

	setInt(&cfg.Pool.MaxConcurrentAgents, "CORRAL_MAX_CONCURRENT_AGENTS")

	setDuration(&cfg.Watcher.PollInterval, "CORRAL_POLL_INTERVAL")
	setDuration(&cfg.Watcher.RequeueDelay, "CORRAL_REQUEUE_DELAY")
	setBool(&cfg.Watcher.Notify, "CORRAL_WATCH_NOTIFY")

	setDuration(&cfg.Timeouts.Simple, "CORRAL_TIMEOUT_SIMPLE")
	setDuration(&cfg.Timeouts.Moderate, "CORRAL_TIMEOUT_MODERATE")
	setDuration(&cfg.Timeouts.Complex, "CORRAL_TIMEOUT_COMPLEX")
	setDuration(&cfg.Timeouts.Max, "CORRAL_TIMEOUT_MAX")
	setDuration(&cfg.Timeouts.Extension, "CORRAL_TIMEOUT_EXTENSION")

	setDuration(&cfg.Heartbeat.SilenceWarning, "CORRAL_SILENCE_WARNING")
	setDuration(&cfg.Heartbeat.Timeout, "CORRAL_HEARTBEAT_TIMEOUT")
	setDuration(&cfg.Heartbeat.SweepInterval, "CORRAL_SWEEP_INTERVAL")
	setDuration(&cfg.Heartbeat.KillGrace, "CORRAL_KILL_GRACE")

	setBool(&cfg.Health.Enabled, "CORRAL_HEALTH_ENABLED")
	setDuration(&cfg.Health.Timeout, "CORRAL_HEALTH_TIMEOUT")
	setInt(&cfg.Health.BreakerMaxFailures, "CORRAL_HEALTH_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Health.BreakerCooldown, "CORRAL_HEALTH_BREAKER_COOLDOWN")

	setString(&cfg.Worker.Command, "CORRAL_WORKER_COMMAND")
	setStringSlice(&cfg.Worker.Args, "CORRAL_WORKER_ARGS")
	setStringSlice(&cfg.Worker.HealthArgs, "CORRAL_WORKER_HEALTH_ARGS")
	setString(&cfg.Worker.WorkDir, "CORRAL_WORKER_WORKDIR")

	setInt(&cfg.Context.InlineMaxBytes, "CORRAL_CONTEXT_INLINE_MAX_BYTES")

	setInt(&cfg.Output.ResultMaxBytes, "CORRAL_RESULT_MAX_BYTES")
	setBool(&cfg.Output.StreamLogs, "CORRAL_STREAM_LOGS")

	setBool(&cfg.Server.Enabled, "CORRAL_SERVER_ENABLED")
	setString(&cfg.Server.Port, "CORRAL_PORT")
	setString(&cfg.Server.CORSOrigin, "CORRAL_CORS_ORIGIN")

	setString(&cfg.Logging.Level, "CORRAL_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CORRAL_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CORRAL_LOG_ASYNC")

	setBool(&cfg.Telemetry.Enabled, "CORRAL_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "CORRAL_OTEL_ENDPOINT")

	setInt64(&cfg.Cache.MaxSizeMB, "CORRAL_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "CORRAL_CACHE_TTL")
}

// validate checks that required fields are set and thresholds are coherent.
func validate(cfg *Config) error {
	if cfg.BaseDir == "" {
		return errors.New("base_dir is required")
	}
	if cfg.Pool.MaxConcurrentAgents < 1 {
		return errors.New("pool.max_concurrent_agents must be >= 1")
	}
	if cfg.Watcher.PollInterval <= 0 {
		return errors.New("watcher.poll_interval must be positive")
	}
	if cfg.Watcher.RequeueDelay < 0 {
		return errors.New("watcher.requeue_delay must be non-negative")
	}
	for _, d := range []time.Duration{cfg.Timeouts.Simple, cfg.Timeouts.Moderate, cfg.Timeouts.Complex} {
		if d <= 0 {
			return errors.New("timeouts: all bucket timeouts must be positive")
		}
		if d > cfg.Timeouts.Max {
			return errors.New("timeouts: bucket timeout exceeds timeouts.max")
		}
	}
	if cfg.Timeouts.Extension <= 0 {
		return errors.New("timeouts.extension must be positive")
	}
	if cfg.Heartbeat.Timeout <= cfg.Heartbeat.SilenceWarning {
		return errors.New("heartbeat.timeout must exceed heartbeat.silence_warning")
	}
	if cfg.Heartbeat.SweepInterval <= 0 {
		return errors.New("heartbeat.sweep_interval must be positive")
	}
	if cfg.Heartbeat.KillGrace <= 0 {
		return errors.New("heartbeat.kill_grace must be positive")
	}
	if cfg.Worker.Command == "" {
		return errors.New("worker.command is required")
	}
	if cfg.Output.ResultMaxBytes < 1024 {
		return errors.New("output.result_max_bytes must be >= 1024")
	}
	if cfg.Server.Enabled && cfg.Server.Port == "" {
		return errors.New("server.port is required when server is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStringSlice splits a comma-separated env value into elements,
// trimming surrounding whitespace. An empty value leaves dst unchanged.
func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
