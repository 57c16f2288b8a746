// Package config provides hierarchical configuration loading for Corral.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the Corral coordinator.
// It is resolved once at startup and treated as immutable afterwards.
type Config struct {
	BaseDir         string        `yaml:"base_dir"`
	SummaryInterval time.Duration `yaml:"summary_interval"`

	Pool      Pool      `yaml:"pool"`
	Watcher   Watcher   `yaml:"watcher"`
	Timeouts  Timeouts  `yaml:"timeouts"`
	Heartbeat Heartbeat `yaml:"heartbeat"`
	Health    Health    `yaml:"health"`
	Worker    Worker    `yaml:"worker"`
	Context   Context   `yaml:"context"`
	Output    Output    `yaml:"output"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Telemetry Telemetry `yaml:"telemetry"`
	Cache     Cache     `yaml:"cache"`
}

// Pool holds admission control configuration.
type Pool struct {
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`
}

// Watcher holds pending-queue discovery configuration.
type Watcher struct {
	PollInterval time.Duration `yaml:"poll_interval"` // fallback scan interval
	RequeueDelay time.Duration `yaml:"requeue_delay"` // delay before a rejected request returns to pending
	Notify       bool          `yaml:"notify"`        // enable fsnotify on pending/
}

// Timeouts holds per-complexity-bucket timeout budgets. All buckets share
// one hard ceiling (Max) and one extension step.
type Timeouts struct {
	Simple    time.Duration `yaml:"simple"`
	Moderate  time.Duration `yaml:"moderate"`
	Complex   time.Duration `yaml:"complex"`
	Max       time.Duration `yaml:"max"`
	Extension time.Duration `yaml:"extension"`
}

// Heartbeat holds output-liveness supervision configuration.
type Heartbeat struct {
	SilenceWarning time.Duration `yaml:"silence_warning"` // silence above this logs a warning
	Timeout        time.Duration `yaml:"timeout"`         // silence above this kills the worker
	SweepInterval  time.Duration `yaml:"sweep_interval"`  // supervisor sweep period
	KillGrace      time.Duration `yaml:"kill_grace"`      // SIGTERM-to-SIGKILL grace period
}

// Health holds worker runtime health-probe configuration.
type Health struct {
	Enabled            bool          `yaml:"enabled"`
	Timeout            time.Duration `yaml:"timeout"`
	BreakerMaxFailures int           `yaml:"breaker_max_failures"`
	BreakerCooldown    time.Duration `yaml:"breaker_cooldown"`
}

// Worker holds the external worker executable configuration.
type Worker struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	HealthArgs []string `yaml:"health_args"`
	WorkDir    string   `yaml:"workdir"`
}

// Context holds context-externalization configuration.
type Context struct {
	InlineMaxBytes int `yaml:"inline_max_bytes"`
}

// Output holds result and transcript capture configuration.
type Output struct {
	ResultMaxBytes int  `yaml:"result_max_bytes"`
	StreamLogs     bool `yaml:"stream_logs"`
}

// Server holds the read-only status API configuration.
type Server struct {
	Enabled    bool   `yaml:"enabled"`
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Telemetry holds OpenTelemetry metrics export configuration.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Cache holds the result-document cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		BaseDir:         ".corral",
		SummaryInterval: time.Minute,
		Pool: Pool{
			MaxConcurrentAgents: 4,
		},
		Watcher: Watcher{
			PollInterval: 2 * time.Second,
			RequeueDelay: 5 * time.Second,
			Notify:       true,
		},
		Timeouts: Timeouts{
			Simple:    2 * time.Minute,
			Moderate:  5 * time.Minute,
			Complex:   10 * time.Minute,
			Max:       30 * time.Minute,
			Extension: 2 * time.Minute,
		},
		Heartbeat: Heartbeat{
			SilenceWarning: 45 * time.Second,
			Timeout:        90 * time.Second,
			SweepInterval:  time.Second,
			KillGrace:      10 * time.Second,
		},
		Health: Health{
			Enabled:            true,
			Timeout:            5 * time.Second,
			BreakerMaxFailures: 3,
			BreakerCooldown:    time.Minute,
		},
		Worker: Worker{
			Command:    "claude",
			Args:       []string{"-p"},
			HealthArgs: []string{"--version"},
		},
		Context: Context{
			InlineMaxBytes: 4096,
		},
		Output: Output{
			ResultMaxBytes: 64 * 1024,
			StreamLogs:     true,
		},
		Server: Server{
			Enabled:    true,
			Port:       "7777",
			CORSOrigin: "http://localhost:3000",
		},
		Logging: Logging{
			Level:   "info",
			Service: "corral",
		},
		Telemetry: Telemetry{
			Enabled:  false,
			Endpoint: "localhost:4317",
		},
		Cache: Cache{
			MaxSizeMB: 32,
			TTL:       10 * time.Minute,
		},
	}
}
