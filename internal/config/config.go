package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tokensweep/tokensweep/pkg/models"
)

// Config holds all harness configuration
type Config struct {
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Health    HealthConfig    `mapstructure:"health"`
	Sampling  SamplingConfig  `mapstructure:"sampling"`
	Load      LoadConfig      `mapstructure:"load"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Status    StatusConfig    `mapstructure:"status"`
	Synthetic SyntheticConfig `mapstructure:"synthetic"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ArtifactsConfig holds result persistence configuration
type ArtifactsConfig struct {
	Dir         string `mapstructure:"dir"`
	HistoryPath string `mapstructure:"history_path"` // sqlite run index, empty = <dir>/history.db
}

// HealthConfig holds target health gate configuration
type HealthConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// SamplingConfig holds resource sampler configuration
type SamplingConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	RingSize int           `mapstructure:"ring_size"`
	Provider string        `mapstructure:"provider"` // "proc", "ps" or "auto"
}

// LoadConfig holds load generator configuration
type LoadConfig struct {
	// RequestTimeout bounds a single streaming request; 0 = unbounded,
	// a hung request then shows up as an outlier sample.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxRPS caps the aggregate request rate across workers; 0 = unpaced
	MaxRPS float64 `mapstructure:"max_rps"`
}

// SweepConfig holds sweep controller configuration
type SweepConfig struct {
	Mode        string        `mapstructure:"mode"` // "sequential" or "parallel"
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
	GracePeriod time.Duration `mapstructure:"grace_period"` // SIGTERM to SIGKILL escalation
	MaxRuns     int           `mapstructure:"max_runs"`     // Concurrent run limit
}

// StatusConfig holds the optional status API configuration
type StatusConfig struct {
	Addr string `mapstructure:"addr"` // Empty disables the server
}

// SyntheticConfig holds the synthetic target's serving defaults
type SyntheticConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Frames        int    `mapstructure:"frames"`
	DelayMs       int    `mapstructure:"delay_ms"`
	BytesPerFrame int    `mapstructure:"bytes_per_frame"`
	CPUSpinMs     int    `mapstructure:"cpu_spin_ms"`
	Fanout        int    `mapstructure:"fanout"`
	FanoutDelayMs int    `mapstructure:"fanout_delay_ms"`
	FanoutHTTP    bool   `mapstructure:"fanout_http"` // Loopback round-trips instead of CPU spins
	Gzip          bool   `mapstructure:"gzip"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Read from environment variables
	v.SetEnvPrefix("TOKENSWEEP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Artifact defaults
	v.SetDefault("artifacts.dir", "./artifacts")
	v.SetDefault("artifacts.history_path", "")

	// Health gate defaults
	v.SetDefault("health.probe_interval", 250*time.Millisecond)
	v.SetDefault("health.timeout", 5*time.Second)

	// Sampling defaults
	v.SetDefault("sampling.interval", 300*time.Millisecond)
	v.SetDefault("sampling.ring_size", 2048)
	v.SetDefault("sampling.provider", "auto")

	// Load generator defaults
	v.SetDefault("load.request_timeout", time.Duration(0))
	v.SetDefault("load.max_rps", 0.0)

	// Sweep defaults
	v.SetDefault("sweep.mode", string(models.ModeSequential))
	v.SetDefault("sweep.run_timeout", time.Duration(0))
	v.SetDefault("sweep.grace_period", 5*time.Second)
	v.SetDefault("sweep.max_runs", 4)

	// Status API defaults (disabled unless an address is set)
	v.SetDefault("status.addr", "")

	// Synthetic target defaults
	v.SetDefault("synthetic.host", "0.0.0.0")
	v.SetDefault("synthetic.port", 8083)
	v.SetDefault("synthetic.frames", 200)
	v.SetDefault("synthetic.delay_ms", 5)
	v.SetDefault("synthetic.bytes_per_frame", 64)
	v.SetDefault("synthetic.cpu_spin_ms", 0)
	v.SetDefault("synthetic.fanout", 0)
	v.SetDefault("synthetic.fanout_delay_ms", 0)
	v.SetDefault("synthetic.fanout_http", false)
	v.SetDefault("synthetic.gzip", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) {
	// Helper to bind and log errors (BindEnv errors are non-fatal but should be logged)
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	// Synthetic target knobs keep their historical SYN_* names so the
	// fixture behaves the same when driven by existing scripts
	bindEnv("synthetic.host", "SYN_HOST")
	bindEnv("synthetic.port", "SYN_PORT")
	bindEnv("synthetic.frames", "SYN_FRAMES")
	bindEnv("synthetic.delay_ms", "SYN_DELAY_MS")
	bindEnv("synthetic.bytes_per_frame", "SYN_BYTES")
	bindEnv("synthetic.cpu_spin_ms", "SYN_CPU_SPIN_MS")
	bindEnv("synthetic.fanout", "SYN_FANOUT")
	bindEnv("synthetic.fanout_delay_ms", "SYN_FANOUT_DELAY_MS")
	bindEnv("synthetic.fanout_http", "SYN_FANOUT_HTTP")
	bindEnv("synthetic.gzip", "SYN_GZIP")

	// Artifacts
	bindEnv("artifacts.dir", "TOKENSWEEP_ARTIFACTS_DIR")
	bindEnv("artifacts.history_path", "TOKENSWEEP_HISTORY_PATH")

	// Logging
	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts.dir must be set")
	}

	if c.Health.ProbeInterval <= 0 {
		return fmt.Errorf("health.probe_interval must be positive, got %s", c.Health.ProbeInterval)
	}
	if c.Health.Timeout < c.Health.ProbeInterval {
		return fmt.Errorf("health.timeout (%s) must be at least the probe interval (%s)",
			c.Health.Timeout, c.Health.ProbeInterval)
	}

	// The sampler runs on a fixed interval in the 250-500ms band
	if c.Sampling.Interval < 250*time.Millisecond || c.Sampling.Interval > 500*time.Millisecond {
		return fmt.Errorf("sampling.interval must be between 250ms and 500ms, got %s", c.Sampling.Interval)
	}
	if c.Sampling.RingSize < 1 {
		return fmt.Errorf("sampling.ring_size must be >= 1, got %d", c.Sampling.RingSize)
	}

	switch models.ExecutionMode(c.Sweep.Mode) {
	case models.ModeSequential, models.ModeParallel:
	default:
		return fmt.Errorf("sweep.mode must be %q or %q, got %q",
			models.ModeSequential, models.ModeParallel, c.Sweep.Mode)
	}

	if c.Load.MaxRPS < 0 {
		return fmt.Errorf("load.max_rps must be >= 0, got %v", c.Load.MaxRPS)
	}

	return nil
}

// HistoryPath resolves the sqlite index location
func (c *Config) HistoryPath() string {
	if c.Artifacts.HistoryPath != "" {
		return c.Artifacts.HistoryPath
	}
	return c.Artifacts.Dir + "/history.db"
}
