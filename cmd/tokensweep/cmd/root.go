package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tokensweep/tokensweep/internal/config"
	"github.com/tokensweep/tokensweep/internal/logging"
	"github.com/tokensweep/tokensweep/pkg/models"
)

var (
	configPath   string
	logLevel     string
	logFormat    string
	artifactsDir string
)

// Stream shape flags shared by the request-issuing commands. Zero means
// the target's own configured default applies.
var (
	streamFrames        int
	streamDelayMs       int
	streamBytes         int
	streamSpinMs        int
	streamFanout        int
	streamFanoutDelayMs int
	streamGzip          bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tokensweep",
	Short: "Token throughput benchmarking for streaming endpoints",
	Long: `Tokensweep drives tiered concurrency sweeps against streaming
chat-completion endpoints and reports token throughput, time to first
token, and resource usage per target.

Targets can be external servers that are only health-checked, or managed
processes the harness builds, launches, samples, and tears down itself,
locally or over SSH.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default searches ./tokensweep.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&artifactsDir, "artifacts-dir", "", "Directory for run artifacts (default ./artifacts)")
}

// loadConfig resolves the effective configuration, applies flag overrides,
// and installs the process logger. Logs go to stderr so stdout stays clean
// for tables and JSON.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if artifactsDir != "" {
		cfg.Artifacts.Dir = artifactsDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	return cfg, logger, nil
}

// pidDir is where pidfiles for managed targets live
func pidDir(cfg *config.Config) string {
	return filepath.Join(cfg.Artifacts.Dir, "pids")
}

func registerStreamFlags(c *cobra.Command) {
	c.Flags().IntVar(&streamFrames, "frames", 0, "Frames per streamed response (0 = target default)")
	c.Flags().IntVar(&streamDelayMs, "frame-delay-ms", 0, "Inter-frame delay in ms (0 = target default)")
	c.Flags().IntVar(&streamBytes, "bytes-per-frame", 0, "Payload bytes per frame (0 = target default)")
	c.Flags().IntVar(&streamSpinMs, "cpu-spin-ms", 0, "CPU spin per request in ms")
	c.Flags().IntVar(&streamFanout, "fanout", 0, "Simulated tool calls per request")
	c.Flags().IntVar(&streamFanoutDelayMs, "fanout-delay-ms", 0, "Delay per simulated tool call in ms")
	c.Flags().BoolVar(&streamGzip, "gzip", false, "Ask the target for gzip-compressed frames")
}

func buildStreamParams() models.StreamParams {
	return models.StreamParams{
		Frames:            streamFrames,
		InterFrameDelayMs: streamDelayMs,
		BytesPerFrame:     streamBytes,
		CPUSpinMs:         streamSpinMs,
		Fanout:            streamFanout,
		FanoutDelayMs:     streamFanoutDelayMs,
		Compression:       streamGzip,
	}
}
