package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokensweep/tokensweep/internal/api"
	"github.com/tokensweep/tokensweep/internal/artifact"
	"github.com/tokensweep/tokensweep/internal/loadgen"
	"github.com/tokensweep/tokensweep/internal/remote"
	"github.com/tokensweep/tokensweep/internal/status"
	"github.com/tokensweep/tokensweep/internal/supervise"
	"github.com/tokensweep/tokensweep/internal/sweep"
	"github.com/tokensweep/tokensweep/pkg/models"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the benchmark service with the HTTP API",
	Long: `Runs tokensweep as a long-lived service. Runs are started, watched,
and cancelled over the HTTP API, and progress streams out as server-sent
events. Artifacts and history persist across restarts.

On SIGINT or SIGTERM the service stops accepting requests, cancels any
runs still executing, and waits for them to wind down before exiting.

Examples:
  tokensweep serve
  tokensweep serve --addr :9090
  curl -X POST localhost:8090/api/v1/runs -d '{"targets":[{"id":"local","base_url":"http://localhost:8083","kind":"external"}]}'`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, else :8090)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Status.Addr
	}
	if addr == "" {
		addr = ":8090"
	}

	store, err := artifact.NewStore(cfg.Artifacts.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	history, err := artifact.NewHistory(cfg.HistoryPath())
	if err != nil {
		logger.Warn("history database unavailable, continuing without it", slog.Any("error", err))
		history = nil
	} else {
		defer history.Close()
	}

	supervise.CleanOrphans(pidDir(cfg), logger)

	bus := status.NewBus()
	sup := supervise.New(
		supervise.WithLogger(logger),
		supervise.WithBus(bus),
		supervise.WithHealthGate(cfg.Health.ProbeInterval, cfg.Health.Timeout),
		supervise.WithSamplerSettings(cfg.Sampling.Interval, cfg.Sampling.RingSize, cfg.Sampling.Provider),
		supervise.WithGracePeriod(cfg.Sweep.GracePeriod),
		supervise.WithPIDDir(pidDir(cfg)),
		supervise.WithSSHExecutor(remote.NewExecutor()),
	)
	gen := loadgen.NewGenerator(
		loadgen.WithLogger(logger),
		loadgen.WithTimeout(cfg.Load.RequestTimeout),
		loadgen.WithMaxRPS(cfg.Load.MaxRPS),
	)

	opts := []sweep.Option{
		sweep.WithLogger(logger),
		sweep.WithBus(bus),
		sweep.WithMode(models.ExecutionMode(cfg.Sweep.Mode)),
		sweep.WithRunTimeout(cfg.Sweep.RunTimeout),
		sweep.WithMaxRuns(cfg.Sweep.MaxRuns),
	}
	if history != nil {
		opts = append(opts, sweep.WithHistory(history))
	}
	controller := sweep.NewController(sup, gen, store, opts...)

	server := api.New(controller, store, bus,
		api.WithLogger(logger),
		api.WithAddr(addr),
	)
	server.SetReady(true)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")
		server.SetReady(false)

		for _, m := range controller.ListRuns() {
			if !m.Status.Terminal() {
				controller.CancelRun(m.RunID)
			}
		}
		waitForRuns(controller, cfg.Sweep.GracePeriod+10*time.Second)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.Any("error", err))
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// waitForRuns blocks until no runs are executing or the deadline passes
func waitForRuns(controller *sweep.Controller, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for controller.ActiveRuns() > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
}
