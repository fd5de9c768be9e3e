package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokensweep/tokensweep/internal/analyze"
	"github.com/tokensweep/tokensweep/internal/api"
	"github.com/tokensweep/tokensweep/internal/artifact"
	"github.com/tokensweep/tokensweep/internal/loadgen"
	"github.com/tokensweep/tokensweep/internal/remote"
	"github.com/tokensweep/tokensweep/internal/status"
	"github.com/tokensweep/tokensweep/internal/supervise"
	"github.com/tokensweep/tokensweep/internal/sweep"
	"github.com/tokensweep/tokensweep/pkg/models"
)

var (
	benchTargets     []string
	benchTargetsFile string
	benchTiers       []string
	benchMode        string
	benchBaseline    string
	benchRunID       string
	benchStatusAddr  string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a full benchmark: supervise targets, sweep tiers, report",
	Long: `Runs a complete benchmark. Managed targets are built, launched, and
health-gated; external targets are health-checked. Each target is swept
through the concurrency ladder, results are persisted under the artifacts
directory, and a comparison report is printed when the run finishes.

Unhealthy targets are recorded as unavailable and skipped; the command
still exits 0. A non-zero exit means the harness itself could not run.

Examples:
  tokensweep bench --target local=http://localhost:8083
  tokensweep bench --target a=http://host-a:8083 --target b=http://host-b:8083 --baseline a
  tokensweep bench --targets-file targets.json --tier 1:10 --tier 8:80 --mode parallel
  tokensweep bench --target local=http://localhost:8083 --status-addr :8090`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().StringArrayVarP(&benchTargets, "target", "t", nil, "External target as id=url (repeatable)")
	benchCmd.Flags().StringVar(&benchTargetsFile, "targets-file", "", "JSON file with the full target list (managed and external)")
	benchCmd.Flags().StringArrayVar(&benchTiers, "tier", nil, "Tier as concurrency:total (repeatable, default ladder 1..32)")
	benchCmd.Flags().StringVar(&benchMode, "mode", "", "Execution mode (sequential, parallel)")
	benchCmd.Flags().StringVar(&benchBaseline, "baseline", "", "Target ID comparisons are computed against")
	benchCmd.Flags().StringVar(&benchRunID, "run-id", "", "Explicit run ID (default generated)")
	benchCmd.Flags().StringVar(&benchStatusAddr, "status-addr", "", "Serve the status API on this address while the run executes")
	registerStreamFlags(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	targets, err := collectTargets()
	if err != nil {
		return err
	}

	tiers, err := parseTiers(benchTiers)
	if err != nil {
		return err
	}

	if benchMode != "" && benchMode != string(models.ModeSequential) && benchMode != string(models.ModeParallel) {
		return fmt.Errorf("invalid mode %q (want sequential or parallel)", benchMode)
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

	var statusServer *api.Server
	if benchStatusAddr != "" {
		statusServer = api.New(controller, store, bus,
			api.WithLogger(logger),
			api.WithAddr(benchStatusAddr),
		)
		statusServer.SetReady(true)
		go func() {
			if err := statusServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server stopped", slog.Any("error", err))
			}
		}()
	}

	m, err := controller.StartRun(sweep.RunRequest{
		RunID:      benchRunID,
		Targets:    targets,
		Tiers:      tiers,
		Mode:       models.ExecutionMode(benchMode),
		BaselineID: benchBaseline,
		Stream:     buildStreamParams(),
	})
	if err != nil {
		return err
	}

	fmt.Printf("run %s started: %d targets, %d tiers (%s mode)\n",
		m.RunID, len(m.Targets), len(m.Tiers), m.Mode)

	// First interrupt cancels the run; the controller winds down targets
	// and publishes the terminal event that ends followRun.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			fmt.Fprintln(os.Stderr, "interrupt received, cancelling run")
			controller.CancelRun(m.RunID)
		}
	}()

	final := followRun(context.Background(), bus, m.RunID)

	results, err := store.ReadRunResults(m.RunID)
	if err != nil {
		return fmt.Errorf("failed to read run results: %w", err)
	}
	baseline := benchBaseline
	if baseline == "" {
		baseline = m.BaselineID
	}
	report := analyze.Analyze(m.RunID, results, baseline)
	fmt.Print(report.RenderText())

	if statusServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		statusServer.Shutdown(ctx)
		cancel()
	}

	fmt.Printf("\nrun %s finished: %s\n", m.RunID, final.Status)
	if final.Error != "" {
		fmt.Printf("note: %s\n", final.Error)
	}
	return nil
}

// collectTargets merges the targets file with the repeatable --target flags
func collectTargets() ([]models.Target, error) {
	var targets []models.Target

	if benchTargetsFile != "" {
		data, err := os.ReadFile(benchTargetsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read targets file: %w", err)
		}
		if err := json.Unmarshal(data, &targets); err != nil {
			return nil, fmt.Errorf("failed to parse targets file: %w", err)
		}
	}

	for _, spec := range benchTargets {
		id, url, ok := strings.Cut(spec, "=")
		if !ok || id == "" || url == "" {
			return nil, fmt.Errorf("invalid target %q (want id=url)", spec)
		}
		targets = append(targets, models.Target{ID: id, BaseURL: url, Kind: models.KindExternal})
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets given (use --target or --targets-file)")
	}
	return targets, nil
}

func parseTiers(specs []string) ([]models.Tier, error) {
	tiers := make([]models.Tier, 0, len(specs))
	for _, s := range specs {
		t, err := models.ParseTier(s)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

// followRun prints run progress from the status bus until the terminal
// status event arrives.
func followRun(ctx context.Context, bus *status.Bus, runID string) status.StatusPayload {
	for ev := range bus.Subscribe(ctx, runID) {
		switch ev.Type {
		case status.EventLog:
			if p, ok := ev.Data.(status.LogPayload); ok {
				fmt.Printf("  %s\n", p.Message)
			}
		case status.EventTierResult:
			if r, ok := ev.Data.(models.TierResult); ok {
				fmt.Printf("  %s %s: %.1f rps, %.1f tok/s, %d/%d failed\n",
					r.TargetID, r.Tier.Key(), r.RPS, r.TPS, r.Failures, r.Requests)
			}
		case status.EventRunStatus:
			if p, ok := ev.Data.(status.StatusPayload); ok {
				return p
			}
		}
	}
	return status.StatusPayload{Status: models.RunStatusError, Error: "status stream closed unexpectedly"}
}
