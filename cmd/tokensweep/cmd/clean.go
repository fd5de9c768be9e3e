package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokensweep/tokensweep/internal/artifact"
	"github.com/tokensweep/tokensweep/internal/supervise"
)

var (
	cleanRuns      []string
	cleanOlderThan time.Duration
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Kill orphaned target processes and prune stored runs",
	Long: `Scans the pidfile directory for managed targets left behind by a
crashed or killed harness and terminates any that are still running.
Stale pidfiles are removed either way.

With --run or --older-than the matching runs are also deleted from the
artifact directory and the history database.

Examples:
  tokensweep clean
  tokensweep clean --run run-1a2b3c4d
  tokensweep clean --older-than 168h`,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().StringArrayVar(&cleanRuns, "run", nil, "Run ID to delete (repeatable)")
	cleanCmd.Flags().DurationVar(&cleanOlderThan, "older-than", 0, "Delete runs created more than this long ago")
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	n := supervise.CleanOrphans(pidDir(cfg), logger)
	if n == 0 {
		fmt.Println("No orphaned processes found.")
	} else {
		fmt.Printf("Cleaned %d orphaned process(es).\n", n)
	}

	if len(cleanRuns) == 0 && cleanOlderThan <= 0 {
		return nil
	}

	store, err := artifact.NewStore(cfg.Artifacts.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	history, err := artifact.NewHistory(cfg.HistoryPath())
	if err != nil {
		logger.Warn("history database unavailable, pruning artifacts only", slog.Any("error", err))
		history = nil
	} else {
		defer history.Close()
	}

	ctx := context.Background()
	seen := make(map[string]bool, len(cleanRuns))
	var toDelete []string
	for _, runID := range cleanRuns {
		if !seen[runID] {
			seen[runID] = true
			toDelete = append(toDelete, runID)
		}
	}

	if cleanOlderThan > 0 {
		cutoff := time.Now().Add(-cleanOlderThan)
		entries, err := store.ReadIndex()
		if err != nil {
			return fmt.Errorf("failed to read run index: %w", err)
		}
		for _, e := range entries {
			if e.CreatedAt.Before(cutoff) && !seen[e.RunID] {
				seen[e.RunID] = true
				toDelete = append(toDelete, e.RunID)
			}
		}
		if history != nil {
			if _, err := history.PruneOlderThan(ctx, cutoff); err != nil {
				logger.Warn("history prune failed", slog.Any("error", err))
			}
		}
	}

	for _, runID := range toDelete {
		if err := store.RemoveRun(runID); err != nil {
			return fmt.Errorf("failed to delete run %s: %w", runID, err)
		}
		if history != nil {
			if err := history.DeleteRun(ctx, runID); err != nil {
				logger.Warn("history delete failed",
					slog.String("run_id", runID), slog.Any("error", err))
			}
		}
	}
	if len(toDelete) > 0 {
		fmt.Printf("Deleted %d stored run(s).\n", len(toDelete))
	} else if cleanOlderThan > 0 {
		fmt.Println("No stored runs older than the cutoff.")
	}
	return nil
}
