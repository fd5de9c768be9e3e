package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/tokensweep/tokensweep/internal/analyze"
	"github.com/tokensweep/tokensweep/internal/artifact"
)

var (
	reportRunID    string
	reportFormat   string
	reportBaseline string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Re-render the report for a stored run",
	Long: `Re-analyzes the stored artifacts of a past run and prints its
report. The baseline defaults to the one recorded on the run; --baseline
recomputes comparisons against a different target.

Examples:
  tokensweep report --run run-1a2b3c4d
  tokensweep report --run run-1a2b3c4d --format markdown > report.md
  tokensweep report --run run-1a2b3c4d --baseline candidate`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportRunID, "run", "", "Run ID to report on (required)")
	reportCmd.MarkFlagRequired("run")
	reportCmd.Flags().StringVar(&reportFormat, "format", "text", "Output format (text, markdown)")
	reportCmd.Flags().StringVar(&reportBaseline, "baseline", "", "Recompute comparisons against this target ID")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := artifact.NewStore(cfg.Artifacts.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	m, err := store.ReadManifest(reportRunID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("run %s not found in %s", reportRunID, cfg.Artifacts.Dir)
		}
		return fmt.Errorf("failed to read run manifest: %w", err)
	}

	results, err := store.ReadRunResults(reportRunID)
	if err != nil {
		return fmt.Errorf("failed to read run results: %w", err)
	}

	baseline := reportBaseline
	if baseline == "" {
		baseline = m.BaselineID
	}
	report := analyze.Analyze(reportRunID, results, baseline)

	switch reportFormat {
	case "text":
		fmt.Print(report.RenderText())
	case "markdown":
		fmt.Print(report.RenderMarkdown())
	default:
		return fmt.Errorf("unknown format %q (want text or markdown)", reportFormat)
	}
	return nil
}
