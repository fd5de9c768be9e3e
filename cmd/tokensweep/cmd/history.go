package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tokensweep/tokensweep/internal/artifact"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs from the history database",
	Long: `Lists past benchmark runs recorded in the history database, newest
first.

Examples:
  tokensweep history
  tokensweep history --limit 50`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	history, err := artifact.NewHistory(cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer history.Close()

	entries, err := history.ListRecent(context.Background(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tMODE\tTARGETS\tTIERS\tRESULTS\tFAILURES\tBEST RPS")
	fmt.Fprintln(w, "---\t-------\t------\t----\t-------\t-----\t-------\t--------\t--------")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%.1f\n",
			e.RunID,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Status,
			e.Mode,
			e.Targets,
			e.Tiers,
			e.Results,
			e.Failures,
			e.BestRPS,
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d runs\n", len(entries))
	return nil
}
