package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokensweep/tokensweep/internal/loadgen"
	"github.com/tokensweep/tokensweep/pkg/models"
)

var (
	sweepTarget      string
	sweepConcurrency int
	sweepRequests    int
	sweepOut         string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single concurrency tier against one target",
	Long: `Runs one concurrency tier against a target and prints the tier
result as JSON: throughput, token rate, and latency percentiles. The
target is not health-gated or supervised; use bench for full runs.

Examples:
  tokensweep sweep --target http://localhost:8083 --concurrency 8 --requests 80
  tokensweep sweep --target http://localhost:8083 -c 16 -n 160 --out tier.json`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().StringVarP(&sweepTarget, "target", "t", "", "Base URL of the target (required)")
	sweepCmd.MarkFlagRequired("target")
	sweepCmd.Flags().IntVarP(&sweepConcurrency, "concurrency", "c", 1, "Concurrent workers")
	sweepCmd.Flags().IntVarP(&sweepRequests, "requests", "n", 10, "Total requests across all workers")
	sweepCmd.Flags().StringVar(&sweepOut, "out", "", "Write the result JSON to this file instead of stdout")
	registerStreamFlags(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	tier := models.Tier{Concurrency: sweepConcurrency, TotalRequests: sweepRequests}
	if err := tier.Validate(); err != nil {
		return err
	}

	target := models.Target{ID: "sweep", BaseURL: sweepTarget, Kind: models.KindExternal}
	gen := loadgen.NewGenerator(
		loadgen.WithLogger(logger),
		loadgen.WithTimeout(cfg.Load.RequestTimeout),
		loadgen.WithMaxRPS(cfg.Load.MaxRPS),
	)

	result := gen.RunTier(context.Background(), "", target, tier, buildStreamParams())

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if sweepOut != "" {
		if err := os.WriteFile(sweepOut, data, 0644); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		fmt.Printf("wrote %s\n", sweepOut)
		return nil
	}
	os.Stdout.Write(data)
	return nil
}
