package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokensweep/tokensweep/internal/loadgen"
)

var runTarget string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Issue one streaming request and print the full sample",
	Long: `Issues a single streaming request against a target and prints the
measured sample as JSON: time to first token, total duration, token and
byte counts.

Examples:
  tokensweep run --target http://localhost:8083
  tokensweep run --target http://localhost:8083 --frames 500 --frame-delay-ms 2`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runTarget, "target", "t", "", "Base URL of the target (required)")
	runCmd.MarkFlagRequired("target")
	registerStreamFlags(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	gen := loadgen.NewGenerator(
		loadgen.WithLogger(logger),
		loadgen.WithTimeout(cfg.Load.RequestTimeout),
	)
	sample := gen.RunOnce(context.Background(), runTarget, buildStreamParams())

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(sample); err != nil {
		return err
	}

	if sample.Failed {
		return fmt.Errorf("request failed: %s", sample.Error)
	}
	return nil
}
