package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokensweep/tokensweep/internal/loadgen"
	"github.com/tokensweep/tokensweep/pkg/models"
)

var smokeTarget string

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Probe a target and issue one small streaming request",
	Long: `Checks a target's liveness endpoint, then issues a single short
streaming request and prints what came back. Use this to confirm a target
is reachable and speaks the streaming protocol before running a sweep.

Examples:
  tokensweep smoke --target http://localhost:8083`,
	RunE: runSmoke,
}

func init() {
	rootCmd.AddCommand(smokeCmd)

	smokeCmd.Flags().StringVarP(&smokeTarget, "target", "t", "", "Base URL of the target (required)")
	smokeCmd.MarkFlagRequired("target")
}

func runSmoke(cmd *cobra.Command, args []string) error {
	_, logger, err := loadConfig()
	if err != nil {
		return err
	}

	target := models.Target{ID: "smoke", BaseURL: smokeTarget, Kind: models.KindExternal}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(target.HealthURL())
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health probe returned %s", resp.Status)
	}
	fmt.Printf("health: ok (%s)\n", target.HealthURL())

	gen := loadgen.NewGenerator(loadgen.WithLogger(logger))
	sample := gen.RunOnce(context.Background(), target.BaseURL, models.StreamParams{
		Frames:            16,
		InterFrameDelayMs: 1,
	})
	if sample.Failed {
		return fmt.Errorf("streaming request failed: %s", sample.Error)
	}

	if sample.TTFTMs != nil {
		fmt.Printf("ttft: %.1f ms\n", *sample.TTFTMs)
	}
	fmt.Printf("duration: %.1f ms\n", sample.DurationMs)
	fmt.Printf("tokens: %d (%d bytes)\n", sample.TokenCount, sample.ByteCount)
	return nil
}
