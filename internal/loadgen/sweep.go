package loadgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokensweep/tokensweep/pkg/models"
)

// RunTier executes one concurrency tier against a single target. Concurrency
// workers pull request slots from a shared counter until TotalRequests have
// been issued, so no worker ever over-issues; with more workers than
// requests the surplus workers exit without sending anything.
//
// Cancellation stops slot hand-out but lets in-flight requests drain, and
// the result is flagged Partial when fewer than TotalRequests were issued.
func (g *Generator) RunTier(ctx context.Context, runID string, target models.Target, tier models.Tier, params models.StreamParams) models.TierResult {
	var (
		mu      sync.Mutex
		samples = make([]models.RequestSample, 0, tier.TotalRequests)
		next    atomic.Int64
		wg      sync.WaitGroup
	)

	start := time.Now()
	for w := 0; w < tier.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := next.Add(1)
				if idx > int64(tier.TotalRequests) {
					return
				}
				if ctx.Err() != nil {
					return
				}
				sample := g.RunOnce(ctx, target.BaseURL, params)
				mu.Lock()
				samples = append(samples, sample)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	wallMs := msSince(start)

	result := models.TierResult{
		RunID:     runID,
		TargetID:  target.ID,
		Tier:      tier,
		Timestamp: time.Now().UTC(),
		Requests:  len(samples),
		WallMs:    wallMs,
		Partial:   len(samples) < tier.TotalRequests,
	}

	var durations, ttfts []float64
	for _, s := range samples {
		result.TotalTokens += s.TokenCount
		result.TotalBytes += s.ByteCount
		if s.Failed {
			result.Failures++
			continue
		}
		durations = append(durations, s.DurationMs)
		if s.TTFTMs != nil {
			ttfts = append(ttfts, *s.TTFTMs)
		}
	}
	result.RPS, result.TPS = Throughput(result.Requests, result.TotalTokens, wallMs)
	result.TTFT = Summarize(ttfts)
	result.Duration = Summarize(durations)

	g.logger.Debug("tier complete",
		"target_id", target.ID,
		"tier", tier.Key(),
		"requests", result.Requests,
		"failures", result.Failures,
		"rps", result.RPS,
		"partial", result.Partial)

	return result
}
