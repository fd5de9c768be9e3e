package analyze

import (
	"fmt"
	"sort"

	"github.com/tokensweep/tokensweep/pkg/models"
)

const (
	// tailRatioLimit flags a duration distribution whose p99 runs away
	// from the median
	tailRatioLimit = 3.0
	// minRPSPerWorker is the throughput floor each worker is expected to
	// sustain before a cell counts as saturated
	minRPSPerWorker = 1.0
)

// FindBottlenecks flags (target, scenario) cells that look saturated:
// a p99 duration more than three times the median, or throughput below
// one request per second per worker.
func FindBottlenecks(results []*models.TierResult) []models.BottleneckFinding {
	var findings []models.BottleneckFinding
	for _, r := range results {
		if r.Unavailable {
			continue
		}

		if r.Duration != nil && r.Duration.P50 > 0 && r.Duration.P99 > tailRatioLimit*r.Duration.P50 {
			findings = append(findings, models.BottleneckFinding{
				TargetID:    r.TargetID,
				ScenarioKey: r.ScenarioKey(),
				Kind:        models.BottleneckTailVariance,
				Detail: fmt.Sprintf("p99 %.1fms is %.1fx the p50 %.1fms",
					r.Duration.P99, r.Duration.P99/r.Duration.P50, r.Duration.P50),
			})
		}

		floor := minRPSPerWorker * float64(r.Tier.Concurrency)
		if r.Requests > 0 && r.RPS < floor {
			findings = append(findings, models.BottleneckFinding{
				TargetID:    r.TargetID,
				ScenarioKey: r.ScenarioKey(),
				Kind:        models.BottleneckThroughputFloor,
				Detail: fmt.Sprintf("%.2f rps under the %.0f rps floor for %d workers",
					r.RPS, floor, r.Tier.Concurrency),
			})
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		if a.ScenarioKey != b.ScenarioKey {
			return a.ScenarioKey < b.ScenarioKey
		}
		return a.Kind < b.Kind
	})
	return findings
}
