// Package analyze computes comparative and diagnostic findings over a
// run's tier results. Everything here is a pure function: identical
// input yields identical output, so reports can be regenerated from
// stored artifacts at any time.
package analyze

import (
	"math"
	"sort"

	"github.com/tokensweep/tokensweep/pkg/models"
)

// metricSpec describes one compared metric: how to read it off a result
// and which direction counts as an improvement.
type metricSpec struct {
	name   string
	higher bool
	value  func(*models.TierResult) (float64, bool)
}

var comparedMetrics = []metricSpec{
	{"rps", true, func(r *models.TierResult) (float64, bool) { return r.RPS, true }},
	{"tps", true, func(r *models.TierResult) (float64, bool) { return r.TPS, true }},
	{"ttft_p50", false, percentile(ttftOf, func(p models.Percentiles) float64 { return p.P50 })},
	{"ttft_p95", false, percentile(ttftOf, func(p models.Percentiles) float64 { return p.P95 })},
	{"ttft_p99", false, percentile(ttftOf, func(p models.Percentiles) float64 { return p.P99 })},
	{"duration_p50", false, percentile(durationOf, func(p models.Percentiles) float64 { return p.P50 })},
	{"duration_p95", false, percentile(durationOf, func(p models.Percentiles) float64 { return p.P95 })},
	{"duration_p99", false, percentile(durationOf, func(p models.Percentiles) float64 { return p.P99 })},
}

func ttftOf(r *models.TierResult) *models.Percentiles     { return r.TTFT }
func durationOf(r *models.TierResult) *models.Percentiles { return r.Duration }

func percentile(sel func(*models.TierResult) *models.Percentiles, pick func(models.Percentiles) float64) func(*models.TierResult) (float64, bool) {
	return func(r *models.TierResult) (float64, bool) {
		p := sel(r)
		if p == nil {
			return 0, false
		}
		return pick(*p), true
	}
}

// Compare computes per-metric percent deltas between the baseline target
// and every other target measured under the same scenario. Placeholder
// results, metrics absent on either side, and zero baselines are skipped.
// Findings come back largest absolute delta first, with ties broken by
// scenario key, target, then metric.
func Compare(results []*models.TierResult, baselineID string) []models.ComparativeInsight {
	if baselineID == "" {
		return nil
	}

	byScenario := make(map[string][]*models.TierResult)
	for _, r := range results {
		if r.Unavailable {
			continue
		}
		byScenario[r.ScenarioKey()] = append(byScenario[r.ScenarioKey()], r)
	}

	var insights []models.ComparativeInsight
	for scenario, group := range byScenario {
		var base *models.TierResult
		for _, r := range group {
			if r.TargetID == baselineID {
				base = r
				break
			}
		}
		if base == nil {
			continue
		}
		for _, r := range group {
			if r.TargetID == baselineID {
				continue
			}
			insights = append(insights, compareOne(scenario, base, r)...)
		}
	}

	sort.Slice(insights, func(i, j int) bool {
		a, b := insights[i], insights[j]
		da, db := math.Abs(a.PercentDelta), math.Abs(b.PercentDelta)
		if da != db {
			return da > db
		}
		if a.ScenarioKey != b.ScenarioKey {
			return a.ScenarioKey < b.ScenarioKey
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Metric < b.Metric
	})
	return insights
}

func compareOne(scenario string, base, target *models.TierResult) []models.ComparativeInsight {
	out := make([]models.ComparativeInsight, 0, len(comparedMetrics))
	for _, spec := range comparedMetrics {
		baseVal, ok := spec.value(base)
		if !ok || baseVal == 0 {
			continue
		}
		targetVal, ok := spec.value(target)
		if !ok {
			continue
		}

		delta := (targetVal - baseVal) / baseVal * 100
		better := delta > 0
		if !spec.higher {
			better = delta < 0
		}

		out = append(out, models.ComparativeInsight{
			ScenarioKey:   scenario,
			BaselineID:    base.TargetID,
			TargetID:      target.TargetID,
			Metric:        spec.name,
			BaselineValue: baseVal,
			TargetValue:   targetVal,
			PercentDelta:  delta,
			Magnitude:     classifyMagnitude(delta),
			Better:        better,
		})
	}
	return out
}

func classifyMagnitude(deltaPct float64) models.Magnitude {
	abs := math.Abs(deltaPct)
	switch {
	case abs < 10:
		return models.MagnitudeMarginal
	case abs <= 50:
		return models.MagnitudeNotable
	default:
		return models.MagnitudeSignificant
	}
}
