package analyze

import (
	"math"
	"sort"

	"github.com/tokensweep/tokensweep/pkg/models"
)

// ClassifyScaling fits per-worker throughput against concurrency for each
// target and labels the trend. Targets measured at fewer than two
// distinct concurrency levels are skipped.
func ClassifyScaling(results []*models.TierResult) []models.ScalingFinding {
	byTarget := make(map[string][]*models.TierResult)
	for _, r := range results {
		if r.Unavailable || r.Tier.Concurrency < 1 {
			continue
		}
		byTarget[r.TargetID] = append(byTarget[r.TargetID], r)
	}

	var findings []models.ScalingFinding
	for targetID, group := range byTarget {
		xs := make([]float64, 0, len(group))
		ys := make([]float64, 0, len(group))
		levels := make(map[int]bool)
		for _, r := range group {
			levels[r.Tier.Concurrency] = true
			xs = append(xs, float64(r.Tier.Concurrency))
			ys = append(ys, r.RPS/float64(r.Tier.Concurrency))
		}
		if len(levels) < 2 {
			continue
		}

		slope := normalizedSlope(xs, ys)
		findings = append(findings, models.ScalingFinding{
			TargetID: targetID,
			Class:    classifySlope(slope),
			Slope:    slope,
			Points:   len(xs),
		})
	}

	sort.Slice(findings, func(i, j int) bool {
		return findings[i].TargetID < findings[j].TargetID
	})
	return findings
}

// normalizedSlope is the least-squares slope of ys over xs divided by the
// mean of ys, so the result reads as the fractional change in per-worker
// throughput per added worker.
func normalizedSlope(xs, ys []float64) float64 {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom

	mean := sumY / n
	if mean == 0 {
		return 0
	}
	return slope / mean
}

func classifySlope(slope float64) models.ScalingClass {
	switch {
	case slope < -0.25:
		return models.ScalingDegrading
	case math.Abs(slope) <= 0.05:
		return models.ScalingLinear
	case slope > 0.25:
		return models.ScalingSuperLinear
	default:
		return models.ScalingSubLinear
	}
}
