package loadgen

import (
	"math"
	"sort"

	"github.com/tokensweep/tokensweep/pkg/models"
)

// Percentile returns the p-th percentile of an ascending-sorted series
// using the truncating index (n-1)*p/100, no interpolation. An empty
// series yields NaN rather than panicking.
func Percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}

// Summarize sorts a copy of the series and returns its p50/p95/p99.
// Returns nil for an empty series, the artifact-level "no value".
func Summarize(values []float64) *models.Percentiles {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return &models.Percentiles{
		P50: Percentile(sorted, 50),
		P95: Percentile(sorted, 95),
		P99: Percentile(sorted, 99),
	}
}

// Throughput computes requests/sec and tokens/sec over a wall-clock window
func Throughput(requests, tokens int, wallMs float64) (rps, tps float64) {
	if wallMs <= 0 {
		return 0, 0
	}
	secs := wallMs / 1000.0
	return float64(requests) / secs, float64(tokens) / secs
}
