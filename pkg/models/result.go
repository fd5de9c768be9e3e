package models

import "time"

// RequestSample is the measurement of one streaming request.
// TTFTMs is nil when no frame was received before the request ended.
type RequestSample struct {
	TTFTMs     *float64 `json:"ttft_ms,omitempty"`
	DurationMs float64  `json:"duration_ms"`
	TokenCount int      `json:"token_count"`
	ByteCount  int      `json:"byte_count"`
	Failed     bool     `json:"failed"`
	Error      string   `json:"error,omitempty"`
}

// Percentiles holds the p50/p95/p99 summary of one latency series.
// A nil *Percentiles means the series was empty (e.g. every request failed).
type Percentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// ResourceSummary aggregates the resource samples observed during one
// (target, tier) window of a supervised process.
type ResourceSummary struct {
	Samples       int     `json:"samples"`
	AvgCPUPercent float64 `json:"avg_cpu_percent"`
	MaxCPUPercent float64 `json:"max_cpu_percent"`
	AvgRSSBytes   uint64  `json:"avg_rss_bytes"`
	MaxRSSBytes   uint64  `json:"max_rss_bytes"`
}

// TierResult is the aggregate outcome of one sweep of one tier against one target
type TierResult struct {
	RunID     string    `json:"run_id"`
	TargetID  string    `json:"target_id"`
	Tier      Tier      `json:"tier"`
	Timestamp time.Time `json:"timestamp"`

	// Counts
	Requests    int `json:"requests"`
	Failures    int `json:"failures"`
	TotalTokens int `json:"total_tokens"`
	TotalBytes  int `json:"total_bytes"`

	// Throughput
	WallMs float64 `json:"wall_ms"`
	RPS    float64 `json:"rps"`
	TPS    float64 `json:"tps"`

	// Latency summaries over successful requests only
	TTFT     *Percentiles `json:"ttft_ms,omitempty"`
	Duration *Percentiles `json:"duration_ms,omitempty"`

	Resources *ResourceSummary `json:"resources,omitempty"`

	// Partial marks a sweep cut short by cancellation: fewer samples than
	// Tier.TotalRequests were collected.
	Partial bool `json:"partial,omitempty"`

	// Unavailable marks a failure placeholder written in place of a real
	// result (target never healthy, or the sweep itself errored).
	Unavailable bool   `json:"unavailable,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ScenarioKey groups results measured under identical load across targets
func (r *TierResult) ScenarioKey() string {
	return r.Tier.Key()
}
