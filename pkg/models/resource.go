package models

// ResourceSample is one point-in-time reading of a supervised process.
// CPUPercent is derived from the cumulative-CPU-time delta over the
// wall-time delta between this sample and the previous one.
type ResourceSample struct {
	TimestampMs int64   `json:"timestamp_ms"`
	CPUPercent  float64 `json:"cpu_percent"`
	RSSBytes    uint64  `json:"rss_bytes"`
}
