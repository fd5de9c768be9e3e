package models

// Magnitude buckets the absolute percent delta of a comparison
type Magnitude string

const (
	MagnitudeMarginal    Magnitude = "marginal"    // |delta| < 10%
	MagnitudeNotable     Magnitude = "notable"     // 10% <= |delta| <= 50%
	MagnitudeSignificant Magnitude = "significant" // |delta| > 50%
)

// ComparativeInsight is one metric comparison between a target and the
// baseline under an identical scenario.
type ComparativeInsight struct {
	ScenarioKey   string    `json:"scenario_key"`
	BaselineID    string    `json:"baseline_id"`
	TargetID      string    `json:"target_id"`
	Metric        string    `json:"metric"`
	BaselineValue float64   `json:"baseline_value"`
	TargetValue   float64   `json:"target_value"`
	PercentDelta  float64   `json:"percent_delta"`
	Magnitude     Magnitude `json:"magnitude"`

	// Better is true when the delta favors the comparison target,
	// accounting for metric direction (throughput up, latency down).
	Better bool `json:"better"`
}

// ScalingClass labels how per-worker throughput evolves with concurrency
type ScalingClass string

const (
	ScalingDegrading   ScalingClass = "degrading"
	ScalingLinear      ScalingClass = "linear"
	ScalingSuperLinear ScalingClass = "super-linear"
	ScalingSubLinear   ScalingClass = "sub-linear"
)

// ScalingFinding is the fitted trend for one target across tiers
type ScalingFinding struct {
	TargetID string       `json:"target_id"`
	Class    ScalingClass `json:"class"`

	// Slope is the least-squares slope of per-worker rps over concurrency,
	// normalized by the mean per-worker rps.
	Slope  float64 `json:"slope"`
	Points int     `json:"points"`
}

// BottleneckKind names the heuristic that fired
type BottleneckKind string

const (
	BottleneckTailVariance    BottleneckKind = "high-tail-variance" // p99 > 3x p50
	BottleneckThroughputFloor BottleneckKind = "below-rps-floor"    // rps under concurrency-proportional floor
)

// BottleneckFinding flags a (target, scenario) pair showing saturation
type BottleneckFinding struct {
	TargetID    string         `json:"target_id"`
	ScenarioKey string         `json:"scenario_key"`
	Kind        BottleneckKind `json:"kind"`
	Detail      string         `json:"detail"`
}
