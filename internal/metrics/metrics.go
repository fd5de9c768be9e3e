package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP request metrics shared by the synthetic target and the status API
var (
	// HTTPRequestDuration tracks the duration of HTTP requests
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, path, and status",
			Buckets: prometheus.DefBuckets, // Default: .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts the total number of HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
)

// Synthetic target metrics
var (
	// StreamsActive tracks streams currently being emitted
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "synthetic_streams_active",
			Help: "Number of streams currently being emitted",
		},
	)

	// StreamsTotal counts completed streams by outcome
	StreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthetic_streams_total",
			Help: "Total number of streams emitted by outcome (completed, aborted, error)",
		},
		[]string{"outcome"},
	)

	// FramesWritten counts frames emitted across all streams
	FramesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synthetic_frames_written_total",
			Help: "Total number of stream frames written",
		},
	)

	// StreamDuration tracks end-to-end stream emission time
	StreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "synthetic_stream_duration_seconds",
			Help:    "Duration of full stream emission including fanout phase",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
	)

	// FanoutOps counts pre-stream fanout sub-operations by mode
	FanoutOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthetic_fanout_ops_total",
			Help: "Total number of fanout sub-operations by mode (spin, http)",
		},
		[]string{"mode"},
	)

	// SpinDuration tracks time spent in deliberate busy-wait spins
	SpinDuration = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synthetic_spin_seconds_total",
			Help: "Total seconds spent in CPU busy-wait spins",
		},
	)
)

// Harness metrics exposed while the status API is running
var (
	// RunsTotal counts benchmark runs by terminal status
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Total number of benchmark runs by terminal status",
		},
		[]string{"status"},
	)

	// RunsActive tracks runs currently in flight
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweep_runs_active",
			Help: "Number of benchmark runs currently executing",
		},
	)

	// TierSweepsTotal counts (target, tier) sweeps by outcome
	TierSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_tier_sweeps_total",
			Help: "Total number of (target, tier) sweeps by outcome (ok, failed, skipped)",
		},
		[]string{"outcome"},
	)

	// RequestsIssued counts load generator requests by result
	RequestsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_requests_issued_total",
			Help: "Total number of load generator requests by result (ok, failed)",
		},
		[]string{"result"},
	)

	// TargetsLaunched counts managed target launches by outcome
	TargetsLaunched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_targets_launched_total",
			Help: "Total number of managed target launches by outcome (ok, build_failed, start_failed, unhealthy)",
		},
		[]string{"outcome"},
	)

	// SamplesSkipped counts resource sampler ticks that yielded no sample
	SamplesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_resource_samples_skipped_total",
			Help: "Total number of resource sampler ticks skipped due to read failures",
		},
	)
)

// Helper functions for common metric operations

// RecordHTTPRequest records the duration and increments the counter for an HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStream records one finished stream emission
func RecordStream(outcome string, duration time.Duration) {
	StreamsTotal.WithLabelValues(outcome).Inc()
	StreamDuration.Observe(duration.Seconds())
}

// RecordFanoutOp increments the fanout counter for the given mode
func RecordFanoutOp(mode string) {
	FanoutOps.WithLabelValues(mode).Inc()
}

// RecordSpin adds busy-wait time to the spin counter
func RecordSpin(d time.Duration) {
	SpinDuration.Add(d.Seconds())
}

// RecordRunFinished increments the run counter for a terminal status
func RecordRunFinished(status string) {
	RunsTotal.WithLabelValues(status).Inc()
	RunsActive.Dec()
}

// RecordRunStarted increments the active runs gauge
func RecordRunStarted() {
	RunsActive.Inc()
}

// RecordTierSweep increments the sweep counter for an outcome
func RecordTierSweep(outcome string) {
	TierSweepsTotal.WithLabelValues(outcome).Inc()
}

// RecordRequest increments the request counter for a result
func RecordRequest(failed bool) {
	if failed {
		RequestsIssued.WithLabelValues("failed").Inc()
		return
	}
	RequestsIssued.WithLabelValues("ok").Inc()
}

// RecordTargetLaunch increments the launch counter for an outcome
func RecordTargetLaunch(outcome string) {
	TargetsLaunched.WithLabelValues(outcome).Inc()
}

// RecordSampleSkipped increments the skipped-sample counter
func RecordSampleSkipped() {
	SamplesSkipped.Inc()
}
