package analyze

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tokensweep/tokensweep/pkg/models"
)

// Report bundles every analysis computed over one run's results
type Report struct {
	RunID       string                      `json:"run_id"`
	BaselineID  string                      `json:"baseline_id,omitempty"`
	Results     []*models.TierResult        `json:"results"`
	Comparisons []models.ComparativeInsight `json:"comparisons,omitempty"`
	Scaling     []models.ScalingFinding     `json:"scaling,omitempty"`
	Bottlenecks []models.BottleneckFinding  `json:"bottlenecks,omitempty"`
}

// Analyze runs every analyzer over the results. The report keeps its own
// deterministically ordered copy of the result list, so rendering never
// depends on artifact read order.
func Analyze(runID string, results []*models.TierResult, baselineID string) Report {
	sorted := append([]*models.TierResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		if a.Tier.Concurrency != b.Tier.Concurrency {
			return a.Tier.Concurrency < b.Tier.Concurrency
		}
		return a.Tier.TotalRequests < b.Tier.TotalRequests
	})

	return Report{
		RunID:       runID,
		BaselineID:  baselineID,
		Results:     sorted,
		Comparisons: Compare(sorted, baselineID),
		Scaling:     ClassifyScaling(sorted),
		Bottlenecks: FindBottlenecks(sorted),
	}
}

// RenderText returns a human-readable summary suitable for terminals and
// CI logs.
func (r Report) RenderText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Benchmark report for %s\n", r.RunID)

	if len(r.Results) > 0 {
		sb.WriteString("\nResults:\n")
		for _, res := range r.Results {
			if res.Unavailable {
				fmt.Fprintf(&sb, "  • %s %s: unavailable (%s)\n",
					res.TargetID, res.ScenarioKey(), res.Error)
				continue
			}
			partial := ""
			if res.Partial {
				partial = " (partial)"
			}
			fmt.Fprintf(&sb, "  • %s %s: %.1f rps, %.1f tok/s, %d/%d failed%s\n",
				res.TargetID, res.ScenarioKey(), res.RPS, res.TPS,
				res.Failures, res.Requests, partial)
		}
	}

	if r.BaselineID != "" {
		fmt.Fprintf(&sb, "\nComparisons vs %s:\n", r.BaselineID)
		if len(r.Comparisons) == 0 {
			sb.WriteString("  No overlapping scenarios with the baseline.\n")
		}
		for _, c := range r.Comparisons {
			verdict := "worse"
			if c.Better {
				verdict = "better"
			}
			fmt.Fprintf(&sb, "  • %s %s %s: %.2f → %.2f (%+.1f%%, %s, %s)\n",
				c.ScenarioKey, c.TargetID, c.Metric,
				c.BaselineValue, c.TargetValue,
				c.PercentDelta, c.Magnitude, verdict)
		}
	}

	if len(r.Scaling) > 0 {
		sb.WriteString("\nScaling:\n")
		for _, s := range r.Scaling {
			fmt.Fprintf(&sb, "  • %s: %s (slope %+.3f over %d points)\n",
				s.TargetID, s.Class, s.Slope, s.Points)
		}
	}

	if len(r.Bottlenecks) > 0 {
		sb.WriteString("\nBottlenecks:\n")
		for _, b := range r.Bottlenecks {
			fmt.Fprintf(&sb, "  • %s %s: %s (%s)\n",
				b.TargetID, b.ScenarioKey, b.Kind, b.Detail)
		}
	}

	return sb.String()
}

// RenderMarkdown returns the report as a Markdown document
func (r Report) RenderMarkdown() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Benchmark Report: %s\n\n", r.RunID))

	writeResultsTable(&sb, r.Results)
	writeComparisonsTable(&sb, r.BaselineID, r.Comparisons)
	writeScalingTable(&sb, r.Scaling)
	writeBottlenecksTable(&sb, r.Bottlenecks)

	return sb.String()
}

func writeResultsTable(sb *strings.Builder, results []*models.TierResult) {
	sb.WriteString("## Results\n\n")
	if len(results) == 0 {
		sb.WriteString("No results available.\n\n")
		return
	}

	sb.WriteString("| Target | Scenario | RPS | Tokens/s | TTFT p50 | Duration p50 | Failures | Status |\n")
	sb.WriteString("|--------|----------|-----|----------|----------|--------------|----------|--------|\n")
	for _, r := range results {
		status := "ok"
		switch {
		case r.Unavailable:
			status = "unavailable"
		case r.Partial:
			status = "partial"
		case r.Requests > 0 && r.Failures == r.Requests:
			status = "failed"
		}

		rps, tps := "-", "-"
		if !r.Unavailable {
			rps = fmt.Sprintf("%.1f", r.RPS)
			tps = fmt.Sprintf("%.1f", r.TPS)
		}
		ttft := "-"
		if r.TTFT != nil {
			ttft = fmt.Sprintf("%.0fms", r.TTFT.P50)
		}
		duration := "-"
		if r.Duration != nil {
			duration = fmt.Sprintf("%.0fms", r.Duration.P50)
		}

		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %d/%d | %s |\n",
			r.TargetID, r.ScenarioKey(), rps, tps, ttft, duration,
			r.Failures, r.Requests, status))
	}
	sb.WriteString("\n")
}

func writeComparisonsTable(sb *strings.Builder, baselineID string, comparisons []models.ComparativeInsight) {
	if baselineID == "" {
		return
	}
	sb.WriteString(fmt.Sprintf("## Comparisons vs %s\n\n", baselineID))
	if len(comparisons) == 0 {
		sb.WriteString("No overlapping scenarios with the baseline.\n\n")
		return
	}

	sb.WriteString("| Scenario | Target | Metric | Baseline | Current | Delta | Magnitude |\n")
	sb.WriteString("|----------|--------|--------|----------|---------|-------|-----------|\n")
	for _, c := range comparisons {
		verdict := "worse"
		if c.Better {
			verdict = "better"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %.2f | %.2f | %+.1f%% (%s) | %s |\n",
			c.ScenarioKey, c.TargetID, c.Metric,
			c.BaselineValue, c.TargetValue, c.PercentDelta, verdict, c.Magnitude))
	}
	sb.WriteString("\n")
}

func writeScalingTable(sb *strings.Builder, findings []models.ScalingFinding) {
	sb.WriteString("## Scaling\n\n")
	if len(findings) == 0 {
		sb.WriteString("Not enough tiers to classify scaling.\n\n")
		return
	}

	sb.WriteString("| Target | Class | Slope | Points |\n")
	sb.WriteString("|--------|-------|-------|--------|\n")
	for _, f := range findings {
		sb.WriteString(fmt.Sprintf("| %s | %s | %+.3f | %d |\n",
			f.TargetID, f.Class, f.Slope, f.Points))
	}
	sb.WriteString("\n")
}

func writeBottlenecksTable(sb *strings.Builder, findings []models.BottleneckFinding) {
	sb.WriteString("## Bottlenecks\n\n")
	if len(findings) == 0 {
		sb.WriteString("None detected.\n\n")
		return
	}

	sb.WriteString("| Target | Scenario | Kind | Detail |\n")
	sb.WriteString("|--------|----------|------|--------|\n")
	for _, f := range findings {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			f.TargetID, f.ScenarioKey, f.Kind, f.Detail))
	}
	sb.WriteString("\n")
}
