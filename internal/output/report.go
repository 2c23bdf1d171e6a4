package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/torosent/crudfire/internal/loadtest"
	"github.com/torosent/crudfire/internal/metrics"
)

// stepOrder lists workflow steps in the order an iteration runs them.
var stepOrder = []string{"create", "list", "update", "delete"}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r *loadtest.Report) {
	s := NewSummary(r)

	fmt.Fprintln(w, "\n--- Load Test Results ---")
	fmt.Fprintf(w, "Run:               %s\n", s.RunID)
	fmt.Fprintf(w, "Target:            %s\n", s.Target)
	fmt.Fprintf(w, "Duration:          %s\n", r.Duration.Round(1e6))
	fmt.Fprintf(w, "Iterations:        %d (%d failed)\n", s.Iterations, s.FailedIterations)
	fmt.Fprintf(w, "VUs max:           %d\n", s.VUsMax)
	fmt.Fprintf(w, "Total Requests:    %d\n", s.Requests.Total)
	fmt.Fprintf(w, "Successful:        %d\n", s.Requests.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", s.Requests.Failures)
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", s.Requests.RequestsPerSec)
	fmt.Fprintf(w, "Residual IDs:      %d\n", s.ResidualIDs)
	if s.Aborted {
		fmt.Fprintln(w, "Aborted:           threshold failed during the run")
	}
	if s.Forced {
		fmt.Fprintln(w, "Forced stop:       in-flight iterations were cancelled")
	}

	fmt.Fprintln(w, "\nLatency:")
	writeLatency(w, s.Requests, "  ")

	if len(s.Steps) > 0 {
		fmt.Fprintln(w, "\nStep Breakdown:")
		for _, name := range orderedSteps(s.Steps) {
			st := s.Steps[name]
			fmt.Fprintf(w, "  - %s: total=%d, failures=%d, p95=%.2fms, p99=%.2fms\n",
				name, st.Total, st.Failures, st.P95Ms, st.P99Ms)
		}
	}

	if len(s.StatusBuckets) > 0 {
		fmt.Fprintln(w, "\nFailures by Status:")
		for _, row := range s.StatusBuckets {
			fmt.Fprintf(w, "  %s %s: %d\n", strings.ToUpper(row.Step), row.Code, row.Count)
		}
	}

	if len(s.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, name := range sortedKeys(s.Errors) {
			fmt.Fprintf(w, "  %s: %d\n", name, s.Errors[name])
		}
	}

	if len(s.Metrics) > 0 {
		fmt.Fprintln(w, "\nMetrics:")
		for _, m := range s.Metrics {
			fmt.Fprintf(w, "  %-20s %s\n", m.Name, formatValues(m))
		}
	}

	writeThresholds(w, s.Thresholds)
}

func writeLatency(w io.Writer, st RequestSummary, indent string) {
	fmt.Fprintf(w, "%sMin:  %8.2fms\n", indent, st.MinMs)
	fmt.Fprintf(w, "%sMean: %8.2fms\n", indent, st.MeanMs)
	fmt.Fprintf(w, "%sP50:  %8.2fms\n", indent, st.P50Ms)
	fmt.Fprintf(w, "%sP90:  %8.2fms\n", indent, st.P90Ms)
	fmt.Fprintf(w, "%sP95:  %8.2fms\n", indent, st.P95Ms)
	fmt.Fprintf(w, "%sP99:  %8.2fms\n", indent, st.P99Ms)
	fmt.Fprintf(w, "%sMax:  %8.2fms\n", indent, st.MaxMs)
}

func writeThresholds(w io.Writer, t ThresholdSummary) {
	if t.Total == 0 {
		return
	}
	fmt.Fprintf(w, "\nThresholds: %d/%d passed\n", t.Passed, t.Total)
	for _, res := range t.Results {
		mark := "✓"
		if !res.Pass {
			mark = "✗"
		}
		line := fmt.Sprintf("  %s %s (actual %.4g)", mark, res.Threshold, res.Actual)
		if !res.Pass && res.Message != "" {
			line += ": " + res.Message
		}
		fmt.Fprintln(w, line)
	}
	if t.Pass {
		fmt.Fprintln(w, "\nResult: PASS")
	} else {
		fmt.Fprintln(w, "\nResult: FAIL")
	}
}

// formatValues renders a metric's aggregates in a stable order.
func formatValues(m metrics.MetricSnapshot) string {
	parts := make([]string, 0, len(m.Values))
	for _, agg := range sortedKeys(m.Values) {
		v := m.Values[agg]
		if m.Kind == metrics.KindTrend && agg != "count" {
			parts = append(parts, fmt.Sprintf("%s=%.2fms", agg, v))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%.4g", agg, v))
	}
	return strings.Join(parts, " ")
}

func orderedSteps(steps map[string]RequestSummary) []string {
	out := make([]string, 0, len(steps))
	seen := make(map[string]bool, len(stepOrder))
	for _, name := range stepOrder {
		if _, ok := steps[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	for _, name := range sortedKeys(steps) {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r *loadtest.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewSummary(r))
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r *loadtest.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewSummary(r)); err != nil {
		return err
	}
	return enc.Close()
}

// WriteReportFile exports the report as JSON or YAML, chosen by extension.
func WriteReportFile(path string, r *loadtest.Report) error {
	var write func(io.Writer, *loadtest.Report) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		write = PrintJSONReport
	case ".yaml", ".yml":
		write = PrintYAMLReport
	default:
		return fmt.Errorf("unsupported report format %q (use .json, .yaml or .yml)", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := write(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write report file: %w", err)
	}
	return f.Close()
}
