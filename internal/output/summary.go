package output

import (
	"sort"
	"time"

	"github.com/torosent/crudfire/internal/loadtest"
	"github.com/torosent/crudfire/internal/metrics"
	"github.com/torosent/crudfire/internal/pool"
)

// Summary is the exported form of a run report, shared by the JSON and
// YAML writers.
type Summary struct {
	RunID            string                    `json:"run_id" yaml:"run_id"`
	Target           string                    `json:"target" yaml:"target"`
	StartedAt        time.Time                 `json:"started_at" yaml:"started_at"`
	DurationMs       float64                   `json:"duration_ms" yaml:"duration_ms"`
	Iterations       int64                     `json:"iterations" yaml:"iterations"`
	FailedIterations int64                     `json:"failed_iterations" yaml:"failed_iterations"`
	VUsMax           int                       `json:"vus_max" yaml:"vus_max"`
	Forced           bool                      `json:"forced,omitempty" yaml:"forced,omitempty"`
	Aborted          bool                      `json:"aborted,omitempty" yaml:"aborted,omitempty"`
	ResidualIDs      int                       `json:"residual_ids" yaml:"residual_ids"`
	Pool             pool.Stats                `json:"pool" yaml:"pool"`
	Requests         RequestSummary            `json:"requests" yaml:"requests"`
	Steps            map[string]RequestSummary `json:"steps,omitempty" yaml:"steps,omitempty"`
	StatusBuckets    []StatusRow               `json:"status_buckets,omitempty" yaml:"status_buckets,omitempty"`
	Errors           map[string]int            `json:"errors,omitempty" yaml:"errors,omitempty"`
	Metrics          []metrics.MetricSnapshot  `json:"metrics" yaml:"metrics"`
	Thresholds       ThresholdSummary          `json:"thresholds" yaml:"thresholds"`
}

// RequestSummary holds request counts and latency in milliseconds.
type RequestSummary struct {
	Total          int64   `json:"total" yaml:"total"`
	Successes      int64   `json:"successes" yaml:"successes"`
	Failures       int64   `json:"failures" yaml:"failures"`
	RequestsPerSec float64 `json:"requests_per_sec" yaml:"requests_per_sec"`
	MinMs          float64 `json:"min_ms" yaml:"min_ms"`
	MeanMs         float64 `json:"mean_ms" yaml:"mean_ms"`
	P50Ms          float64 `json:"p50_ms" yaml:"p50_ms"`
	P90Ms          float64 `json:"p90_ms" yaml:"p90_ms"`
	P95Ms          float64 `json:"p95_ms" yaml:"p95_ms"`
	P99Ms          float64 `json:"p99_ms" yaml:"p99_ms"`
	MaxMs          float64 `json:"max_ms" yaml:"max_ms"`
}

type StatusRow struct {
	Step  string `json:"step" yaml:"step"`
	Code  string `json:"code" yaml:"code"`
	Count int    `json:"count" yaml:"count"`
}

// ThresholdSummary lists every rule with its observed value.
type ThresholdSummary struct {
	Pass    bool              `json:"pass" yaml:"pass"`
	Total   int               `json:"total" yaml:"total"`
	Passed  int               `json:"passed" yaml:"passed"`
	Failed  int               `json:"failed" yaml:"failed"`
	Results []ThresholdResult `json:"results" yaml:"results"`
}

type ThresholdResult struct {
	Threshold string  `json:"threshold" yaml:"threshold"`
	Metric    string  `json:"metric" yaml:"metric"`
	Aggregate string  `json:"aggregate" yaml:"aggregate"`
	Operator  string  `json:"operator" yaml:"operator"`
	Expected  float64 `json:"expected" yaml:"expected"`
	Actual    float64 `json:"actual" yaml:"actual"`
	Pass      bool    `json:"pass" yaml:"pass"`
	Message   string  `json:"message,omitempty" yaml:"message,omitempty"`
}

// NewSummary converts a run report into its exported form.
func NewSummary(r *loadtest.Report) Summary {
	s := Summary{
		RunID:            r.RunID,
		Target:           r.Target,
		StartedAt:        r.StartedAt.UTC(),
		DurationMs:       float64(r.Duration) / float64(time.Millisecond),
		Iterations:       r.Iterations,
		FailedIterations: r.FailedIterations,
		VUsMax:           r.PeakVUs,
		Forced:           r.Forced,
		Aborted:          r.Aborted,
		ResidualIDs:      r.ResidualIDs,
		Pool:             r.Pool,
		Requests:         requestSummary(r.Requests.RequestStats),
		Errors:           r.Requests.Errors,
		Metrics:          r.Metrics,
	}
	if len(r.Requests.Steps) > 0 {
		s.Steps = make(map[string]RequestSummary, len(r.Requests.Steps))
		for name, st := range r.Requests.Steps {
			s.Steps[name] = requestSummary(st)
		}
	}
	for _, row := range metrics.FlattenStatusBuckets(r.Requests.StatusBuckets) {
		s.StatusBuckets = append(s.StatusBuckets, StatusRow(row))
	}

	s.Thresholds = ThresholdSummary{
		Pass:    r.Verdict.Pass,
		Total:   len(r.Verdict.Results),
		Results: make([]ThresholdResult, 0, len(r.Verdict.Results)),
	}
	for _, res := range r.Verdict.Results {
		s.Thresholds.Results = append(s.Thresholds.Results, ThresholdResult{
			Threshold: res.Rule.String(),
			Metric:    res.Rule.Metric,
			Aggregate: res.Rule.Aggregate,
			Operator:  res.Rule.Operator,
			Expected:  res.Rule.Value,
			Actual:    res.Actual,
			Pass:      res.Pass,
			Message:   res.Message,
		})
		if res.Pass {
			s.Thresholds.Passed++
		} else {
			s.Thresholds.Failed++
		}
	}
	return s
}

func requestSummary(st metrics.RequestStats) RequestSummary {
	return RequestSummary{
		Total:          st.Total,
		Successes:      st.Successes,
		Failures:       st.Failures,
		RequestsPerSec: st.RequestsPerSec,
		MinMs:          st.MinLatencyMs,
		MeanMs:         st.MeanLatencyMs,
		P50Ms:          st.P50LatencyMs,
		P90Ms:          st.P90LatencyMs,
		P95Ms:          st.P95LatencyMs,
		P99Ms:          st.P99LatencyMs,
		MaxMs:          st.MaxLatencyMs,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
