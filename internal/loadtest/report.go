package loadtest

import (
	"time"

	"github.com/torosent/crudfire/internal/metrics"
	"github.com/torosent/crudfire/internal/pool"
	"github.com/torosent/crudfire/internal/threshold"
)

// Builtin metrics recorded by the controller itself.
const (
	MetricIterations        = "iterations"
	MetricIterationDuration = "iteration_duration"
)

// Report is the outcome of one run.
type Report struct {
	RunID            string
	Target           string
	StartedAt        time.Time
	Duration         time.Duration
	Iterations       int64
	FailedIterations int64
	PeakVUs          int
	Forced           bool // in-flight iterations were cancelled after the graceful stop
	Aborted          bool // a threshold failed mid-run with abort_on_fail set
	ResidualIDs      int
	Pool             pool.Stats
	Requests         metrics.Stats
	Metrics          []metrics.MetricSnapshot
	Verdict          threshold.Verdict
}

// Passed reports whether every threshold held.
func (r *Report) Passed() bool {
	return r != nil && r.Verdict.Pass
}
