package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// Track latencies from 1µs up to 60s with 3 significant figures.
	histLowest  = 1
	histHighest = 60_000_000
	histSigFigs = 3
)

// RequestMetadata tags a recorded request.
type RequestMetadata struct {
	Step       string // workflow step, e.g. "create"
	StatusCode string // HTTP status, or a transport failure label
}

// Collector records per-request metrics in a thread-safe manner.
type Collector struct {
	mu            sync.Mutex
	total         *requestBucket
	steps         map[string]*requestBucket
	statusBuckets map[string]map[string]int
	errorsByType  map[string]int64
	start         time.Time
}

type requestBucket struct {
	hist       *hdrhistogram.Histogram
	successes  int64
	failures   int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
}

// RequestStats holds aggregated request metrics for the whole run or one step.
type RequestStats struct {
	Total          int64         `json:"total"`
	Successes      int64         `json:"successes"`
	Failures       int64         `json:"failures"`
	MinLatency     time.Duration `json:"-"`
	MaxLatency     time.Duration `json:"-"`
	MeanLatency    time.Duration `json:"-"`
	P50Latency     time.Duration `json:"-"`
	P90Latency     time.Duration `json:"-"`
	P95Latency     time.Duration `json:"-"`
	P99Latency     time.Duration `json:"-"`
	RequestsPerSec float64       `json:"requests_per_sec"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
}

// Stats represents aggregated request metrics.
type Stats struct {
	RequestStats
	Duration      time.Duration             `json:"-"`
	DurationMs    float64                   `json:"duration_ms"`
	Steps         map[string]RequestStats   `json:"steps,omitempty"`
	StatusBuckets map[string]map[string]int `json:"status_buckets,omitempty"`
	Errors        map[string]int            `json:"errors,omitempty"`
}

func NewCollector() *Collector {
	return &Collector{
		total:         newRequestBucket(),
		steps:         make(map[string]*requestBucket),
		statusBuckets: make(map[string]map[string]int),
		errorsByType:  make(map[string]int64),
		start:         time.Now(),
	}
}

func newRequestBucket() *requestBucket {
	return &requestBucket{hist: hdrhistogram.New(histLowest, histHighest, histSigFigs)}
}

// Start marks the beginning of the measured window.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
}

// Elapsed returns the time since Start.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// RecordRequest records a single request's latency and error state.
func (c *Collector) RecordRequest(latency time.Duration, err error, meta *RequestMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total.record(latency, err)
	if meta == nil {
		meta = &RequestMetadata{}
	}
	if meta.Step != "" {
		bucket, ok := c.steps[meta.Step]
		if !ok {
			bucket = newRequestBucket()
			c.steps[meta.Step] = bucket
		}
		bucket.record(latency, err)
	}

	if err == nil {
		return
	}
	c.errorsByType[FriendlyErrorName(fmt.Sprintf("%T", err))]++
	if meta.StatusCode != "" {
		step := meta.Step
		if step == "" {
			step = "unknown"
		}
		codes, ok := c.statusBuckets[step]
		if !ok {
			codes = make(map[string]int)
			c.statusBuckets[step] = codes
		}
		codes[meta.StatusCode]++
	}
}

func (b *requestBucket) record(latency time.Duration, err error) {
	if latency > 0 {
		us := latency.Microseconds()
		if us < b.hist.LowestTrackableValue() {
			us = b.hist.LowestTrackableValue()
		}
		if us > b.hist.HighestTrackableValue() {
			us = b.hist.HighestTrackableValue()
		}
		_ = b.hist.RecordValue(us)
	}
	b.sumLatency += latency

	if b.minLatency == 0 || latency < b.minLatency {
		b.minLatency = latency
	}
	if latency > b.maxLatency {
		b.maxLatency = latency
	}

	if err == nil {
		b.successes++
	} else {
		b.failures++
	}
}

func (b *requestBucket) stats(elapsed time.Duration) RequestStats {
	total := b.successes + b.failures
	s := RequestStats{
		Total:      total,
		Successes:  b.successes,
		Failures:   b.failures,
		MinLatency: b.minLatency,
		MaxLatency: b.maxLatency,
	}
	if total > 0 {
		s.MeanLatency = time.Duration(int64(b.sumLatency) / total)
	}
	if b.hist.TotalCount() > 0 {
		s.P50Latency = b.quantile(50)
		s.P90Latency = b.quantile(90)
		s.P95Latency = b.quantile(95)
		s.P99Latency = b.quantile(99)
	}

	s.MinLatencyMs = toMs(s.MinLatency)
	s.MaxLatencyMs = toMs(s.MaxLatency)
	s.MeanLatencyMs = toMs(s.MeanLatency)
	s.P50LatencyMs = toMs(s.P50Latency)
	s.P90LatencyMs = toMs(s.P90Latency)
	s.P95LatencyMs = toMs(s.P95Latency)
	s.P99LatencyMs = toMs(s.P99Latency)

	if elapsed > 0 && total > 0 {
		s.RequestsPerSec = float64(total) / elapsed.Seconds()
	}
	return s
}

func (b *requestBucket) quantile(q float64) time.Duration {
	return time.Duration(b.hist.ValueAtQuantile(q)) * time.Microsecond
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		RequestStats: c.total.stats(elapsed),
		Duration:     elapsed,
		DurationMs:   toMs(elapsed),
	}

	if len(c.steps) > 0 {
		stats.Steps = make(map[string]RequestStats, len(c.steps))
		for name, bucket := range c.steps {
			stats.Steps[name] = bucket.stats(elapsed)
		}
	}

	if len(c.statusBuckets) > 0 {
		stats.StatusBuckets = make(map[string]map[string]int, len(c.statusBuckets))
		for step, codes := range c.statusBuckets {
			copied := make(map[string]int, len(codes))
			for code, n := range codes {
				copied[code] = n
			}
			stats.StatusBuckets[step] = copied
		}
	}

	if len(c.errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			stats.Errors[k] = int(v)
		}
	}

	return stats
}

// latencyQuantile returns an arbitrary percentile (0-100) over all requests.
func (c *Collector) latencyQuantile(q float64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total.hist.TotalCount() == 0 {
		return 0
	}
	return c.total.quantile(q)
}

// GetErrorBreakdown returns a map of error types to their counts.
func (c *Collector) GetErrorBreakdown() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]int)
	for k, v := range c.errorsByType {
		result[k] = int(v)
	}
	return result
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
