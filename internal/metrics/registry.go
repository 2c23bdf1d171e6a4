package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Builtin metric names backed by the request Collector.
const (
	MetricHTTPReqs        = "http_reqs"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqDuration = "http_req_duration"
)

// Kind identifies a metric type.
type Kind string

const (
	KindCounter Kind = "counter"
	KindRate    Kind = "rate"
	KindTrend   Kind = "trend"
)

var (
	ErrUnknownMetric        = errors.New("unknown metric")
	ErrUnsupportedAggregate = errors.New("unsupported aggregate")
	ErrKindConflict         = errors.New("metric already registered as another kind")
)

// MetricSnapshot is the reportable state of one metric.
type MetricSnapshot struct {
	Name   string             `json:"name" yaml:"name"`
	Kind   Kind               `json:"kind" yaml:"kind"`
	Values map[string]float64 `json:"values" yaml:"values"`
}

// Registry owns the named metrics of a single run.
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Counter
	rates     map[string]*Rate
	trends    map[string]*Trend
	collector *Collector
	start     time.Time
}

// NewRegistry creates an empty registry. collector may be nil, in which case
// the builtin request metrics are unavailable.
func NewRegistry(collector *Collector) *Registry {
	return &Registry{
		counters:  make(map[string]*Counter),
		rates:     make(map[string]*Rate),
		trends:    make(map[string]*Trend),
		collector: collector,
		start:     time.Now(),
	}
}

// Start resets the reference time used for per-second rates.
func (r *Registry) Start() {
	r.mu.Lock()
	r.start = time.Now()
	r.mu.Unlock()
	if r.collector != nil {
		r.collector.Start()
	}
}

// Collector returns the builtin request collector, possibly nil.
func (r *Registry) Collector() *Collector {
	return r.collector
}

// Counter returns the named counter, creating it on first use. It fails with
// ErrKindConflict if name is already registered as another kind.
func (r *Registry) Counter(name string) (*Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c, nil
	}
	if err := r.checkFreeLocked(name, KindCounter); err != nil {
		return nil, err
	}
	c := &Counter{}
	r.counters[name] = c
	return c, nil
}

// Rate returns the named rate, creating it on first use.
func (r *Registry) Rate(name string) (*Rate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.rates[name]; ok {
		return rt, nil
	}
	if err := r.checkFreeLocked(name, KindRate); err != nil {
		return nil, err
	}
	rt := &Rate{}
	r.rates[name] = rt
	return rt, nil
}

// Trend returns the named trend, creating it on first use.
func (r *Registry) Trend(name string) (*Trend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trends[name]; ok {
		return t, nil
	}
	if err := r.checkFreeLocked(name, KindTrend); err != nil {
		return nil, err
	}
	t := &Trend{}
	r.trends[name] = t
	return t, nil
}

func (r *Registry) checkFreeLocked(name string, want Kind) error {
	if kind, ok := r.kindLocked(name); ok {
		return fmt.Errorf("%w: %q is a %s, not a %s", ErrKindConflict, name, kind, want)
	}
	return nil
}

func (r *Registry) kindLocked(name string) (Kind, bool) {
	if _, ok := r.counters[name]; ok {
		return KindCounter, true
	}
	if _, ok := r.rates[name]; ok {
		return KindRate, true
	}
	if _, ok := r.trends[name]; ok {
		return KindTrend, true
	}
	if r.collector != nil {
		switch name {
		case MetricHTTPReqs:
			return KindCounter, true
		case MetricHTTPReqFailed:
			return KindRate, true
		case MetricHTTPReqDuration:
			return KindTrend, true
		}
	}
	return "", false
}

// Kind reports the kind of the named metric.
func (r *Registry) Kind(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kindLocked(name)
}

// Names returns all metric names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.counters)+len(r.rates)+len(r.trends)+3)
	for n := range r.counters {
		names = append(names, n)
	}
	for n := range r.rates {
		names = append(names, n)
	}
	for n := range r.trends {
		names = append(names, n)
	}
	if r.collector != nil {
		names = append(names, MetricHTTPReqs, MetricHTTPReqFailed, MetricHTTPReqDuration)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) elapsed() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Since(r.start)
}

// Value resolves one aggregate of a metric. Durations are reported in
// milliseconds. Supported aggregates:
//
//	counter: count, rate (per second)
//	rate:    rate, passes, fails
//	trend:   count, avg, min, max, med, p(N)
func (r *Registry) Value(name, aggregate string) (float64, error) {
	r.mu.RLock()
	counter, isCounter := r.counters[name]
	rate, isRate := r.rates[name]
	trend, isTrend := r.trends[name]
	collector := r.collector
	r.mu.RUnlock()

	aggregate = strings.TrimSpace(aggregate)
	switch {
	case isCounter:
		return counterValue(counter.Value(), r.elapsed(), name, aggregate)
	case isRate:
		trues, total := rate.Counts()
		return rateValue(trues, total, name, aggregate)
	case isTrend:
		return trendValue(trend, name, aggregate)
	}

	if collector != nil {
		switch name {
		case MetricHTTPReqs:
			stats := collector.Stats(collector.Elapsed())
			return counterValue(stats.Total, stats.Duration, name, aggregate)
		case MetricHTTPReqFailed:
			stats := collector.Stats(0)
			return rateValue(stats.Failures, stats.Total, name, aggregate)
		case MetricHTTPReqDuration:
			return collectorLatencyValue(collector, name, aggregate)
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
}

func counterValue(count int64, elapsed time.Duration, name, aggregate string) (float64, error) {
	switch aggregate {
	case "count":
		return float64(count), nil
	case "rate":
		if elapsed <= 0 {
			return 0, nil
		}
		return float64(count) / elapsed.Seconds(), nil
	default:
		return 0, unsupported(name, KindCounter, aggregate)
	}
}

func rateValue(trues, total int64, name, aggregate string) (float64, error) {
	switch aggregate {
	case "rate":
		if total == 0 {
			return 0, nil
		}
		return float64(trues) / float64(total), nil
	case "passes":
		return float64(trues), nil
	case "fails":
		return float64(total - trues), nil
	default:
		return 0, unsupported(name, KindRate, aggregate)
	}
}

func trendValue(t *Trend, name, aggregate string) (float64, error) {
	switch aggregate {
	case "count":
		return float64(t.Summary().Count), nil
	case "avg":
		return toMs(t.Summary().Mean), nil
	case "min":
		return toMs(t.Summary().Min), nil
	case "max":
		return toMs(t.Summary().Max), nil
	case "med":
		return toMs(t.Percentile(50)), nil
	}
	if p, ok := ParsePercentile(aggregate); ok {
		return toMs(t.Percentile(p)), nil
	}
	return 0, unsupported(name, KindTrend, aggregate)
}

func collectorLatencyValue(c *Collector, name, aggregate string) (float64, error) {
	switch aggregate {
	case "count":
		return float64(c.Stats(0).Total), nil
	case "avg":
		return c.Stats(0).MeanLatencyMs, nil
	case "min":
		return c.Stats(0).MinLatencyMs, nil
	case "max":
		return c.Stats(0).MaxLatencyMs, nil
	case "med":
		return toMs(c.latencyQuantile(50)), nil
	}
	if p, ok := ParsePercentile(aggregate); ok {
		return toMs(c.latencyQuantile(p)), nil
	}
	return 0, unsupported(name, KindTrend, aggregate)
}

func unsupported(name string, kind Kind, aggregate string) error {
	return fmt.Errorf("%w %q for %s metric %q", ErrUnsupportedAggregate, aggregate, kind, name)
}

// ParsePercentile accepts "p(95)", "p95" or "p(99.9)" and returns the percentile.
func ParsePercentile(aggregate string) (float64, bool) {
	s := strings.TrimSpace(aggregate)
	if len(s) < 2 || (s[0] != 'p' && s[0] != 'P') {
		return 0, false
	}
	s = s[1:]
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = s[1 : len(s)-1]
	}
	p, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}

// FormatPercentile renders a percentile in canonical "p(N)" form.
func FormatPercentile(p float64) string {
	return "p(" + strconv.FormatFloat(p, 'f', -1, 64) + ")"
}

var (
	counterAggregates = []string{"count", "rate"}
	rateAggregates    = []string{"rate", "passes", "fails"}
	trendAggregates   = []string{"count", "avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"}
)

// Values returns the standard aggregates of the named metric.
func (r *Registry) Values(name string) (map[string]float64, bool) {
	kind, ok := r.Kind(name)
	if !ok {
		return nil, false
	}
	var aggregates []string
	switch kind {
	case KindCounter:
		aggregates = counterAggregates
	case KindRate:
		aggregates = rateAggregates
	case KindTrend:
		aggregates = trendAggregates
	}
	values := make(map[string]float64, len(aggregates))
	for _, agg := range aggregates {
		if v, err := r.Value(name, agg); err == nil {
			values[agg] = v
		}
	}
	return values, true
}

// Snapshot returns the standard aggregates of every metric, sorted by name.
func (r *Registry) Snapshot() []MetricSnapshot {
	names := r.Names()
	out := make([]MetricSnapshot, 0, len(names))
	for _, name := range names {
		values, ok := r.Values(name)
		if !ok {
			continue
		}
		kind, _ := r.Kind(name)
		out = append(out, MetricSnapshot{Name: name, Kind: kind, Values: values})
	}
	return out
}
