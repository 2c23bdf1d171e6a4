package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counter accumulates a running total.
type Counter struct {
	value atomic.Int64
}

// Add increments the counter by n.
func (c *Counter) Add(n int64) {
	c.value.Add(n)
}

// Value returns the current total.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Rate tracks how many of the recorded outcomes were true.
type Rate struct {
	mu    sync.Mutex
	trues int64
	total int64
}

// Add records one outcome.
func (r *Rate) Add(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if ok {
		r.trues++
	}
}

// Value returns trues/total, or 0 when nothing was recorded.
func (r *Rate) Value() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total == 0 {
		return 0
	}
	return float64(r.trues) / float64(r.total)
}

// Counts returns the number of true outcomes and the total.
func (r *Rate) Counts() (trues, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trues, r.total
}

// Trend keeps every recorded duration for the run.
type Trend struct {
	mu      sync.Mutex
	samples []time.Duration
	sorted  bool
	sum     time.Duration
}

// TrendSummary is a point-in-time view of a Trend.
type TrendSummary struct {
	Count       int64
	Min         time.Duration
	Max         time.Duration
	Mean        time.Duration
	P50         time.Duration
	P90         time.Duration
	P95         time.Duration
	P99         time.Duration
	Percentiles map[float64]time.Duration
}

// Add records one duration sample.
func (t *Trend) Add(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, d)
	t.sorted = false
	t.sum += d
}

// Summary returns count, mean, min, max, the standard percentiles and any
// extra percentiles requested (0-100).
func (t *Trend) Summary(percentiles ...float64) TrendSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TrendSummary{Count: int64(len(t.samples))}
	if len(percentiles) > 0 {
		s.Percentiles = make(map[float64]time.Duration, len(percentiles))
	}
	if len(t.samples) == 0 {
		for _, p := range percentiles {
			s.Percentiles[p] = 0
		}
		return s
	}

	t.sortLocked()
	n := len(t.samples)
	s.Min = t.samples[0]
	s.Max = t.samples[n-1]
	s.Mean = t.sum / time.Duration(n)
	s.P50 = nearestRank(t.samples, 50)
	s.P90 = nearestRank(t.samples, 90)
	s.P95 = nearestRank(t.samples, 95)
	s.P99 = nearestRank(t.samples, 99)
	for _, p := range percentiles {
		s.Percentiles[p] = nearestRank(t.samples, p)
	}
	return s
}

// Percentile returns a single nearest-rank percentile.
func (t *Trend) Percentile(p float64) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) == 0 {
		return 0
	}
	t.sortLocked()
	return nearestRank(t.samples, p)
}

func (t *Trend) sortLocked() {
	if t.sorted {
		return
	}
	sort.Slice(t.samples, func(i, j int) bool { return t.samples[i] < t.samples[j] })
	t.sorted = true
}

// nearestRank expects sorted input with at least one element.
func nearestRank(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}
	rank := int(math.Ceil(p * float64(n) / 100))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}
