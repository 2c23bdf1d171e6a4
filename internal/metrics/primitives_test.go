package metrics_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/torosent/crudfire/internal/metrics"
)

func TestCounterConcurrentAdd(t *testing.T) {
	var c metrics.Counter
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(5000), c.Value())
}

func TestRateEmptyIsZero(t *testing.T) {
	var r metrics.Rate
	assert.Equal(t, 0.0, r.Value())
	trues, total := r.Counts()
	assert.Zero(t, trues)
	assert.Zero(t, total)
}

func TestRateConcurrentProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		passes := rapid.IntRange(0, 200).Draw(t, "passes")
		fails := rapid.IntRange(0, 200).Draw(t, "fails")
		workers := rapid.IntRange(1, 8).Draw(t, "workers")

		var r metrics.Rate
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := w; i < passes; i += workers {
					r.Add(true)
				}
				for i := w; i < fails; i += workers {
					r.Add(false)
				}
			}(w)
		}
		wg.Wait()

		trues, total := r.Counts()
		if trues != int64(passes) || total != int64(passes+fails) {
			t.Fatalf("counts = %d/%d, want %d/%d", trues, total, passes, passes+fails)
		}
		want := 0.0
		if passes+fails > 0 {
			want = float64(passes) / float64(passes+fails)
		}
		if got := r.Value(); got != want {
			t.Fatalf("rate = %v, want %v", got, want)
		}
	})
}

func TestTrendNearestRankP95(t *testing.T) {
	var tr metrics.Trend
	for i := 0; i < 95; i++ {
		tr.Add(100 * time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		tr.Add(1000 * time.Millisecond)
	}

	s := tr.Summary()
	assert.Equal(t, int64(100), s.Count)
	assert.Equal(t, 100*time.Millisecond, s.P95)
	assert.Equal(t, 1000*time.Millisecond, s.P99)
	assert.Equal(t, 100*time.Millisecond, s.Min)
	assert.Equal(t, 1000*time.Millisecond, s.Max)
	assert.Equal(t, 145*time.Millisecond, s.Mean)
}

func TestTrendExtraPercentiles(t *testing.T) {
	var tr metrics.Trend
	for i := 1; i <= 10; i++ {
		tr.Add(time.Duration(i) * time.Millisecond)
	}
	s := tr.Summary(75, 100, 0)
	require.Len(t, s.Percentiles, 3)
	assert.Equal(t, 8*time.Millisecond, s.Percentiles[75])
	assert.Equal(t, 10*time.Millisecond, s.Percentiles[100])
	assert.Equal(t, 1*time.Millisecond, s.Percentiles[0])
	assert.Equal(t, 5*time.Millisecond, tr.Percentile(50))
}

func TestTrendEmpty(t *testing.T) {
	var tr metrics.Trend
	s := tr.Summary(95)
	assert.Zero(t, s.Count)
	assert.Zero(t, s.P95)
	assert.Equal(t, time.Duration(0), s.Percentiles[95])
	assert.Zero(t, tr.Percentile(99))
}

func TestTrendAddVisibleAfterSummary(t *testing.T) {
	var tr metrics.Trend
	tr.Add(5 * time.Millisecond)
	_ = tr.Summary()
	tr.Add(time.Millisecond)
	s := tr.Summary()
	assert.Equal(t, int64(2), s.Count)
	assert.Equal(t, time.Millisecond, s.Min)
}

func TestTrendPercentileProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		samples := rapid.SliceOfN(rapid.IntRange(1, 10_000), 1, 300).Draw(t, "samples")
		p := rapid.Float64Range(0, 100).Draw(t, "p")

		var tr metrics.Trend
		for _, ms := range samples {
			tr.Add(time.Duration(ms) * time.Millisecond)
		}
		got := tr.Percentile(p)

		atOrBelow := 0
		for _, ms := range samples {
			if time.Duration(ms)*time.Millisecond <= got {
				atOrBelow++
			}
		}
		if float64(atOrBelow)*100 < p*float64(len(samples))-1e-9 {
			t.Fatalf("p%.2f=%s covers only %d of %d samples", p, got, atOrBelow, len(samples))
		}
	})
}
