package metrics_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/torosent/crudfire/internal/metrics"
)

func TestCollectorLatencyStats(t *testing.T) {
	c := metrics.NewCollector()

	c.RecordRequest(10*time.Millisecond, nil, nil)
	c.RecordRequest(20*time.Millisecond, nil, nil)
	c.RecordRequest(30*time.Millisecond, nil, nil)
	c.RecordRequest(40*time.Millisecond, nil, nil)
	c.RecordRequest(50*time.Millisecond, nil, nil)

	stats := c.Stats(0)

	if stats.Total != 5 {
		t.Errorf("expected total 5, got %d", stats.Total)
	}
	if stats.Successes != 5 {
		t.Errorf("expected successes 5, got %d", stats.Successes)
	}
	if stats.Failures != 0 {
		t.Errorf("expected failures 0, got %d", stats.Failures)
	}
	if stats.MinLatency != 10*time.Millisecond {
		t.Errorf("expected min 10ms, got %s", stats.MinLatency)
	}
	if stats.MaxLatency != 50*time.Millisecond {
		t.Errorf("expected max 50ms, got %s", stats.MaxLatency)
	}
	if stats.MeanLatency != 30*time.Millisecond {
		t.Errorf("expected mean 30ms, got %s", stats.MeanLatency)
	}
}

func TestCollectorPercentiles(t *testing.T) {
	c := metrics.NewCollector()

	for i := 1; i <= 100; i++ {
		c.RecordRequest(time.Duration(i)*time.Millisecond, nil, nil)
	}

	stats := c.Stats(0)

	if stats.P50Latency < 49*time.Millisecond || stats.P50Latency > 51*time.Millisecond {
		t.Errorf("expected P50 ~50ms, got %s", stats.P50Latency)
	}
	if stats.P90Latency < 89*time.Millisecond || stats.P90Latency > 91*time.Millisecond {
		t.Errorf("expected P90 ~90ms, got %s", stats.P90Latency)
	}
	if stats.P99Latency < 98*time.Millisecond || stats.P99Latency > 101*time.Millisecond {
		t.Errorf("expected P99 ~99ms, got %s", stats.P99Latency)
	}
}

func TestCollectorJSONSchema(t *testing.T) {
	c := metrics.NewCollector()

	c.RecordRequest(15*time.Millisecond, nil, &metrics.RequestMetadata{Step: "create", StatusCode: "201"})
	c.RecordRequest(25*time.Millisecond, errors.New("boom"), &metrics.RequestMetadata{Step: "list", StatusCode: "500"})

	data, err := json.Marshal(c.Stats(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("failed to marshal stats: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	required := []string{"total", "successes", "failures", "min_latency_ms", "max_latency_ms", "mean_latency_ms", "p50_latency_ms", "p90_latency_ms", "p99_latency_ms", "duration_ms", "requests_per_sec", "steps", "status_buckets", "errors"}
	for _, field := range required {
		if _, ok := parsed[field]; !ok {
			t.Errorf("missing field %q in JSON output", field)
		}
	}
}

func TestCollectorConcurrentRecording(t *testing.T) {
	c := metrics.NewCollector()

	var wg sync.WaitGroup
	workers := 10
	perWorker := 100

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				c.RecordRequest(time.Millisecond, nil, &metrics.RequestMetadata{Step: "list"})
			}
		}()
	}
	wg.Wait()

	stats := c.Stats(0)
	if stats.Total != int64(workers*perWorker) {
		t.Errorf("expected total %d, got %d", workers*perWorker, stats.Total)
	}
	if stats.Steps["list"].Total != int64(workers*perWorker) {
		t.Errorf("expected list total %d, got %d", workers*perWorker, stats.Steps["list"].Total)
	}
}

func TestCollectorStepBreakdown(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordRequest(10*time.Millisecond, nil, &metrics.RequestMetadata{Step: "create", StatusCode: "201"})
	c.RecordRequest(20*time.Millisecond, nil, &metrics.RequestMetadata{Step: "create", StatusCode: "201"})
	c.RecordRequest(15*time.Millisecond, errors.New("bad status"), &metrics.RequestMetadata{Step: "delete", StatusCode: "404"})

	stats := c.Stats(2 * time.Second)
	if len(stats.Steps) != 2 {
		t.Fatalf("expected 2 step stats, got %d", len(stats.Steps))
	}
	create := stats.Steps["create"]
	if create.Total != 2 {
		t.Fatalf("expected create total 2, got %d", create.Total)
	}
	if create.P50LatencyMs == 0 {
		t.Fatalf("expected percentile calculations for create step")
	}
	if create.RequestsPerSec <= 0 {
		t.Fatalf("expected create RPS to be > 0")
	}
	if got := stats.Steps["delete"].Failures; got != 1 {
		t.Fatalf("expected 1 delete failure, got %d", got)
	}
	if got := stats.StatusBuckets["delete"]["404"]; got != 1 {
		t.Fatalf("expected delete/404 bucket 1, got %d", got)
	}
	if _, ok := stats.StatusBuckets["create"]; ok {
		t.Fatalf("successful requests must not populate status buckets")
	}
}

func TestCollectorErrorBreakdown(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordRequest(time.Millisecond, errors.New("a"), nil)
	c.RecordRequest(time.Millisecond, errors.New("b"), &metrics.RequestMetadata{StatusCode: "500"})

	breakdown := c.GetErrorBreakdown()
	if got := breakdown["Error String (errors)"]; got != 2 {
		t.Fatalf("expected 2 errorString entries, got %v", breakdown)
	}
	if got := c.Stats(0).StatusBuckets["unknown"]["500"]; got != 1 {
		t.Fatalf("expected status without step under \"unknown\", got %d", got)
	}
}

func TestFriendlyErrorName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "Unknown error"},
		{"*url.Error", "Request URL error"},
		{"*net.OpError", "Network error"},
		{"*github.com/torosent/crudfire/internal/workflow.StepError", "Check failed"},
		{"context.deadlineExceededError", "Context deadline exceeded"},
		{"*errors.errorString", "Error String (errors)"},
		{"*json.SyntaxError", "Syntax Error (json)"},
		{"main.HTTPError", "HTTP Error"},
	}
	for _, tt := range tests {
		if got := metrics.FriendlyErrorName(tt.in); got != tt.want {
			t.Errorf("FriendlyErrorName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
