package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/torosent/crudfire/internal/loadtest"
	"github.com/torosent/crudfire/internal/metrics"
	"github.com/torosent/crudfire/internal/pool"
	"github.com/torosent/crudfire/internal/threshold"
)

func sampleReport(t *testing.T, pass bool) *loadtest.Report {
	t.Helper()
	collector := metrics.NewCollector()
	collector.Start()
	for i := 0; i < 10; i++ {
		collector.RecordRequest(20*time.Millisecond, nil, &metrics.RequestMetadata{Step: "create"})
		collector.RecordRequest(10*time.Millisecond, nil, &metrics.RequestMetadata{Step: "list"})
	}
	reg := metrics.NewRegistry(collector)
	successRate, err := reg.Rate("success_rate")
	require.NoError(t, err)
	successRate.Add(true)
	_, err = reg.Counter("errors")
	require.NoError(t, err)

	rules, err := threshold.ParseMultiple([]string{"success_rate:rate > 0.95"})
	require.NoError(t, err)
	if !pass {
		rules, err = threshold.ParseMultiple([]string{"success_rate:rate > 0.95", "http_reqs:count > 100"})
		require.NoError(t, err)
	}

	return &loadtest.Report{
		RunID:       "01HZY3W1T0ABCDEF0123456789",
		Target:      "http://localhost:3000/usuarios",
		StartedAt:   time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
		Duration:    2 * time.Second,
		Iterations:  10,
		PeakVUs:     3,
		ResidualIDs: 1,
		Pool:        pool.Stats{Pushed: 10, Popped: 9, Current: 1},
		Requests:    collector.Stats(2 * time.Second),
		Metrics:     reg.Snapshot(),
		Verdict:     threshold.Evaluate(rules, reg),
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport(t, true))
	out := buf.String()

	for _, want := range []string{
		"Total Requests:    20",
		"Iterations:        10 (0 failed)",
		"VUs max:           3",
		"Residual IDs:      1",
		"Step Breakdown:",
		"success_rate",
		"Thresholds: 1/1 passed",
		"Result: PASS",
	} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "- create:"), strings.Index(out, "- list:"), "steps should follow workflow order")
}

func TestPrintReportListsFailedThresholds(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport(t, false))
	out := buf.String()
	assert.Contains(t, out, "Thresholds: 1/2 passed")
	assert.Contains(t, out, "✗ http_reqs:count > 100")
	assert.Contains(t, out, "Result: FAIL")
}

func TestPrintJSONReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSONReport(&buf, sampleReport(t, false)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "01HZY3W1T0ABCDEF0123456789", decoded["run_id"])
	assert.Equal(t, float64(3), decoded["vus_max"])
	assert.Equal(t, float64(2000), decoded["duration_ms"])

	thresholds := decoded["thresholds"].(map[string]any)
	assert.Equal(t, false, thresholds["pass"])
	assert.Equal(t, float64(1), thresholds["failed"])

	requests := decoded["requests"].(map[string]any)
	assert.Equal(t, float64(20), requests["total"])
	assert.Contains(t, decoded["steps"], "create")
}

func TestPrintYAMLReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintYAMLReport(&buf, sampleReport(t, true)))

	var decoded Summary
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "http://localhost:3000/usuarios", decoded.Target)
	assert.Equal(t, int64(20), decoded.Requests.Total)
	assert.True(t, decoded.Thresholds.Pass)
	assert.Equal(t, int64(10), decoded.Pool.Pushed)
	assert.Contains(t, buf.String(), "residual_ids: 1")
}

func TestWriteReportFile(t *testing.T) {
	dir := t.TempDir()
	report := sampleReport(t, true)

	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, WriteReportFile(jsonPath, report))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	yamlPath := filepath.Join(dir, "report.yml")
	require.NoError(t, WriteReportFile(yamlPath, report))
	data, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run_id: 01HZY3W1T0ABCDEF0123456789")

	assert.Error(t, WriteReportFile(filepath.Join(dir, "report.txt"), report))
}

func TestHistoryAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")

	entries, err := ReadHistory(path)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, AppendHistory(path, sampleReport(t, true)))
	require.NoError(t, AppendHistory(path, sampleReport(t, false)))

	entries, err = ReadHistory(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Pass)
	assert.False(t, entries[1].Pass)
	assert.Equal(t, []string{"http_reqs:count > 100"}, entries[1].Failed)
	assert.Equal(t, int64(20), entries[0].Requests)
}

func TestHistoryConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	report := sampleReport(t, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, AppendHistory(path, report))
		}()
	}
	wg.Wait()

	entries, err := ReadHistory(path)
	require.NoError(t, err)
	assert.Len(t, entries, 8)
}

func TestReadHistoryRejectsCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"run_id\":\"a\"}\nnot json\n"), 0o644))
	_, err := ReadHistory(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestFormatProgress(t *testing.T) {
	line := FormatProgress(loadtest.Progress{
		Elapsed:          12*time.Second + 400*time.Millisecond,
		Stage:            1,
		ActiveVUs:        10,
		PlannedVUs:       10,
		Iterations:       120,
		FailedIterations: 3,
		Requests:         470,
		FailedRequests:   3,
		PooledIDs:        2,
	}, 3)
	assert.Equal(t, "[12s] Stage: 2/3 | VUs: 10/10 | Iterations: 120 (3 failed) | Requests: 470 | Failures: 3 | IDs: 2", line)

	assert.Contains(t, FormatProgress(loadtest.Progress{Stage: -1}, 3), "Stage: draining")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressReporterWritesLines(t *testing.T) {
	var out syncBuffer
	var calls int32
	var mu sync.Mutex
	source := func() loadtest.Progress {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return loadtest.Progress{Stage: 0, ActiveVUs: 2, PlannedVUs: 2}
	}

	reporter := NewProgressReporter(source, 1, 10*time.Millisecond, &out)
	reporter.Start()
	reporter.Start()
	time.Sleep(60 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	assert.Contains(t, out.String(), "\r[0s] Stage: 1/1 | VUs: 2/2")
	mu.Lock()
	assert.Positive(t, calls)
	mu.Unlock()
}
