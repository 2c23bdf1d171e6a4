package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/torosent/crudfire/internal/target"
)

func startTarget(t *testing.T, opts ...target.Option) string {
	t.Helper()
	srv := httptest.NewServer(target.New("/usuarios", opts...))
	t.Cleanup(srv.Close)
	return srv.URL
}

func baseArgs(url string) []string {
	return []string{
		"--target", url,
		"--stage", "200ms:1",
		"--think-time", "5ms",
		"--random-seed", "7",
		"--log-level", "error",
	}
}

func TestRunPassingThresholdsExitsZero(t *testing.T) {
	var stdout, stderr bytes.Buffer
	args := append(baseArgs(startTarget(t)), "--threshold", "success_rate:rate > 0.95")

	code := run(context.Background(), args, &stdout, &stderr)
	if code != exitPass {
		t.Fatalf("exit code = %d, want %d; stderr: %s", code, exitPass, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Result: PASS") {
		t.Errorf("expected PASS in report, got:\n%s", stdout.String())
	}
}

func TestRunFailingThresholdsExits99(t *testing.T) {
	var stdout, stderr bytes.Buffer
	args := append(baseArgs(startTarget(t, target.WithFailureRate(1, 1))),
		"--threshold", "errors:count < 1",
		"--json-output",
	)

	code := run(context.Background(), args, &stdout, &stderr)
	if code != exitThresholdsFailed {
		t.Fatalf("exit code = %d, want %d; stderr: %s", code, exitThresholdsFailed, stderr.String())
	}

	var summary struct {
		Thresholds struct {
			Pass   bool `json:"pass"`
			Failed int  `json:"failed"`
		} `json:"thresholds"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &summary); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout.String())
	}
	if summary.Thresholds.Pass || summary.Thresholds.Failed != 1 {
		t.Errorf("unexpected thresholds %+v", summary.Thresholds)
	}
}

func TestRunInvalidConfigExitsOne(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--stage", "1s:1"}, &stdout, &stderr)
	if code != exitFatal {
		t.Fatalf("exit code = %d, want %d", code, exitFatal)
	}
	if !strings.Contains(stderr.String(), "target is required") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunHelpExitsZero(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"--help"}, &stdout, &stderr); code != exitPass {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "--stage") {
		t.Errorf("help output missing flags:\n%s", stdout.String())
	}
}

func TestRunWritesReportAndHistory(t *testing.T) {
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report.yaml")
	historyPath := filepath.Join(dir, "history.jsonl")
	url := startTarget(t)

	for i := 0; i < 2; i++ {
		var stdout, stderr bytes.Buffer
		args := append(baseArgs(url),
			"--report-file", reportPath,
			"--history-file", historyPath,
		)
		if code := run(context.Background(), args, &stdout, &stderr); code != exitPass {
			t.Fatalf("run %d: exit code = %d; stderr: %s", i, code, stderr.String())
		}
	}

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"history", "--file", historyPath, "--last", "1"}, &stdout, &stderr)
	if code != exitPass {
		t.Fatalf("history exit code = %d; stderr: %s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "PASS") {
		t.Errorf("history output = %q", stdout.String())
	}
}

func TestHistoryRequiresFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"history"}, &stdout, &stderr); code != exitFatal {
		t.Fatalf("exit code = %d, want %d", code, exitFatal)
	}
}
