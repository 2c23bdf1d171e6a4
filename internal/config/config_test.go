package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/crudfire/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TargetURL != "" {
		t.Errorf("TargetURL = %q, want empty", cfg.TargetURL)
	}
	if cfg.ResourcePath != "/usuarios" {
		t.Errorf("ResourcePath = %q, want /usuarios", cfg.ResourcePath)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s", cfg.Timeout)
	}
	if cfg.ThinkTime != time.Second {
		t.Errorf("ThinkTime = %s, want 1s", cfg.ThinkTime)
	}
	if cfg.MaxResponseBytes != config.DefaultMaxResponseBytes {
		t.Errorf("MaxResponseBytes = %d, want %d", cfg.MaxResponseBytes, config.DefaultMaxResponseBytes)
	}
	if cfg.GracefulStop != 30*time.Second {
		t.Errorf("GracefulStop = %s, want 30s", cfg.GracefulStop)
	}
	if len(cfg.Stages) != 3 || cfg.TotalDuration() != 50*time.Second || cfg.PeakTarget() != 10 {
		t.Errorf("unexpected default stages: %+v", cfg.Stages)
	}
	if len(cfg.Thresholds) != 3 {
		t.Errorf("expected 3 default thresholds, got %v", cfg.Thresholds)
	}
	want := config.StatusConfig{Create: 201, List: 200, Update: 200, Delete: 204}
	if cfg.Status != want {
		t.Errorf("Status = %+v, want %+v", cfg.Status, want)
	}
	if cfg.NameField != "nome" {
		t.Errorf("NameField = %q, want nome", cfg.NameField)
	}
	if cfg.JSONOutput {
		t.Errorf("JSONOutput = true, want false")
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	content := `
target: http://localhost:3000/
resource_path: /users
headers:
  x-api-key: secret
stages:
  - duration: 5s
    target: 3
  - "10s:0"
thresholds:
  http_req_duration:
    - p(95)<300
  errors:
    - count<1
think_time: 250ms
think_time_model: Exponential
status:
  create: 200
log:
  level: debug
  format: json
tracing:
  endpoint: localhost:4317
  insecure: true
abort_on_fail: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path, "--think-time", "500ms"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TargetURL != "http://localhost:3000" {
		t.Errorf("TargetURL = %q, want trailing slash trimmed", cfg.TargetURL)
	}
	if cfg.ResourcePath != "/users" {
		t.Errorf("ResourcePath = %q", cfg.ResourcePath)
	}
	if cfg.Headers["X-Api-Key"] != "secret" {
		t.Errorf("Headers = %v", cfg.Headers)
	}
	if len(cfg.Stages) != 2 || cfg.Stages[0] != (config.StageConfig{Duration: 5 * time.Second, Target: 3}) || cfg.Stages[1].Duration != 10*time.Second {
		t.Errorf("Stages = %+v", cfg.Stages)
	}
	if cfg.Thresholds != nil || len(cfg.ThresholdMap) != 2 {
		t.Errorf("expected map-form thresholds to replace defaults, got %v / %v", cfg.Thresholds, cfg.ThresholdMap)
	}
	rules, err := cfg.Rules()
	if err != nil || len(rules) != 2 {
		t.Fatalf("Rules() = %v, %v", rules, err)
	}
	if cfg.ThinkTime != 500*time.Millisecond {
		t.Errorf("flag should override file think_time, got %s", cfg.ThinkTime)
	}
	if cfg.ThinkTimeModel != config.ThinkTimeExponential {
		t.Errorf("ThinkTimeModel = %q", cfg.ThinkTimeModel)
	}
	if cfg.Status.Create != 200 || cfg.Status.Delete != 204 {
		t.Errorf("Status = %+v, want create overridden and others default", cfg.Status)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if !cfg.Tracing.Enabled() || !cfg.Tracing.ShouldPropagate() || !cfg.Tracing.Insecure {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if !cfg.AbortOnFail {
		t.Error("AbortOnFail = false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadConfigFileJSONThresholdList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	if err := os.WriteFile(path, []byte(`{
		"target": "https://api.example.com",
		"thresholds": ["success_rate:rate > 0.99"],
		"max_vus": 20,
		"graceful_stop": "5s",
		"json_output": true
	}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path, "--threshold", "errors:count < 3", "--stage", "1s:2"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Thresholds) != 1 || cfg.Thresholds[0] != "errors:count < 3" {
		t.Errorf("flag thresholds should replace file thresholds, got %v", cfg.Thresholds)
	}
	if len(cfg.Stages) != 1 || cfg.Stages[0].Target != 2 {
		t.Errorf("Stages = %+v", cfg.Stages)
	}
	if cfg.MaxVUs != 20 || cfg.GracefulStop != 5*time.Second || !cfg.JSONOutput {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--help"})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("expected ErrHelpRequested, got %v", err)
	}
}

func TestLoadStaticTokenFromEnv(t *testing.T) {
	t.Setenv("CRUDFIRE_AUTH_STATIC_TOKEN", "from-env")
	cfg, err := config.NewLoader().Load([]string{"--target", "http://localhost"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.StaticToken != "from-env" {
		t.Fatalf("StaticToken = %q", cfg.Auth.StaticToken)
	}
}

func validConfig() config.Config {
	cfg := config.Default()
	cfg.TargetURL = "http://localhost:3000"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "missing target", mutate: func(c *config.Config) { c.TargetURL = "" }, wantErr: "target is required"},
		{name: "relative target", mutate: func(c *config.Config) { c.TargetURL = "localhost:3000" }, wantErr: "absolute http(s) URL"},
		{name: "bad resource path", mutate: func(c *config.Config) { c.ResourcePath = "usuarios" }, wantErr: "must start with /"},
		{name: "no stages", mutate: func(c *config.Config) { c.Stages = nil }, wantErr: "at least one stage"},
		{name: "negative stage duration", mutate: func(c *config.Config) {
			c.Stages = []config.StageConfig{{Duration: -time.Second, Target: 1}}
		}, wantErr: "stages[0]: duration"},
		{name: "negative stage target", mutate: func(c *config.Config) {
			c.Stages = []config.StageConfig{{Duration: time.Second, Target: -1}}
		}, wantErr: "stages[0]: target"},
		{name: "target above max vus", mutate: func(c *config.Config) { c.MaxVUs = 5 }, wantErr: "exceeds max_vus"},
		{name: "bad threshold", mutate: func(c *config.Config) { c.Thresholds = []string{"nope"} }, wantErr: "threshold[0]"},
		{name: "bad threshold map", mutate: func(c *config.Config) {
			c.ThresholdMap = map[string][]string{"errors": {"count"}}
		}, wantErr: "errors[0]"},
		{name: "negative response limit", mutate: func(c *config.Config) { c.MaxResponseBytes = -1 }, wantErr: "max_response_bytes"},
		{name: "bad status", mutate: func(c *config.Config) { c.Status.Delete = 42 }, wantErr: "status.delete"},
		{name: "bad think model", mutate: func(c *config.Config) { c.ThinkTimeModel = "gaussian" }, wantErr: "think_time_model"},
		{name: "bad sample rate", mutate: func(c *config.Config) { c.Tracing.SampleRate = 2 }, wantErr: "sample_rate"},
		{name: "bad log format", mutate: func(c *config.Config) { c.Log.Format = "xml" }, wantErr: "log: format"},
		{name: "bad report ext", mutate: func(c *config.Config) { c.ReportFile = "out.txt" }, wantErr: "report_file"},
		{name: "abort without interval", mutate: func(c *config.Config) {
			c.AbortOnFail = true
			c.ThresholdInterval = 0
		}, wantErr: "threshold_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) || len(verr.Issues()) == 0 {
				t.Fatalf("expected ValidationError with issues, got %T", err)
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := validConfig()
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("expected no warnings, got %v", w)
	}
	cfg.Stages = []config.StageConfig{{Duration: time.Second, Target: 1000}}
	cfg.Auth.StaticToken = "t"
	if w := cfg.Warnings(); len(w) != 2 {
		t.Fatalf("expected 2 warnings, got %v", w)
	}
}
