package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/torosent/crudfire/internal/threshold"
)

type Config struct {
	TargetURL         string              `mapstructure:"target"`
	ResourcePath      string              `mapstructure:"resource_path"`
	Headers           map[string]string   `mapstructure:"headers"`
	Timeout           time.Duration       `mapstructure:"timeout"`
	MaxResponseBytes  int64               `mapstructure:"max_response_bytes"`
	Stages            []StageConfig       `mapstructure:"stages"`
	Thresholds        []string            `mapstructure:"thresholds"`
	ThresholdMap      map[string][]string `mapstructure:"-"`
	ThinkTime         time.Duration       `mapstructure:"think_time"`
	ThinkTimeModel    ThinkTimeModel      `mapstructure:"think_time_model"`
	MaxIterationRate  float64             `mapstructure:"max_iteration_rate"`
	MaxVUs            int                 `mapstructure:"max_vus"`
	GracefulStop      time.Duration       `mapstructure:"graceful_stop"`
	RandomSeed        int64               `mapstructure:"random_seed"`
	Status            StatusConfig        `mapstructure:"status"`
	NameField         string              `mapstructure:"name_field"`
	Auth              AuthConfig          `mapstructure:"auth"`
	Tracing           TracingConfig       `mapstructure:"tracing"`
	Log               LogConfig           `mapstructure:"log"`
	JSONOutput        bool                `mapstructure:"json_output"`
	ReportFile        string              `mapstructure:"report_file"`
	HistoryFile       string              `mapstructure:"history_file"`
	AbortOnFail       bool                `mapstructure:"abort_on_fail"`
	ThresholdInterval time.Duration       `mapstructure:"threshold_interval"`
	Progress          bool                `mapstructure:"progress"`
	ConfigFile        string              `mapstructure:"-"`
}

// StageConfig is one step of the virtual user profile.
type StageConfig struct {
	Duration time.Duration `mapstructure:"duration"`
	Target   int           `mapstructure:"target"`
}

type ThinkTimeModel string

const (
	ThinkTimeConstant    ThinkTimeModel = "constant"
	ThinkTimeExponential ThinkTimeModel = "exponential"
)

// StatusConfig holds the status code each workflow step expects.
type StatusConfig struct {
	Create int `mapstructure:"create"`
	List   int `mapstructure:"list"`
	Update int `mapstructure:"update"`
	Delete int `mapstructure:"delete"`
}

type AuthConfig struct {
	StaticToken string `mapstructure:"static_token"`
}

// TracingConfig configures OpenTelemetry export. Tracing is enabled when an
// endpoint is configured here or through OTEL_EXPORTER_OTLP_ENDPOINT.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether any tracing setting was provided.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || t.ServiceName != "" || t.Protocol != ""
}

// ShouldPropagate defaults to true once tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultMaxResponseBytes caps how much of each response body is read.
const DefaultMaxResponseBytes = 64 << 20

// DefaultThresholds are applied when no thresholds are configured.
var DefaultThresholds = []string{
	"http_req_duration:p(95) < 500",
	"success_rate:rate > 0.95",
	"errors:count < 10",
}

// DefaultStages ramps to 10 users, holds, then ramps down.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{Duration: 10 * time.Second, Target: 10},
		{Duration: 30 * time.Second, Target: 10},
		{Duration: 10 * time.Second, Target: 0},
	}
}

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		ResourcePath:      "/usuarios",
		Headers:           map[string]string{},
		Timeout:           30 * time.Second,
		MaxResponseBytes:  DefaultMaxResponseBytes,
		Stages:            DefaultStages(),
		Thresholds:        append([]string(nil), DefaultThresholds...),
		ThinkTime:         time.Second,
		ThinkTimeModel:    ThinkTimeConstant,
		GracefulStop:      30 * time.Second,
		Status:            StatusConfig{Create: 201, List: 200, Update: 200, Delete: 204},
		NameField:         "nome",
		ThresholdInterval: 2 * time.Second,
		Tracing:           TracingConfig{SampleRate: 1},
		Log:               LogConfig{Level: "info", Format: "console"},
	}
}

// Rules parses the configured thresholds, list form first.
func (c Config) Rules() ([]threshold.Rule, error) {
	rules, err := threshold.ParseMultiple(c.Thresholds)
	if err != nil {
		return nil, err
	}
	fromMap, err := threshold.ParseMap(c.ThresholdMap)
	if err != nil {
		return nil, err
	}
	return append(rules, fromMap...), nil
}

// TotalDuration is the sum of all stage durations.
func (c Config) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range c.Stages {
		total += s.Duration
	}
	return total
}

// PeakTarget is the largest stage target.
func (c Config) PeakTarget() int {
	peak := 0
	for _, s := range c.Stages {
		if s.Target > peak {
			peak = s.Target
		}
	}
	return peak
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	issues = append(issues, validateTarget(c.TargetURL, c.ResourcePath)...)

	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.MaxResponseBytes < 0 {
		issues = append(issues, "max_response_bytes must be >= 0 (0 reads bodies in full)")
	}
	if c.ThinkTime < 0 {
		issues = append(issues, "think_time must be >= 0")
	}
	if c.MaxIterationRate < 0 {
		issues = append(issues, "max_iteration_rate must be >= 0")
	}
	if c.MaxVUs < 0 {
		issues = append(issues, "max_vus must be >= 0")
	}
	if c.GracefulStop < 0 {
		issues = append(issues, "graceful_stop must be >= 0")
	}
	if strings.TrimSpace(c.NameField) == "" {
		issues = append(issues, "name_field is required")
	}
	if c.AbortOnFail && c.ThresholdInterval <= 0 {
		issues = append(issues, "threshold_interval must be > 0 when abort_on_fail is set")
	}

	switch c.ThinkTimeModel {
	case "", ThinkTimeConstant, ThinkTimeExponential:
	default:
		issues = append(issues, fmt.Sprintf("think_time_model %q is not supported (use constant or exponential)", c.ThinkTimeModel))
	}

	issues = append(issues, validateStages(c.Stages, c.MaxVUs)...)
	issues = append(issues, validateStatus(c.Status)...)
	issues = append(issues, validateTracing(c.Tracing)...)
	issues = append(issues, validateLog(c.Log)...)

	if _, err := c.Rules(); err != nil {
		issues = append(issues, err.Error())
	}

	if c.ReportFile != "" {
		switch strings.ToLower(filepath.Ext(c.ReportFile)) {
		case ".json", ".yaml", ".yml":
		default:
			issues = append(issues, fmt.Sprintf("report_file %q must end in .json, .yaml or .yml", c.ReportFile))
		}
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings lists risky but valid settings.
func (c Config) Warnings() []string {
	var warnings []string
	if peak := c.PeakTarget(); peak > 500 {
		warnings = append(warnings, fmt.Sprintf("high virtual user target configured (%d VUs); ensure you have authorization to test the target system", peak))
	}
	if c.Auth.StaticToken != "" {
		warnings = append(warnings, "static tokens increase security risk; prefer short-lived tokens and avoid passing secrets via CLI flags")
	}
	if c.Tracing.Insecure {
		warnings = append(warnings, "tracing exporter TLS is disabled (insecure: true)")
	}
	return warnings
}

func validateTarget(target, path string) []string {
	var issues []string
	target = strings.TrimSpace(target)
	if target == "" {
		issues = append(issues, "target is required (use --help for usage information)")
	} else {
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			issues = append(issues, fmt.Sprintf("target %q must be an absolute http(s) URL", target))
		}
	}
	if !strings.HasPrefix(path, "/") {
		issues = append(issues, fmt.Sprintf("resource_path %q must start with /", path))
	}
	return issues
}

func validateStages(stages []StageConfig, maxVUs int) []string {
	if len(stages) == 0 {
		return []string{"at least one stage is required"}
	}
	var issues []string
	for idx, s := range stages {
		if s.Duration < 0 {
			issues = append(issues, fmt.Sprintf("stages[%d]: duration must be >= 0", idx))
		}
		if s.Target < 0 {
			issues = append(issues, fmt.Sprintf("stages[%d]: target must be >= 0", idx))
		}
		if maxVUs > 0 && s.Target > maxVUs {
			issues = append(issues, fmt.Sprintf("stages[%d]: target %d exceeds max_vus %d", idx, s.Target, maxVUs))
		}
	}
	return issues
}

func validateStatus(s StatusConfig) []string {
	var issues []string
	check := func(name string, code int) {
		if code < 100 || code > 599 {
			issues = append(issues, fmt.Sprintf("status.%s: %d is not a valid HTTP status", name, code))
		}
	}
	check("create", s.Create)
	check("list", s.List)
	check("update", s.Update)
	check("delete", s.Delete)
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	return issues
}

func validateLog(l LogConfig) []string {
	var issues []string
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log: level %q is not supported", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log: format must be 'console' or 'json', got %q", l.Format))
	}
	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		issues = append(issues, "log: rotation limits must be >= 0")
	}
	return issues
}
