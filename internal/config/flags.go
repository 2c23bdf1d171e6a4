package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crudfire",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	// Target
	flags.String("target", "", "Base URL of the CRUD API under test")
	flags.String("resource-path", "/usuarios", "Collection path of the resource")
	flags.StringSlice("header", nil, "Additional request header in key=value form")
	flags.Duration("timeout", 30*time.Second, "Per-request timeout")
	flags.Int64("max-response-bytes", DefaultMaxResponseBytes, "Read at most this many bytes of each response body (0 means no limit)")
	flags.String("name-field", "nome", "JSON field holding the resource name")
	flags.String("auth-token", "", "Static bearer token")

	// Load profile
	flags.StringArray("stage", nil, "Stage as duration:target, repeatable (e.g. --stage 10s:10 --stage 30s:10)")
	flags.Duration("think-time", time.Second, "Pause between iterations of one virtual user")
	flags.String("think-time-model", string(ThinkTimeConstant), "Think time model (constant or exponential)")
	flags.Float64("max-iteration-rate", 0, "Global cap on iterations per second (0 means unlimited)")
	flags.Int("max-vus", 0, "Refuse stage targets above this many virtual users (0 means no cap)")
	flags.Duration("graceful-stop", 30*time.Second, "Time allowed for in-flight iterations to finish before they are cancelled")
	flags.Int64("random-seed", 0, "Seed for random choices (0 uses the current time)")

	// Thresholds
	flags.StringArray("threshold", nil, "Threshold, repeatable (e.g. 'http_req_duration:p(95) < 500')")
	flags.Bool("abort-on-fail", false, "Stop the run as soon as a threshold fails")
	flags.Duration("threshold-interval", 2*time.Second, "How often thresholds are evaluated during the run")

	// Output
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.String("report-file", "", "Write the final report to a .json or .yaml file")
	flags.String("history-file", "", "Append a one-line JSON run summary to this file")
	flags.Bool("progress", false, "Print a live progress line to stderr")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Logging
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console or json)")
	flags.String("log-file", "", "Write logs to this file with rotation instead of stderr")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("tracing-protocol", "", "OTLP protocol (grpc or http)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1, "Trace sampling ratio between 0.0 and 1.0")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Bool("tracing-propagate", true, "Inject W3C trace context headers")
}

func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides copies explicitly set flags over file values.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && fs.Changed(name) {
			var v string
			v, err = fs.GetString(name)
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetDuration(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetBool(name)
		}
	}
	float := func(name string, dst *float64) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetFloat64(name)
		}
	}

	str("target", &cfg.TargetURL)
	str("resource-path", &cfg.ResourcePath)
	dur("timeout", &cfg.Timeout)
	str("name-field", &cfg.NameField)
	str("auth-token", &cfg.Auth.StaticToken)
	dur("think-time", &cfg.ThinkTime)
	float("max-iteration-rate", &cfg.MaxIterationRate)
	dur("graceful-stop", &cfg.GracefulStop)
	boolean("abort-on-fail", &cfg.AbortOnFail)
	dur("threshold-interval", &cfg.ThresholdInterval)
	boolean("json-output", &cfg.JSONOutput)
	str("report-file", &cfg.ReportFile)
	str("history-file", &cfg.HistoryFile)
	boolean("progress", &cfg.Progress)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	str("log-file", &cfg.Log.File)
	str("tracing-endpoint", &cfg.Tracing.Endpoint)
	str("tracing-protocol", &cfg.Tracing.Protocol)
	boolean("tracing-insecure", &cfg.Tracing.Insecure)
	float("tracing-sample-rate", &cfg.Tracing.SampleRate)
	str("tracing-service-name", &cfg.Tracing.ServiceName)
	if err != nil {
		return err
	}

	if fs.Changed("think-time-model") {
		val, err := fs.GetString("think-time-model")
		if err != nil {
			return err
		}
		cfg.ThinkTimeModel = ThinkTimeModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("max-vus") {
		val, err := fs.GetInt("max-vus")
		if err != nil {
			return err
		}
		cfg.MaxVUs = val
	}
	if fs.Changed("max-response-bytes") {
		val, err := fs.GetInt64("max-response-bytes")
		if err != nil {
			return err
		}
		cfg.MaxResponseBytes = val
	}
	if fs.Changed("random-seed") {
		val, err := fs.GetInt64("random-seed")
		if err != nil {
			return err
		}
		cfg.RandomSeed = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}
	if fs.Changed("header") {
		values, err := fs.GetStringSlice("header")
		if err != nil {
			return err
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, h := range values {
			key, value, ok := strings.Cut(h, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return fmt.Errorf("header %q: expected key=value", h)
			}
			cfg.Headers[http.CanonicalHeaderKey(strings.TrimSpace(key))] = strings.TrimSpace(value)
		}
	}
	if fs.Changed("stage") {
		specs, err := fs.GetStringArray("stage")
		if err != nil {
			return err
		}
		stages := make([]StageConfig, 0, len(specs))
		for _, spec := range specs {
			stage, err := ParseStageSpec(spec)
			if err != nil {
				return err
			}
			stages = append(stages, stage)
		}
		cfg.Stages = stages
	}
	if fs.Changed("threshold") {
		values, err := fs.GetStringArray("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = values
		cfg.ThresholdMap = nil
	}
	return nil
}
