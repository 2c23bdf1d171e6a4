package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and an optional configuration file.
// Flags override file values, which override defaults.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}
	return loadFromFlags(cmd.Flags())
}

// LoadFlags builds a Config from a flag set that was registered with
// RegisterFlags and already parsed, e.g. by cobra.
func (Loader) LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	return loadFromFlags(fs)
}

func loadFromFlags(fs *pflag.FlagSet) (*Config, error) {
	configPath, err := fs.GetString("config")
	if err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		if err := applyConfigSettings(&cfg, v.AllSettings()); err != nil {
			return nil, err
		}
	}

	if err := applyFlagOverrides(&cfg, fs); err != nil {
		return nil, err
	}

	if cfg.Auth.StaticToken == "" {
		cfg.Auth.StaticToken = os.Getenv("CRUDFIRE_AUTH_STATIC_TOKEN")
	}
	cfg.TargetURL = strings.TrimRight(strings.TrimSpace(cfg.TargetURL), "/")
	cfg.ThinkTimeModel = ThinkTimeModel(strings.ToLower(string(cfg.ThinkTimeModel)))
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	return &cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	type field struct {
		keys  []string
		apply func(interface{}) error
	}

	setString := func(dst *string) func(interface{}) error {
		return func(raw interface{}) error {
			v, err := asString(raw)
			*dst = strings.TrimSpace(v)
			return err
		}
	}
	fields := []field{
		{[]string{"target"}, setString(&cfg.TargetURL)},
		{[]string{"resource_path", "resourcepath", "resource-path"}, setString(&cfg.ResourcePath)},
		{[]string{"name_field", "namefield", "name-field"}, setString(&cfg.NameField)},
		{[]string{"report_file", "reportfile", "report-file"}, setString(&cfg.ReportFile)},
		{[]string{"history_file", "historyfile", "history-file"}, setString(&cfg.HistoryFile)},
		{[]string{"headers"}, func(raw interface{}) error {
			hdrs, err := asStringMap(raw)
			if err != nil {
				return err
			}
			if cfg.Headers == nil {
				cfg.Headers = map[string]string{}
			}
			for k, v := range hdrs {
				cfg.Headers[http.CanonicalHeaderKey(k)] = v
			}
			return nil
		}},
		{[]string{"timeout"}, func(raw interface{}) (err error) {
			cfg.Timeout, err = asDuration(raw)
			return err
		}},
		{[]string{"max_response_bytes", "maxresponsebytes", "max-response-bytes"}, func(raw interface{}) (err error) {
			cfg.MaxResponseBytes, err = asInt64(raw)
			return err
		}},
		{[]string{"stages"}, func(raw interface{}) (err error) {
			cfg.Stages, err = parseStages(raw)
			return err
		}},
		{[]string{"thresholds"}, func(raw interface{}) (err error) {
			cfg.Thresholds, cfg.ThresholdMap, err = parseThresholds(raw)
			return err
		}},
		{[]string{"think_time", "thinktime", "think-time"}, func(raw interface{}) (err error) {
			cfg.ThinkTime, err = asDuration(raw)
			return err
		}},
		{[]string{"think_time_model", "thinktimemodel", "think-time-model"}, func(raw interface{}) error {
			v, err := asString(raw)
			cfg.ThinkTimeModel = ThinkTimeModel(strings.TrimSpace(v))
			return err
		}},
		{[]string{"max_iteration_rate", "maxiterationrate", "max-iteration-rate"}, func(raw interface{}) (err error) {
			cfg.MaxIterationRate, err = asFloat64(raw)
			return err
		}},
		{[]string{"max_vus", "maxvus", "max-vus"}, func(raw interface{}) (err error) {
			cfg.MaxVUs, err = asInt(raw)
			return err
		}},
		{[]string{"graceful_stop", "gracefulstop", "graceful-stop"}, func(raw interface{}) (err error) {
			cfg.GracefulStop, err = asDuration(raw)
			return err
		}},
		{[]string{"random_seed", "randomseed", "random-seed"}, func(raw interface{}) (err error) {
			cfg.RandomSeed, err = asInt64(raw)
			return err
		}},
		{[]string{"status"}, func(raw interface{}) (err error) {
			cfg.Status, err = parseStatus(raw, cfg.Status)
			return err
		}},
		{[]string{"auth"}, func(raw interface{}) (err error) {
			cfg.Auth, err = parseAuth(raw)
			return err
		}},
		{[]string{"tracing"}, func(raw interface{}) (err error) {
			cfg.Tracing, err = parseTracing(raw, cfg.Tracing)
			return err
		}},
		{[]string{"log"}, func(raw interface{}) (err error) {
			cfg.Log, err = parseLog(raw, cfg.Log)
			return err
		}},
		{[]string{"json_output", "jsonoutput", "json-output"}, func(raw interface{}) (err error) {
			cfg.JSONOutput, err = asBool(raw)
			return err
		}},
		{[]string{"abort_on_fail", "abortonfail", "abort-on-fail"}, func(raw interface{}) (err error) {
			cfg.AbortOnFail, err = asBool(raw)
			return err
		}},
		{[]string{"threshold_interval", "thresholdinterval", "threshold-interval"}, func(raw interface{}) (err error) {
			cfg.ThresholdInterval, err = asDuration(raw)
			return err
		}},
		{[]string{"progress"}, func(raw interface{}) (err error) {
			cfg.Progress, err = asBool(raw)
			return err
		}},
	}

	for _, f := range fields {
		raw, ok := lookupSetting(settings, f.keys...)
		if !ok {
			continue
		}
		if err := f.apply(raw); err != nil {
			return fmt.Errorf("%s: %w", f.keys[0], err)
		}
	}
	return nil
}

func parseStatus(value interface{}, base StatusConfig) (StatusConfig, error) {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return StatusConfig{}, err
	}
	targets := map[string]*int{
		"create": &base.Create,
		"list":   &base.List,
		"update": &base.Update,
		"delete": &base.Delete,
	}
	for key, dst := range targets {
		raw, ok := lookupSetting(entry, key)
		if !ok {
			continue
		}
		if *dst, err = asInt(raw); err != nil {
			return StatusConfig{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	return base, nil
}

func parseAuth(value interface{}) (AuthConfig, error) {
	if value == nil {
		return AuthConfig{}, nil
	}
	entry, err := toStringKeyMap(value)
	if err != nil {
		return AuthConfig{}, err
	}
	var auth AuthConfig
	if raw, ok := lookupSetting(entry, "statictoken", "static_token", "static-token"); ok {
		val, err := asString(raw)
		if err != nil {
			return AuthConfig{}, fmt.Errorf("static_token: %w", err)
		}
		auth.StaticToken = strings.TrimSpace(val)
	}
	return auth, nil
}

func parseTracing(value interface{}, base TracingConfig) (TracingConfig, error) {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	if raw, ok := lookupSetting(entry, "endpoint"); ok {
		v, _ := asString(raw)
		base.Endpoint = strings.TrimSpace(v)
	}
	if raw, ok := lookupSetting(entry, "protocol"); ok {
		v, _ := asString(raw)
		base.Protocol = strings.ToLower(strings.TrimSpace(v))
	}
	if raw, ok := lookupSetting(entry, "service_name", "servicename", "service-name"); ok {
		v, _ := asString(raw)
		base.ServiceName = strings.TrimSpace(v)
	}
	if raw, ok := lookupSetting(entry, "insecure"); ok {
		if base.Insecure, err = asBool(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "sample_rate", "samplerate", "sample-rate"); ok {
		if base.SampleRate, err = asFloat64(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "propagate"); ok {
		v, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("propagate: %w", err)
		}
		base.Propagate = &v
	}
	return base, nil
}

func parseLog(value interface{}, base LogConfig) (LogConfig, error) {
	entry, err := toStringKeyMap(value)
	if err != nil {
		return LogConfig{}, err
	}
	if raw, ok := lookupSetting(entry, "level"); ok {
		v, _ := asString(raw)
		base.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if raw, ok := lookupSetting(entry, "format"); ok {
		v, _ := asString(raw)
		base.Format = strings.ToLower(strings.TrimSpace(v))
	}
	if raw, ok := lookupSetting(entry, "file"); ok {
		v, _ := asString(raw)
		base.File = strings.TrimSpace(v)
	}
	ints := map[string]*int{
		"max_size_mb":  &base.MaxSizeMB,
		"max_backups":  &base.MaxBackups,
		"max_age_days": &base.MaxAgeDays,
	}
	for key, dst := range ints {
		raw, ok := lookupSetting(entry, key)
		if !ok {
			continue
		}
		if *dst, err = asInt(raw); err != nil {
			return LogConfig{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	return base, nil
}
