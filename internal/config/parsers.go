// Package config loads crudfire run configuration from files and flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// lookupSetting searches settings for the first matching candidate key,
// also trying the lowercase form viper produces.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func asInt(value interface{}) (int, error) {
	v, err := asInt64(value)
	return int(v), err
}

func asInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseInt(s, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
}

func asFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	default:
		return 0, fmt.Errorf("unsupported float type %T", value)
	}
}

func asBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return false, nil
		}
		return strconv.ParseBool(s)
	default:
		return false, fmt.Errorf("unsupported boolean type %T", value)
	}
}

// asDuration accepts Go duration strings; bare numbers are seconds.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return time.ParseDuration(s)
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		secs, err := asFloat64(toFloatable(v))
		if err != nil {
			return 0, err
		}
		return time.Duration(secs * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
}

func toFloatable(v interface{}) interface{} {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	}
	return v
}

func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	m, err := toStringKeyMapPreserveCase(value)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(m))
	for k, val := range m {
		if strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("header key cannot be empty")
		}
		str, err := asString(val)
		if err != nil {
			return nil, err
		}
		result[k] = str
	}
	return result, nil
}

func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []interface{}:
		result := make([]string, len(v))
		for i, item := range v {
			str, err := asString(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			result[i] = str
		}
		return result, nil
	case string:
		return []string{v}, nil
	default:
		return nil, fmt.Errorf("unsupported string slice type %T", value)
	}
}

func toInterfaceSlice(value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return v, nil
	case []map[string]interface{}:
		items := make([]interface{}, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return items, nil
	case []string:
		items := make([]interface{}, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return items, nil
	default:
		return nil, fmt.Errorf("expected list, got %T", value)
	}
}

// toStringKeyMap converts a decoded map to map[string]interface{} with
// lowercase keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	m, err := toStringKeyMapPreserveCase(value)
	if err != nil {
		return nil, err
	}
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		result[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return result, nil
}

func toStringKeyMapPreserveCase(value interface{}) (map[string]interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		return v, nil
	case map[string]string:
		result := make(map[string]interface{}, len(v))
		for k, val := range v {
			result[k] = val
		}
		return result, nil
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			str, err := asString(key)
			if err != nil {
				return nil, err
			}
			result[str] = val
		}
		return result, nil
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
}

// ParseStageSpec parses the compact "duration:target" form, e.g. "30s:10".
func ParseStageSpec(spec string) (StageConfig, error) {
	spec = strings.TrimSpace(spec)
	idx := strings.LastIndex(spec, ":")
	if idx <= 0 || idx == len(spec)-1 {
		return StageConfig{}, fmt.Errorf("stage %q: expected duration:target", spec)
	}
	d, err := time.ParseDuration(strings.TrimSpace(spec[:idx]))
	if err != nil {
		return StageConfig{}, fmt.Errorf("stage %q: %w", spec, err)
	}
	target, err := strconv.Atoi(strings.TrimSpace(spec[idx+1:]))
	if err != nil {
		return StageConfig{}, fmt.Errorf("stage %q: target: %w", spec, err)
	}
	return StageConfig{Duration: d, Target: target}, nil
}

// parseStages accepts a list of {duration, target} maps or "duration:target"
// strings.
func parseStages(value interface{}) ([]StageConfig, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	stages := make([]StageConfig, 0, len(items))
	for i, item := range items {
		if s, ok := item.(string); ok {
			stage, err := ParseStageSpec(s)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			stages = append(stages, stage)
			continue
		}
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		var stage StageConfig
		if raw, ok := lookupSetting(entry, "duration"); ok {
			if stage.Duration, err = asDuration(raw); err != nil {
				return nil, fmt.Errorf("index %d: duration: %w", i, err)
			}
		}
		if raw, ok := lookupSetting(entry, "target"); ok {
			if stage.Target, err = asInt(raw); err != nil {
				return nil, fmt.Errorf("index %d: target: %w", i, err)
			}
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// parseThresholds accepts either a list of "metric:agg op value" strings or
// the map form {metric: [expr, ...]}.
func parseThresholds(value interface{}) ([]string, map[string][]string, error) {
	if value == nil {
		return nil, nil, nil
	}
	switch value.(type) {
	case map[string]interface{}, map[interface{}]interface{}, map[string]string:
		m, err := toStringKeyMapPreserveCase(value)
		if err != nil {
			return nil, nil, err
		}
		out := make(map[string][]string, len(m))
		for metric, raw := range m {
			exprs, err := asStringSlice(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", metric, err)
			}
			out[metric] = exprs
		}
		return nil, out, nil
	}
	list, err := asStringSlice(value)
	if err != nil {
		return nil, nil, err
	}
	if list == nil {
		list = []string{}
	}
	return list, nil, nil
}
