package threshold

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/crudfire/internal/metrics"
)

// Rule is a performance assertion over one aggregate of a named metric.
type Rule struct {
	Metric    string  // e.g. "http_req_duration", "success_rate", "errors"
	Aggregate string  // canonical form: "p(95)", "avg", "rate", "count", ...
	Operator  string  // "<", "<=", ">", ">=", "==", "!="
	Value     float64 // durations are normalized to milliseconds
	Raw       string  // original text for display
}

func (r Rule) String() string {
	if r.Raw != "" {
		return r.Raw
	}
	return fmt.Sprintf("%s:%s %s %s", r.Metric, r.Aggregate, r.Operator, strconv.FormatFloat(r.Value, 'f', -1, 64))
}

// Result represents the outcome of evaluating one rule.
type Result struct {
	Rule    Rule
	Actual  float64
	Pass    bool
	Message string
}

// Verdict is the combined outcome of a rule set.
type Verdict struct {
	Pass    bool
	Results []Result
	Failed  []Rule
}

// Source resolves metric aggregates. *metrics.Registry implements it.
type Source interface {
	Value(name, aggregate string) (float64, error)
}

var _ Source = (*metrics.Registry)(nil)

var (
	ErrEmptyRule  = errors.New("empty threshold")
	ErrRuleFormat = errors.New("invalid threshold format")
)

// Evaluator evaluates a fixed rule set, any number of times.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(rules []Rule) *Evaluator {
	return &Evaluator{rules: rules}
}

// Rules returns the evaluator's rules.
func (e *Evaluator) Rules() []Rule {
	return e.rules
}

// Evaluate checks all rules against src.
func (e *Evaluator) Evaluate(src Source) Verdict {
	return Evaluate(e.rules, src)
}

// Evaluate checks every rule against src. It only reads from src. The verdict
// passes iff every rule passes; an empty rule set passes.
func Evaluate(rules []Rule, src Source) Verdict {
	v := Verdict{Pass: true}
	if len(rules) == 0 {
		return v
	}
	v.Results = make([]Result, 0, len(rules))
	for _, r := range rules {
		res := evaluateOne(r, src)
		v.Results = append(v.Results, res)
		if !res.Pass {
			v.Pass = false
			v.Failed = append(v.Failed, r)
		}
	}
	return v
}

func evaluateOne(r Rule, src Source) Result {
	actual, err := src.Value(r.Metric, r.Aggregate)
	if err != nil {
		return Result{
			Rule:    r,
			Pass:    false,
			Message: fmt.Sprintf("✗ %s: %v", r, err),
		}
	}

	pass := compareValues(actual, r.Operator, r.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}
	return Result{
		Rule:    r,
		Actual:  actual,
		Pass:    pass,
		Message: fmt.Sprintf("%s %s: %.2f %s %.2f", status, r, actual, r.Operator, r.Value),
	}
}

var rulePattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)\s*:\s*([A-Za-z]+|[pP]\(?[0-9.]+\)?)\s*(<=|>=|==|!=|<|>)\s*([0-9]*\.?[0-9]+)\s*(us|µs|ms|s|m)?$`)

// Parse parses a threshold string of the form "metric:aggregate operator value".
// Examples:
//
//	http_req_duration:p(95) < 500
//	http_req_duration:p95 < 1.5s
//	success_rate:rate > 0.95
//	errors:count < 10
func Parse(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rule{}, ErrEmptyRule
	}

	m := rulePattern.FindStringSubmatch(s)
	if m == nil {
		return Rule{}, fmt.Errorf("%w: %q (expected metric:aggregate operator value, e.g. 'http_req_duration:p(95) < 500')", ErrRuleFormat, s)
	}

	aggregate, err := normalizeAggregate(m[2])
	if err != nil {
		return Rule{}, err
	}

	value, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid threshold value %q: %w", m[4], err)
	}
	value = toMillis(value, m[5])

	return Rule{
		Metric:    m[1],
		Aggregate: aggregate,
		Operator:  m[3],
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseExpression parses a k6-style expression bound to a metric, e.g.
// ParseExpression("http_req_duration", "p(95)<500").
func ParseExpression(metric, expr string) (Rule, error) {
	metric = strings.TrimSpace(metric)
	expr = strings.TrimSpace(expr)
	if metric == "" || expr == "" {
		return Rule{}, ErrEmptyRule
	}
	r, err := Parse(metric + ":" + expr)
	if err != nil {
		return Rule{}, err
	}
	r.Raw = metric + " " + expr
	return r, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Rule, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Rule, 0, len(thresholds))
	var problems []string
	for i, s := range thresholds {
		r, err := Parse(s)
		if err != nil {
			problems = append(problems, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, r)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}
	return result, nil
}

// ParseMap parses the k6 map form {metric: [expr, ...]}. Rules are ordered
// by metric name, then by expression order.
func ParseMap(m map[string][]string) ([]Rule, error) {
	if len(m) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var result []Rule
	var problems []string
	for _, name := range names {
		for i, expr := range m[name] {
			r, err := ParseExpression(name, expr)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s[%d]: %v", name, i, err))
				continue
			}
			result = append(result, r)
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}
	return result, nil
}

func normalizeAggregate(agg string) (string, error) {
	lower := strings.ToLower(agg)
	switch lower {
	case "count", "rate", "avg", "min", "max", "med", "passes", "fails":
		return lower, nil
	case "mean":
		return "avg", nil
	}
	if p, ok := metrics.ParsePercentile(lower); ok {
		return metrics.FormatPercentile(p), nil
	}
	return "", fmt.Errorf("unsupported aggregate: %q (supported: count, rate, avg, min, max, med, passes, fails, p(N))", agg)
}

func toMillis(v float64, unit string) float64 {
	switch unit {
	case "us", "µs":
		return v / 1000
	case "s":
		return v * 1000
	case "m":
		return v * 60_000
	default:
		return v
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	case "!=":
		return math.Abs(actual-expected) >= epsilon
	default:
		return false
	}
}
