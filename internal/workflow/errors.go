package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// StepError describes a failed check. It is informational: the failure has
// already been recorded in the metrics registry when Iterate returns it.
type StepError struct {
	Step   string
	Status int
	Reason string
	Err    error
}

func (e *StepError) Error() string {
	var b strings.Builder
	b.WriteString(e.Step)
	b.WriteString(": ")
	if e.Reason != "" {
		b.WriteString(e.Reason)
	} else {
		b.WriteString("check failed")
	}
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// statusLabel is the status-bucket label for a failure: the HTTP status when a
// response arrived, otherwise the error type.
func (e *StepError) statusLabel() string {
	if e.Status > 0 {
		return strconv.Itoa(e.Status)
	}
	if e.Err == nil {
		return "UNKNOWN"
	}
	return sanitizeStatusCode(errorTypeName(e.Err))
}

func errorTypeName(err error) string {
	typeName := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if idx := strings.LastIndex(typeName, "/"); idx != -1 {
		typeName = typeName[idx+1:]
	}
	if idx := strings.LastIndex(typeName, "."); idx != -1 {
		typeName = typeName[idx+1:]
	}
	return typeName
}

func sanitizeStatusCode(status string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "_", ".", "_", "-", "_")
	normalized := strings.Trim(strings.ToUpper(replacer.Replace(strings.TrimSpace(status))), "_")
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}
