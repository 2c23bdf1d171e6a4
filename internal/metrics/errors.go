package metrics

import (
	"fmt"
	"strings"
	"unicode"
)

var friendlyAliases = map[string]string{
	"workflow.StepError":            "Check failed",
	"url.Error":                     "Request URL error",
	"net.OpError":                   "Network error",
	"context.deadlineExceededError": "Context deadline exceeded",
	"context.deadlineExceeded":      "Context deadline exceeded",
}

// FriendlyErrorName returns a human-friendly label for a Go error type name
// such as "*url.Error" or "*github.com/x/y/workflow.StepError".
func FriendlyErrorName(typeName string) string {
	cleaned := strings.TrimPrefix(strings.TrimSpace(typeName), "*")
	if cleaned == "" {
		return "Unknown error"
	}
	if idx := strings.LastIndex(cleaned, "/"); idx != -1 {
		cleaned = cleaned[idx+1:]
	}
	if alias, ok := friendlyAliases[cleaned]; ok {
		return alias
	}

	pkg, name := "", cleaned
	if idx := strings.Index(name, "."); idx != -1 {
		pkg, name = name[:idx], name[idx+1:]
	}

	pretty := humanizeTypeName(name)
	if pretty == "" {
		pretty = name
	}
	if strings.EqualFold(pkg, "context") && strings.Contains(strings.ToLower(pretty), "deadline") {
		return "Context deadline exceeded"
	}
	if pkg != "" && pkg != "main" {
		return fmt.Sprintf("%s (%s)", pretty, pkg)
	}
	return pretty
}

// humanizeTypeName splits a Go identifier into capitalized words:
// "errorString" -> "Error String", "HTTPError" -> "HTTP Error".
func humanizeTypeName(name string) string {
	var words []string
	var current []rune
	runes := []rune(name)

	flush := func() {
		if len(current) == 0 {
			return
		}
		word := string(current)
		if isAllUpper(word) {
			words = append(words, word)
		} else {
			words = append(words, capitalize(word))
		}
		current = current[:0]
	}

	for i, r := range runes {
		if i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			switch {
			case unicode.IsUpper(r) && (unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower)):
				flush()
			case unicode.IsDigit(r) && !unicode.IsDigit(prev):
				flush()
			}
		}
		current = append(current, r)
	}
	flush()

	return strings.Join(words, " ")
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
