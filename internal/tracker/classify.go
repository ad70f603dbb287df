package tracker

import (
	"strings"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// categoryRule maps keyword hits in the message or stack to a category.
type categoryRule struct {
	category types.Category
	message  []string
	stack    []string
}

// categoryRules are evaluated in order; the first hit wins.
var categoryRules = []categoryRule{
	{category: types.CategoryNetwork, message: []string{"network", "fetch", "xhr"}},
	{category: types.CategoryValidation, message: []string{"validation", "invalid", "required"}},
	{category: types.CategorySecurity, message: []string{"permission", "unauthorized", "forbidden"}},
	{category: types.CategoryPerformance, message: []string{"timeout", "slow", "performance"}},
	{category: types.CategoryUI, message: []string{"element"}, stack: []string{"ui.js", "dom"}},
	{category: types.CategoryBusinessLogic, stack: []string{"logic.js", "business"}},
	{category: types.CategoryIntegration, message: []string{"api", "integration", "external"}},
}

// Classify assigns a category from message and stack keywords. Anything
// unmatched is a runtime error.
func Classify(message, stack string) types.Category {
	msg := strings.ToLower(message)
	stk := strings.ToLower(stack)
	for _, r := range categoryRules {
		if containsAny(msg, r.message) || containsAny(stk, r.stack) {
			return r.category
		}
	}
	return types.CategoryRuntime
}

type severityRule struct {
	severity types.Severity
	keywords []string
	flag     string
}

var severityRules = []severityRule{
	{severity: types.SeverityCritical, keywords: []string{"fatal", "critical", "system"}, flag: "critical"},
	{severity: types.SeverityHigh, keywords: []string{"failed", "cannot", "unable"}, flag: "blocking"},
	{severity: types.SeverityMedium, keywords: []string{"warning", "deprecated"}, flag: "userVisible"},
}

// ClassifySeverity derives a severity from message keywords and the
// critical, blocking and userVisible context flags.
func ClassifySeverity(message string, ctx map[string]any) types.Severity {
	msg := strings.ToLower(message)
	for _, r := range severityRules {
		if containsAny(msg, r.keywords) || truthy(ctx[r.flag]) {
			return r.severity
		}
	}
	return types.SeverityLow
}

// NetworkSeverity grades an HTTP status code.
func NetworkSeverity(status int) types.Severity {
	switch {
	case status >= 500:
		return types.SeverityHigh
	case status >= 400:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

// PerformanceSeverity grades how far duration overshot threshold.
func PerformanceSeverity(duration, threshold float64) types.Severity {
	if threshold <= 0 {
		return types.SeverityHigh
	}
	ratio := duration / threshold
	switch {
	case ratio > 5:
		return types.SeverityHigh
	case ratio > 2:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	}
	return false
}
