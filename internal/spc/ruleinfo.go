package spc

import "github.com/pulsestack/pulse-spc/internal/models"

// RuleInfo carries the operator-facing metadata for a rule tag.
type RuleInfo struct {
	Severity    models.Severity
	Description string
	Evaluated   bool
}

var ruleCatalog = map[models.Rule]RuleInfo{
	models.RuleR1: {models.SeverityCritical, "single point beyond 3-sigma control limits", true},
	models.RuleR2: {models.SeverityWarning, "9 consecutive points on same side of mean - sustained process shift", true},
	models.RuleR3: {models.SeverityWarning, "6 consecutive points in increasing/decreasing trend - gradual drift", true},
	models.RuleR4: {models.SeverityWarning, "14 consecutive points alternating up/down - systematic variation", true},
	models.RuleR5: {models.SeverityWarning, "2 out of 3 consecutive points beyond 2-sigma - moderate outliers", false},
	models.RuleR6: {models.SeverityWarning, "4 out of 5 consecutive points beyond 1-sigma - small systematic shift", false},
	models.RuleR7: {models.SeverityWarning, "15 consecutive points within 1-sigma - reduced variation", false},
	models.RuleR8: {models.SeverityWarning, "8 consecutive points beyond 1-sigma - large systematic shift", false},
}

// Info returns the metadata for a rule, defaulting to a warning with no
// description for unknown tags.
func Info(rule models.Rule) RuleInfo {
	if info, ok := ruleCatalog[rule]; ok {
		return info
	}
	return RuleInfo{Severity: models.SeverityWarning}
}

// EvaluatedRules lists the rules the evaluator actually implements, in
// evaluation order.
func EvaluatedRules() []models.Rule {
	return []models.Rule{models.RuleR1, models.RuleR2, models.RuleR3, models.RuleR4}
}
