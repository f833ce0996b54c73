// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"regexp"
)

// Severity classifies how serious a rule violation is.
// It determines the rule's weight in the compliance score.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return true
	}
	return false
}

// Escalate returns the next stricter severity (minor -> major -> critical).
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityMinor:
		return SeverityMajor
	case SeverityMajor:
		return SeverityCritical
	}
	return s
}

// RuleDefinition is a single compliance rule loaded from a rule set file.
// Definitions are immutable after load; the engine holds one compiled
// snapshot and replaces it wholesale on reload.
type RuleDefinition struct {
	// ID is globally unique within a rule set, e.g. "UCP600-6" or "BD-003".
	ID string `json:"id" yaml:"id"`

	// RuleSet names the set this rule belongs to, e.g. "UCP600", "ISBP", "LOCAL_BD".
	RuleSet string `json:"ruleSet" yaml:"-"`

	// Condition is a CEL expression over the `doc` variable. Must evaluate to bool.
	Condition string `json:"condition" yaml:"condition"`

	Severity    Severity `json:"severity" yaml:"severity"`
	Description string   `json:"description" yaml:"description"`

	// Message is shown to the user when the rule fails.
	Message string `json:"message" yaml:"message"`

	// Field is the dotted path of the document field the rule concerns.
	Field string `json:"field" yaml:"field"`

	// Expected is the human-readable expected value for reporting.
	Expected string `json:"expected,omitempty" yaml:"expected"`

	// Reference cites the standard article backing the rule, e.g. "UCP600 Art. 6".
	Reference string `json:"reference,omitempty" yaml:"reference"`

	// Version is a semantic version string, validated at load time.
	Version string `json:"version" yaml:"version"`
}

// versionPattern is the accepted rule version format.
var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ValidateStructure checks the structural fields required before a rule can
// be compiled. Condition syntax is the linter's job.
func (r *RuleDefinition) ValidateStructure() error {
	if r.ID == "" {
		return fmt.Errorf("rule is missing id")
	}
	if r.Condition == "" {
		return fmt.Errorf("rule %s: missing condition", r.ID)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("rule %s: invalid severity %q", r.ID, r.Severity)
	}
	if r.Version != "" && !versionPattern.MatchString(r.Version) {
		return fmt.Errorf("rule %s: invalid version %q (want MAJOR.MINOR.PATCH)", r.ID, r.Version)
	}
	return nil
}

// RuleStatus is the outcome of evaluating one rule against one document.
type RuleStatus string

const (
	// StatusRulePass means the condition evaluated to true.
	StatusRulePass RuleStatus = "pass"

	// StatusRuleFail means the condition evaluated to false.
	StatusRuleFail RuleStatus = "fail"

	// StatusRuleError means the condition could not be evaluated against this
	// document (missing field, type mismatch, invalid date). Error results are
	// recorded for visibility but excluded from scoring.
	StatusRuleError RuleStatus = "error"
)

// ValidationResult is the per-rule outcome of a validation call.
type ValidationResult struct {
	RuleID   string     `json:"ruleId"`
	RuleSet  string     `json:"ruleSet,omitempty"`
	Status   RuleStatus `json:"status"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message,omitempty"`
	Expected string     `json:"expected,omitempty"`
	Actual   string     `json:"actual,omitempty"`

	// Confidence is 1.0 for definitive pass/fail outcomes, 0.0 for error.
	Confidence float64 `json:"confidence"`

	// AffectedField is the dotted path the rule concerns.
	AffectedField string `json:"affectedField,omitempty"`

	// Reference cites the backing standard article, for report generators.
	Reference string `json:"reference,omitempty"`

	ProcessUs int64 `json:"processUs,omitempty"`
}
