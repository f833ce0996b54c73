package rules

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// maxConditionLen flags conditions that have grown past the point where
// a reviewer can still reason about them.
const maxConditionLen = 500

// LintIssue is one finding against a rule.
type LintIssue struct {
	RuleSet string `json:"ruleSet"`
	RuleID  string `json:"ruleId"`
	Message string `json:"message"`
}

// LintReport separates blocking errors from advisory warnings.
// A rule set with errors must not be activated.
type LintReport struct {
	Errors   []LintIssue `json:"errors"`
	Warnings []LintIssue `json:"warnings"`
}

// OK reports whether the rule sets may be activated.
func (r *LintReport) OK() bool {
	return len(r.Errors) == 0
}

// Linter statically checks rule sets before activation: every condition
// must compile under the DSL environment and return bool.
type Linter struct {
	env *cel.Env
}

// NewLinter creates a linter bound to the given DSL environment.
func NewLinter(env *cel.Env) *Linter {
	return &Linter{env: env}
}

// NewStandaloneLinter creates a linter with its own DSL environment,
// for use outside an engine (CLI lint, CI checks).
func NewStandaloneLinter() (*Linter, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Linter{env: env}, nil
}

// Lint checks all rules in all sets and returns the combined report.
func (l *Linter) Lint(sets []*RuleSet) *LintReport {
	report := &LintReport{}
	for _, set := range sets {
		for _, rule := range set.Rules {
			l.lintRule(report, set.Name, rule.ID, rule.Condition, rule.Description, rule.Message)
		}
	}
	return report
}

func (l *Linter) lintRule(report *LintReport, setName, ruleID, condition, description, message string) {
	addErr := func(format string, args ...any) {
		report.Errors = append(report.Errors, LintIssue{
			RuleSet: setName, RuleID: ruleID, Message: fmt.Sprintf(format, args...),
		})
	}
	addWarn := func(format string, args ...any) {
		report.Warnings = append(report.Warnings, LintIssue{
			RuleSet: setName, RuleID: ruleID, Message: fmt.Sprintf(format, args...),
		})
	}

	ast, issues := l.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		addErr("condition does not compile: %v", issues.Err())
		return
	}
	if ast.OutputType() != cel.BoolType {
		addErr("condition returns %s, want bool", ast.OutputType())
		return
	}

	if len(condition) > maxConditionLen {
		addWarn("condition is %d chars long, consider splitting the rule", len(condition))
	}
	if !strings.Contains(condition, "doc") {
		addWarn("condition never inspects the document")
	}
	if description == "" {
		addWarn("missing description")
	}
	if message == "" {
		addWarn("missing failure message")
	}
}
