package rules

import (
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func lintOne(t *testing.T, rule *domain.RuleDefinition) *LintReport {
	t.Helper()
	linter, err := NewStandaloneLinter()
	if err != nil {
		t.Fatalf("failed to create linter: %v", err)
	}
	set := &RuleSet{Name: "TEST", Version: "1.0.0", Rules: []*domain.RuleDefinition{rule}}
	return linter.Lint([]*RuleSet{set})
}

func TestLintCleanRule(t *testing.T) {
	report := lintOne(t, &domain.RuleDefinition{
		ID:          "clean",
		Condition:   `doc.not_empty("lc_number")`,
		Severity:    domain.SeverityCritical,
		Description: "LC number must be present",
		Message:     "LC number is missing",
	})

	if !report.OK() {
		t.Errorf("unexpected errors: %+v", report.Errors)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("unexpected warnings: %+v", report.Warnings)
	}
}

func TestLintCompileError(t *testing.T) {
	report := lintOne(t, &domain.RuleDefinition{
		ID:          "broken",
		Condition:   `doc.no_such_builtin("x")`,
		Severity:    domain.SeverityMinor,
		Description: "d",
		Message:     "m",
	})

	if report.OK() {
		t.Fatal("expected a lint error")
	}
	if !strings.Contains(report.Errors[0].Message, "does not compile") {
		t.Errorf("unexpected error message: %s", report.Errors[0].Message)
	}
	if report.Errors[0].RuleID != "broken" || report.Errors[0].RuleSet != "TEST" {
		t.Errorf("issue not attributed: %+v", report.Errors[0])
	}
}

func TestLintNonBoolCondition(t *testing.T) {
	report := lintOne(t, &domain.RuleDefinition{
		ID:          "non-bool",
		Condition:   `"a string"`,
		Severity:    domain.SeverityMinor,
		Description: "d",
		Message:     "m",
	})

	if report.OK() {
		t.Fatal("expected a lint error")
	}
	if !strings.Contains(report.Errors[0].Message, "want bool") {
		t.Errorf("unexpected error message: %s", report.Errors[0].Message)
	}
}

func TestLintWarnings(t *testing.T) {
	long := `doc.has_field("a")`
	for len(long) < maxConditionLen {
		long += ` && doc.has_field("a")`
	}

	report := lintOne(t, &domain.RuleDefinition{
		ID:        "warn-magnet",
		Condition: long,
		Severity:  domain.SeverityMinor,
		// description and message intentionally empty
	})

	if !report.OK() {
		t.Fatalf("warnings must not block: %+v", report.Errors)
	}

	var msgs []string
	for _, w := range report.Warnings {
		msgs = append(msgs, w.Message)
	}
	joined := strings.Join(msgs, "; ")

	for _, want := range []string{"chars long", "missing description", "missing failure message"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected a warning mentioning %q, got: %s", want, joined)
		}
	}
}

func TestLintConditionIgnoresDocument(t *testing.T) {
	report := lintOne(t, &domain.RuleDefinition{
		ID:          "static",
		Condition:   `1 < 2`,
		Severity:    domain.SeverityMinor,
		Description: "d",
		Message:     "m",
	})

	if !report.OK() {
		t.Fatalf("unexpected errors: %+v", report.Errors)
	}
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w.Message, "never inspects") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a never-inspects warning, got: %+v", report.Warnings)
	}
}
