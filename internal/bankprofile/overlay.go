package bankprofile

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Apply returns a copy of the summary augmented with the issuing bank's
// assessment. The engine's per-rule results are never modified; the bank
// view lives entirely in the attached BankAssessment, except for the
// aggregate score, which is scaled by the bank's enforcement multiplier
// when at least one rule failed.
//
// Apply is idempotent: the pre-adjustment score is stored as BaseScore,
// so reapplying a profile (or applying a different bank to an already
// assessed summary) always starts from the engine's own score. An unknown
// bank code returns the copy unchanged.
func (r *Registry) Apply(summary *domain.ValidationSummary, code string) *domain.ValidationSummary {
	out := cloneSummary(summary)

	profile := r.Get(code)
	if profile == nil {
		return out
	}

	base := out.Score
	if out.Bank != nil {
		base = out.Bank.BaseScore
	}

	adjusted := base
	if out.FailedRules > 0 {
		adjusted = base * profile.EnforcementLevel.Multiplier()
	}
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > 1 {
		adjusted = 1
	}

	assessment := &domain.BankAssessment{
		Code:             profile.Code,
		Name:             profile.Name,
		Category:         profile.Category,
		EnforcementLevel: profile.EnforcementLevel,
		BaseScore:        base,
		AdjustedScore:    adjusted,
	}

	for _, result := range out.Results {
		if result.Status != domain.StatusRuleFail {
			continue
		}
		severity := result.Severity
		if matchesProfile(profile, &result) {
			escalated := severity.Escalate()
			if escalated != severity {
				assessment.EscalatedRuleIDs = append(assessment.EscalatedRuleIDs, result.RuleID)
			}
			severity = escalated
		}
		switch severity {
		case domain.SeverityCritical:
			assessment.CriticalIssues++
		case domain.SeverityMajor:
			assessment.MajorIssues++
		default:
			assessment.MinorIssues++
		}
	}

	out.Bank = assessment
	out.Score = adjusted
	return out
}

// matchesProfile reports whether a failed rule falls under one of the
// bank's scrutiny patterns. Patterns match case-insensitively against
// the rule's affected field and its id.
func matchesProfile(profile *domain.BankProfile, result *domain.ValidationResult) bool {
	field := strings.ToLower(result.AffectedField)
	id := strings.ToLower(result.RuleID)
	for _, pattern := range profile.Patterns {
		p := strings.ToLower(pattern)
		if p == "" {
			continue
		}
		if strings.Contains(field, p) || strings.Contains(id, p) {
			return true
		}
	}
	return false
}

// cloneSummary copies the summary deep enough that callers holding the
// original never observe overlay changes.
func cloneSummary(summary *domain.ValidationSummary) *domain.ValidationSummary {
	out := *summary

	out.Results = make([]domain.ValidationResult, len(summary.Results))
	copy(out.Results, summary.Results)

	out.RuleVersions = make(map[string]string, len(summary.RuleVersions))
	for k, v := range summary.RuleVersions {
		out.RuleVersions[k] = v
	}

	if summary.Bank != nil {
		bank := *summary.Bank
		bank.EscalatedRuleIDs = append([]string(nil), summary.Bank.EscalatedRuleIDs...)
		out.Bank = &bank
	}

	return &out
}
