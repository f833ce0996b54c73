package domain

import (
	"time"
)

// Tier is the subscription tier supplied with each validation call.
type Tier string

const (
	// TierFree is metered: UCP600 rules only, limited checks per window.
	TierFree Tier = "free"

	// TierPro is unmetered with full rule coverage.
	TierPro Tier = "pro"

	// TierEnterprise matches pro entitlements, reserved for future gating.
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Unlimited reports whether t bypasses free-check metering.
func (t Tier) Unlimited() bool {
	return t == TierPro || t == TierEnterprise
}

// Summary status constants.
const (
	// StatusCompliant means no rule failed.
	StatusCompliant = "compliant"

	// StatusIssuesFound means at least one rule failed but none critical.
	StatusIssuesFound = "issues_found"

	// StatusNonCompliant means at least one critical rule failed.
	StatusNonCompliant = "non_compliant"
)

// ValidationSummary is the complete outcome of validating one document.
type ValidationSummary struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId,omitempty"`
	Status    string    `json:"status"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`

	TotalRules  int `json:"totalRules"`
	PassedRules int `json:"passedRules"`
	FailedRules int `json:"failedRules"`

	// Failed rules bucketed by severity.
	CriticalIssues int `json:"criticalIssues"`
	MajorIssues    int `json:"majorIssues"`
	MinorIssues    int `json:"minorIssues"`

	// Warnings counts rules that could not be evaluated (status=error).
	Warnings int `json:"warnings"`

	// Results preserves rule evaluation order.
	Results []ValidationResult `json:"results"`

	// RuleVersions maps each evaluated rule id to the version of the rule
	// applied, so a stored summary can be traced back to the exact rules.
	RuleVersions map[string]string `json:"ruleVersions"`

	TierUsed        Tier `json:"tierUsed"`
	ChecksRemaining int  `json:"checksRemaining"`
	UpsellTriggered bool `json:"upsellTriggered"`

	// Bank holds the issuing-bank overlay, when one was requested.
	Bank *BankAssessment `json:"bank,omitempty"`

	Metadata SummaryMetadata `json:"metadata"`
}

// SummaryMetadata contains processing information.
type SummaryMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	EvalMs         int64  `json:"evalMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}

// ValidationRequest is the API and bus payload asking for a validation.
type ValidationRequest struct {
	Document Document `json:"document"`
	Tier     Tier     `json:"tier"`

	// RemainingFreeChecks overrides the quota service when set.
	// Ignored for unmetered tiers; omit to defer to the quota service.
	RemainingFreeChecks *int `json:"remainingFreeChecks,omitempty"`

	// BankCode selects an issuing-bank profile overlay. Optional.
	BankCode string `json:"bankCode,omitempty"`
}
