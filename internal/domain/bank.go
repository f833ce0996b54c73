package domain

// BankCategory groups issuing banks by ownership and charter.
type BankCategory string

const (
	BankStateOwned BankCategory = "state_owned"
	BankPrivate    BankCategory = "private"
	BankIslamic    BankCategory = "islamic"
	BankForeign    BankCategory = "foreign"
)

// EnforcementLevel describes how strictly a bank applies compliance checks.
type EnforcementLevel string

const (
	EnforcementHyperConservative EnforcementLevel = "hyper_conservative"
	EnforcementVeryStrict        EnforcementLevel = "very_strict"
	EnforcementConservative      EnforcementLevel = "conservative"
	EnforcementModerate          EnforcementLevel = "moderate"
)

// Valid reports whether l is a known enforcement level.
func (l EnforcementLevel) Valid() bool {
	switch l {
	case EnforcementHyperConservative, EnforcementVeryStrict,
		EnforcementConservative, EnforcementModerate:
		return true
	}
	return false
}

// Multiplier returns the score adjustment factor for the level.
// Stricter levels always yield a smaller multiplier, so for the same
// failing summary a stricter bank never scores higher than a lenient one.
func (l EnforcementLevel) Multiplier() float64 {
	switch l {
	case EnforcementHyperConservative:
		return 0.78
	case EnforcementVeryStrict:
		return 0.85
	case EnforcementConservative:
		return 0.92
	default:
		return 1.00
	}
}

// BankProfile captures how one issuing bank enforces LC compliance.
type BankProfile struct {
	// Code is the short identifier used in API calls, e.g. "SONALI".
	Code string `json:"code" yaml:"code"`

	Name     string       `json:"name" yaml:"name"`
	Category BankCategory `json:"category" yaml:"category"`

	EnforcementLevel EnforcementLevel `json:"enforcementLevel" yaml:"enforcement_level"`

	// Patterns are substrings matched against a failed rule's affected field
	// (and rule id); a match escalates that rule's bank-scoped severity.
	Patterns []string `json:"patterns" yaml:"patterns"`

	// ValidationRulesCount is the bank's published internal checklist size,
	// surfaced in assessments for context.
	ValidationRulesCount int `json:"validationRulesCount" yaml:"validation_rules_count"`
}

// BankAssessment is the bank-specific view attached to a summary by the
// profile overlay. Base figures are kept so reapplying a profile is a no-op.
type BankAssessment struct {
	Code             string           `json:"code"`
	Name             string           `json:"name"`
	Category         BankCategory     `json:"category"`
	EnforcementLevel EnforcementLevel `json:"enforcementLevel"`

	// BaseScore is the engine score before any bank adjustment.
	BaseScore     float64 `json:"baseScore"`
	AdjustedScore float64 `json:"adjustedScore"`

	// EscalatedRuleIDs lists failed rules whose severity the bank treats
	// one level higher than the rule set does.
	EscalatedRuleIDs []string `json:"escalatedRuleIds,omitempty"`

	// Bank-scoped severity counts after escalation.
	CriticalIssues int `json:"criticalIssues"`
	MajorIssues    int `json:"majorIssues"`
	MinorIssues    int `json:"minorIssues"`
}
