// Package validator orchestrates document validation: tier gating,
// free-check metering, rule evaluation and compliance scoring.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// EngineVersion is stamped into every summary for audit trails.
const EngineVersion = "kestrel-1.0"

// Quota resolves and records free-tier usage. Implementations are expected
// to fail open: on error the caller falls back to a conservative default.
type Quota interface {
	// Remaining returns how many free checks the tenant has left.
	Remaining(ctx context.Context, tenantID string) (int, error)

	// Record counts one consumed check.
	Record(ctx context.Context, tenantID string) error
}

// Service validates LC documents against the active rule snapshot.
type Service struct {
	engine  *rules.Engine
	scoring domain.ScoringConfig
	quota   Quota
	logger  *slog.Logger
}

// NewService creates a validation service. quota may be nil when metering
// is resolved entirely by the caller.
func NewService(engine *rules.Engine, scoring domain.ScoringConfig, quota Quota, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if scoring.CriticalWeight <= 0 {
		scoring.CriticalWeight = 3
	}
	if scoring.MajorWeight <= 0 {
		scoring.MajorWeight = 2
	}
	if scoring.MinorWeight <= 0 {
		scoring.MinorWeight = 1
	}
	return &Service{
		engine:  engine,
		scoring: scoring,
		quota:   quota,
		logger:  logger,
	}
}

// Validate runs the tier's rules against the document and produces a
// summary. remaining is the number of free checks left before this call;
// it is ignored for unmetered tiers. The document is untrusted and may
// have any shape: Validate degrades per-rule, it never panics and never
// rejects a document.
func (s *Service) Validate(ctx context.Context, doc domain.Document, tier domain.Tier, remaining int) *domain.ValidationSummary {
	start := time.Now()

	summary := &domain.ValidationSummary{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		TierUsed:  tier,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		summary.Metadata.TraceID = sc.TraceID().String()
	}

	if tier == domain.TierFree && remaining <= 0 {
		// Out of free checks: do not evaluate, do not reveal results.
		summary.Status = domain.StatusNonCompliant
		summary.Score = 0.0
		summary.ChecksRemaining = 0
		summary.UpsellTriggered = true
		summary.RuleVersions = map[string]string{}
		summary.Metadata.EngineVersion = EngineVersion
		summary.Metadata.TotalMs = time.Since(start).Milliseconds()
		return summary
	}

	evalStart := time.Now()
	results, versions := s.engine.EvaluateAll(ctx, doc, tier)
	summary.Metadata.EvalMs = time.Since(evalStart).Milliseconds()

	summary.Results = results
	summary.RuleVersions = versions
	s.aggregate(summary)

	if tier.Unlimited() {
		summary.ChecksRemaining = -1
		summary.UpsellTriggered = false
	} else {
		summary.ChecksRemaining = remaining - 1
		summary.UpsellTriggered = true
	}

	summary.Metadata.RulesEvaluated = len(results)
	summary.Metadata.EngineVersion = EngineVersion
	summary.Metadata.TotalMs = time.Since(start).Milliseconds()
	return summary
}

// ValidateRequest resolves tier and quota for an API or bus request,
// validates, and records free-tier usage.
func (s *Service) ValidateRequest(ctx context.Context, tenantID string, req *domain.ValidationRequest) (*domain.ValidationSummary, error) {
	tier := req.Tier
	if tier == "" {
		tier = domain.TierFree
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("unknown tier %q", tier)
	}

	remaining := 0
	switch {
	case tier.Unlimited():
		remaining = -1
	case req.RemainingFreeChecks != nil:
		remaining = *req.RemainingFreeChecks
	case s.quota != nil:
		r, err := s.quota.Remaining(ctx, tenantID)
		if err != nil {
			// Metering must not take validation down with it.
			s.logger.Warn("quota lookup failed, allowing one check", "tenant", tenantID, "error", err)
			r = 1
		}
		remaining = r
	default:
		return nil, fmt.Errorf("free tier requires remainingFreeChecks or a quota service")
	}

	document := req.Document
	if document == nil {
		document = domain.Document{}
	}
	summary := s.Validate(ctx, document, tier, remaining)
	summary.TenantID = tenantID

	if tier == domain.TierFree && summary.Metadata.RulesEvaluated > 0 && s.quota != nil {
		if err := s.quota.Record(ctx, tenantID); err != nil {
			s.logger.Warn("failed to record quota usage", "tenant", tenantID, "error", err)
		}
	}

	s.logger.Info("document validated",
		"tenant", tenantID,
		"summary_id", summary.ID,
		"tier", tier,
		"status", summary.Status,
		"score", summary.Score,
		"rules", summary.Metadata.RulesEvaluated,
		"upsell", summary.UpsellTriggered,
	)
	return summary, nil
}

// aggregate fills counts, score and overall status from the results.
// The score is the severity-weighted share of passed rules; rules that
// could not be evaluated count toward neither side.
func (s *Service) aggregate(summary *domain.ValidationSummary) {
	var passedWeight, totalWeight float64

	for _, r := range summary.Results {
		summary.TotalRules++
		switch r.Status {
		case domain.StatusRulePass:
			summary.PassedRules++
			w := s.scoring.Weight(r.Severity)
			passedWeight += w
			totalWeight += w
		case domain.StatusRuleFail:
			summary.FailedRules++
			totalWeight += s.scoring.Weight(r.Severity)
			switch r.Severity {
			case domain.SeverityCritical:
				summary.CriticalIssues++
			case domain.SeverityMajor:
				summary.MajorIssues++
			default:
				summary.MinorIssues++
			}
		case domain.StatusRuleError:
			summary.Warnings++
		}
	}

	score := 0.0
	if totalWeight > 0 {
		score = passedWeight / totalWeight
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	summary.Score = score

	switch {
	case summary.CriticalIssues > 0:
		summary.Status = domain.StatusNonCompliant
	case summary.FailedRules > 0:
		summary.Status = domain.StatusIssuesFound
	default:
		summary.Status = domain.StatusCompliant
	}
}
