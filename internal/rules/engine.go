// Package rules provides the CEL-Go based LC compliance rule engine:
// rule set loading, linting, compilation and parallel evaluation.
package rules

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FreeTierRuleSet is the only rule set evaluated for free-tier calls.
const FreeTierRuleSet = "UCP600"

// Engine compiles rule sets and evaluates them against documents.
// The active rules live in an immutable snapshot behind an atomic pointer:
// reload builds a complete new snapshot and swaps it in one step, so
// in-flight evaluations always see a consistent rule set.
type Engine struct {
	env        *cel.Env
	snapshot   atomic.Pointer[ruleSnapshot]
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program for one rule.
type CompiledRule struct {
	Definition *domain.RuleDefinition
	Program    cel.Program
}

// ruleSnapshot is one immutable generation of compiled rules.
type ruleSnapshot struct {
	rules    []*CompiledRule   // load order preserved
	versions map[string]string // rule id -> rule version
}

// NewEngine creates a rule engine with an empty snapshot.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:        env,
		maxWorkers: maxWorkers,
	}
	e.snapshot.Store(&ruleSnapshot{versions: map[string]string{}})
	return e, nil
}

// Load compiles the given rule sets and atomically activates them,
// replacing the previous snapshot. On any compile error the previous
// snapshot stays active.
func (e *Engine) Load(sets []*RuleSet) error {
	next := &ruleSnapshot{
		versions: make(map[string]string),
	}

	for _, set := range sets {
		for _, def := range set.Rules {
			compiled, err := e.compileRule(def)
			if err != nil {
				return err
			}
			// Rules without their own version inherit the set's.
			if def.Version == "" {
				def.Version = set.Version
			}
			next.versions[def.ID] = def.Version
			next.rules = append(next.rules, compiled)
		}
	}

	e.snapshot.Store(next)
	return nil
}

// LoadFromDir loads, lints and activates every rule set file in dir.
// Lint errors block activation; the returned report carries warnings
// even on success.
func (e *Engine) LoadFromDir(dir string) (*LintReport, error) {
	sets, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}

	report := NewLinter(e.env).Lint(sets)
	if len(report.Errors) > 0 {
		return report, fmt.Errorf("%d lint error(s), rules not activated", len(report.Errors))
	}

	if err := e.Load(sets); err != nil {
		return report, err
	}
	return report, nil
}

// ValidateRule compiles a rule without activating it.
func (e *Engine) ValidateRule(def *domain.RuleDefinition) error {
	if def == nil {
		return fmt.Errorf("rule definition is required")
	}
	_, err := e.compileRule(def)
	return err
}

// EvaluateAll evaluates the active rules for the tier against the document,
// in parallel, and returns results in rule load order plus a map of rule id
// to the exact rule version evaluated, for audit trails. Individual rule
// failures never abort the batch: a rule that cannot be evaluated yields a
// status=error result.
func (e *Engine) EvaluateAll(ctx context.Context, doc domain.Document, tier domain.Tier) ([]domain.ValidationResult, map[string]string) {
	snap := e.snapshot.Load()

	rules := make([]*CompiledRule, 0, len(snap.rules))
	versions := make(map[string]string, len(snap.rules))
	for _, r := range snap.rules {
		if tier == domain.TierFree && r.Definition.RuleSet != FreeTierRuleSet {
			continue
		}
		rules = append(rules, r)
		versions[r.Definition.ID] = r.Definition.Version
	}

	if len(rules) == 0 {
		return nil, versions
	}

	activation := map[string]any{
		"doc": map[string]any(doc),
	}

	results := make([]domain.ValidationResult, len(rules))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(ctx, r, activation, doc)
		}(i, rule)
	}

	wg.Wait()

	return results, versions
}

// evaluateRule evaluates a single rule. It never panics: documents are
// untrusted and a poisoned value must degrade to a status=error result
// for that rule only.
func (e *Engine) evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any, doc domain.Document) (result domain.ValidationResult) {
	start := time.Now()
	def := rule.Definition

	result = domain.ValidationResult{
		RuleID:        def.ID,
		RuleSet:       def.RuleSet,
		Severity:      def.Severity,
		AffectedField: def.Field,
		Reference:     def.Reference,
	}

	defer func() {
		if r := recover(); r != nil {
			result.Status = domain.StatusRuleError
			result.Confidence = 0.0
			result.Message = fmt.Sprintf("evaluation panic: %v", r)
		}
		result.ProcessUs = time.Since(start).Microseconds()
	}()

	if err := ctx.Err(); err != nil {
		result.Status = domain.StatusRuleError
		result.Message = fmt.Sprintf("evaluation cancelled: %v", err)
		return result
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Status = domain.StatusRuleError
		result.Confidence = 0.0
		result.Message = fmt.Sprintf("evaluation error: %v", err)
		return result
	}

	passed, ok := out.(types.Bool)
	if !ok {
		result.Status = domain.StatusRuleError
		result.Confidence = 0.0
		result.Message = fmt.Sprintf("condition returned %s, want bool", out.Type())
		return result
	}

	result.Confidence = 1.0
	if bool(passed) {
		result.Status = domain.StatusRulePass
		return result
	}

	result.Status = domain.StatusRuleFail
	result.Message = def.Message
	result.Expected = def.Expected
	if v, found := resolvePath(doc, def.Field); found {
		if text, terr := asText(v); terr == nil {
			result.Actual = text
		}
	}
	return result
}

// RulesCount returns the number of rules in the active snapshot.
func (e *Engine) RulesCount() int {
	return len(e.snapshot.Load().rules)
}

// RuleVersions returns the per-rule versions of the active snapshot,
// keyed by rule id.
func (e *Engine) RuleVersions() map[string]string {
	snap := e.snapshot.Load()
	out := make(map[string]string, len(snap.versions))
	for k, v := range snap.versions {
		out[k] = v
	}
	return out
}

// GetLoadedRules returns the definitions in the active snapshot.
func (e *Engine) GetLoadedRules() []*domain.RuleDefinition {
	snap := e.snapshot.Load()
	defs := make([]*domain.RuleDefinition, 0, len(snap.rules))
	for _, r := range snap.rules {
		defs = append(defs, r.Definition)
	}
	return defs
}

// Close clears the active snapshot.
func (e *Engine) Close() error {
	e.snapshot.Store(&ruleSnapshot{versions: map[string]string{}})
	return nil
}

func (e *Engine) compileRule(def *domain.RuleDefinition) (*CompiledRule, error) {
	ast, issues := e.env.Compile(def.Condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", def.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: condition must return bool, got %s", def.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", def.ID, err)
	}

	return &CompiledRule{
		Definition: def,
		Program:    program,
	}, nil
}
