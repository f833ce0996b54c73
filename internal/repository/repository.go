// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveValidation stores a validation summary with tenant isolation.
func (r *SQLRepository) SaveValidation(ctx context.Context, tenantID string, summary *domain.ValidationSummary) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	results, _ := json.Marshal(summary.Results)
	versions, _ := json.Marshal(summary.RuleVersions)
	metadata, _ := json.Marshal(summary.Metadata)

	var bankCode sql.NullString
	var bankAssessment sql.NullString
	if summary.Bank != nil {
		bankCode = sql.NullString{String: summary.Bank.Code, Valid: true}
		raw, _ := json.Marshal(summary.Bank)
		bankAssessment = sql.NullString{String: string(raw), Valid: true}
	}

	upsell := 0
	if summary.UpsellTriggered {
		upsell = 1
	}

	query := `
		INSERT INTO validations (
			id, tenant_id, status, score, tier_used, checks_remaining,
			upsell_triggered, bank_code, timestamp, results, rule_versions,
			bank_assessment, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		summary.ID, tenantID, summary.Status, summary.Score,
		summary.TierUsed, summary.ChecksRemaining,
		upsell, bankCode, summary.Timestamp,
		string(results), string(versions), bankAssessment, string(metadata),
	)
	return err
}

// GetValidation retrieves a validation summary by ID with tenant isolation.
func (r *SQLRepository) GetValidation(ctx context.Context, tenantID string, id string) (*domain.ValidationSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, status, score, tier_used, checks_remaining,
			   upsell_triggered, timestamp, results, rule_versions,
			   bank_assessment, metadata
		FROM validations
		WHERE tenant_id = ? AND id = ?
	`

	summary, err := r.scanValidation(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ListValidations retrieves validation summaries since a point in time,
// newest first, with tenant isolation.
func (r *SQLRepository) ListValidations(ctx context.Context, tenantID string, since time.Time) ([]*domain.ValidationSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, status, score, tier_used, checks_remaining,
			   upsell_triggered, timestamp, results, rule_versions,
			   bank_assessment, metadata
		FROM validations
		WHERE tenant_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*domain.ValidationSummary
	for rows.Next() {
		summary, err := r.scanValidation(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanValidation(row rowScanner) (*domain.ValidationSummary, error) {
	var summary domain.ValidationSummary
	var results, versions, metadata string
	var bankAssessment sql.NullString
	var upsell int

	err := row.Scan(
		&summary.ID, &summary.TenantID, &summary.Status, &summary.Score,
		&summary.TierUsed, &summary.ChecksRemaining,
		&upsell, &summary.Timestamp,
		&results, &versions, &bankAssessment, &metadata,
	)
	if err != nil {
		return nil, err
	}

	summary.UpsellTriggered = upsell == 1
	json.Unmarshal([]byte(results), &summary.Results)
	json.Unmarshal([]byte(versions), &summary.RuleVersions)
	json.Unmarshal([]byte(metadata), &summary.Metadata)
	if bankAssessment.Valid {
		var bank domain.BankAssessment
		if err := json.Unmarshal([]byte(bankAssessment.String), &bank); err == nil {
			summary.Bank = &bank
		}
	}

	// Recompute derived counts so stored rows stay consistent even if the
	// aggregation logic predates newer columns.
	for _, res := range summary.Results {
		summary.TotalRules++
		switch res.Status {
		case domain.StatusRulePass:
			summary.PassedRules++
		case domain.StatusRuleFail:
			summary.FailedRules++
			switch res.Severity {
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

	return &summary, nil
}

// SaveRuleDefinition stores a rule definition with tenant isolation.
func (r *SQLRepository) SaveRuleDefinition(ctx context.Context, tenantID string, rule *domain.RuleDefinition) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if err := rule.ValidateStructure(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_definitions (
			id, tenant_id, rule_set, condition, severity, description,
			message, field, expected, reference, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			rule_set = excluded.rule_set,
			condition = excluded.condition,
			severity = excluded.severity,
			description = excluded.description,
			message = excluded.message,
			field = excluded.field,
			expected = excluded.expected,
			reference = excluded.reference,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.RuleSet, rule.Condition, string(rule.Severity),
		rule.Description, rule.Message, rule.Field, rule.Expected,
		rule.Reference, rule.Version, now, now,
	)
	return err
}

// GetRuleDefinition retrieves the latest version of a rule with tenant isolation.
func (r *SQLRepository) GetRuleDefinition(ctx context.Context, tenantID string, ruleID string) (*domain.RuleDefinition, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, rule_set, condition, severity, description, message,
			   field, expected, reference, version
		FROM rule_definitions
		WHERE tenant_id = ? AND id = ?
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.RuleDefinition
	var severity string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.RuleSet, &rule.Condition, &severity,
		&rule.Description, &rule.Message, &rule.Field,
		&rule.Expected, &rule.Reference, &rule.Version,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Severity = domain.Severity(severity)
	return &rule, nil
}

// ListRuleDefinitions retrieves all rule definitions for a tenant.
func (r *SQLRepository) ListRuleDefinitions(ctx context.Context, tenantID string) ([]*domain.RuleDefinition, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, rule_set, condition, severity, description, message,
			   field, expected, reference, version
		FROM rule_definitions
		WHERE tenant_id = ?
		ORDER BY rule_set, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RuleDefinition
	for rows.Next() {
		var rule domain.RuleDefinition
		var severity string

		if err := rows.Scan(
			&rule.ID, &rule.RuleSet, &rule.Condition, &severity,
			&rule.Description, &rule.Message, &rule.Field,
			&rule.Expected, &rule.Reference, &rule.Version,
		); err != nil {
			return nil, err
		}

		rule.Severity = domain.Severity(severity)
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
