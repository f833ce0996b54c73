package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Validation summaries (audit trail)
	SaveValidation(ctx context.Context, tenantID string, summary *ValidationSummary) error
	GetValidation(ctx context.Context, tenantID string, id string) (*ValidationSummary, error)
	ListValidations(ctx context.Context, tenantID string, since time.Time) ([]*ValidationSummary, error)

	// Rule definitions (last activated snapshot, for traceability)
	SaveRuleDefinition(ctx context.Context, tenantID string, rule *RuleDefinition) error
	GetRuleDefinition(ctx context.Context, tenantID string, ruleID string) (*RuleDefinition, error)
	ListRuleDefinitions(ctx context.Context, tenantID string) ([]*RuleDefinition, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
