package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaValidations = `
CREATE TABLE IF NOT EXISTS validations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    status TEXT NOT NULL,
    score REAL NOT NULL,
    tier_used TEXT NOT NULL,
    checks_remaining INTEGER NOT NULL,
    upsell_triggered INTEGER NOT NULL DEFAULT 0,
    bank_code TEXT,
    timestamp TIMESTAMP NOT NULL,
    results TEXT NOT NULL,
    rule_versions TEXT NOT NULL,
    bank_assessment TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validations_tenant ON validations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_validations_status ON validations(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_validations_timestamp ON validations(tenant_id, timestamp);
`

// schemaRuleDefinitions stores the last activated rule snapshot so stored
// summaries can be traced back to the exact rule text that produced them.
const schemaRuleDefinitions = `
CREATE TABLE IF NOT EXISTS rule_definitions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    rule_set TEXT NOT NULL,
    condition TEXT NOT NULL,
    severity TEXT NOT NULL,
    description TEXT,
    message TEXT,
    field TEXT,
    expected TEXT,
    reference TEXT,
    version TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_definitions_tenant ON rule_definitions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_definitions_set ON rule_definitions(tenant_id, rule_set);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaValidations,
		schemaRuleDefinitions,
	}
}
