package repository

// Schema definitions for the Kestrel relational store.
// Compatible with both SQLite and PostgreSQL.

const schemaEntities = `
CREATE TABLE IF NOT EXISTS entities (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    label TEXT NOT NULL,
    name TEXT,
    properties TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_entities_tenant ON entities(tenant_id);
CREATE INDEX IF NOT EXISTS idx_entities_label ON entities(tenant_id, label);
`

const schemaRelationships = `
CREATE TABLE IF NOT EXISTS relationships (
    tenant_id TEXT NOT NULL,
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    type TEXT NOT NULL,
    properties TEXT,
    PRIMARY KEY (tenant_id, from_id, to_id, type)
);

CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(tenant_id, from_id, type);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(tenant_id, to_id, type);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    type TEXT NOT NULL,
    payer_id TEXT NOT NULL,
    payee_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_payer ON transactions(tenant_id, payer_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_payee ON transactions(tenant_id, payee_id, timestamp);
`

const schemaInvoices = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    issuer_id TEXT NOT NULL,
    counterparty_id TEXT NOT NULL,
    number TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    issued_at TIMESTAMP NOT NULL,
    due_at TIMESTAMP NOT NULL,
    settled_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_invoices_issuer ON invoices(tenant_id, issuer_id, issued_at);
CREATE INDEX IF NOT EXISTS idx_invoices_counterparty ON invoices(tenant_id, counterparty_id, issued_at);
`

// schemaAssessments is append-only: assessments are inserted, never updated,
// so the full scoring history per business is retained.
const schemaAssessments = `
CREATE TABLE IF NOT EXISTS risk_assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    business_id TEXT NOT NULL,
    composite_score REAL NOT NULL,
    factors TEXT NOT NULL,
    explanation TEXT NOT NULL,
    degraded INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_business ON risk_assessments(tenant_id, business_id, timestamp);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    contribution REAL NOT NULL DEFAULT 10.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

// schemaAlerts backs the SQL alert store. The partial unique index is the
// storage-level guarantee behind the at-most-one-ACTIVE-per-business
// invariant.
const schemaAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    business_id TEXT NOT NULL,
    severity TEXT NOT NULL,
    composite_score REAL NOT NULL,
    findings TEXT NOT NULL,
    status TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_one_active
    ON fraud_alerts(tenant_id, business_id) WHERE status = 'ACTIVE';
CREATE INDEX IF NOT EXISTS idx_alerts_business ON fraud_alerts(tenant_id, business_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEntities,
		schemaRelationships,
		schemaTransactions,
		schemaInvoices,
		schemaAssessments,
		schemaRuleConfigs,
		schemaAlerts,
	}
}
