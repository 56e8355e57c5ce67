package repository

// Schema definitions for the Dealguard database.
// Compatible with both SQLite and PostgreSQL.

const schemaRequests = `
CREATE TABLE IF NOT EXISTS discount_requests (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    salesperson_id TEXT NOT NULL,
    salesperson_role TEXT,
    items TEXT NOT NULL,
    requested_discount_pct REAL NOT NULL,
    estimated_margin_pct REAL,
    risk_score REAL,
    status TEXT NOT NULL,
    justification TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    decided_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_requests_tenant ON discount_requests(tenant_id);
CREATE INDEX IF NOT EXISTS idx_requests_customer ON discount_requests(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_requests_salesperson ON discount_requests(tenant_id, salesperson_id);
CREATE INDEX IF NOT EXISTS idx_requests_status ON discount_requests(tenant_id, status);
`

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    segment TEXT,
    has_payment_delays INTEGER NOT NULL DEFAULT 0,
    has_defaults INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_customers_tenant ON customers(tenant_id);
`

const schemaBusinessRules = `
CREATE TABLE IF NOT EXISTS business_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    type TEXT NOT NULL,
    scope TEXT NOT NULL,
    target_id TEXT,
    params TEXT NOT NULL,
    warn_only INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_tenant ON business_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rules_active ON business_rules(tenant_id, active);
`

const schemaGovernanceSettings = `
CREATE TABLE IF NOT EXISTS governance_settings (
    tenant_id TEXT PRIMARY KEY,
    ai_enabled INTEGER NOT NULL DEFAULT 0,
    autonomy_level INTEGER NOT NULL DEFAULT 0,
    max_risk_score REAL NOT NULL,
    min_confidence REAL NOT NULL,
    require_human_review INTEGER NOT NULL DEFAULT 1,
    max_auto_discount_pct REAL NOT NULL,
    learning_enabled INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    request_id TEXT NOT NULL,
    can_auto_approve INTEGER NOT NULL,
    approval_reason TEXT,
    rejection_reason TEXT,
    rejection_details TEXT,
    guardrail TEXT NOT NULL,
    risk_score REAL NOT NULL,
    ai_confidence REAL,
    max_risk_threshold REAL NOT NULL,
    min_confidence_threshold REAL NOT NULL,
    max_discount_threshold REAL NOT NULL,
    source TEXT NOT NULL,
    evaluated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_tenant ON evaluations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_request ON evaluations(tenant_id, request_id);
`

const schemaApprovals = `
CREATE TABLE IF NOT EXISTS approvals (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    request_id TEXT NOT NULL,
    approver_id TEXT NOT NULL,
    action TEXT NOT NULL,
    comment TEXT,
    risk_score REAL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_approvals_tenant ON approvals(tenant_id);
CREATE INDEX IF NOT EXISTS idx_approvals_request ON approvals(tenant_id, request_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRequests,
		schemaCustomers,
		schemaBusinessRules,
		schemaGovernanceSettings,
		schemaEvaluations,
		schemaApprovals,
	}
}
