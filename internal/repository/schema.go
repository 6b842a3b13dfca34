package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    type TEXT NOT NULL,
    counterparty TEXT,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions(account_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaRuleDefinitions = `
CREATE TABLE IF NOT EXISTS rule_definitions (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    transaction_types TEXT,
    priority INTEGER NOT NULL DEFAULT 0,
    weight REAL NOT NULL DEFAULT 1.0,
    params TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_definitions_enabled ON rule_definitions(enabled);
CREATE INDEX IF NOT EXISTS idx_rule_definitions_type ON rule_definitions(type);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    score REAL NOT NULL,
    tier TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    rule_results TEXT NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_tx ON evaluations(tx_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_tier ON evaluations(tier);
CREATE INDEX IF NOT EXISTS idx_evaluations_timestamp ON evaluations(timestamp);
`

// Alerts are append-only from the workflow's perspective: rows are inserted
// once and updated in place as they advance, never deleted. The transition
// history lives in its own table so the audit trail survives updates.
const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    score REAL NOT NULL,
    tier TEXT NOT NULL,
    state TEXT NOT NULL,
    assigned_reviewer TEXT,
    sar_reference TEXT,
    close_reason TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_state ON alerts(state);
CREATE INDEX IF NOT EXISTS idx_alerts_tx ON alerts(tx_id);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
`

const schemaAlertHistory = `
CREATE TABLE IF NOT EXISTS alert_history (
    alert_id TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    actor TEXT NOT NULL,
    note TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alert_history_alert ON alert_history(alert_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRuleDefinitions,
		schemaEvaluations,
		schemaAlerts,
		schemaAlertHistory,
	}
}
