package repository

// Schema definitions for the findex database.
// Compatible with both SQLite and PostgreSQL.

// schemaRuleDocuments stores every saved revision of a collection's rule text.
// text holds the configuration exactly as the user wrote it.
const schemaRuleDocuments = `
CREATE TABLE IF NOT EXISTS rule_documents (
    id TEXT PRIMARY KEY,
    collection_id TEXT NOT NULL,
    revision INTEGER NOT NULL,
    text TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (collection_id, revision)
);

CREATE INDEX IF NOT EXISTS idx_rule_documents_collection ON rule_documents(collection_id);
`

const schemaAdjustments = `
CREATE TABLE IF NOT EXISTS adjustments (
    id TEXT PRIMARY KEY,
    collection_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    deck TEXT NOT NULL,
    maturity TEXT NOT NULL,
    ease INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    baseline_interval REAL NOT NULL,
    adjusted_interval REAL NOT NULL,
    matched INTEGER NOT NULL DEFAULT 0,
    target_fi REAL NOT NULL DEFAULT 0,
    baseline_fi REAL NOT NULL DEFAULT 0,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_adjustments_collection ON adjustments(collection_id);
CREATE INDEX IF NOT EXISTS idx_adjustments_item ON adjustments(collection_id, item_id);
CREATE INDEX IF NOT EXISTS idx_adjustments_timestamp ON adjustments(collection_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuleDocuments,
		schemaAdjustments,
	}
}
