package repository

// Schema definitions for the LoanDesk database.
// Compatible with both SQLite and PostgreSQL.

// schemaApplications keeps the full record as JSON in body. The scalar
// columns duplicate the fields that are filtered on.
const schemaApplications = `
CREATE TABLE IF NOT EXISTS applications (
    app_number TEXT PRIMARY KEY,
    applicant_name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    stage TEXT NOT NULL DEFAULT '',
    completion_status TEXT NOT NULL,
    amount REAL NOT NULL DEFAULT 0,
    body TEXT NOT NULL,
    created_by TEXT NOT NULL,
    updated_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);
CREATE INDEX IF NOT EXISTS idx_applications_updated ON applications(updated_at);
`

const schemaTransitionHistory = `
CREATE TABLE IF NOT EXISTS transition_history (
    id TEXT PRIMARY KEY,
    app_number TEXT NOT NULL,
    action TEXT NOT NULL,
    actor TEXT NOT NULL,
    role TEXT NOT NULL,
    editor TEXT NOT NULL,
    from_status TEXT NOT NULL,
    from_stage TEXT NOT NULL,
    to_status TEXT NOT NULL,
    to_stage TEXT NOT NULL,
    comment TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transition_history_app ON transition_history(app_number, created_at);
`

// schemaUsers keys users by lower-cased name so lookups ignore case.
const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    name_key TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    role TEXT NOT NULL,
    level INTEGER NOT NULL DEFAULT 0,
    email TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const schemaCheckConfigs = `
CREATE TABLE IF NOT EXISTS check_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaApplications,
		schemaTransitionHistory,
		schemaUsers,
		schemaCheckConfigs,
	}
}
