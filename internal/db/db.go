package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB holding the knowledge graph.
type DB struct {
	*sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	d := &DB{DB: sqlDB, path: path}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// OpenMemory creates an in-memory SQLite database (useful for testing).
// The pool is limited to one connection so every query sees the same database.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	d := &DB{DB: sqlDB, path: ":memory:"}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}

// Path returns the database location.
func (d *DB) Path() string {
	return d.path
}

// WithTx runs fn inside a transaction. The transaction is rolled back if fn
// returns an error or panics, and committed otherwise.
func (d *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// migrate runs all schema migrations.
func (d *DB) migrate() error {
	_, err := d.Exec(schema)
	return err
}

// schema contains the full database schema. Relationship endpoints may be
// code nodes or log events, so source_id and target_id carry no foreign key.
const schema = `
CREATE TABLE IF NOT EXISTS code_nodes (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('function','method','class','endpoint')),
    service TEXT NOT NULL,
    file_path TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    snippet TEXT NOT NULL DEFAULT '',
    parameters TEXT NOT NULL DEFAULT '[]',
    api_method TEXT NOT NULL DEFAULT '',
    api_endpoint TEXT NOT NULL DEFAULT '',
    line INTEGER NOT NULL DEFAULT 0,
    annotated INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
    UNIQUE(name, kind, service)
);

CREATE INDEX IF NOT EXISTS idx_code_nodes_service ON code_nodes(service);
CREATE INDEX IF NOT EXISTS idx_code_nodes_name ON code_nodes(name);

CREATE TABLE IF NOT EXISTS log_events (
    id TEXT PRIMARY KEY,
    timestamp TEXT NOT NULL DEFAULT '',
    raw_timestamp TEXT NOT NULL DEFAULT '',
    service TEXT NOT NULL,
    level TEXT NOT NULL DEFAULT '',
    trace_id TEXT NOT NULL,
    order_id TEXT NOT NULL DEFAULT '',
    function_label TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    error_code TEXT NOT NULL DEFAULT '',
    error_type TEXT NOT NULL DEFAULT '',
    exception TEXT NOT NULL DEFAULT '',
    duration_ms REAL,
    metadata TEXT NOT NULL DEFAULT '{}',
    seq INTEGER NOT NULL DEFAULT 0,
    file_path TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_log_events_trace ON log_events(trace_id, timestamp, seq);
CREATE INDEX IF NOT EXISTS idx_log_events_service ON log_events(service, level);

CREATE TABLE IF NOT EXISTS relationships (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    source_name TEXT NOT NULL DEFAULT '',
    source_kind TEXT NOT NULL DEFAULT '',
    target_name TEXT NOT NULL DEFAULT '',
    target_kind TEXT NOT NULL DEFAULT '',
    source_service TEXT NOT NULL DEFAULT '',
    target_service TEXT NOT NULL DEFAULT '',
    endpoint TEXT NOT NULL DEFAULT '',
    http_method TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    call_order INTEGER NOT NULL DEFAULT 0,
    line_number INTEGER NOT NULL DEFAULT 0,
    timestamp TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id, type);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id, type);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(type);

CREATE TABLE IF NOT EXISTS workflow_catalog (
    workflow_id INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_point_name TEXT NOT NULL,
    workflow_type TEXT NOT NULL CHECK(workflow_type IN ('institutional','algo','retail','common')),
    route TEXT NOT NULL DEFAULT '[]',
    summary TEXT NOT NULL DEFAULT '',
    total_steps INTEGER NOT NULL DEFAULT 0,
    services_involved TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_workflow_entry ON workflow_catalog(entry_point_name);

CREATE TABLE IF NOT EXISTS workflow_functions (
    workflow_id INTEGER NOT NULL REFERENCES workflow_catalog(workflow_id) ON DELETE CASCADE,
    function_name TEXT NOT NULL,
    step_order INTEGER NOT NULL,
    service_name TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    data_contract TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY(workflow_id, step_order)
);

CREATE INDEX IF NOT EXISTS idx_workflow_functions_name ON workflow_functions(function_name);
CREATE INDEX IF NOT EXISTS idx_workflow_functions_service ON workflow_functions(service_name);

CREATE TABLE IF NOT EXISTS audit_entries (
    id TEXT PRIMARY KEY,
    timestamp TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    target TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    services TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_entries(action);
`
