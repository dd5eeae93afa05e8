// Package state implements the shared SQLite state store. One Store is
// opened per process; the three agent loops and any request handlers share
// it, with the engine serialising transactions.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaakkos/deskwork/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	priority TEXT NOT NULL DEFAULT 'medium',
	due_date TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	level TEXT NOT NULL DEFAULT 'info',
	message TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	acknowledged INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	rationale TEXT NOT NULL DEFAULT '',
	decision_maker TEXT NOT NULL DEFAULT '',
	impact TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS kpi_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	metric TEXT NOT NULL,
	value REAL NOT NULL,
	timestamp TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS context (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS meeting_prep (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	brief TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS file_index (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT UNIQUE NOT NULL,
	extension TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	modified_at TEXT NOT NULL DEFAULT '',
	indexed_at TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS code_routes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL,
	route_type TEXT NOT NULL,
	name TEXT NOT NULL,
	line_number INTEGER NOT NULL DEFAULT 0,
	signature TEXT NOT NULL DEFAULT '',
	docstring TEXT NOT NULL DEFAULT '',
	keywords TEXT NOT NULL DEFAULT '[]',
	indexed_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS discoveries (
	id TEXT PRIMARY KEY,
	agent TEXT NOT NULL,
	discovery_type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '{}',
	discovered_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_status (
	agent_name TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'stopped',
	last_heartbeat TEXT NOT NULL,
	current_task TEXT NOT NULL DEFAULT ''
);
`

// indexes for the hot query paths (pending tasks, per-file routes,
// per-metric history).
const indexes = `
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_alerts_ack ON alerts(acknowledged);
CREATE INDEX IF NOT EXISTS idx_kpi_metric ON kpi_history(metric);
CREATE INDEX IF NOT EXISTS idx_file_index_ext ON file_index(extension);
CREATE INDEX IF NOT EXISTS idx_code_routes_file ON code_routes(file_path);
`

// Store is the shared relational state store.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database at path, creating parent dirs and schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.E(domain.KindStoreUnavailable, "state.open", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, domain.E(domain.KindStoreUnavailable, "state.open", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, domain.E(domain.KindStoreUnavailable, "state.open", fmt.Errorf("schema: %w", err))
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, domain.E(domain.KindStoreUnavailable, "state.open", fmt.Errorf("indexes: %w", err))
	}
	runMigrations(db)
	return &Store{db: db}, nil
}

// runMigrations applies additive migrations for databases created by older
// builds. Errors are ignored because the column may already exist.
func runMigrations(db *sql.DB) {
	_, _ = db.Exec("ALTER TABLE tasks ADD COLUMN due_date TEXT NOT NULL DEFAULT ''")
	_, _ = db.Exec("ALTER TABLE file_index ADD COLUMN summary TEXT NOT NULL DEFAULT ''")
	_, _ = db.Exec("ALTER TABLE file_index ADD COLUMN tags TEXT NOT NULL DEFAULT '[]'")
	_, _ = db.Exec("ALTER TABLE agent_status ADD COLUMN current_task TEXT NOT NULL DEFAULT ''")
}

// Close releases the database connection. Safe to call twice.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// now returns the canonical stored timestamp string.
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// parseTime parses RFC3339Nano or returns zero time and error.
func parseTime(s, context string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: parse timestamp %q: %w", context, s, err)
	}
	return t, nil
}

// parseJSON unmarshals b into v with context.
func parseJSON(b []byte, v any, context string) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", context, err)
	}
	return nil
}

// encodeJSON marshals v, falling back to the given literal on a nil value.
func encodeJSON(v any, empty string) string {
	if v == nil {
		return empty
	}
	b, err := json.Marshal(v)
	if err != nil {
		return empty
	}
	return string(b)
}
