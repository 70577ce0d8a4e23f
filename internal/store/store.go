// Package store persists report jobs, report artifacts, and attempt
// summaries in SQLite. A single write connection plus WAL keeps the claim
// path serialized without a separate lock.
package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the reports database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the reports database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "reports.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open reports db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS report_jobs (
		id           TEXT PRIMARY KEY,
		purchase_id  TEXT NOT NULL UNIQUE,
		tenant_id    TEXT NOT NULL,
		test_id      TEXT NOT NULL,
		session_id   TEXT NOT NULL,
		locale       TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'queued',
		attempts     INTEGER NOT NULL DEFAULT 0,
		last_error   TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL,
		started_at   INTEGER,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_report_jobs_status_created ON report_jobs(status, created_at);

	CREATE TABLE IF NOT EXISTS report_artifacts (
		purchase_id     TEXT PRIMARY KEY,
		tenant_id       TEXT NOT NULL,
		test_id         TEXT NOT NULL,
		session_id      TEXT NOT NULL,
		locale          TEXT NOT NULL,
		style_id        TEXT NOT NULL,
		model           TEXT NOT NULL,
		prompt_version  TEXT NOT NULL,
		scoring_version TEXT NOT NULL,
		report_json     TEXT NOT NULL,
		created_at      INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attempt_summaries (
		tenant_id    TEXT NOT NULL,
		test_id      TEXT NOT NULL,
		session_id   TEXT NOT NULL,
		distinct_id  TEXT NOT NULL,
		locale       TEXT NOT NULL,
		computed_at  TEXT NOT NULL,
		band_id      TEXT NOT NULL,
		scale_scores TEXT NOT NULL,
		total_score  REAL NOT NULL,
		PRIMARY KEY (tenant_id, test_id, session_id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init reports schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
