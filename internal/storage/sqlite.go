package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS account_links (
  id                   TEXT PRIMARY KEY,
  account_id           TEXT NOT NULL,
  provider             TEXT,
  external_user_id     TEXT,
  external_username    TEXT,
  link_code            TEXT,
  link_code_expires_at TEXT,
  linked_at            TEXT,
  created_at           TEXT NOT NULL
);`,
		// At most one pending (unredeemed) code per account.
		`CREATE UNIQUE INDEX IF NOT EXISTS account_links_pending_idx
  ON account_links(account_id) WHERE linked_at IS NULL;`,
		// A third-party identity can be bound to at most one account.
		`CREATE UNIQUE INDEX IF NOT EXISTS account_links_external_idx
  ON account_links(provider, external_user_id) WHERE linked_at IS NOT NULL;`,
		`CREATE TABLE IF NOT EXISTS decisions (
  id            TEXT PRIMARY KEY,
  account_id    TEXT NOT NULL,
  source        TEXT NOT NULL,
  raw_text      TEXT NOT NULL,
  title         TEXT,
  enriched_json JSON,
  created_at    TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS decisions_account_created_idx
  ON decisions(account_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS enrich_queue (
  id           TEXT PRIMARY KEY,
  source       TEXT NOT NULL,
  account_id   TEXT NOT NULL,
  narrative    TEXT NOT NULL,
  response_url TEXT,
  status       TEXT NOT NULL,
  attempt      INTEGER NOT NULL DEFAULT 1,
  dedupe_key   TEXT UNIQUE,
  created_at   TEXT NOT NULL,
  started_at   TEXT,
  completed_at TEXT,
  last_error   TEXT
);`,
		`CREATE INDEX IF NOT EXISTS enrich_queue_status_created_idx
  ON enrich_queue(status, created_at);`,
		`CREATE TABLE IF NOT EXISTS enrich_log (
  id           TEXT PRIMARY KEY,
  source       TEXT NOT NULL,
  account_id   TEXT NOT NULL,
  status       TEXT NOT NULL,
  attempt      INTEGER NOT NULL,
  created_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL,
  last_error   TEXT
);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
