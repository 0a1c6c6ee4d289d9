package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SchemaVersion is the audit schema revision stored in meta.
const SchemaVersion = "1"

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	if err := s.migrateReportIndexes(); err != nil {
		return fmt.Errorf("migrating report indexes: %w", err)
	}
	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			input       TEXT NOT NULL DEFAULT '',
			started_at  TEXT NOT NULL,
			finished_at TEXT,
			assembled   INTEGER NOT NULL DEFAULT 0,
			rejected    INTEGER NOT NULL DEFAULT 0,
			skipped     INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS records (
			id               TEXT PRIMARY KEY,
			run_id           TEXT REFERENCES runs(id) ON DELETE SET NULL,
			state            TEXT NOT NULL,
			label            TEXT NOT NULL DEFAULT '',
			reason           TEXT NOT NULL DEFAULT '',
			corpus           TEXT NOT NULL DEFAULT '',
			source_file      TEXT NOT NULL DEFAULT '',
			source_line      INTEGER NOT NULL DEFAULT 0,
			content_hash     TEXT NOT NULL,
			ontology_version TEXT NOT NULL DEFAULT '',
			output           TEXT,
			created_at       TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS diagnostics (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id   TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			stage       TEXT NOT NULL,
			field       TEXT NOT NULL,
			original    TEXT NOT NULL DEFAULT '',
			action      TEXT NOT NULL,
			replacement TEXT,
			reason      TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_diagnostics_record ON diagnostics(record_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_records_state ON records(state)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning bootstrap: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing bootstrap DDL: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bootstrap: %w", err)
	}
	return nil
}

func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": SchemaVersion,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range defaults {
		_, err := s.db.Exec("INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

// migrateReportIndexes adds the indexes used by stats and run listings.
func (s *SQLiteStore) migrateReportIndexes() error {
	done, err := s.isMetaFlagEnabled("report_indexes_v1")
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_diagnostics_stage_action ON diagnostics(stage, action)`,
		`CREATE INDEX IF NOT EXISTS idx_records_hash ON records(content_hash)`,
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return s.setMetaFlag("report_indexes_v1")
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}
