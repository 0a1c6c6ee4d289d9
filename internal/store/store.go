// Package store provides the SQLite audit log for validation runs.
//
// Every outcome (assembled or rejected) is written with its diagnostic trail
// so rewrites and rejections can be reviewed after a batch:
// - records: one row per candidate, with the emitted output document
// - diagnostics: the per-span decisions, in trail order
// - runs: one row per batch invocation
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/pipeline"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.ofnr/audit.db"

// ErrNotFound is returned when a record id is unknown.
var ErrNotFound = errors.New("record not found")

// Record is one persisted pipeline outcome.
type Record struct {
	ID              string          `json:"id"`
	RunID           string          `json:"run_id,omitempty"`
	State           ofnr.State      `json:"state"`
	Label           string          `json:"label,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Corpus          string          `json:"corpus,omitempty"`
	SourceFile      string          `json:"source_file,omitempty"`
	SourceLine      int             `json:"source_line,omitempty"`
	ContentHash     string          `json:"content_hash"`
	OntologyVersion string          `json:"ontology_version,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Run is one batch invocation.
type Run struct {
	ID         string     `json:"id"`
	Input      string     `json:"input"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Assembled  int        `json:"assembled"`
	Rejected   int        `json:"rejected"`
	Skipped    int        `json:"skipped"`
}

// ListOpts controls pagination and filtering for ListRecords.
type ListOpts struct {
	Limit int
	State ofnr.State // filter by final state
	RunID string
}

// Stats summarizes the audit log.
type Stats struct {
	Records     int                    `json:"records"`
	Runs        int                    `json:"runs"`
	ByState     map[ofnr.State]int     `json:"by_state"`
	ByLabel     map[string]int         `json:"by_label"`
	Diagnostics int                    `json:"diagnostics"`
	ByAction    map[ofnr.Action]int    `json:"by_action"`
	ByStage     map[string]StageCounts `json:"by_stage"`
}

// StageCounts tallies diagnostics of one stage per action.
type StageCounts map[ofnr.Action]int

// Store is the audit log interface.
type Store interface {
	SaveResult(ctx context.Context, runID string, cand ofnr.Candidate, res *pipeline.Result) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	ListRecords(ctx context.Context, opts ListOpts) ([]*Record, error)
	Diagnostics(ctx context.Context, recordID string) ([]ofnr.Diagnostic, error)

	BeginRun(ctx context.Context, id, input string) error
	FinishRun(ctx context.Context, id string, assembled, rejected, skipped int) error
	GetRun(ctx context.Context, id string) (*Run, error)

	Stats(ctx context.Context) (*Stats, error)
	Meta(ctx context.Context, key string) (string, error)

	Close() error
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DBPath string
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed store and runs migrations.
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	cfg.DBPath = expandPath(cfg.DBPath)

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Each connection to :memory: is a separate database.
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult writes one outcome and replaces any earlier diagnostics for the
// same record id.
func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, cand ofnr.Candidate, res *pipeline.Result) error {
	if res == nil {
		return fmt.Errorf("saving result: nil result")
	}
	hash, err := HashCandidate(cand)
	if err != nil {
		return err
	}

	var (
		label, version string
		output         []byte
	)
	if res.Output != nil {
		label = res.Output.Safety.Label
		version = res.Output.OntologyVersion
		output, err = json.Marshal(res.Output)
		if err != nil {
			return fmt.Errorf("encoding output for %s: %w", res.ID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, run_id, state, label, reason, corpus, source_file, source_line,
			content_hash, ontology_version, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			state = excluded.state,
			label = excluded.label,
			reason = excluded.reason,
			corpus = excluded.corpus,
			source_file = excluded.source_file,
			source_line = excluded.source_line,
			content_hash = excluded.content_hash,
			ontology_version = excluded.ontology_version,
			output = excluded.output,
			created_at = excluded.created_at`,
		res.ID, nullable(runID), string(res.State), label, res.Reason,
		res.Source.Corpus, res.Source.File, res.Source.Line,
		hash, version, nullableBytes(output), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", res.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM diagnostics WHERE record_id = ?", res.ID); err != nil {
		return fmt.Errorf("clearing diagnostics for %s: %w", res.ID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO diagnostics (record_id, seq, stage, field, original, action, replacement, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing diagnostic insert: %w", err)
	}
	defer stmt.Close()
	for i, d := range res.Diagnostics {
		var repl any
		if d.Replacement != nil {
			repl = *d.Replacement
		}
		if _, err := stmt.ExecContext(ctx, res.ID, i, d.Stage, string(d.Field), d.Original, string(d.Action), repl, d.Reason); err != nil {
			return fmt.Errorf("inserting diagnostic %d for %s: %w", i, res.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing record %s: %w", res.ID, err)
	}
	return nil
}

const recordColumns = `id, COALESCE(run_id, ''), state, label, reason, corpus, source_file, source_line,
	content_hash, ontology_version, output, created_at`

// GetRecord returns one record by id.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %s: %w", id, err)
	}
	return r, nil
}

// ListRecords returns records newest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, opts ListOpts) ([]*Record, error) {
	query := "SELECT " + recordColumns + " FROM records WHERE 1=1"
	var args []any
	if opts.State != "" {
		query += " AND state = ?"
		args = append(args, string(opts.State))
	}
	if opts.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, opts.RunID)
	}
	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Diagnostics returns the trail of one record in append order.
func (s *SQLiteStore) Diagnostics(ctx context.Context, recordID string) ([]ofnr.Diagnostic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, field, original, action, replacement, reason
		FROM diagnostics WHERE record_id = ? ORDER BY seq`, recordID)
	if err != nil {
		return nil, fmt.Errorf("listing diagnostics for %s: %w", recordID, err)
	}
	defer rows.Close()

	var out []ofnr.Diagnostic
	for rows.Next() {
		var (
			d           ofnr.Diagnostic
			field, act  string
			replacement sql.NullString
		)
		if err := rows.Scan(&d.Stage, &field, &d.Original, &act, &replacement, &d.Reason); err != nil {
			return nil, fmt.Errorf("scanning diagnostic: %w", err)
		}
		d.Field = ofnr.Field(field)
		d.Action = ofnr.Action(act)
		if replacement.Valid {
			d.Replacement = ofnr.Replaced(replacement.String)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// BeginRun records the start of a batch.
func (s *SQLiteStore) BeginRun(ctx context.Context, id, input string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, input, started_at) VALUES (?, ?, ?)",
		id, input, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("beginning run %s: %w", id, err)
	}
	return nil
}

// FinishRun stores the final counts of a batch.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, assembled, rejected, skipped int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, assembled = ?, rejected = ?, skipped = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339Nano), assembled, rejected, skipped, id,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: unknown run", id)
	}
	return nil
}

// GetRun returns one batch by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, input, started_at, finished_at, assembled, rejected, skipped FROM runs WHERE id = ?", id,
	).Scan(&r.ID, &r.Input, &started, &finished, &r.Assembled, &r.Rejected, &r.Skipped)
	if err != nil {
		return nil, fmt.Errorf("getting run %s: %w", id, err)
	}
	r.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		r.FinishedAt = &t
	}
	return &r, nil
}

// Stats tallies records and diagnostics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByState:  map[ofnr.State]int{},
		ByLabel:  map[string]int{},
		ByAction: map[ofnr.Action]int{},
		ByStage:  map[string]StageCounts{},
	}
	for _, a := range ofnr.Actions {
		st.ByAction[a] = 0
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&st.Runs); err != nil {
		return nil, fmt.Errorf("counting runs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT state, label, COUNT(*) FROM records GROUP BY state, label")
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			state, label string
			n            int
		)
		if err := rows.Scan(&state, &label, &n); err != nil {
			return nil, fmt.Errorf("scanning record counts: %w", err)
		}
		st.Records += n
		st.ByState[ofnr.State(state)] += n
		if label != "" {
			st.ByLabel[label] += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	drows, err := s.db.QueryContext(ctx, "SELECT stage, action, COUNT(*) FROM diagnostics GROUP BY stage, action")
	if err != nil {
		return nil, fmt.Errorf("counting diagnostics: %w", err)
	}
	defer drows.Close()
	for drows.Next() {
		var (
			stage, action string
			n             int
		)
		if err := drows.Scan(&stage, &action, &n); err != nil {
			return nil, fmt.Errorf("scanning diagnostic counts: %w", err)
		}
		st.Diagnostics += n
		st.ByAction[ofnr.Action(action)] += n
		if st.ByStage[stage] == nil {
			st.ByStage[stage] = StageCounts{}
		}
		st.ByStage[stage][ofnr.Action(action)] += n
	}
	return st, drows.Err()
}

// Meta returns a value from the meta table, or "" if unset.
func (s *SQLiteStore) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading meta %q: %w", key, err)
	}
	return v, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r       Record
		state   string
		output  []byte
		created string
	)
	err := sc.Scan(&r.ID, &r.RunID, &state, &r.Label, &r.Reason, &r.Corpus, &r.SourceFile, &r.SourceLine,
		&r.ContentHash, &r.OntologyVersion, &output, &created)
	if err != nil {
		return nil, err
	}
	r.State = ofnr.State(state)
	if len(output) > 0 {
		r.Output = json.RawMessage(output)
	}
	r.CreatedAt = parseTime(created)
	return &r, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
