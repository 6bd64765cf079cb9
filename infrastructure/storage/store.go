// Package storage is the SQLite persistence layer of the audit core. It
// implements the interaction, rubric, policy, usage and audit ports on a
// single database file.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

// Store is a SQLite-backed implementation of every storage port.
//
// The pool is capped at one connection: SQLite serializes writers anyway and
// a single connection keeps transactions and the audit id sequence simple.
type Store struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

var (
	_ ports.InteractionStore = (*Store)(nil)
	_ ports.RubricStore      = (*Store)(nil)
	_ ports.PolicyStore      = (*Store)(nil)
	_ ports.UsageLedger      = (*Store)(nil)
	_ ports.AuditRepository  = (*Store)(nil)
)

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string, log *slog.Logger) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	return &Store{db: db, log: log, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

const schemaVersion = 1

func migrateSchema(db *sql.DB) error {
	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
  id INTEGER PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  approval_score REAL,
  rubric_updated_at_unix_ms INTEGER NOT NULL DEFAULT 0
)`,
		`CREATE TABLE IF NOT EXISTS campaign_billing_limits (
  campaign_id INTEGER PRIMARY KEY REFERENCES campaigns(id) ON DELETE CASCADE,
  monthly_audio_minutes_limit REAL,
  monthly_token_limit INTEGER,
  monthly_usd_limit REAL,
  enforcement_mode TEXT NOT NULL DEFAULT 'soft',
  alert_threshold_pct REAL NOT NULL DEFAULT 80
)`,
		`CREATE TABLE IF NOT EXISTS audit_criteria (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  campaign_id INTEGER NOT NULL,
  kind TEXT NOT NULL,
  category TEXT NOT NULL DEFAULT '',
  question TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  target_score REAL NOT NULL DEFAULT 0 CHECK (target_score >= 0),
  critical INTEGER NOT NULL DEFAULT 0,
  position INTEGER NOT NULL DEFAULT 0,
  active INTEGER NOT NULL DEFAULT 1,
  updated_at_unix_ms INTEGER NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_criteria_campaign ON audit_criteria(campaign_id, kind, position)`,
		`CREATE TABLE IF NOT EXISTS interactions (
  interaction_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  campaign_id INTEGER,
  subject_id TEXT NOT NULL DEFAULT '',
  subject_name TEXT NOT NULL DEFAULT '',
  direction TEXT NOT NULL DEFAULT '',
  language TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'unaudited',
  audio_seconds REAL NOT NULL DEFAULT 0,
  utterances_json TEXT NOT NULL DEFAULT '[]',
  created_at_unix_ms INTEGER NOT NULL,
  PRIMARY KEY (interaction_id, kind)
)`,
		`CREATE TABLE IF NOT EXISTS audits (
  id INTEGER PRIMARY KEY,
  interaction_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  campaign_id INTEGER NOT NULL,
  subject_id TEXT NOT NULL DEFAULT '',
  score REAL NOT NULL,
  is_failure INTEGER NOT NULL,
  verdicts_json TEXT NOT NULL,
  generated_by TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL,
  UNIQUE (interaction_id, kind)
)`,
		`CREATE TABLE IF NOT EXISTS audit_id_sequence (
  name TEXT PRIMARY KEY,
  next_value INTEGER NOT NULL
)`,
		`INSERT OR IGNORE INTO audit_id_sequence(name, next_value) VALUES ('audits', 1)`,
		`CREATE TABLE IF NOT EXISTS ai_usage_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  campaign_id INTEGER NOT NULL,
  interaction_id TEXT NOT NULL DEFAULT '',
  event_type TEXT NOT NULL,
  model TEXT NOT NULL DEFAULT '',
  input_tokens INTEGER NOT NULL DEFAULT 0,
  output_tokens INTEGER NOT NULL DEFAULT 0,
  total_tokens INTEGER NOT NULL DEFAULT 0,
  estimated_cost_usd REAL NOT NULL DEFAULT 0,
  audio_minutes_processed REAL NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_usage_events_campaign ON ai_usage_events(campaign_id, created_at_unix_ms)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// isConstraintViolation reports whether err is any SQLite constraint failure
// (primary key, unique, check or trigger abort).
func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMs(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
