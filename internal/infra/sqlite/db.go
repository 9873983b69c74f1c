// Package sqlite persists submissions, the capsule ledger, and trust scores
// in an embedded SQLite database (pure-Go driver, no CGO).
//
// The DB implements domain.Stores: plain calls run against the connection,
// and WithinTx hands the caller transaction-bound stores so a status
// transition and its ledger effect commit as one unit.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/capsulemarket/capsule/internal/domain"
)

// DB wraps the SQLite connection.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database under dir and applies migrations.
func Open(dir string) (*DB, error) {
	path := filepath.Join(dir, "capsule.db")
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// churn under concurrent transactions.
	sqlDB.SetMaxOpenConns(1)

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.db.Close() }

// migrate applies the schema. Each string is a single SQL statement
// (SQLite executes one at a time).
func (d *DB) migrate() error {
	for _, stmt := range migrations() {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func migrations() []string {
	return []string{
		// Task submissions; the policy snapshot is stored as JSON so the
		// exact start-time requirements survive any later policy change.
		`CREATE TABLE IF NOT EXISTS submissions (
			id                TEXT PRIMARY KEY,
			task_id           TEXT NOT NULL,
			user_id           TEXT NOT NULL,
			platform          TEXT NOT NULL,
			task_type         TEXT NOT NULL,
			policy_json       TEXT NOT NULL,
			platform_username TEXT NOT NULL DEFAULT '',
			username_verified INTEGER,
			comment_text      TEXT NOT NULL DEFAULT '',
			content_question  TEXT NOT NULL DEFAULT '',
			content_answer    TEXT NOT NULL DEFAULT '',
			screenshot_ref    TEXT NOT NULL DEFAULT '',
			timer_seconds     INTEGER NOT NULL DEFAULT 0,
			capsules_earned   INTEGER NOT NULL DEFAULT 0,
			status            TEXT NOT NULL DEFAULT 'started',
			flagged           INTEGER NOT NULL DEFAULT 0,
			flag_reason       TEXT NOT NULL DEFAULT '',
			review_notes      TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,
			submitted_at      TEXT,
			verified_at       TEXT,
			released_at       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_user ON submissions(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status)`,

		// Append-only capsule ledger plus the materialized balance.
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id       TEXT NOT NULL,
			type          TEXT NOT NULL,
			amount        INTEGER NOT NULL,
			balance_after INTEGER NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			reference_id  TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_user ON ledger_entries(user_id, id)`,
		`CREATE TABLE IF NOT EXISTS ledger_balances (
			user_id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL DEFAULT 0
		)`,

		// Per-user trust scores.
		`CREATE TABLE IF NOT EXISTS trust_scores (
			user_id                TEXT PRIMARY KEY,
			score                  INTEGER NOT NULL DEFAULT 50,
			cooldown_until         TEXT,
			total_capsules_earned  INTEGER NOT NULL DEFAULT 0,
			total_capsules_slashed INTEGER NOT NULL DEFAULT 0,
			total_tasks_completed  INTEGER NOT NULL DEFAULT 0,
			total_tasks_rejected   INTEGER NOT NULL DEFAULT 0,
			last_task_at           TEXT,
			updated_at             TEXT NOT NULL
		)`,
	}
}

// ─── domain.Stores Implementation ───────────────────────────────────────────

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements all three store interfaces over an execer.
type queries struct {
	q execer
}

// Submissions returns the submission store.
func (d *DB) Submissions() domain.SubmissionStore { return &queries{q: d.db} }

// Ledger returns the ledger store.
func (d *DB) Ledger() domain.LedgerStore { return &queries{q: d.db} }

// Trust returns the trust score store.
func (d *DB) Trust() domain.TrustStore { return &queries{q: d.db} }

// WithinTx runs fn against transaction-bound stores. An error rolls back.
func (d *DB) WithinTx(ctx context.Context, fn func(domain.Stores) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&txStores{queries{q: tx}}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// txStores serves stores bound to an open transaction. Nested WithinTx
// calls join the existing transaction.
type txStores struct {
	q queries
}

func (t *txStores) Submissions() domain.SubmissionStore { return &t.q }
func (t *txStores) Ledger() domain.LedgerStore          { return &t.q }
func (t *txStores) Trust() domain.TrustStore            { return &t.q }

func (t *txStores) WithinTx(ctx context.Context, fn func(domain.Stores) error) error {
	return fn(t)
}

// ─── Time Helpers ───────────────────────────────────────────────────────────

// Fixed-width so stored timestamps compare correctly as strings
// (RFC3339Nano trims trailing zeros and would break created_at >= ?).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatNullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	return parseTime(s.String)
}
