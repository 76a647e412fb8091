/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements waqf.Store (roster, plans, approval instances, journal) and
  audit.Log using SQLite. The same schema maps onto PostgreSQL with minor
  dialect changes.

INTERFACES IMPLEMENTED:
  waqf.RosterStore:   beneficiaries and loan installments
  waqf.PlanStore:     allocation plans (status is the only mutable column)
  waqf.InstanceStore: approval instances, version-guarded upsert
  waqf.PayoutSink:    one journal entry per plan
  audit.Log:          append-only approval audit trail

APPEND-ONLY ENFORCEMENT:
  audit_entries and journal_lines reject UPDATE and DELETE through
  triggers. (instance_id, sequence) is unique, and Append checks that each
  entry directly follows the last recorded sequence.

KEY TABLES:
  beneficiaries:      roster, with the date each member joined it
  loan_installments:  installments deducted from shares
  plans:              computed plans; allocation detail stored as JSON
  approval_instances: latest snapshot of each instance for restart
  audit_entries:      immutable transition log
  journal_entries:    posted payouts, keyed by plan
  journal_lines:      debit/credit lines of each posting

MONEY AND TIME:
  Amounts are stored as INTEGER minor units. Timestamps are fixed-width
  UTC text so lexical order is chronological order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. ":memory:" databases are limited to
  a single connection, since each connection would get its own database.

USAGE:
  store, err := sqlite.New("./data/waqf.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc, err := waqf.NewService(waqf.Deps{Roster: store, Plans: store, ...})

SEE ALSO:
  - waqf/store.go: interface definitions
  - store/memory/memory.go: in-memory implementation for tests
  - audit/memory.go: reference semantics of Append
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/waqf-engine/audit"
	"github.com/warp/waqf-engine/waqf"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ waqf.Store = (*Store)(nil)
	_ audit.Log  = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Roster
	CREATE TABLE IF NOT EXISTS beneficiaries (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		heir_type TEXT,
		priority_level INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		registered_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_beneficiaries_registered
		ON beneficiaries(registered_at);

	CREATE TABLE IF NOT EXISTS loan_installments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		loan_id TEXT NOT NULL,
		beneficiary_id TEXT NOT NULL REFERENCES beneficiaries(id),
		amount_minor INTEGER NOT NULL CHECK (amount_minor >= 0),
		due_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_installments_beneficiary
		ON loan_installments(beneficiary_id, due_date);

	-- Allocation plans
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL,
		as_of TEXT NOT NULL,
		gross_minor INTEGER NOT NULL,
		distributable_minor INTEGER NOT NULL,
		heir_pool_minor INTEGER NOT NULL,
		ordinary_pool_minor INTEGER NOT NULL,
		deductions_json TEXT NOT NULL,
		allocations_json TEXT NOT NULL,
		arrears_json TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plans_status
		ON plans(status);

	-- Approval instances (latest snapshot)
	CREATE TABLE IF NOT EXISTS approval_instances (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		definition_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		instance_json TEXT NOT NULL,
		definition_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_instances_subject
		ON approval_instances(subject_id);
	CREATE INDEX IF NOT EXISTS idx_instances_status
		ON approval_instances(status);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		instance_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		event TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL DEFAULT '',
		level_order INTEGER NOT NULL DEFAULT 0,
		to_level INTEGER NOT NULL DEFAULT 0,
		actor_id TEXT NOT NULL DEFAULT '',
		actor_role TEXT NOT NULL DEFAULT '',
		ts TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		subject_id TEXT NOT NULL DEFAULT '',
		definition_id TEXT NOT NULL DEFAULT '',
		entity_type TEXT NOT NULL DEFAULT '',
		amount_minor INTEGER NOT NULL DEFAULT 0,
		assigned_role TEXT NOT NULL DEFAULT '',
		assigned_actor TEXT NOT NULL DEFAULT '',
		UNIQUE(instance_id, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_ts
		ON audit_entries(ts, id);
	CREATE INDEX IF NOT EXISTS idx_audit_actor
		ON audit_entries(actor_id) WHERE actor_id != '';

	CREATE TRIGGER IF NOT EXISTS audit_entries_no_update
		BEFORE UPDATE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete
		BEFORE DELETE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are append-only'); END;

	-- Journal (one entry per plan)
	CREATE TABLE IF NOT EXISTS journal_entries (
		plan_id TEXT PRIMARY KEY,
		posted_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS journal_lines (
		plan_id TEXT NOT NULL REFERENCES journal_entries(plan_id),
		line_no INTEGER NOT NULL,
		account TEXT NOT NULL,
		beneficiary_id TEXT,
		debit_minor INTEGER NOT NULL DEFAULT 0,
		credit_minor INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (plan_id, line_no)
	);

	CREATE TRIGGER IF NOT EXISTS journal_lines_no_update
		BEFORE UPDATE ON journal_lines
		BEGIN SELECT RAISE(ABORT, 'journal lines are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS journal_lines_no_delete
		BEFORE DELETE ON journal_lines
		BEGIN SELECT RAISE(ABORT, 'journal lines are append-only'); END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// WithTx runs fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
