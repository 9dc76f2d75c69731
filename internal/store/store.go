// Package store implements the durable record of analysis sessions,
// steps, and knowledge atoms backed by SQLite.
//
// It follows the shape of a small hand-rolled SQLite memory store: a
// single *sql.DB wrapped in a small Store type, idempotent migrations
// run on open, and hook functions that let tests substitute the
// underlying exec/query/transaction behavior without a real database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeNow is a package-level variable for testability.
// Tests can replace this to control time in assertions.
var timeNow = time.Now

// Status is the lifecycle state of a Step.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// SessionStatus is the terminal state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAborted   SessionStatus = "aborted"
)

// Kind identifies the category of work a Step performs.
type Kind string

const (
	KindGlobalHints Kind = "global_hints"
	KindRootFiles   Kind = "root_files"
	KindDocs        Kind = "docs"
	KindDirLevel    Kind = "dir_level"
	KindDirNode     Kind = "dir_node"
	KindDiagrams    Kind = "diagrams"
	KindFinalize    Kind = "finalize"
)

// Category is the closed set of knowledge atom categories.
type Category string

const (
	CategoryOverview   Category = "overview"
	CategoryStructure  Category = "structure"
	CategoryComponent  Category = "component"
	CategoryDataflow   Category = "dataflow"
	CategoryInterface  Category = "interface"
	CategoryDeployment Category = "deployment"
	CategoryConvention Category = "convention"
	CategoryRisk       Category = "risk"
)

// Session is a single analysis run against one repository at one revision.
type Session struct {
	ID          string
	RepoRoot    string
	Revision    string
	Hints       string
	CreatedAt   string
	Status      SessionStatus
}

// Step is one unit of work within a session.
type Step struct {
	ID               string
	SessionID        string
	Kind             Kind
	Key              string
	DependsOn        []string
	Status           Status
	InputFingerprint string
	InputData        string
	OutputData       string
	Error            string
	CreatedAt        string
	CompletedAt      string
}

// Atom is a single factual assertion extracted from a step's model reply.
type Atom struct {
	ID            string
	SessionID     string
	SourceStepID  string
	Category      Category
	Subcategory   string
	Title         string
	Content       string
	Relevance     float64
	CreatedAt     string
	UpdatedAt     string
}

// ErrConflict is returned by StepClaim when the step is not pending.
var ErrConflict = fmt.Errorf("store: step claim conflict")

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = fmt.Errorf("store: not found")

// schemaVersion is the current migration level this code understands.
const schemaVersion = 1

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// storeHooks lets tests intercept database access without a real driver.
type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	query   func(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func defaultStoreHooks() storeHooks {
	return storeHooks{
		exec: func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
			return db.ExecContext(ctx, query, args...)
		},
		query: func(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error) {
			return db.QueryContext(ctx, query, args...)
		},
		beginTx: func(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
		commit: func(tx *sql.Tx) error {
			return tx.Commit()
		},
	}
}

// Store is the durable record of sessions, steps, and knowledge atoms.
type Store struct {
	db    *sql.DB
	path  string
	lock  *fileLock
	hooks storeHooks
}

// Open creates or opens the store at path, applying migrations
// idempotently and acquiring the per-session advisory lock for the
// process lifetime. Callers must call Close when done.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	lock, err := acquireFileLock(path + ".lock")
	if err != nil {
		return nil, fmt.Errorf("store: acquire advisory lock: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			lock.Release()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: path, lock: lock, hooks: defaultStoreHooks()}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		lock.Release()
		return nil, fmt.Errorf("store: migration: %w", err)
	}

	return s, nil
}

// Close releases the advisory lock and closes the underlying database.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if rerr := s.lock.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func (s *Store) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *Store) queryHook(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error) {
	if s.hooks.query != nil {
		return s.hooks.query(ctx, db, query, args...)
	}
	return db.QueryContext(ctx, query, args...)
}

func (s *Store) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// migrate applies the schema idempotently and records the schema version.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			repo_root   TEXT NOT NULL,
			revision    TEXT NOT NULL,
			hints       TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'active',
			created_at  TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_root_rev ON sessions(repo_root, revision);

		CREATE TABLE IF NOT EXISTS analysis_steps (
			id                TEXT PRIMARY KEY,
			session_id        TEXT NOT NULL,
			kind              TEXT NOT NULL,
			step_key          TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT 'pending',
			depends_on        TEXT NOT NULL DEFAULT '[]',
			input_fingerprint TEXT NOT NULL DEFAULT '',
			input_data        TEXT NOT NULL DEFAULT '',
			output_data       TEXT NOT NULL DEFAULT '',
			error_message     TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL DEFAULT (datetime('now')),
			completed_at      TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_steps_status_session ON analysis_steps(status, session_id);
		CREATE INDEX IF NOT EXISTS idx_steps_session_created ON analysis_steps(session_id, created_at);

		CREATE TABLE IF NOT EXISTS knowledge_entries (
			id              TEXT PRIMARY KEY,
			session_id      TEXT NOT NULL,
			source_step_id  TEXT NOT NULL,
			category        TEXT NOT NULL,
			subcategory     TEXT NOT NULL DEFAULT '',
			title           TEXT NOT NULL,
			content         TEXT NOT NULL,
			relevance_score REAL NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at      TEXT NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_entries_session_cat_rel ON knowledge_entries(session_id, category, relevance_score DESC);
		CREATE INDEX IF NOT EXISTS idx_entries_source_step ON knowledge_entries(source_step_id);
	`
	if _, err := s.execHook(ctx, s.db, schema); err != nil {
		return err
	}

	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`)
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if _, err := s.execHook(ctx, s.db, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return err
		}
	}

	return nil
}

// Now returns the current time formatted the way all persisted
// timestamps in this package are formatted (RFC3339, UTC).
func Now() string {
	return timeNow().UTC().Format(time.RFC3339)
}
