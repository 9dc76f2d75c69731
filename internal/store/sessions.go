package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// SessionUpsert inserts a new session keyed by (repo root, revision),
// or returns the existing row if one already exists — the "resume"
// path when the CLI is pointed at the same repository and revision
// twice.
func (s *Store) SessionUpsert(ctx context.Context, repoRoot, revision, hints string) (Session, error) {
	existing, err := s.sessionByRootRevision(ctx, repoRoot, revision)
	if err == nil {
		return existing, nil
	}
	if err != ErrNotFound {
		return Session{}, err
	}

	sess := Session{
		ID:        uuid.NewString(),
		RepoRoot:  repoRoot,
		Revision:  revision,
		Hints:     hints,
		Status:    SessionActive,
		CreatedAt: Now(),
	}

	_, err = s.execHook(ctx, s.db,
		`INSERT INTO sessions (id, repo_root, revision, hints, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.RepoRoot, sess.Revision, sess.Hints, sess.Status, sess.CreatedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("store: insert session: %w", err)
	}

	return sess, nil
}

func (s *Store) sessionByRootRevision(ctx context.Context, repoRoot, revision string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, repo_root, revision, hints, status, created_at FROM sessions WHERE repo_root = ? AND revision = ?`,
		repoRoot, revision,
	)
	var sess Session
	err := row.Scan(&sess.ID, &sess.RepoRoot, &sess.Revision, &sess.Hints, &sess.Status, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: query session: %w", err)
	}
	return sess, nil
}

// GetSession loads a session by its repository root and revision, for CLI commands
// (status/retry/render/reset) that address a session by repo path.
func (s *Store) GetSession(ctx context.Context, repoRoot, revision string) (Session, error) {
	return s.sessionByRootRevision(ctx, repoRoot, revision)
}

// SessionByID loads a session by its id.
func (s *Store) SessionByID(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, repo_root, revision, hints, status, created_at FROM sessions WHERE id = ?`, id,
	)
	var sess Session
	err := row.Scan(&sess.ID, &sess.RepoRoot, &sess.Revision, &sess.Hints, &sess.Status, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: query session: %w", err)
	}
	return sess, nil
}

// SetSessionStatus transitions a session to a terminal status.
func (s *Store) SetSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	res, err := s.execHook(ctx, s.db, `UPDATE sessions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("store: update session status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
