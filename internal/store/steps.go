package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// StepUpsert inserts a step as pending if it does not already exist.
// Re-planning a session is therefore idempotent: materializing the
// same (session, kind, key) twice never duplicates a row or disturbs
// one that is already done, running, or failed.
func (s *Store) StepUpsert(ctx context.Context, sessionID string, kind Kind, key string, dependsOn []string) (Step, error) {
	id := StepID(sessionID, kind, key)

	existing, err := s.StepByID(ctx, id)
	if err == nil {
		return existing, nil
	}
	if err != ErrNotFound {
		return Step{}, err
	}

	deps, err := json.Marshal(dependsOn)
	if err != nil {
		return Step{}, fmt.Errorf("store: marshal depends_on: %w", err)
	}

	step := Step{
		ID:        id,
		SessionID: sessionID,
		Kind:      kind,
		Key:       key,
		DependsOn: dependsOn,
		Status:    StatusPending,
		CreatedAt: Now(),
	}

	_, err = s.execHook(ctx, s.db,
		`INSERT INTO analysis_steps (id, session_id, kind, step_key, status, depends_on, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.SessionID, step.Kind, step.Key, step.Status, string(deps), step.CreatedAt,
	)
	if err != nil {
		return Step{}, fmt.Errorf("store: insert step: %w", err)
	}

	return step, nil
}

// StepByID loads a single step by id.
func (s *Store) StepByID(ctx context.Context, id string) (Step, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, kind, step_key, status, depends_on, input_fingerprint, input_data, output_data, error_message, created_at, completed_at
		 FROM analysis_steps WHERE id = ?`, id,
	)
	return scanStep(row)
}

func scanStep(row *sql.Row) (Step, error) {
	var step Step
	var deps string
	err := row.Scan(&step.ID, &step.SessionID, &step.Kind, &step.Key, &step.Status, &deps,
		&step.InputFingerprint, &step.InputData, &step.OutputData, &step.Error, &step.CreatedAt, &step.CompletedAt)
	if err == sql.ErrNoRows {
		return Step{}, ErrNotFound
	}
	if err != nil {
		return Step{}, fmt.Errorf("store: scan step: %w", err)
	}
	if deps != "" {
		if err := json.Unmarshal([]byte(deps), &step.DependsOn); err != nil {
			return Step{}, fmt.Errorf("store: unmarshal depends_on: %w", err)
		}
	}
	return step, nil
}

// StepsForSession returns every step belonging to a session, ordered
// by creation — the canonical planning order.
func (s *Store) StepsForSession(ctx context.Context, sessionID string) ([]Step, error) {
	rows, err := s.queryHook(ctx, s.db,
		`SELECT id, session_id, kind, step_key, status, depends_on, input_fingerprint, input_data, output_data, error_message, created_at, completed_at
		 FROM analysis_steps WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var step Step
		var deps string
		if err := rows.Scan(&step.ID, &step.SessionID, &step.Kind, &step.Key, &step.Status, &deps,
			&step.InputFingerprint, &step.InputData, &step.OutputData, &step.Error, &step.CreatedAt, &step.CompletedAt); err != nil {
			return nil, fmt.Errorf("store: scan step: %w", err)
		}
		if deps != "" {
			if err := json.Unmarshal([]byte(deps), &step.DependsOn); err != nil {
				return nil, fmt.Errorf("store: unmarshal depends_on: %w", err)
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// StepsPendingFor returns steps in canonical (creation) order whose
// dependencies are all done, filtering out everything else — the set
// the Planner and Session Controller consider eligible to run next.
func (s *Store) StepsPendingFor(ctx context.Context, sessionID string) ([]Step, error) {
	all, err := s.StepsForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(all))
	for _, st := range all {
		if st.Status == StatusDone || st.Status == StatusSkipped {
			done[st.ID] = true
		}
	}

	var pending []Step
	for _, st := range all {
		if st.Status != StatusPending {
			continue
		}
		if eligible(st, done) {
			pending = append(pending, st)
		}
	}
	return pending, nil
}

func eligible(step Step, done map[string]bool) bool {
	for _, dep := range step.DependsOn {
		if !done[dep] {
			return false
		}
	}
	return true
}

// StepClaim atomically transitions a step from pending to running,
// freezing its input fingerprint and data. It returns ErrConflict if
// the step was not pending (another process claimed it, or it is
// already done/failed).
func (s *Store) StepClaim(ctx context.Context, id, fingerprint, inputData string) (Step, error) {
	res, err := s.execHook(ctx, s.db,
		`UPDATE analysis_steps SET status = ?, input_fingerprint = ?, input_data = ? WHERE id = ? AND status = ?`,
		StatusRunning, fingerprint, inputData, id, StatusPending,
	)
	if err != nil {
		return Step{}, fmt.Errorf("store: claim step: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return Step{}, ErrConflict
	}
	return s.StepByID(ctx, id)
}

// StepComplete commits a step's success: sets status=done, writes
// output_data, and inserts every extracted atom, all inside one
// transaction. Either everything succeeds or nothing does — a crash
// between the model reply and this call leaves the step running,
// recovered as failed on the next ResetStuck.
//
// A retry that reaches StepComplete a second time for the same step
// id replaces any atoms previously attributed to that step, rather
// than appending duplicates alongside them.
func (s *Store) StepComplete(ctx context.Context, id, outputData string, atoms []Atom) error {
	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := Now()
	res, err := tx.ExecContext(ctx,
		`UPDATE analysis_steps SET status = ?, output_data = ?, completed_at = ? WHERE id = ? AND status = ?`,
		StatusDone, outputData, now, id, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("store: complete step: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE source_step_id = ?`, id); err != nil {
		return fmt.Errorf("store: clear prior atoms: %w", err)
	}

	for _, a := range atoms {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO knowledge_entries (id, session_id, source_step_id, category, subcategory, title, content, relevance_score, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.SessionID, id, a.Category, a.Subcategory, a.Title, a.Content, a.Relevance, now, now,
		); err != nil {
			return fmt.Errorf("store: insert atom: %w", err)
		}
	}

	return s.commitHook(tx)
}

// StepFail sets status=failed and records the error message.
func (s *Store) StepFail(ctx context.Context, id, errMsg string) error {
	res, err := s.execHook(ctx, s.db,
		`UPDATE analysis_steps SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		StatusFailed, errMsg, Now(), id,
	)
	if err != nil {
		return fmt.Errorf("store: fail step: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// StepRetry flips a failed step back to pending, clearing its error.
// This is the only way a failed step re-enters the eligible set —
// automatic retry at the step level is intentionally absent.
func (s *Store) StepRetry(ctx context.Context, id string) error {
	res, err := s.execHook(ctx, s.db,
		`UPDATE analysis_steps SET status = ?, error_message = '', completed_at = '' WHERE id = ? AND status = ?`,
		StatusPending, id, StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("store: retry step: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ResetStuck transitions every step left running in a session to
// failed with a synthetic "interrupted" error. Called once at
// controller startup before any new work begins — see §4.7.
func (s *Store) ResetStuck(ctx context.Context, sessionID string) (int, error) {
	res, err := s.execHook(ctx, s.db,
		`UPDATE analysis_steps SET status = ?, error_message = 'interrupted', completed_at = ? WHERE session_id = ? AND status = ?`,
		StatusFailed, Now(), sessionID, StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("store: reset stuck steps: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
