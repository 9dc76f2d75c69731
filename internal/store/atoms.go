package store

import (
	"context"
	"fmt"
	"strings"
)

// AtomsFor returns knowledge atoms for a session, optionally filtered
// to a set of categories, ordered by category name (alphabetical),
// then by relevance descending, then by creation order ascending.
// Category priority ordering is not applied here — promptbuilder
// applies it for context curation, and the Synthesizer applies its
// own (subcategory, relevance, creation) order within a section.
func (s *Store) AtomsFor(ctx context.Context, sessionID string, categories []Category) ([]Atom, error) {
	query := `SELECT id, session_id, source_step_id, category, subcategory, title, content, relevance_score, created_at, updated_at
		FROM knowledge_entries WHERE session_id = ?`
	args := []any{sessionID}

	if len(categories) > 0 {
		placeholders := make([]string, len(categories))
		for i, c := range categories {
			placeholders[i] = "?"
			args = append(args, string(c))
		}
		query += fmt.Sprintf(" AND category IN (%s)", strings.Join(placeholders, ","))
	}

	query += " ORDER BY category ASC, relevance_score DESC, created_at ASC"

	rows, err := s.queryHook(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query atoms: %w", err)
	}
	defer rows.Close()

	var atoms []Atom
	for rows.Next() {
		var a Atom
		if err := rows.Scan(&a.ID, &a.SessionID, &a.SourceStepID, &a.Category, &a.Subcategory,
			&a.Title, &a.Content, &a.Relevance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan atom: %w", err)
		}
		atoms = append(atoms, a)
	}
	return atoms, rows.Err()
}

// AtomsFromStep returns the atoms currently attributed to a specific
// step, used by tests asserting that a retry replaced rather than
// appended to a step's prior output.
func (s *Store) AtomsFromStep(ctx context.Context, stepID string) ([]Atom, error) {
	rows, err := s.queryHook(ctx, s.db,
		`SELECT id, session_id, source_step_id, category, subcategory, title, content, relevance_score, created_at, updated_at
		 FROM knowledge_entries WHERE source_step_id = ? ORDER BY created_at ASC`, stepID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query atoms for step: %w", err)
	}
	defer rows.Close()

	var atoms []Atom
	for rows.Next() {
		var a Atom
		if err := rows.Scan(&a.ID, &a.SessionID, &a.SourceStepID, &a.Category, &a.Subcategory,
			&a.Title, &a.Content, &a.Relevance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan atom: %w", err)
		}
		atoms = append(atoms, a)
	}
	return atoms, rows.Err()
}
