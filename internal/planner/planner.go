// Package planner materializes the canonical step sequence for a
// session: global hints, root files, docs, per-depth directory
// summaries and per-directory nodes, diagrams, and finalize — each
// step written once as pending with its depends_on edges frozen.
//
// Planning is idempotent: StepUpsert keys every step by content, so
// replanning an existing session (on resume) never disturbs steps that
// are already running, done, or failed; it only fills in steps that
// were never created (e.g. depths beyond a previous run's max_depth).
package planner

import (
	"context"
	"fmt"

	"github.com/kbarone/raidme/internal/repoview"
	"github.com/kbarone/raidme/internal/store"
)

// Plan materializes every step of the canonical sequence for sess,
// walking view up to maxDepth directory levels. hints is the
// user-supplied orientation text; an empty hints skips the
// global_hints step entirely.
func Plan(ctx context.Context, st *store.Store, sess store.Session, view *repoview.RepoView, hints string, maxDepth int) error {
	var dependsOnDocs []string

	var hintsID string
	if hints != "" {
		step, err := st.StepUpsert(ctx, sess.ID, store.KindGlobalHints, "", nil)
		if err != nil {
			return fmt.Errorf("planner: global_hints: %w", err)
		}
		hintsID = step.ID
	}

	var rootDeps []string
	if hintsID != "" {
		rootDeps = []string{hintsID}
	}
	rootStep, err := st.StepUpsert(ctx, sess.ID, store.KindRootFiles, "", rootDeps)
	if err != nil {
		return fmt.Errorf("planner: root_files: %w", err)
	}

	docsStep, err := st.StepUpsert(ctx, sess.ID, store.KindDocs, "", []string{rootStep.ID})
	if err != nil {
		return fmt.Errorf("planner: docs: %w", err)
	}
	dependsOnDocs = []string{docsStep.ID}

	var allDirNodeIDs []string
	prevLevelID := ""

	err = view.WalkLevels(ctx, maxDepth, func(depth int, dirs []string) error {
		levelDeps := dependsOnDocs
		if prevLevelID != "" {
			levelDeps = append(append([]string{}, dependsOnDocs...), prevLevelID)
		}

		levelStep, err := st.StepUpsert(ctx, sess.ID, store.KindDirLevel, levelKey(depth), levelDeps)
		if err != nil {
			return fmt.Errorf("dir_level[%d]: %w", depth, err)
		}
		prevLevelID = levelStep.ID

		for _, dir := range dirs {
			nodeStep, err := st.StepUpsert(ctx, sess.ID, store.KindDirNode, dir, []string{levelStep.ID})
			if err != nil {
				return fmt.Errorf("dir_node[%s]: %w", dir, err)
			}
			allDirNodeIDs = append(allDirNodeIDs, nodeStep.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("planner: walk levels: %w", err)
	}

	diagramsDeps := allDirNodeIDs
	if len(diagramsDeps) == 0 {
		diagramsDeps = dependsOnDocs
	}
	diagramsStep, err := st.StepUpsert(ctx, sess.ID, store.KindDiagrams, "", diagramsDeps)
	if err != nil {
		return fmt.Errorf("planner: diagrams: %w", err)
	}

	if _, err := st.StepUpsert(ctx, sess.ID, store.KindFinalize, "", []string{diagramsStep.ID}); err != nil {
		return fmt.Errorf("planner: finalize: %w", err)
	}

	return nil
}

func levelKey(depth int) string {
	return fmt.Sprintf("%d", depth)
}
