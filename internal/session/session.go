// Package session implements the Session Controller: the operation
// that owns one analysis run end to end — open the durable store,
// recover any steps left running by a prior crash, materialize the
// step plan, drive steps to completion one at a time, and render the
// knowledge document once every step is done.
//
// The claim-execute-stop-on-failure loop is grounded on
// internal/server/server.go's startup sequence, which logs a warning
// and degrades rather than panicking when a subsystem fails to come
// up; structured logging throughout this package follows
// theRebelliousNerd-codenerd's use of go.uber.org/zap (cmd/nerd/main.go)
// rather than a bare "log" package, since a multi-step, potentially
// long-running, resumable pipeline benefits from leveled,
// field-structured log lines far more than a short-lived MCP server
// does.
package session

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kbarone/raidme/internal/config"
	"github.com/kbarone/raidme/internal/executor"
	"github.com/kbarone/raidme/internal/gateway"
	"github.com/kbarone/raidme/internal/planner"
	"github.com/kbarone/raidme/internal/promptbuilder"
	"github.com/kbarone/raidme/internal/repoview"
	"github.com/kbarone/raidme/internal/store"
	"github.com/kbarone/raidme/internal/synth"
)

// Controller owns one analysis session's lifecycle against a Store.
type Controller struct {
	store  *store.Store
	view   *repoview.RepoView
	ex     *executor.Executor
	cfg    *config.Config
	log    *zap.Logger
	closed bool
}

// Open acquires the durable store for repoRoot (creating it under
// cfg.Store.Path if absent), wires the Executor's collaborators, and
// returns a Controller ready to Run. Callers must call Close.
func Open(cfg *config.Config, repoRoot string, provider gateway.Provider, log *zap.Logger) (*Controller, error) {
	if log == nil {
		log = zap.NewNop()
	}

	st, err := store.Open(cfg.StorePathFor(repoRoot))
	if err != nil {
		return nil, fmt.Errorf("session: open store: %w", err)
	}

	view := repoview.New(repoRoot, cfg.Repo.IgnoreGlobs)
	builder := promptbuilder.New(cfg.Context.TokenCeiling)
	gw := gateway.New(provider, cfg.Model.MaxRetries)

	execCfg := executor.Config{
		Preamble:        preamble,
		DeadlineSeconds: cfg.Model.DeadlineSeconds,
		MaxParseRetries: cfg.Model.ParseRetries,
		FileHeadBytes:   cfg.Repo.FileHeadBytes,
		DirPayloadBytes: cfg.Repo.DirPayloadBytes,
		DocsMaxCount:    20,
		DocsMaxBytes:    1 << 20,
	}
	ex := executor.New(st, view, builder, gw, execCfg)

	return &Controller{store: st, view: view, ex: ex, cfg: cfg, log: log}, nil
}

// Close releases the underlying store.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.store.Close()
}

// preamble is the fixed instruction prefix every step's prompt carries,
// describing the reply envelope the model must produce.
const preamble = `You are analyzing a software repository incrementally, one step at a
time. Respond with exactly one JSON object matching this schema and
nothing else:

{"summary": "<one sentence>", "atoms": [{"category": "<one of: overview, structure, component, dataflow, interface, deployment, convention, risk>", "subcategory": "<optional>", "title": "<short title>", "content": "<markdown>", "relevance": <0..1>}]}`

// Run resumes or starts a session for (repoRoot, revision): it resets
// any steps left running by a previous crash, materializes the step
// plan, then claims and executes pending steps one at a time in
// canonical order until none remain eligible or one fails. ctx
// cancellation stops the loop before the next step is claimed; a step
// already claimed runs to completion or failure first.
func (c *Controller) Run(ctx context.Context, repoRoot, revision, hints string) (store.Session, error) {
	sess, err := c.store.SessionUpsert(ctx, repoRoot, revision, hints)
	if err != nil {
		return store.Session{}, fmt.Errorf("session: upsert: %w", err)
	}
	log := c.log.With(zap.String("session_id", sess.ID), zap.String("repo_root", repoRoot))

	reset, err := c.store.ResetStuck(ctx, sess.ID)
	if err != nil {
		return sess, fmt.Errorf("session: reset stuck steps: %w", err)
	}
	if reset > 0 {
		log.Warn("recovered steps interrupted by a prior run", zap.Int("count", reset))
	}

	if err := planner.Plan(ctx, c.store, sess, c.view, hints, c.cfg.Repo.MaxDepth); err != nil {
		return sess, fmt.Errorf("session: plan: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			log.Info("run cancelled before next step claimed")
			return sess, err
		}

		pending, err := c.store.StepsPendingFor(ctx, sess.ID)
		if err != nil {
			return sess, fmt.Errorf("session: list pending steps: %w", err)
		}
		if len(pending) == 0 {
			break
		}

		step := pending[0]
		log.Info("executing step", zap.String("kind", string(step.Kind)), zap.String("key", step.Key))

		if err := c.ex.Execute(ctx, step); err != nil {
			log.Error("step failed", zap.String("kind", string(step.Kind)), zap.String("key", step.Key), zap.Error(err))
			return sess, fmt.Errorf("session: step %s/%s: %w", step.Kind, step.Key, err)
		}
	}

	done, failed, err := c.tally(ctx, sess.ID)
	if err != nil {
		return sess, err
	}
	if failed > 0 {
		log.Warn("run stopped with failed steps outstanding", zap.Int("done", done), zap.Int("failed", failed))
		return sess, fmt.Errorf("session: %d step(s) failed; run retry to re-attempt them", failed)
	}

	if err := c.renderAndComplete(ctx, sess); err != nil {
		return sess, err
	}

	log.Info("session completed", zap.Int("steps_done", done))
	return sess, nil
}

func (c *Controller) tally(ctx context.Context, sessionID string) (done, failed int, err error) {
	steps, err := c.store.StepsForSession(ctx, sessionID)
	if err != nil {
		return 0, 0, fmt.Errorf("session: list steps: %w", err)
	}
	for _, st := range steps {
		switch st.Status {
		case store.StatusDone, store.StatusSkipped:
			done++
		case store.StatusFailed:
			failed++
		}
	}
	return done, failed, nil
}

// renderAndComplete synthesizes the knowledge document from the
// session's accumulated atoms, writes it to cfg.Output.Path, and
// marks the session completed.
func (c *Controller) renderAndComplete(ctx context.Context, sess store.Session) error {
	atoms, err := c.store.AtomsFor(ctx, sess.ID, nil)
	if err != nil {
		return fmt.Errorf("session: load atoms for render: %w", err)
	}

	doc := synth.Render(sess, atoms)
	if err := os.WriteFile(c.cfg.Output.Path, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("session: write %s: %w", c.cfg.Output.Path, err)
	}

	if err := c.store.SetSessionStatus(ctx, sess.ID, store.SessionCompleted); err != nil {
		return fmt.Errorf("session: mark completed: %w", err)
	}
	return nil
}

// Retry flips every failed step in the session back to pending so the
// next Run can pick them up again.
func (c *Controller) Retry(ctx context.Context, sessionID string) (int, error) {
	steps, err := c.store.StepsForSession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("session: list steps: %w", err)
	}
	var n int
	for _, st := range steps {
		if st.Status != store.StatusFailed {
			continue
		}
		if err := c.store.StepRetry(ctx, st.ID); err != nil {
			return n, fmt.Errorf("session: retry step %s: %w", st.ID, err)
		}
		n++
	}
	return n, nil
}

// Status reports the current step counts for a session, for the CLI's
// "status" command.
func (c *Controller) Status(ctx context.Context, sessionID string) (map[store.Status]int, error) {
	steps, err := c.store.StepsForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: list steps: %w", err)
	}
	counts := make(map[store.Status]int)
	for _, st := range steps {
		counts[st.Status]++
	}
	return counts, nil
}

// Render re-synthesizes and writes the knowledge document for a
// session without requiring every step to be done, for the CLI's
// "render" command against a partially complete run.
func (c *Controller) Render(ctx context.Context, sess store.Session) error {
	atoms, err := c.store.AtomsFor(ctx, sess.ID, nil)
	if err != nil {
		return fmt.Errorf("session: load atoms for render: %w", err)
	}
	doc := synth.Render(sess, atoms)
	return os.WriteFile(c.cfg.Output.Path, []byte(doc), 0o644)
}

// Abort marks a session aborted, for the CLI's "reset" command. The
// session's steps and atoms are left in place, so an operator can still
// inspect what was recorded. Re-running Run against the same repo root
// and revision resumes this same row, since SessionUpsert returns the
// existing (repo_root, revision) row whatever its status.
func (c *Controller) Abort(ctx context.Context, sessionID string) error {
	return c.store.SetSessionStatus(ctx, sessionID, store.SessionAborted)
}

// GetSession exposes the session lookup the CLI needs for
// status/retry/render commands addressed by repo root and revision.
func (c *Controller) GetSession(ctx context.Context, repoRoot, revision string) (store.Session, error) {
	return c.store.GetSession(ctx, repoRoot, revision)
}
