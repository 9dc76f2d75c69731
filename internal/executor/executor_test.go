package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbarone/raidme/internal/executor"
	"github.com/kbarone/raidme/internal/gateway"
	"github.com/kbarone/raidme/internal/planner"
	"github.com/kbarone/raidme/internal/promptbuilder"
	"github.com/kbarone/raidme/internal/repoview"
	"github.com/kbarone/raidme/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "README.md", "hello world")
	writeFile(t, root, "src/a.go", "package src")
	return root
}

func testConfig() executor.Config {
	return executor.Config{
		Preamble:        "respond with a json envelope",
		DeadlineSeconds: 5,
		MaxParseRetries: 2,
		FileHeadBytes:   4096,
		DirPayloadBytes: 8192,
		DocsMaxCount:    10,
		DocsMaxBytes:    65536,
	}
}

func setup(t *testing.T, hints string) (*store.Store, store.Session, *repoview.RepoView, *gateway.StubProvider) {
	t.Helper()
	s := newTestStore(t)
	ctx := context.Background()
	repoRoot := newRepo(t)

	sess, err := s.SessionUpsert(ctx, repoRoot, "rev1", hints)
	require.NoError(t, err)

	view := repoview.New(repoRoot, nil)
	require.NoError(t, planner.Plan(ctx, s, sess, view, hints, 1))

	return s, sess, view, gateway.NewStubProvider()
}

func firstStepOfKind(t *testing.T, s *store.Store, sessionID string, kind store.Kind) store.Step {
	t.Helper()
	ctx := context.Background()
	steps, err := s.StepsForSession(ctx, sessionID)
	require.NoError(t, err)
	for _, st := range steps {
		if st.Kind == kind {
			return st
		}
	}
	t.Fatalf("no step of kind %s", kind)
	return store.Step{}
}

func TestExecute_CommitsAtomsOnValidReply(t *testing.T) {
	s, sess, view, _ := setup(t, "")
	ctx := context.Background()

	step := firstStepOfKind(t, s, sess.ID, store.KindRootFiles)

	gw := gateway.New(&sequenceProvider{
		replies: []gateway.Reply{
			{Text: `{"summary":"ok","atoms":[{"category":"overview","title":"t","content":"c","relevance":0.5}]}`},
		},
	}, 1)
	b := promptbuilder.New(10000)
	ex := executor.New(s, view, b, gw, testConfig())

	require.NoError(t, ex.Execute(ctx, step))

	done, err := s.StepByID(ctx, step.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusDone, done.Status)

	atoms, err := s.AtomsFor(ctx, sess.ID, nil)
	require.NoError(t, err)
	require.Len(t, atoms, 1)
	require.Equal(t, "t", atoms[0].Title)
}

func TestExecute_RetriesParseFailureThenSucceeds(t *testing.T) {
	s, sess, view, stub := setup(t, "")
	ctx := context.Background()

	step := firstStepOfKind(t, s, sess.ID, store.KindRootFiles)

	calls := 0
	gw := gateway.New(&sequenceProvider{
		replies: []gateway.Reply{
			{Text: "not json"},
			{Text: `{"summary":"ok","atoms":[]}`},
		},
		onCall: func() { calls++ },
	}, 1)
	_ = stub

	b := promptbuilder.New(10000)
	ex := executor.New(s, view, b, gw, testConfig())

	require.NoError(t, ex.Execute(ctx, step))
	require.Equal(t, 2, calls)

	done, err := s.StepByID(ctx, step.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusDone, done.Status)
}

func TestExecute_FailsStepWhenParseRetriesExhausted(t *testing.T) {
	s, sess, view, _ := setup(t, "")
	ctx := context.Background()

	step := firstStepOfKind(t, s, sess.ID, store.KindRootFiles)

	gw := gateway.New(&sequenceProvider{
		replies: []gateway.Reply{{Text: "bad"}, {Text: "still bad"}, {Text: "nope"}},
	}, 1)

	b := promptbuilder.New(10000)
	cfg := testConfig()
	cfg.MaxParseRetries = 2
	ex := executor.New(s, view, b, gw, cfg)

	err := ex.Execute(ctx, step)
	require.Error(t, err)

	failed, err2 := s.StepByID(ctx, step.ID)
	require.NoError(t, err2)
	require.Equal(t, store.StatusFailed, failed.Status)
}

func TestExecute_FailsStepOnTransportError(t *testing.T) {
	s, sess, view, _ := setup(t, "")
	ctx := context.Background()

	step := firstStepOfKind(t, s, sess.ID, store.KindRootFiles)

	gw := gateway.New(&errorProvider{err: gateway.Permanent(errors.New("401"))}, 1)
	b := promptbuilder.New(10000)
	ex := executor.New(s, view, b, gw, testConfig())

	err := ex.Execute(ctx, step)
	require.Error(t, err)

	failed, err2 := s.StepByID(ctx, step.ID)
	require.NoError(t, err2)
	require.Equal(t, store.StatusFailed, failed.Status)
}

func TestExecute_GlobalHintsUsesSessionHints(t *testing.T) {
	s, sess, view, _ := setup(t, "focus on auth")
	ctx := context.Background()

	step := firstStepOfKind(t, s, sess.ID, store.KindGlobalHints)

	gw := gateway.New(&sequenceProvider{replies: []gateway.Reply{{Text: `{"summary":"ok","atoms":[]}`}}}, 1)
	b := promptbuilder.New(10000)
	ex := executor.New(s, view, b, gw, testConfig())

	require.NoError(t, ex.Execute(ctx, step))

	done, err := s.StepByID(ctx, step.ID)
	require.NoError(t, err)
	require.Contains(t, done.InputData, "focus on auth")
}

func TestExecute_RetryReplacesAtomsFromFailedRun(t *testing.T) {
	s, sess, view, _ := setup(t, "")
	ctx := context.Background()

	step := firstStepOfKind(t, s, sess.ID, store.KindRootFiles)

	gw1 := gateway.New(&sequenceProvider{
		replies: []gateway.Reply{{Text: `{"summary":"ok","atoms":[{"category":"overview","title":"first","content":"c","relevance":0.5}]}`}},
	}, 1)
	b := promptbuilder.New(10000)
	ex1 := executor.New(s, view, b, gw1, testConfig())
	require.NoError(t, ex1.Execute(ctx, step))

	require.NoError(t, s.StepFail(ctx, step.ID, "forced"))
	require.NoError(t, s.StepRetry(ctx, step.ID))

	retried, err := s.StepByID(ctx, step.ID)
	require.NoError(t, err)

	gw2 := gateway.New(&sequenceProvider{
		replies: []gateway.Reply{{Text: `{"summary":"ok","atoms":[{"category":"overview","title":"second","content":"c","relevance":0.5}]}`}},
	}, 1)
	ex2 := executor.New(s, view, b, gw2, testConfig())
	require.NoError(t, ex2.Execute(ctx, retried))

	atoms, err := s.AtomsFromStep(ctx, step.ID)
	require.NoError(t, err)
	require.Len(t, atoms, 1)
	require.Equal(t, "second", atoms[0].Title)
}

// sequenceProvider returns each queued reply in order, regardless of
// idempotency key, for tests that only care about reply sequencing.
type sequenceProvider struct {
	replies []gateway.Reply
	idx     int
	onCall  func()
}

func (p *sequenceProvider) Complete(ctx context.Context, prompt, idempotencyKey string) (gateway.Reply, error) {
	if p.onCall != nil {
		p.onCall()
	}
	if p.idx >= len(p.replies) {
		return gateway.Reply{}, gateway.Permanent(errors.New("sequenceProvider: exhausted"))
	}
	r := p.replies[p.idx]
	p.idx++
	return r, nil
}

type errorProvider struct{ err error }

func (p *errorProvider) Complete(ctx context.Context, prompt, idempotencyKey string) (gateway.Reply, error) {
	return gateway.Reply{}, p.err
}
