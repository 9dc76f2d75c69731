package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbarone/raidme/internal/gateway"
)

func TestComplete_SucceedsOnFirstTry(t *testing.T) {
	p := gateway.NewStubProvider()
	p.On("key1", gateway.Reply{Text: "ok"})

	g := gateway.New(p, 3)
	reply, err := g.Complete(context.Background(), "prompt", "key1", time.Second)
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Text)
	require.Equal(t, 1, p.Calls("key1"))
}

func TestComplete_RetriesTransientThenSucceeds(t *testing.T) {
	p := gateway.NewStubProvider()
	p.FailNTimes("key1", 2, gateway.Transient(errors.New("503")))
	p.On("key1", gateway.Reply{Text: "ok"})

	g := gateway.New(p, 5).WithBackoff(gateway.Backoff{Base: time.Millisecond, Max: time.Millisecond, Multiplier: 1})
	reply, err := g.Complete(context.Background(), "prompt", "key1", time.Second)
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Text)
	require.Equal(t, 3, p.Calls("key1"))
}

func TestComplete_PermanentFailureNotRetried(t *testing.T) {
	p := gateway.NewStubProvider()
	p.FailNTimes("key1", 1, gateway.Permanent(errors.New("401 unauthorized")))
	p.On("key1", gateway.Reply{Text: "ok"})

	g := gateway.New(p, 5)
	_, err := g.Complete(context.Background(), "prompt", "key1", time.Second)
	require.Error(t, err)
	require.Equal(t, 1, p.Calls("key1"))
}

func TestComplete_ExhaustsRetryBudget(t *testing.T) {
	p := gateway.NewStubProvider()
	p.FailNTimes("key1", 10, gateway.Transient(errors.New("503")))

	g := gateway.New(p, 3).WithBackoff(gateway.Backoff{Base: time.Millisecond, Max: time.Millisecond, Multiplier: 1})
	_, err := g.Complete(context.Background(), "prompt", "key1", time.Second)
	require.Error(t, err)
	require.Equal(t, 4, p.Calls("key1"))
}

func TestComplete_DeadlineExceededSurfacesAsTimeout(t *testing.T) {
	p := gateway.NewStubProvider()
	p.FailNTimes("key1", 100, gateway.Transient(errors.New("slow")))

	g := gateway.New(p, 100).WithBackoff(gateway.Backoff{Base: 50 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 1})
	_, err := g.Complete(context.Background(), "prompt", "key1", 10*time.Millisecond)
	require.Error(t, err)

	var gerr *gateway.Error
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, gateway.KindTimeout, gerr.Kind)
}

func TestComplete_IdempotencyKeyPassedToProvider(t *testing.T) {
	p := gateway.NewStubProvider()
	p.On("step-fingerprint-abc", gateway.Reply{Text: "ok"})

	g := gateway.New(p, 1)
	reply, err := g.Complete(context.Background(), "prompt", "step-fingerprint-abc", time.Second)
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Text)
}

func TestStaticProvider_AlwaysReturnsSameText(t *testing.T) {
	p := gateway.NewStaticProvider(`{"summary":"s","atoms":[]}`)
	r1, err := p.Complete(context.Background(), "p1", "k1")
	require.NoError(t, err)
	r2, err := p.Complete(context.Background(), "p2", "k2")
	require.NoError(t, err)
	require.Equal(t, r1.Text, r2.Text)
}
