// Package gateway implements the Model Gateway: a single complete
// capability wrapping an abstract provider with retry, backoff, and
// deadline handling, polymorphic over provider variants.
//
// It is grounded on the retry/backoff shape in
// dshills-gocontext-mcp/internal/embedder/{retry,providers}.go,
// generalized from embedding batches to single structured completions,
// and on the transient-vs-fatal error split hazyhaar-chrc's
// connectivity/retry.go uses to distinguish retryable from fatal dial
// errors.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Reply is a provider's raw response to one Complete call.
type Reply struct {
	Text string
}

// Provider is the single abstract capability every model backend
// implements. The gateway consumes only this interface; which variant
// backs it is resolved at session construction.
type Provider interface {
	Complete(ctx context.Context, prompt string, idempotencyKey string) (Reply, error)
}

// Kind classifies why a Provider call failed, determining retry policy.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
	KindTimeout
)

// Error wraps a provider failure with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable transport failure.
func Transient(err error) error { return &Error{Kind: KindTransient, Err: err} }

// Permanent wraps err as a non-retryable transport failure.
func Permanent(err error) error { return &Error{Kind: KindPermanent, Err: err} }

// classify extracts the Kind of a gateway error, defaulting to
// permanent for errors the provider never classified.
func classify(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindPermanent
}

// Backoff configures the full-jitter exponential backoff applied
// between retry attempts.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns sensible retry defaults (100ms base, 2x
// multiplier, 5s cap).
func DefaultBackoff() Backoff {
	return Backoff{Base: 100 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2.0}
}

// duration returns the full-jitter delay for the given attempt (0-based):
// a uniform draw in [0, min(max, base*multiplier^attempt)].
func (b Backoff) duration(attempt int) time.Duration {
	d := float64(b.Base)
	for i := 0; i < attempt; i++ {
		d *= b.Multiplier
	}
	capped := time.Duration(d)
	if capped > b.Max {
		capped = b.Max
	}
	if capped <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(capped) + 1))
}

// Gateway wraps a Provider with a retry/timeout policy: transient
// failures retry with backoff up to MaxRetries;
// permanent failures surface immediately; the per-call Deadline turns
// into a context deadline that is never itself retried.
type Gateway struct {
	provider   Provider
	backoff    Backoff
	maxRetries int
}

// New creates a Gateway over provider with the given retry cap.
func New(provider Provider, maxRetries int) *Gateway {
	return &Gateway{provider: provider, backoff: DefaultBackoff(), maxRetries: maxRetries}
}

// WithBackoff overrides the default backoff schedule.
func (g *Gateway) WithBackoff(b Backoff) *Gateway {
	g.backoff = b
	return g
}

// Complete submits prompt, retrying transient failures with full-jitter
// backoff: one initial attempt plus up to maxRetries retries.
// idempotencyKey is passed through
// to the provider unchanged — it is the step's input_fingerprint,
// letting provider-side dedup work across retries and process restarts.
// deadline bounds the whole call, including retries; exceeding it
// surfaces as a Kind=KindTimeout error without a further retry attempt.
func (g *Gateway) Complete(ctx context.Context, prompt, idempotencyKey string, deadline time.Duration) (Reply, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	var lastErr error
	attempts := g.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		reply, err := g.provider.Complete(callCtx, prompt, idempotencyKey)
		if err == nil {
			return reply, nil
		}

		if callCtx.Err() != nil {
			return Reply{}, &Error{Kind: KindTimeout, Err: fmt.Errorf("gateway: deadline exceeded: %w", callCtx.Err())}
		}

		lastErr = err
		if classify(err) != KindTransient {
			return Reply{}, err
		}

		if attempt < attempts-1 {
			select {
			case <-callCtx.Done():
				return Reply{}, &Error{Kind: KindTimeout, Err: fmt.Errorf("gateway: deadline exceeded: %w", callCtx.Err())}
			case <-time.After(g.backoff.duration(attempt)):
			}
		}
	}

	return Reply{}, fmt.Errorf("gateway: exhausted %d attempts: %w", attempts, lastErr)
}
