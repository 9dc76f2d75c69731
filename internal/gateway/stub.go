package gateway

import (
	"context"
	"fmt"
	"sync"
)

// StubProvider is a deterministic Provider used by the controller's
// test suite and by its S1-S6 scenario tests: no network, replies
// generated (or injected) per idempotency key, with optional scripted
// failures for exercising the retry and parse-repair paths.
type StubProvider struct {
	mu sync.Mutex

	// replies holds the reply for each idempotency key (the prompt is
	// not consulted); callers register one with On. Complete falls back
	// to a canned envelope for keys with no registration.
	replies map[string]Reply
	errs    map[string][]error // queued errors returned before the reply for this key
	calls   map[string]int
}

// NewStubProvider creates an empty StubProvider.
func NewStubProvider() *StubProvider {
	return &StubProvider{
		replies: make(map[string]Reply),
		errs:    make(map[string][]error),
		calls:   make(map[string]int),
	}
}

// On registers the reply returned for idempotencyKey.
func (s *StubProvider) On(idempotencyKey string, reply Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[idempotencyKey] = reply
}

// FailNTimes queues n errors to return for idempotencyKey before the
// registered reply succeeds, simulating transient transport failures.
func (s *StubProvider) FailNTimes(idempotencyKey string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.errs[idempotencyKey] = append(s.errs[idempotencyKey], err)
	}
}

// Calls returns how many times Complete was invoked for idempotencyKey.
func (s *StubProvider) Calls(idempotencyKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[idempotencyKey]
}

func (s *StubProvider) Complete(ctx context.Context, prompt, idempotencyKey string) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[idempotencyKey]++

	if queue := s.errs[idempotencyKey]; len(queue) > 0 {
		err := queue[0]
		s.errs[idempotencyKey] = queue[1:]
		return Reply{}, err
	}

	if reply, ok := s.replies[idempotencyKey]; ok {
		return reply, nil
	}

	return Reply{Text: fmt.Sprintf(`{"summary":"stub reply","atoms":[]}`)}, nil
}

// staticProvider is the provider the CLI runs with: it never calls out, and
// always returns the same canned, well-formed envelope, letting a
// session be planned and walked end to end without any model access.
type staticProvider struct {
	text string
}

// NewStaticProvider creates a Provider that always returns text.
func NewStaticProvider(text string) Provider {
	return &staticProvider{text: text}
}

func (p *staticProvider) Complete(ctx context.Context, prompt, idempotencyKey string) (Reply, error) {
	return Reply{Text: p.text}, nil
}
