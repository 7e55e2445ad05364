package synth

import (
	"context"
	"crypto/sha1"
	"strings"
	"sync"
	"time"

	"github.com/vocito/vocito/internal/cachekey"
)

// MockProvider produces deterministic fake audio without any external
// call. Tests use FailWith to inject failures; the dev server uses the
// latency knob to mimic a slow provider.
type MockProvider struct {
	Latency time.Duration

	mu        sync.Mutex
	failures  map[string]*Error
	callCount int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{failures: make(map[string]*Error)}
}

// FailWith makes any synthesis whose text contains marker fail with the
// given error.
func (p *MockProvider) FailWith(marker string, err *Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[marker] = err
}

// Calls reports how many synthesis attempts were made.
func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}

func (p *MockProvider) Synthesize(ctx context.Context, text string, params cachekey.Params) ([]byte, error) {
	p.mu.Lock()
	p.callCount++
	var injected *Error
	for marker, err := range p.failures {
		if strings.Contains(text, marker) {
			injected = err
			break
		}
	}
	p.mu.Unlock()

	if p.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, NewError(CodeTimeout, true, "mock provider interrupted", ctx.Err())
		case <-time.After(p.Latency):
		}
	}
	if injected != nil {
		return nil, injected
	}
	if strings.TrimSpace(text) == "" {
		return nil, NewError(CodeInvalidInput, false, "empty text", nil)
	}

	// Deterministic payload derived from the request, so cache-key and
	// round-trip tests can assert byte equality.
	seed := sha1.Sum([]byte(text + "|" + params.String()))
	out := make([]byte, 0, 2048)
	for len(out) < 2048 {
		out = append(out, seed[:]...)
	}
	return out[:2048], nil
}
