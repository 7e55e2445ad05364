package synth

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vocito/vocito/internal/cachekey"
	"github.com/vocito/vocito/internal/reliability"
)

// GatewayConfig bounds provider calls. Zero values fall back to defaults.
type GatewayConfig struct {
	CallTimeout time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Second
	}
	return c
}

// Gateway drives a Provider with a hard per-call timeout and bounded
// retries with capped exponential backoff. Fatal errors (bad input,
// rejected credentials) surface immediately without retry.
type Gateway struct {
	provider Provider
	cfg      GatewayConfig
	log      zerolog.Logger
}

func NewGateway(provider Provider, cfg GatewayConfig, log zerolog.Logger) *Gateway {
	return &Gateway{provider: provider, cfg: cfg.withDefaults(), log: log}
}

// Synthesize returns the audio for text, retrying transient provider
// failures up to the configured attempt count.
func (g *Gateway) Synthesize(ctx context.Context, text string, params cachekey.Params) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := reliability.ExponentialBackoff(attempt-1, g.cfg.BackoffBase, g.cfg.BackoffCap)
			g.log.Debug().
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("retrying synthesis")
			select {
			case <-ctx.Done():
				return nil, NewError(CodeTimeout, false, "synthesis cancelled", ctx.Err())
			case <-time.After(delay):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		audio, err := g.provider.Synthesize(callCtx, text, params)
		cancel()
		if err == nil {
			return audio, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, NewError(CodeTimeout, false, "synthesis cancelled", ctx.Err())
		}
	}
	return nil, lastErr
}
