package synth

import (
	"context"

	"github.com/vocito/vocito/internal/cachekey"
)

// Provider is the opaque text-to-audio function this service builds on.
// Implementations return the full audio payload for one text segment or
// a typed *Error.
type Provider interface {
	Synthesize(ctx context.Context, text string, params cachekey.Params) ([]byte, error)
}
