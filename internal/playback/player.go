// Package playback orders synthesized chunks into one continuous
// listening experience. The sequencer owns ordering and gap handling;
// actual audio output sits behind the Player interface so tests and
// headless runs never touch a sound device.
package playback

import (
	"context"
	"sync"
	"time"
)

// Player renders one audio payload and returns when playback finishes
// or ctx ends. Implementations must be safe for sequential reuse.
type Player interface {
	Play(ctx context.Context, audio []byte, format string) error
}

// MockPlayer records play calls for tests. PlayDelay simulates real
// playback time so ordering races surface.
type MockPlayer struct {
	PlayDelay time.Duration

	mu     sync.Mutex
	played [][]byte
}

func NewMockPlayer() *MockPlayer {
	return &MockPlayer{}
}

func (p *MockPlayer) Play(ctx context.Context, audio []byte, format string) error {
	if p.PlayDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.PlayDelay):
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	p.played = append(p.played, cp)
	return nil
}

// Played returns copies of every payload rendered so far, in order.
func (p *MockPlayer) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.played))
	copy(out, p.played)
	return out
}
