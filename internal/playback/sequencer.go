package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// State is the sequencer's externally visible mode.
type State string

const (
	// StateIdle: nothing queued at the play cursor.
	StateIdle State = "idle"
	// StateBuffering: playback wants the next chunk but it has not
	// arrived yet.
	StateBuffering State = "buffering"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

var ErrStopped = errors.New("sequencer stopped")

// Sequencer feeds chunks to a Player in strict index order, no matter
// what order they arrive in. Chunks ahead of the cursor wait in a
// pending map; a missing index holds playback in buffering rather than
// skipping ahead.
type Sequencer struct {
	player Player
	format string
	log    zerolog.Logger

	// onAdvance fires after each successfully played index. Resume
	// bookkeeping hangs off it.
	onAdvance func(index int)

	mu      sync.Mutex
	state   State
	cursor  int
	pending map[int][]byte
	skipped map[int]bool
	reqID   uint64
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	idle    chan struct{}
}

func NewSequencer(player Player, format string, log zerolog.Logger) *Sequencer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		player:  player,
		format:  format,
		log:     log,
		state:   StateIdle,
		pending: make(map[int][]byte),
		skipped: make(map[int]bool),
		ctx:     ctx,
		cancel:  cancel,
		idle:    make(chan struct{}, 1),
	}
}

// OnAdvance registers a progress callback. Must be set before the first
// Enqueue.
func (s *Sequencer) OnAdvance(fn func(index int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAdvance = fn
}

// Enqueue hands one chunk to the sequencer. Arrival order does not
// matter; playback starts as soon as the cursor's chunk is present.
func (s *Sequencer) Enqueue(index int, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if index < s.cursor || s.pending[index] != nil {
		// Already played or already queued; duplicate delivery.
		return nil
	}
	s.pending[index] = audio
	s.maybeStartLocked()
	return nil
}

// Skip marks an index as unplayable so the cursor can move past it. The
// orchestrator calls this for chunks whose generation failed for good.
func (s *Sequencer) Skip(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || index < s.cursor {
		return
	}
	s.skipped[index] = true
	s.maybeStartLocked()
}

// Pause holds playback after the current chunk finishes.
func (s *Sequencer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.state == StatePaused {
		return
	}
	s.state = StatePaused
}

// Resume lifts a pause and immediately plays the cursor chunk if it is
// waiting.
func (s *Sequencer) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.state != StatePaused {
		return
	}
	s.state = StateIdle
	s.maybeStartLocked()
}

// Stop ends playback permanently. The current Play call is cancelled
// and any completion racing with Stop is discarded via the request id.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.state = StateStopped
	s.reqID++
	s.pending = make(map[int][]byte)
	s.mu.Unlock()
	s.cancel()
}

// State reports the current mode.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursor is the next index to be played.
func (s *Sequencer) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// WaitIdle blocks until the sequencer has drained everything enqueued
// so far or ctx ends. Used by the CLI to linger until audio finishes.
func (s *Sequencer) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		drained := s.stopped || (s.state != StatePlaying && len(s.pending) == 0)
		s.mu.Unlock()
		if drained {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.idle:
		}
	}
}

// maybeStartLocked advances the cursor over skipped indexes and starts
// playing the cursor chunk when it is available. Caller holds s.mu.
func (s *Sequencer) maybeStartLocked() {
	if s.stopped || s.state == StatePlaying || s.state == StatePaused {
		return
	}
	for s.skipped[s.cursor] {
		delete(s.skipped, s.cursor)
		s.cursor++
	}
	audio, ok := s.pending[s.cursor]
	if !ok {
		if len(s.pending) > 0 || len(s.skipped) > 0 {
			s.state = StateBuffering
		} else if s.state == StateBuffering {
			s.state = StateIdle
		}
		return
	}
	delete(s.pending, s.cursor)
	s.state = StatePlaying
	s.reqID++
	id := s.reqID
	index := s.cursor

	go func() {
		err := s.player.Play(s.ctx, audio, s.format)
		s.mu.Lock()
		if id != s.reqID {
			// A Stop superseded this playback; its completion is stale.
			s.mu.Unlock()
			return
		}
		s.cursor = index + 1
		fn := s.onAdvance
		if err != nil {
			s.log.Warn().Err(err).Int("index", index).Msg("playback failed, continuing")
			fn = nil
		}
		// A pause issued mid-play takes effect here: advance the cursor
		// but stay paused instead of starting the next chunk.
		if s.state != StatePaused {
			s.state = StateIdle
			s.maybeStartLocked()
		}
		s.mu.Unlock()

		if fn != nil {
			fn(index)
		}
		select {
		case s.idle <- struct{}{}:
		default:
		}
	}()
}
