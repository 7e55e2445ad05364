package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vocito/vocito/internal/cache"
	"github.com/vocito/vocito/internal/cachekey"
	"github.com/vocito/vocito/internal/chunker"
	"github.com/vocito/vocito/internal/playback"
	"github.com/vocito/vocito/internal/protocol"
	"github.com/vocito/vocito/internal/session"
)

// StreamOptions tune one streaming-mode speak call.
type StreamOptions struct {
	Voice         string
	Preset        string
	Speed         float64
	Pitch         float64
	Format        string
	SampleRate    int
	ChunkMaxChars int

	// Resume, when set, persists playback progress so an interrupted
	// run can reattach to the same session and skip played chunks.
	Resume *ResumeStore
}

func (o StreamOptions) params() cachekey.Params {
	return cachekey.Params{
		Voice:      o.Voice,
		Preset:     o.Preset,
		Speed:      o.Speed,
		Pitch:      o.Pitch,
		Format:     o.Format,
		SampleRate: o.SampleRate,
	}
}

// Stream is the server-driven orchestration mode: generation runs on
// the server and chunks arrive over the websocket event stream as they
// become ready.
type Stream struct {
	api   *API
	cache *cache.Tiered
	seq   *playback.Sequencer
	log   zerolog.Logger
}

func NewStream(api *API, localCache *cache.Tiered, seq *playback.Sequencer, log zerolog.Logger) *Stream {
	return &Stream{api: api, cache: localCache, seq: seq, log: log}
}

// Speak creates (or reattaches to) a session and plays its chunks as
// they stream in. A transport failure is fatal to the call, but
// progress survives in the resume store for the next attempt.
func (s *Stream) Speak(ctx context.Context, text string, opts StreamOptions) error {
	textKey := streamTextKey(text, opts)

	sessionID, resumedFrom := s.reattach(ctx, textKey, opts)
	if sessionID == "" {
		created, err := s.api.CreateSession(ctx, session.CreateRequest{
			Text:          text,
			Voice:         opts.Voice,
			Preset:        opts.Preset,
			Speed:         opts.Speed,
			Pitch:         opts.Pitch,
			Format:        opts.Format,
			SampleRate:    opts.SampleRate,
			ChunkMaxChars: opts.ChunkMaxChars,
		})
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = created.SessionID
	}

	// Skip everything already played in a previous run.
	for i := 0; i <= resumedFrom; i++ {
		s.seq.Skip(i)
	}
	if opts.Resume != nil {
		s.seq.OnAdvance(func(index int) {
			if err := opts.Resume.Save(ResumeState{
				SessionID:       sessionID,
				TextKey:         textKey,
				LastPlayedIndex: index,
			}); err != nil {
				s.log.Warn().Err(err).Msg("saving resume state failed")
			}
		})
	}

	conn, err := s.api.DialSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("dial session stream: %w", err)
	}
	// Closing the connection unblocks the read loop when ctx ends.
	dialDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-dialDone:
		}
	}()
	defer close(dialDone)
	defer conn.Close()

	if err := s.consume(ctx, conn, opts); err != nil {
		return err
	}
	if err := s.seq.WaitIdle(ctx); err != nil {
		return err
	}
	if opts.Resume != nil {
		if err := opts.Resume.Clear(); err != nil {
			s.log.Warn().Err(err).Msg("clearing resume state failed")
		}
	}
	return nil
}

// reattach returns the stored session id and last played index when the
// resume state matches this text, after confirming the session is still
// alive on the server. Returns ("", -1) for a fresh start.
func (s *Stream) reattach(ctx context.Context, textKey string, opts StreamOptions) (string, int) {
	if opts.Resume == nil {
		return "", -1
	}
	state, ok, err := opts.Resume.Load()
	if err != nil {
		s.log.Warn().Err(err).Msg("loading resume state failed")
		return "", -1
	}
	if !ok || state.TextKey != textKey {
		return "", -1
	}
	if _, err := s.api.GetSession(ctx, state.SessionID); err != nil {
		// Session expired on the server; start over.
		return "", -1
	}
	s.log.Info().
		Str("session_id", state.SessionID).
		Int("last_played", state.LastPlayedIndex).
		Msg("resuming interrupted session")
	return state.SessionID, state.LastPlayedIndex
}

// consume reads stream events until done. Any read failure before the
// done event is a transport error and fatal.
func (s *Stream) consume(ctx context.Context, conn wsReader, opts StreamOptions) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream transport: %w", err)
		}
		ev, err := protocol.ParseServerEvent(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnsupportedType) {
				// Newer server speaking a newer dialect; ignore.
				continue
			}
			return fmt.Errorf("stream decode: %w", err)
		}
		switch msg := ev.(type) {
		case protocol.MetaEvent:
			// Informational; the sequencer tracks indexes itself.
		case protocol.ChunkEvent:
			audio, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
			if err != nil {
				return fmt.Errorf("chunk %d payload: %w", msg.Index, err)
			}
			if s.cache != nil {
				s.cache.Put(msg.Hash, audio, cache.Meta{Format: opts.Format, Params: opts.params()})
			}
			if err := s.seq.Enqueue(msg.Index, audio); err != nil {
				return err
			}
		case protocol.ChunkErrorEvent:
			// The server already retried; nothing more to do but move on.
			s.log.Warn().
				Int("index", msg.Index).
				Str("code", msg.Code).
				Msg("chunk failed on the server, skipping")
			s.seq.Skip(msg.Index)
		case protocol.HeartbeatEvent:
		case protocol.DoneEvent:
			return nil
		}
	}
}

// streamTextKey identifies one (text, params) pair across runs for
// resume matching.
func streamTextKey(text string, opts StreamOptions) string {
	return cachekey.Derive(chunker.Normalize(text), opts.params())
}

// wsReader is the slice of *websocket.Conn the consumer needs.
type wsReader interface {
	ReadMessage() (int, []byte, error)
}
