package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vocito/vocito/internal/audio"
	"github.com/vocito/vocito/internal/blobstore"
	"github.com/vocito/vocito/internal/cachekey"
	"github.com/vocito/vocito/internal/chunker"
	"github.com/vocito/vocito/internal/synth"
)

// speechRequest is the one-shot synthesis payload. Unlike a session the
// text must fit in a single segment; longer texts belong in a session.
type speechRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice,omitempty"`
	Preset     string  `json:"preset,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	Pitch      float64 `json:"pitch,omitempty"`
	Format     string  `json:"format,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
}

// handleDirectSpeech synthesizes one short text synchronously, going
// through the same content-addressed durable cache as sessions so a
// repeated request never hits the provider twice.
func (s *Server) handleDirectSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := chunker.Normalize(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is empty")
		return
	}
	maxChars := s.cfg.ChunkMaxChars
	if maxChars <= 0 {
		maxChars = chunker.DefaultMaxChars
	}
	if len(text) > maxChars {
		respondError(w, http.StatusRequestEntityTooLarge, "text_too_long",
			"text exceeds the single-segment limit; create a session instead")
		return
	}

	if req.Voice == "" {
		req.Voice = s.cfg.DefaultVoice
	}
	if req.Format == "" {
		req.Format = s.cfg.DefaultFormat
	}
	if req.SampleRate == 0 {
		req.SampleRate = s.cfg.DefaultSampleRate
	}
	params := cachekey.Params{
		Voice:      req.Voice,
		Preset:     req.Preset,
		Speed:      req.Speed,
		Pitch:      req.Pitch,
		Format:     req.Format,
		SampleRate: req.SampleRate,
	}
	owner := ownerID(r)
	key := cachekey.Derive(text, params)

	if cached, err := s.store.ReadBytes(r.Context(), owner, key); err == nil {
		if s.metrics != nil {
			s.metrics.CacheRequests.WithLabelValues("hit").Inc()
		}
		writeAudio(w, req.Format, req.SampleRate, key, cached, true, 0)
		return
	} else if !errors.Is(err, blobstore.ErrNotFound) {
		s.log.Warn().Err(err).Str("key", key).Msg("durable cache probe failed")
	}
	if s.metrics != nil {
		s.metrics.CacheRequests.WithLabelValues("miss").Inc()
	}

	started := time.Now()
	data, err := s.gateway.Synthesize(r.Context(), text, params)
	if err != nil {
		respondError(w, statusForSynthError(err), string(synth.CodeOf(err)), err.Error())
		return
	}
	if err := s.store.WriteBytes(r.Context(), owner, key, data); err != nil {
		// Cache write failures never block delivery.
		s.log.Warn().Err(err).Str("key", key).Msg("durable cache write failed")
	}
	writeAudio(w, req.Format, req.SampleRate, key, data, false, time.Since(started))
}

func writeAudio(w http.ResponseWriter, format string, sampleRate int, key string, data []byte, cacheHit bool, latency time.Duration) {
	w.Header().Set("Content-Type", contentTypeFor(format))
	w.Header().Set("X-Audio-Key", key)
	w.Header().Set("X-Duration-Ms", strconv.FormatInt(audio.EstimateDurationMs(data, format, sampleRate), 10))
	if cacheHit {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
		w.Header().Set("X-Synth-Latency-Ms", strconv.FormatInt(latency.Milliseconds(), 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func statusForSynthError(err error) int {
	switch synth.CodeOf(err) {
	case synth.CodeInvalidInput:
		return http.StatusBadRequest
	case synth.CodeUnauthorized:
		return http.StatusUnauthorized
	case synth.CodeRateLimited:
		return http.StatusTooManyRequests
	case synth.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		if strings.TrimSpace(err.Error()) == "" {
			return http.StatusInternalServerError
		}
		return http.StatusBadGateway
	}
}
