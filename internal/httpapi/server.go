// Package httpapi exposes the speech delivery service over HTTP: session
// CRUD, the websocket event stream, one-shot synthesis, and operational
// endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vocito/vocito/internal/blobstore"
	"github.com/vocito/vocito/internal/config"
	"github.com/vocito/vocito/internal/observability"
	"github.com/vocito/vocito/internal/protocol"
	"github.com/vocito/vocito/internal/session"
	"github.com/vocito/vocito/internal/synth"
)

const defaultOwnerID = "anonymous"

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	gateway  *synth.Gateway
	store    blobstore.Store
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, gateway *synth.Gateway, store blobstore.Store, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		gateway:  gateway,
		store:    store,
		metrics:  metrics,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up. Non-browser clients omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/cancel", s.handleCancelSession)
	r.Get("/v1/sessions/{id}/export", s.handleExportSession)
	r.Get("/v1/sessions/ws", s.handleSessionWS)
	r.Post("/v1/speech", s.handleDirectSpeech)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Stats(r.Context(), defaultOwnerID); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func ownerID(r *http.Request) string {
	owner := strings.TrimSpace(r.Header.Get("X-Owner-ID"))
	if owner == "" {
		return defaultOwnerID
	}
	return owner
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
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

	snap, err := s.sessions.Create(ownerID(r), req)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyText):
			respondError(w, http.StatusBadRequest, "empty_text", err.Error())
		case errors.Is(err, session.ErrTextTooLong):
			respondError(w, http.StatusRequestEntityTooLarge, "text_too_long", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:   snap.ID,
		TotalChunks: snap.TotalChunks,
		Status:      snap.Status,
		Format:      snap.Format,
		CreatedAt:   snap.CreatedAt,
		IdleTTLMS:   s.sessions.IdleTTL().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Cancel(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	snap, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, format, err := s.sessions.Export(id)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		case errors.Is(err, session.ErrNotReady):
			respondError(w, http.StatusConflict, "not_ready", err.Error())
		case errors.Is(err, session.ErrNoReadyAudio):
			respondError(w, http.StatusUnprocessableEntity, "no_audio", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.%s", id, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleSessionWS streams generation events to one subscriber. All
// websocket writes happen on a single goroutine fed by the subscriber
// channel; the read loop only parses control messages.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	sub, err := s.sessions.Subscribe(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.sessions.Unsubscribe(sessionID, sub)
		return
	}
	defer conn.Close()
	defer s.sessions.Unsubscribe(sessionID, sub)

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
		defer s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range sub.Events() {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				if s.metrics != nil {
					s.metrics.WSWriteErrors.WithLabelValues("write_json").Inc()
				}
				return
			}
			if t, ok := protocol.TypeOf(msg); ok && s.metrics != nil {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		}
		// Subscriber channel closed: session cancelled or expired.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
			time.Now().Add(time.Second))
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.log.Debug().Err(err).Str("session_id", sessionID).Msg("invalid client message")
			continue
		}
		if ctrl, ok := parsed.(protocol.ClientControl); ok {
			if s.metrics != nil {
				s.metrics.WSMessages.WithLabelValues("inbound", string(ctrl.Type)).Inc()
			}
			if ctrl.Action == "cancel" {
				_ = s.sessions.Cancel(sessionID)
			}
		}
	}

	<-writerDone
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func contentTypeFor(format string) string {
	switch strings.ToLower(format) {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "pcm":
		return "application/octet-stream"
	default:
		return "audio/mpeg"
	}
}
