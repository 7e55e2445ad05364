package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vocito/vocito/internal/blobstore"
	"github.com/vocito/vocito/internal/chunker"
	"github.com/vocito/vocito/internal/config"
	"github.com/vocito/vocito/internal/protocol"
	"github.com/vocito/vocito/internal/session"
	"github.com/vocito/vocito/internal/synth"
)

type testEnv struct {
	server   *Server
	sessions *session.Manager
	provider *synth.MockProvider
	store    blobstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	provider := synth.NewMockProvider()
	store := blobstore.NewMemoryStore()
	gateway := synth.NewGateway(provider, synth.GatewayConfig{
		CallTimeout: 5 * time.Second,
		MaxAttempts: 1,
	}, zerolog.Nop())
	cfg := config.Config{
		DefaultVoice:      "alloy",
		DefaultFormat:     "mp3",
		DefaultSampleRate: 24000,
		ChunkMaxChars:     120,
		AllowAnyOrigin:    true,
	}
	sessions := session.NewManager(session.Config{
		IdleTTL:   time.Minute,
		ChunkOpts: chunker.Options{MaxChars: 120, MinChars: 10},
	}, store, gateway, nil, zerolog.Nop())
	return &testEnv{
		server:   New(cfg, sessions, gateway, store, nil, zerolog.Nop()),
		sessions: sessions,
		provider: provider,
		store:    store,
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, env *testEnv, text string) session.CreateResponse {
	t.Helper()
	rec := postJSON(t, env.server.Router(), "/v1/sessions", map[string]any{"text": text})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp session.CreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCreateSessionRejectsEmptyText(t *testing.T) {
	env := newTestEnv(t)
	rec := postJSON(t, env.server.Router(), "/v1/sessions", map[string]any{"text": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "empty_text") {
		t.Fatalf("body %q does not carry the error code", rec.Body.String())
	}
}

func TestCreateThenGetSession(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "A short line of narration to synthesize.")
	if created.TotalChunks != 1 {
		t.Fatalf("TotalChunks = %d, want 1", created.TotalChunks)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.SessionID, nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: status %d", rec.Code)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.ID != created.SessionID {
		t.Fatalf("snapshot id %q, want %q", snap.ID, created.SessionID)
	}
}

func TestGetUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/missing", nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCancelSession(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "Cancel me before I finish speaking please.")

	rec := postJSON(t, env.server.Router(), "/v1/sessions/"+created.SessionID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, env.server.Router(), "/v1/sessions/missing/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown: status %d, want 404", rec.Code)
	}
}

func TestExportSession(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "Export this narration as a single artifact.")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.sessions.WaitGenerated(ctx, created.SessionID); err != nil {
		t.Fatalf("WaitGenerated: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+created.SessionID+"/export", nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status %d body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("Content-Type = %q, want audio/mpeg", got)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("export body is empty")
	}
}

func TestDirectSpeechCachesSecondCall(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"text": "Hello from the one-shot endpoint."}

	first := postJSON(t, env.server.Router(), "/v1/speech", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first call: status %d body %s", first.Code, first.Body.String())
	}
	if got := first.Header().Get("X-Cache"); got != "miss" {
		t.Fatalf("first X-Cache = %q, want miss", got)
	}

	second := postJSON(t, env.server.Router(), "/v1/speech", body)
	if second.Code != http.StatusOK {
		t.Fatalf("second call: status %d", second.Code)
	}
	if got := second.Header().Get("X-Cache"); got != "hit" {
		t.Fatalf("second X-Cache = %q, want hit", got)
	}
	if env.provider.Calls() != 1 {
		t.Fatalf("provider called %d times, want 1", env.provider.Calls())
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatal("cached audio differs from synthesized audio")
	}
}

func TestDirectSpeechRejectsLongText(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"text": strings.Repeat("word ", 200)}
	rec := postJSON(t, env.server.Router(), "/v1/speech", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestDirectSpeechOwnersDoNotShareCache(t *testing.T) {
	env := newTestEnv(t)
	raw, _ := json.Marshal(map[string]any{"text": "Owner scoped caching."})

	send := func(owner string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/speech", bytes.NewReader(raw))
		req.Header.Set("X-Owner-ID", owner)
		rec := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rec, req)
		return rec
	}

	if got := send("alice").Header().Get("X-Cache"); got != "miss" {
		t.Fatalf("alice first call X-Cache = %q, want miss", got)
	}
	if got := send("bob").Header().Get("X-Cache"); got != "miss" {
		t.Fatalf("bob must not see alice's cache entry, got %q", got)
	}
	if got := send("alice").Header().Get("X-Cache"); got != "hit" {
		t.Fatalf("alice second call X-Cache = %q, want hit", got)
	}
}

func TestSessionWSStreamsChunks(t *testing.T) {
	env := newTestEnv(t)
	created := createSession(t, env, "First paragraph for the stream.\n\nSecond paragraph for the stream arrives later.")

	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/ws?session_id=" + created.SessionID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	sawMeta := false
	chunks := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (after %d chunks)", err, chunks)
		}
		ev, err := protocol.ParseServerEvent(data)
		if err != nil {
			t.Fatalf("parse event: %v", err)
		}
		switch msg := ev.(type) {
		case protocol.MetaEvent:
			sawMeta = true
			if msg.TotalChunks != created.TotalChunks {
				t.Fatalf("meta total %d, want %d", msg.TotalChunks, created.TotalChunks)
			}
		case protocol.ChunkEvent:
			chunks++
		case protocol.DoneEvent:
			if !sawMeta {
				t.Fatal("done before meta")
			}
			if chunks != created.TotalChunks {
				t.Fatalf("streamed %d chunks, want %d", chunks, created.TotalChunks)
			}
			return
		}
	}
}

func TestSessionWSUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/ws?session_id=missing", nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
