// Package client implements the consumer side of the speech delivery
// service: a thin HTTP/websocket API wrapper plus two orchestration
// modes that feed the playback sequencer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vocito/vocito/internal/session"
)

// SpeechRequest mirrors the one-shot synthesis payload.
type SpeechRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice,omitempty"`
	Preset     string  `json:"preset,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	Pitch      float64 `json:"pitch,omitempty"`
	Format     string  `json:"format,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
}

// APIError carries the server's structured error body.
type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Detail)
}

// API talks to one service instance on behalf of one owner.
type API struct {
	baseURL string
	ownerID string
	httpc   *http.Client
	log     zerolog.Logger
}

func NewAPI(baseURL, ownerID string, log zerolog.Logger) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		ownerID: ownerID,
		httpc:   &http.Client{Timeout: 60 * time.Second},
		log:     log,
	}
}

func (a *API) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.ownerID != "" {
		req.Header.Set("X-Owner-ID", a.ownerID)
	}
	return req, nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(raw, &body)
	return &APIError{Status: resp.StatusCode, Code: body.Code, Detail: body.Error}
}

// CreateSession submits text for chunked generation.
func (a *API) CreateSession(ctx context.Context, req session.CreateRequest) (session.CreateResponse, error) {
	httpReq, err := a.newRequest(ctx, http.MethodPost, "/v1/sessions", req)
	if err != nil {
		return session.CreateResponse{}, err
	}
	resp, err := a.httpc.Do(httpReq)
	if err != nil {
		return session.CreateResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return session.CreateResponse{}, decodeError(resp)
	}
	var out session.CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return session.CreateResponse{}, err
	}
	return out, nil
}

// GetSession fetches the current snapshot.
func (a *API) GetSession(ctx context.Context, id string) (session.Snapshot, error) {
	httpReq, err := a.newRequest(ctx, http.MethodGet, "/v1/sessions/"+id, nil)
	if err != nil {
		return session.Snapshot{}, err
	}
	resp, err := a.httpc.Do(httpReq)
	if err != nil {
		return session.Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return session.Snapshot{}, decodeError(resp)
	}
	var out session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return session.Snapshot{}, err
	}
	return out, nil
}

// CancelSession asks the server to stop generating.
func (a *API) CancelSession(ctx context.Context, id string) error {
	httpReq, err := a.newRequest(ctx, http.MethodPost, "/v1/sessions/"+id+"/cancel", nil)
	if err != nil {
		return err
	}
	resp, err := a.httpc.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

// Speech synthesizes one short text synchronously. The second return
// reports whether the server answered from its durable cache.
func (a *API) Speech(ctx context.Context, req SpeechRequest) ([]byte, bool, error) {
	httpReq, err := a.newRequest(ctx, http.MethodPost, "/v1/speech", req)
	if err != nil {
		return nil, false, err
	}
	resp, err := a.httpc.Do(httpReq)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false, decodeError(resp)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return audio, resp.Header.Get("X-Cache") == "hit", nil
}

// Export downloads the merged session artifact.
func (a *API) Export(ctx context.Context, id string) ([]byte, string, error) {
	httpReq, err := a.newRequest(ctx, http.MethodGet, "/v1/sessions/"+id+"/export", nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := a.httpc.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// DialSession opens the event stream for one session.
func (a *API) DialSession(ctx context.Context, id string) (*websocket.Conn, error) {
	wsURL := a.baseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	wsURL += "/v1/sessions/ws?session_id=" + id

	header := http.Header{}
	if a.ownerID != "" {
		header.Set("X-Owner-ID", a.ownerID)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, err
	}
	if resp != nil {
		resp.Body.Close()
	}
	return conn, nil
}
