// Package protocol defines the wire contract between the session
// manager's broadcast stream and its subscribers. Every payload is one
// canonical tagged JSON variant; there is no legacy shape sniffing.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Server to client events, in emission order per session.
	TypeMeta      MessageType = "meta"
	TypeChunk     MessageType = "chunk"
	TypeChunkErr  MessageType = "chunk_error"
	TypeHeartbeat MessageType = "heartbeat"
	TypeDone      MessageType = "done"

	// Client to server.
	TypeClientControl MessageType = "client_control"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// MetaEvent opens every subscription: totals and output format.
type MetaEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TotalChunks int         `json:"total_chunks"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate"`
}

// ChunkEvent carries one ready audio segment.
type ChunkEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Index       int         `json:"index"`
	Hash        string      `json:"hash"`
	AudioBase64 string      `json:"audio_base64"`
	DurationMs  int64       `json:"duration_ms"`
	CacheHit    bool        `json:"cache_hit"`
	LatencyMs   int64       `json:"latency_ms"`
}

// ChunkErrorEvent records a per-chunk synthesis failure. Generation of
// sibling chunks continues.
type ChunkErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Index     int         `json:"index"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
	Retryable bool        `json:"retryable"`
}

// HeartbeatEvent keeps idle subscriptions alive. No payload.
type HeartbeatEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TSMs      int64       `json:"ts_ms"`
}

// DoneEvent signals that the generation loop finished. It is
// informational: the authoritative completion signal is every index
// carrying a terminal result.
type DoneEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Total     int         `json:"total_chunks"`
	Ready     int         `json:"ready_chunks"`
	Failed    int         `json:"failed_chunks"`
	Status    string      `json:"status"`
}

// ClientControl is the only inbound message; Action is currently just
// "cancel".
type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

// ParseClientMessage validates an inbound client payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ParseServerEvent decodes a server-push payload on the client side.
func ParseServerEvent(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	switch env.Type {
	case TypeMeta:
		var msg MetaEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.TotalChunks < 0 {
			return nil, errors.New("invalid meta event")
		}
		return msg, nil
	case TypeChunk:
		var msg ChunkEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Index < 0 || msg.Hash == "" {
			return nil, errors.New("invalid chunk event")
		}
		return msg, nil
	case TypeChunkErr:
		var msg ChunkErrorEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Index < 0 {
			return nil, errors.New("invalid chunk_error event")
		}
		return msg, nil
	case TypeHeartbeat:
		var msg HeartbeatEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeDone:
		var msg DoneEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the tag of a known protocol message.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case MetaEvent:
		return m.Type, true
	case ChunkEvent:
		return m.Type, true
	case ChunkErrorEvent:
		return m.Type, true
	case HeartbeatEvent:
		return m.Type, true
	case DoneEvent:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	default:
		return "", false
	}
}
