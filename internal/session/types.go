package session

import (
	"time"

	"github.com/vocito/vocito/internal/cachekey"
)

// Status is a session's lifecycle state. Transitions are one-way:
// active -> completed | cancelled | error.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// ChunkStatus is the terminality of one chunk's generation.
type ChunkStatus string

const (
	ChunkPending ChunkStatus = "pending"
	ChunkReady   ChunkStatus = "ready"
	ChunkError   ChunkStatus = "error"
)

// TextChunk is one bounded segment of the submitted text. Immutable
// after chunking; Index is the sole ordering key downstream.
type TextChunk struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	Hash      string `json:"hash"`
	CharCount int    `json:"char_count"`
}

// ChunkResult records the outcome of generating one chunk. Created
// pending, transitions once to ready or error, never reverts.
type ChunkResult struct {
	Index      int         `json:"index"`
	Hash       string      `json:"hash"`
	Status     ChunkStatus `json:"status"`
	Audio      []byte      `json:"-"`
	DurationMs int64       `json:"duration_ms"`
	CacheHit   bool        `json:"cache_hit"`
	LatencyMs  int64       `json:"latency_ms"`
	ErrCode    string      `json:"error_code,omitempty"`
	ErrDetail  string      `json:"error_detail,omitempty"`
	Retryable  bool        `json:"retryable,omitempty"`
}

// Terminal reports whether the result will never change again.
func (r ChunkResult) Terminal() bool {
	return r.Status == ChunkReady || r.Status == ChunkError
}

// Snapshot is a caller-safe copy of a session's observable state.
type Snapshot struct {
	ID              string          `json:"session_id"`
	OwnerID         string          `json:"owner_id"`
	Status          Status          `json:"status"`
	Params          cachekey.Params `json:"-"`
	Format          string          `json:"format"`
	TotalChunks     int             `json:"total_chunks"`
	GeneratedChunks int             `json:"generated_chunks"`
	FailedChunks    int             `json:"failed_chunks"`
	Chunks          []TextChunk     `json:"-"`
	Results         []ChunkResult   `json:"results,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	LastActivityAt  time.Time       `json:"last_activity_at"`
}

// CreateRequest defines the payload for a new text submission.
type CreateRequest struct {
	Text          string  `json:"text"`
	Voice         string  `json:"voice,omitempty"`
	Preset        string  `json:"preset,omitempty"`
	Speed         float64 `json:"speed,omitempty"`
	Pitch         float64 `json:"pitch,omitempty"`
	Format        string  `json:"format,omitempty"`
	SampleRate    int     `json:"sample_rate,omitempty"`
	ChunkMaxChars int     `json:"chunk_max_chars,omitempty"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID   string    `json:"session_id"`
	TotalChunks int       `json:"total_chunks"`
	Status      Status    `json:"status"`
	Format      string    `json:"format"`
	CreatedAt   time.Time `json:"created_at"`
	IdleTTLMS   int64     `json:"idle_ttl_ms"`
}
