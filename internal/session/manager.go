// Package session owns the server-side chunk-generation lifecycle: one
// registry of sessions, one generation loop per session, and fan-out of
// results to every live subscriber.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vocito/vocito/internal/audio"
	"github.com/vocito/vocito/internal/blobstore"
	"github.com/vocito/vocito/internal/cachekey"
	"github.com/vocito/vocito/internal/chunker"
	"github.com/vocito/vocito/internal/observability"
	"github.com/vocito/vocito/internal/protocol"
	"github.com/vocito/vocito/internal/synth"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrNotReady     = errors.New("session generation not finished")
	ErrEmptyText    = errors.New("text is empty")
	ErrTextTooLong  = errors.New("text exceeds maximum length")
	ErrNoReadyAudio = errors.New("session produced no audio")
)

// Config tunes the manager. Zero values fall back to defaults.
type Config struct {
	IdleTTL           time.Duration
	HeartbeatInterval time.Duration
	MaxTextChars      int
	ChunkOpts         chunker.Options
}

func (c Config) withDefaults() Config {
	if c.IdleTTL <= 0 {
		c.IdleTTL = 30 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.MaxTextChars <= 0 {
		c.MaxTextChars = 200_000
	}
	return c
}

// Manager is an explicitly owned session registry: construct one per
// server and inject it where needed. There is no package-level state, so
// tests can run independent registries side by side.
type Manager struct {
	cfg     Config
	store   blobstore.Store
	gateway *synth.Gateway
	metrics *observability.Metrics
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*state
}

// state is the mutable server-side session record. Only the manager
// touches it, always under the manager lock.
type state struct {
	id             string
	ownerID        string
	status         Status
	params         cachekey.Params
	chunks         []TextChunk
	results        map[int]*ChunkResult
	subs           map[*Subscriber]struct{}
	createdAt      time.Time
	lastActivityAt time.Time
	firstReady     bool
	cancel         context.CancelFunc
	genDone        chan struct{}
}

func NewManager(cfg Config, store blobstore.Store, gateway *synth.Gateway, metrics *observability.Metrics, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		store:    store,
		gateway:  gateway,
		metrics:  metrics,
		log:      log,
		sessions: make(map[string]*state),
	}
}

// IdleTTL exposes the configured idle timeout for API responses.
func (m *Manager) IdleTTL() time.Duration { return m.cfg.IdleTTL }

// Create validates and chunks the text synchronously, registers the
// session, and starts its generation loop. TotalChunks is known before
// this returns.
func (m *Manager) Create(ownerID string, req CreateRequest) (Snapshot, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Snapshot{}, ErrEmptyText
	}
	if len(req.Text) > m.cfg.MaxTextChars {
		return Snapshot{}, ErrTextTooLong
	}

	params := cachekey.Params{
		Voice:      req.Voice,
		Preset:     req.Preset,
		Speed:      req.Speed,
		Pitch:      req.Pitch,
		Format:     req.Format,
		SampleRate: req.SampleRate,
	}
	opts := m.cfg.ChunkOpts
	if req.ChunkMaxChars > 0 {
		opts.MaxChars = req.ChunkMaxChars
	}

	texts := chunker.Split(req.Text, opts)
	if len(texts) == 0 {
		return Snapshot{}, ErrEmptyText
	}

	chunks := make([]TextChunk, len(texts))
	results := make(map[int]*ChunkResult, len(texts))
	for i, text := range texts {
		hash := cachekey.Derive(text, params)
		chunks[i] = TextChunk{Index: i, Text: text, Hash: hash, CharCount: len(text)}
		results[i] = &ChunkResult{Index: i, Hash: hash, Status: ChunkPending}
	}

	now := time.Now().UTC()
	ctx, cancel := context.WithCancel(context.Background())
	st := &state{
		id:             uuid.NewString(),
		ownerID:        ownerID,
		status:         StatusActive,
		params:         params,
		chunks:         chunks,
		results:        results,
		subs:           make(map[*Subscriber]struct{}),
		createdAt:      now,
		lastActivityAt: now,
		cancel:         cancel,
		genDone:        make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[st.id] = st
	snap := m.snapshotLocked(st, false)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues("created").Inc()
		m.metrics.ActiveSessions.Set(float64(m.ActiveCount()))
	}

	go m.generate(ctx, st)
	go m.heartbeat(ctx, st)

	return snap, nil
}

// Get returns a caller-safe snapshot without chunk audio.
func (m *Manager) Get(sessionID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return m.snapshotLocked(st, true), nil
}

// Subscribe registers a stream connection. The new subscriber first
// receives the meta event and a replay of every terminal result, then
// live broadcasts; a late joiner misses nothing.
func (m *Manager) Subscribe(sessionID string) (*Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	sub := newSubscriber(len(st.chunks) + subscriberBufferSlack)
	sub.offer(protocol.MetaEvent{
		Type:        protocol.TypeMeta,
		SessionID:   st.id,
		TotalChunks: len(st.chunks),
		Format:      st.params.Format,
		SampleRate:  st.params.SampleRate,
	})
	for _, r := range m.sortedResultsLocked(st) {
		if !r.Terminal() {
			continue
		}
		sub.offer(resultEvent(st.id, r))
	}
	if st.status != StatusActive {
		sub.offer(m.doneEventLocked(st))
	}

	st.subs[sub] = struct{}{}
	st.lastActivityAt = time.Now().UTC()
	return sub, nil
}

// Unsubscribe detaches one subscriber and closes its event channel.
func (m *Manager) Unsubscribe(sessionID string, sub *Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.sessions[sessionID]; ok {
		delete(st.subs, sub)
	}
	sub.close()
}

// Cancel stops generation after the current chunk, closes every
// subscriber, and marks the session cancelled. Idempotent: cancelling a
// session that is already terminal is a no-op.
func (m *Manager) Cancel(sessionID string) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	alreadyTerminal := st.status != StatusActive
	if !alreadyTerminal {
		st.status = StatusCancelled
	}
	st.lastActivityAt = time.Now().UTC()
	st.cancel()
	for sub := range st.subs {
		sub.close()
		delete(st.subs, sub)
	}
	m.mu.Unlock()

	if !alreadyTerminal && m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues("cancelled").Inc()
		m.metrics.ActiveSessions.Set(float64(m.ActiveCount()))
	}
	return nil
}

// Export concatenates every ready chunk's audio in index order. PCM is
// wrapped in a WAV container so the artifact is playable standalone.
// Returns ErrNotReady while any chunk is still pending.
func (m *Manager) Export(sessionID string) ([]byte, string, error) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, "", ErrNotFound
	}

	var ready [][]byte
	for _, r := range m.sortedResultsLocked(st) {
		if !r.Terminal() {
			m.mu.Unlock()
			return nil, "", ErrNotReady
		}
		if r.Status == ChunkReady {
			ready = append(ready, r.Audio)
		}
	}
	format := st.params.Format
	sampleRate := st.params.SampleRate
	m.mu.Unlock()

	if len(ready) == 0 {
		return nil, "", ErrNoReadyAudio
	}

	var joined []byte
	for _, audioBytes := range ready {
		joined = append(joined, audioBytes...)
	}
	if strings.EqualFold(format, "pcm") {
		wav, err := audio.EncodeWAVPCM16LE(joined, sampleRate)
		if err != nil {
			return nil, "", err
		}
		return wav, "wav", nil
	}
	if format == "" {
		format = "mp3"
	}
	return joined, format, nil
}

// ActiveCount reports sessions still in StatusActive.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, st := range m.sessions {
		if st.status == StatusActive {
			count++
		}
	}
	return count
}

// StartJanitor launches TTL-based garbage collection on a fixed
// interval until ctx is cancelled.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.removeExpired()
			}
		}
	}()
}

func (m *Manager) removeExpired() {
	now := time.Now().UTC()
	expired := 0

	m.mu.Lock()
	for id, st := range m.sessions {
		if now.Sub(st.lastActivityAt) < m.cfg.IdleTTL {
			continue
		}
		for sub := range st.subs {
			sub.close()
		}
		st.cancel()
		delete(m.sessions, id)
		expired++
	}
	m.mu.Unlock()

	if expired > 0 {
		m.log.Info().Int("expired", expired).Msg("session janitor removed idle sessions")
		if m.metrics != nil {
			m.metrics.SessionEvents.WithLabelValues("expired").Add(float64(expired))
			m.metrics.ActiveSessions.Set(float64(m.ActiveCount()))
		}
	}
}

// generate is the single generation loop for one session. Chunks are
// produced strictly in index order so broadcasts leave in non-decreasing
// index order; per-chunk failures are recorded and generation moves on.
func (m *Manager) generate(ctx context.Context, st *state) {
	defer close(st.genDone)

	for _, chunk := range st.chunks {
		if ctx.Err() != nil {
			return
		}
		result := m.produceChunk(ctx, st, chunk)
		if ctx.Err() != nil && result.Status != ChunkReady {
			// Cancelled mid-call; do not record a spurious error.
			return
		}
		m.recordResult(st, result)
	}
	m.finish(st)
}

func (m *Manager) produceChunk(ctx context.Context, st *state, chunk TextChunk) ChunkResult {
	result := ChunkResult{Index: chunk.Index, Hash: chunk.Hash, Status: ChunkPending}
	start := time.Now()

	cached, err := m.store.ReadBytes(ctx, st.ownerID, chunk.Hash)
	switch {
	case err == nil:
		if m.metrics != nil {
			m.metrics.CacheRequests.WithLabelValues("hit").Inc()
		}
		result.Status = ChunkReady
		result.Audio = cached
		result.CacheHit = true
	case errors.Is(err, blobstore.ErrNotFound):
		if m.metrics != nil {
			m.metrics.CacheRequests.WithLabelValues("miss").Inc()
		}
		audioBytes, synthErr := m.gateway.Synthesize(ctx, chunk.Text, st.params)
		if synthErr != nil {
			result.Status = ChunkError
			result.ErrCode = string(synth.CodeOf(synthErr))
			result.ErrDetail = synthErr.Error()
			result.Retryable = synth.IsRetryable(synthErr)
			m.log.Warn().
				Str("session_id", st.id).
				Int("index", chunk.Index).
				Str("code", result.ErrCode).
				Msg("chunk synthesis failed")
			break
		}
		result.Status = ChunkReady
		result.Audio = audioBytes
		if m.metrics != nil {
			m.metrics.ObserveSynthesisLatency(time.Since(start))
		}
		// Durable write is best-effort: a cache failure must never block
		// delivery of the chunk.
		if writeErr := m.store.WriteBytes(ctx, st.ownerID, chunk.Hash, audioBytes); writeErr != nil {
			m.log.Warn().Err(writeErr).
				Str("session_id", st.id).
				Str("key", chunk.Hash).
				Msg("durable cache write failed")
		}
	default:
		// Durable probe failed; treat as miss and synthesize anyway.
		m.log.Warn().Err(err).Str("session_id", st.id).Msg("durable cache probe failed")
		audioBytes, synthErr := m.gateway.Synthesize(ctx, chunk.Text, st.params)
		if synthErr != nil {
			result.Status = ChunkError
			result.ErrCode = string(synth.CodeOf(synthErr))
			result.ErrDetail = synthErr.Error()
			result.Retryable = synth.IsRetryable(synthErr)
			break
		}
		result.Status = ChunkReady
		result.Audio = audioBytes
	}

	result.LatencyMs = time.Since(start).Milliseconds()
	if result.Status == ChunkReady {
		result.DurationMs = audio.EstimateDurationMs(result.Audio, st.params.Format, st.params.SampleRate)
	}
	return result
}

func (m *Manager) recordResult(st *state, result ChunkResult) {
	m.mu.Lock()
	st.results[result.Index] = &result
	st.lastActivityAt = time.Now().UTC()
	firstReady := result.Status == ChunkReady && !st.firstReady
	if firstReady {
		st.firstReady = true
	}
	m.broadcastLocked(st, resultEvent(st.id, result))
	created := st.createdAt
	m.mu.Unlock()

	if m.metrics != nil {
		source := "synthesized"
		if result.CacheHit {
			source = "cache"
		}
		m.metrics.ChunkResults.WithLabelValues(string(result.Status), source).Inc()
		if firstReady {
			m.metrics.ObserveFirstChunkLatency(time.Since(created))
		}
	}
}

// finish settles the terminal status once every chunk has a terminal
// result: completed when at least one chunk is ready, error when none
// could be produced at all.
func (m *Manager) finish(st *state) {
	m.mu.Lock()
	if st.status == StatusActive {
		ready := 0
		for _, r := range st.results {
			if r.Status == ChunkReady {
				ready++
			}
		}
		if ready == 0 {
			st.status = StatusError
		} else {
			st.status = StatusCompleted
		}
	}
	finalStatus := st.status
	st.lastActivityAt = time.Now().UTC()
	m.broadcastLocked(st, m.doneEventLocked(st))
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues(string(finalStatus)).Inc()
		m.metrics.ActiveSessions.Set(float64(m.ActiveCount()))
	}
}

// heartbeat keeps idle subscriptions alive until the session context
// ends (cancel or garbage collection).
func (m *Manager) heartbeat(ctx context.Context, st *state) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			m.broadcastLocked(st, protocol.HeartbeatEvent{
				Type:      protocol.TypeHeartbeat,
				SessionID: st.id,
				TSMs:      time.Now().UnixMilli(),
			})
			m.mu.Unlock()
		}
	}
}

// broadcastLocked fans one event out to every subscriber. A full buffer
// means the consumer is too slow; it is disconnected rather than ever
// stalling the producer or its siblings.
func (m *Manager) broadcastLocked(st *state, msg any) {
	for sub := range st.subs {
		if !sub.offer(msg) {
			delete(st.subs, sub)
			sub.close()
			m.log.Warn().Str("session_id", st.id).Msg("dropped slow subscriber")
			if m.metrics != nil {
				m.metrics.WSWriteErrors.WithLabelValues("backpressure").Inc()
			}
		}
	}
}

func (m *Manager) doneEventLocked(st *state) protocol.DoneEvent {
	ready, failed := 0, 0
	for _, r := range st.results {
		switch r.Status {
		case ChunkReady:
			ready++
		case ChunkError:
			failed++
		}
	}
	return protocol.DoneEvent{
		Type:      protocol.TypeDone,
		SessionID: st.id,
		Total:     len(st.chunks),
		Ready:     ready,
		Failed:    failed,
		Status:    string(st.status),
	}
}

func (m *Manager) sortedResultsLocked(st *state) []ChunkResult {
	out := make([]ChunkResult, 0, len(st.results))
	for _, r := range st.results {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (m *Manager) snapshotLocked(st *state, withResults bool) Snapshot {
	snap := Snapshot{
		ID:             st.id,
		OwnerID:        st.ownerID,
		Status:         st.status,
		Params:         st.params,
		Format:         st.params.Format,
		TotalChunks:    len(st.chunks),
		Chunks:         append([]TextChunk(nil), st.chunks...),
		CreatedAt:      st.createdAt,
		LastActivityAt: st.lastActivityAt,
	}
	for _, r := range st.results {
		switch r.Status {
		case ChunkReady:
			snap.GeneratedChunks++
		case ChunkError:
			snap.FailedChunks++
		}
	}
	if withResults {
		snap.Results = m.sortedResultsLocked(st)
	}
	return snap
}

func resultEvent(sessionID string, r ChunkResult) any {
	if r.Status == ChunkError {
		return protocol.ChunkErrorEvent{
			Type:      protocol.TypeChunkErr,
			SessionID: sessionID,
			Index:     r.Index,
			Code:      r.ErrCode,
			Detail:    r.ErrDetail,
			Retryable: r.Retryable,
		}
	}
	return protocol.ChunkEvent{
		Type:        protocol.TypeChunk,
		SessionID:   sessionID,
		Index:       r.Index,
		Hash:        r.Hash,
		AudioBase64: base64.StdEncoding.EncodeToString(r.Audio),
		DurationMs:  r.DurationMs,
		CacheHit:    r.CacheHit,
		LatencyMs:   r.LatencyMs,
	}
}

// WaitGenerated blocks until the session's generation loop exits or ctx
// ends. Tests and the export path use it; live subscribers rely on
// events instead.
func (m *Manager) WaitGenerated(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-st.genDone:
		return nil
	}
}
