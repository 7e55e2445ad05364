package client

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vocito/vocito/internal/blobstore"
	"github.com/vocito/vocito/internal/cache"
	"github.com/vocito/vocito/internal/cachekey"
	"github.com/vocito/vocito/internal/chunker"
	"github.com/vocito/vocito/internal/config"
	"github.com/vocito/vocito/internal/httpapi"
	"github.com/vocito/vocito/internal/playback"
	"github.com/vocito/vocito/internal/session"
	"github.com/vocito/vocito/internal/synth"
)

const speakText = "The first paragraph tells the beginning of the story here.\n\n" +
	"The second paragraph carries the middle part of the story onward.\n\n" +
	"The third paragraph finally brings the story to its end."

type serviceEnv struct {
	ts       *httptest.Server
	api      *API
	provider *synth.MockProvider
	sessions *session.Manager
}

func newService(t *testing.T) *serviceEnv {
	t.Helper()
	provider := synth.NewMockProvider()
	env := newServiceWith(t, provider)
	env.provider = provider
	return env
}

func newServiceWith(t *testing.T, provider synth.Provider) *serviceEnv {
	t.Helper()
	store := blobstore.NewMemoryStore()
	gateway := synth.NewGateway(provider, synth.GatewayConfig{
		CallTimeout: 5 * time.Second,
		MaxAttempts: 1,
	}, zerolog.Nop())
	cfg := config.Config{
		DefaultVoice:      "alloy",
		DefaultFormat:     "mp3",
		DefaultSampleRate: 24000,
		ChunkMaxChars:     90,
		AllowAnyOrigin:    true,
	}
	sessions := session.NewManager(session.Config{
		IdleTTL:   time.Minute,
		ChunkOpts: chunker.Options{MaxChars: 90, MinChars: 10},
	}, store, gateway, nil, zerolog.Nop())
	server := httpapi.New(cfg, sessions, gateway, store, nil, zerolog.Nop())

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &serviceEnv{
		ts:       ts,
		api:      NewAPI(ts.URL, "test-owner", zerolog.Nop()),
		sessions: sessions,
	}
}

func newSequencer(t *testing.T) (*playback.Sequencer, *playback.MockPlayer) {
	t.Helper()
	player := playback.NewMockPlayer()
	seq := playback.NewSequencer(player, "mp3", zerolog.Nop())
	t.Cleanup(seq.Stop)
	return seq, player
}

func directOpts() Options {
	return Options{ChunkOpts: chunker.Options{MaxChars: 90, MinChars: 10}}
}

func TestDirectSpeakPlaysEveryChunkInOrder(t *testing.T) {
	env := newService(t)
	seq, player := newSequencer(t)
	direct := NewDirect(env.api, nil, seq, zerolog.Nop())

	if err := direct.Speak(context.Background(), speakText, directOpts()); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	played := player.Played()
	if len(played) != 3 {
		t.Fatalf("played %d chunks, want 3", len(played))
	}
	// The mock provider derives audio from chunk text, so index order is
	// observable through the payloads.
	chunks := chunker.Split(speakText, directOpts().ChunkOpts)
	for i, text := range chunks {
		want, _, err := env.api.Speech(context.Background(), directOpts().speechRequest(text))
		if err != nil {
			t.Fatalf("reference fetch: %v", err)
		}
		if string(played[i]) != string(want) {
			t.Fatalf("position %d played wrong chunk", i)
		}
	}
}

func TestDirectSpeakServesRepeatsFromLocalCache(t *testing.T) {
	env := newService(t)
	local := cache.NewTiered(cache.NewMemoryTier(1<<20), nil, zerolog.Nop())

	seqA, _ := newSequencer(t)
	if err := NewDirect(env.api, local, seqA, zerolog.Nop()).Speak(context.Background(), speakText, directOpts()); err != nil {
		t.Fatalf("first Speak: %v", err)
	}
	calls := env.provider.Calls()
	if calls == 0 {
		t.Fatal("first run never reached the provider")
	}

	seqB, playerB := newSequencer(t)
	if err := NewDirect(env.api, local, seqB, zerolog.Nop()).Speak(context.Background(), speakText, directOpts()); err != nil {
		t.Fatalf("second Speak: %v", err)
	}
	if env.provider.Calls() != calls {
		t.Fatalf("second run reached the provider %d extra times", env.provider.Calls()-calls)
	}
	if len(playerB.Played()) != 3 {
		t.Fatalf("second run played %d chunks, want 3", len(playerB.Played()))
	}
}

func TestDirectSpeakSkipsFailedChunks(t *testing.T) {
	env := newService(t)
	env.provider.FailWith("middle part", synth.NewError(synth.CodeProvider, false, "boom", nil))
	seq, player := newSequencer(t)

	if err := NewDirect(env.api, nil, seq, zerolog.Nop()).Speak(context.Background(), speakText, directOpts()); err != nil {
		t.Fatalf("Speak must survive one failed chunk: %v", err)
	}
	if len(player.Played()) != 2 {
		t.Fatalf("played %d chunks, want 2", len(player.Played()))
	}
}

func TestDirectSpeakFailsWhenEverythingFails(t *testing.T) {
	env := newService(t)
	env.provider.FailWith("the", synth.NewError(synth.CodeProvider, false, "down", nil))
	seq, _ := newSequencer(t)

	if err := NewDirect(env.api, nil, seq, zerolog.Nop()).Speak(context.Background(), speakText, directOpts()); err == nil {
		t.Fatal("Speak succeeded with zero resolvable chunks")
	}
}

// gaugeProvider wraps a provider and records the peak number of
// synthesis calls in flight at once.
type gaugeProvider struct {
	inner synth.Provider

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (p *gaugeProvider) Synthesize(ctx context.Context, text string, params cachekey.Params) ([]byte, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()
	return p.inner.Synthesize(ctx, text, params)
}

func (p *gaugeProvider) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

func TestDirectSpeakBoundsConcurrentFetches(t *testing.T) {
	mock := synth.NewMockProvider()
	mock.Latency = 30 * time.Millisecond
	gauge := &gaugeProvider{inner: mock}
	env := newServiceWith(t, gauge)
	seq, player := newSequencer(t)

	// Six distinct paragraphs, each its own chunk, so the pool has work
	// queued the whole run.
	paras := make([]string, 6)
	for i := range paras {
		paras[i] = fmt.Sprintf("Paragraph number %d carries its own share of the longer story.", i+1)
	}
	text := strings.Join(paras, "\n\n")

	opts := directOpts()
	opts.Workers = 2
	if err := NewDirect(env.api, nil, seq, zerolog.Nop()).Speak(context.Background(), text, opts); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	if got := gauge.Peak(); got > opts.Workers {
		t.Fatalf("peak in-flight synthesis calls = %d, want at most %d", got, opts.Workers)
	}
	if got := len(player.Played()); got != len(paras) {
		t.Fatalf("played %d chunks, want %d", got, len(paras))
	}
}

func TestStreamSpeakEndToEnd(t *testing.T) {
	env := newService(t)
	seq, player := newSequencer(t)
	stream := NewStream(env.api, nil, seq, zerolog.Nop())

	if err := stream.Speak(context.Background(), speakText, StreamOptions{}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(player.Played()) != 3 {
		t.Fatalf("played %d chunks, want 3", len(player.Played()))
	}
}

func TestStreamSpeakFailsWhenSessionClosesMidStream(t *testing.T) {
	mock := synth.NewMockProvider()
	mock.Latency = 300 * time.Millisecond
	env := newServiceWith(t, mock)
	resume := NewResumeStore(filepath.Join(t.TempDir(), "resume.json"))

	// Attach to a session we know the id of, so it can be cancelled out
	// from under the consumer while generation is still running.
	created, err := env.api.CreateSession(context.Background(), session.CreateRequest{Text: speakText})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := resume.Save(ResumeState{
		SessionID:       created.SessionID,
		TextKey:         streamTextKey(speakText, StreamOptions{}),
		LastPlayedIndex: 0,
	}); err != nil {
		t.Fatalf("seed resume state: %v", err)
	}

	cancelErr := make(chan error, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancelErr <- env.api.CancelSession(context.Background(), created.SessionID)
	}()

	seq, _ := newSequencer(t)
	stream := NewStream(env.api, nil, seq, zerolog.Nop())

	start := time.Now()
	err = stream.Speak(context.Background(), speakText, StreamOptions{Resume: resume})
	if err == nil {
		t.Fatal("Speak returned nil after the session closed mid-stream")
	}
	if !strings.Contains(err.Error(), "stream transport") {
		t.Fatalf("Speak error = %v, want a transport failure", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Speak took %v to fail, want prompt teardown", elapsed)
	}
	if err := <-cancelErr; err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
}

func TestStreamSpeakResumesSkippingPlayedChunks(t *testing.T) {
	env := newService(t)
	resume := NewResumeStore(filepath.Join(t.TempDir(), "resume.json"))

	// A previous run created the session and played chunk 0 before dying.
	created, err := env.api.CreateSession(context.Background(), session.CreateRequest{Text: speakText})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	textKey := streamTextKey(speakText, StreamOptions{})
	if err := resume.Save(ResumeState{
		SessionID:       created.SessionID,
		TextKey:         textKey,
		LastPlayedIndex: 0,
	}); err != nil {
		t.Fatalf("seed resume state: %v", err)
	}

	seq, player := newSequencer(t)
	stream := NewStream(env.api, nil, seq, zerolog.Nop())
	if err := stream.Speak(context.Background(), speakText, StreamOptions{Resume: resume}); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	if got := len(player.Played()); got != 2 {
		t.Fatalf("resumed run played %d chunks, want 2", got)
	}
	if _, ok, _ := resume.Load(); ok {
		t.Fatal("resume state not cleared after a successful run")
	}
}

func TestResumeStoreRoundTrip(t *testing.T) {
	store := NewResumeStore(filepath.Join(t.TempDir(), "resume.json"))

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("fresh store: ok=%v err=%v", ok, err)
	}
	want := ResumeState{SessionID: "s1", TextKey: "k1", LastPlayedIndex: 4}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.SessionID != want.SessionID || got.LastPlayedIndex != want.LastPlayedIndex {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("Save did not stamp UpdatedAt")
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := store.Load(); ok {
		t.Fatal("state survived Clear")
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear must be a no-op: %v", err)
	}
}

func TestResumeStoreIgnoresCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if _, ok, err := NewResumeStore(path).Load(); err != nil || ok {
		t.Fatalf("corrupt file: ok=%v err=%v, want absent", ok, err)
	}
}
