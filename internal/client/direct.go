package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vocito/vocito/internal/cache"
	"github.com/vocito/vocito/internal/cachekey"
	"github.com/vocito/vocito/internal/chunker"
	"github.com/vocito/vocito/internal/playback"
)

// DefaultWorkers bounds concurrent chunk fetches in direct mode. Two is
// enough to stay ahead of playback without hammering the server.
const DefaultWorkers = 2

// Options tune one direct-mode speak call.
type Options struct {
	Workers    int
	ChunkOpts  chunker.Options
	Voice      string
	Preset     string
	Speed      float64
	Pitch      float64
	Format     string
	SampleRate int
}

func (o Options) params() cachekey.Params {
	return cachekey.Params{
		Voice:      o.Voice,
		Preset:     o.Preset,
		Speed:      o.Speed,
		Pitch:      o.Pitch,
		Format:     o.Format,
		SampleRate: o.SampleRate,
	}
}

func (o Options) speechRequest(text string) SpeechRequest {
	return SpeechRequest{
		Text:       text,
		Voice:      o.Voice,
		Preset:     o.Preset,
		Speed:      o.Speed,
		Pitch:      o.Pitch,
		Format:     o.Format,
		SampleRate: o.SampleRate,
	}
}

// Direct is the client-driven orchestration mode: the client chunks the
// text itself and fetches each segment over the one-shot endpoint,
// consulting its local cache tiers first. A small worker pool keeps
// fetches ahead of playback.
type Direct struct {
	api   *API
	cache *cache.Tiered
	seq   *playback.Sequencer
	log   zerolog.Logger
}

// NewDirect builds a direct-mode orchestrator. localCache may be nil to
// fetch everything from the server.
func NewDirect(api *API, localCache *cache.Tiered, seq *playback.Sequencer, log zerolog.Logger) *Direct {
	return &Direct{api: api, cache: localCache, seq: seq, log: log}
}

// Speak chunks text, resolves every chunk to audio, and drains playback.
// Individual chunk failures are skipped; Speak fails only when no chunk
// could be resolved at all or ctx ends.
func (d *Direct) Speak(ctx context.Context, text string, opts Options) error {
	chunks := chunker.Split(text, opts.ChunkOpts)
	if len(chunks) == 0 {
		return fmt.Errorf("nothing to speak")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(chunks) {
		workers = len(chunks)
	}
	params := opts.params()

	type job struct {
		index int
		text  string
		key   string
	}
	jobs := make(chan job)
	var failed atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					d.seq.Skip(j.index)
					failed.Add(1)
					continue
				}
				audio, err := d.resolve(ctx, j.text, j.key, opts)
				if err != nil {
					d.log.Warn().Err(err).Int("index", j.index).Msg("chunk fetch failed, skipping")
					d.seq.Skip(j.index)
					failed.Add(1)
					continue
				}
				if err := d.seq.Enqueue(j.index, audio); err != nil {
					failed.Add(1)
				}
			}
		}()
	}

	// Feed jobs in index order so the pool works on the chunks playback
	// needs soonest.
	for i, text := range chunks {
		jobs <- job{index: i, text: text, key: cachekey.Derive(text, params)}
	}
	close(jobs)
	wg.Wait()

	if int(failed.Load()) == len(chunks) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("all %d chunks failed", len(chunks))
	}
	return d.seq.WaitIdle(ctx)
}

// resolve checks the local cache tiers before going to the server, and
// writes server responses back through the tiers.
func (d *Direct) resolve(ctx context.Context, text, key string, opts Options) ([]byte, error) {
	if d.cache != nil {
		if audio, ok := d.cache.Get(key); ok {
			return audio, nil
		}
	}
	audio, _, err := d.api.Speech(ctx, opts.speechRequest(text))
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		d.cache.Put(key, audio, cache.Meta{Format: opts.Format, Params: opts.params()})
	}
	return audio, nil
}
