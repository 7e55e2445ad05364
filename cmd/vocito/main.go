package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vocito/vocito/internal/cache"
	"github.com/vocito/vocito/internal/chunker"
	"github.com/vocito/vocito/internal/client"
	"github.com/vocito/vocito/internal/playback"
	"github.com/vocito/vocito/internal/session"
)

type options struct {
	baseURL    string
	ownerID    string
	mode       string
	voice      string
	preset     string
	speed      float64
	pitch      float64
	format     string
	sampleRate int
	chunkMax   int
	workers    int
	text       string
	file       string
	outFile    string
	cacheDir   string
	noCache    bool
	resumeFile string
	verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "server", "http://localhost:8080", "service base URL")
	flag.StringVar(&opts.ownerID, "owner", "anonymous", "owner id sent with every request")
	flag.StringVar(&opts.mode, "mode", "stream", "orchestration mode: stream or direct")
	flag.StringVar(&opts.voice, "voice", "", "voice name (server default when empty)")
	flag.StringVar(&opts.preset, "preset", "", "voice preset")
	flag.Float64Var(&opts.speed, "speed", 0, "speech speed (server default when 0)")
	flag.Float64Var(&opts.pitch, "pitch", 0, "pitch adjustment")
	flag.StringVar(&opts.format, "format", "", "audio format (pcm for live playback, mp3 for export)")
	flag.IntVar(&opts.sampleRate, "rate", 24000, "sample rate in Hz")
	flag.IntVar(&opts.chunkMax, "chunk-max", 0, "maximum characters per chunk (server default when 0)")
	flag.IntVar(&opts.workers, "workers", client.DefaultWorkers, "concurrent fetches in direct mode")
	flag.StringVar(&opts.text, "text", "", "text to speak")
	flag.StringVar(&opts.file, "file", "", "read text from this file")
	flag.StringVar(&opts.outFile, "out", "", "export merged audio to this file instead of playing")
	flag.StringVar(&opts.cacheDir, "cache-dir", "", "local cache directory (default under the user cache dir)")
	flag.BoolVar(&opts.noCache, "no-cache", false, "disable the local cache tiers")
	flag.StringVar(&opts.resumeFile, "resume", "", "resume state file (default under the user cache dir)")
	flag.BoolVar(&opts.verbose, "v", false, "verbose logging")
	flag.Parse()

	log := newLogger(opts.verbose)

	text, err := readText(opts)
	if err != nil {
		fatal(log, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.NewAPI(opts.baseURL, opts.ownerID, log)

	if opts.outFile != "" {
		if err := export(ctx, api, text, opts, log); err != nil {
			fatal(log, err)
		}
		return
	}
	if err := play(ctx, api, text, opts, log); err != nil {
		fatal(log, err)
	}
}

// export creates a session, waits for generation to settle, and writes
// the merged artifact to disk.
func export(ctx context.Context, api *client.API, text string, opts options, log zerolog.Logger) error {
	created, err := api.CreateSession(ctx, session.CreateRequest{
		Text:          text,
		Voice:         opts.voice,
		Preset:        opts.preset,
		Speed:         opts.speed,
		Pitch:         opts.pitch,
		Format:        opts.format,
		SampleRate:    opts.sampleRate,
		ChunkMaxChars: opts.chunkMax,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	log.Info().Str("session_id", created.SessionID).Int("chunks", created.TotalChunks).Msg("generating")

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap, err := api.GetSession(ctx, created.SessionID)
		if err != nil {
			return err
		}
		if snap.Status != session.StatusActive {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	data, _, err := api.Export(ctx, created.SessionID)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := os.WriteFile(opts.outFile, data, 0o644); err != nil {
		return err
	}
	log.Info().Str("path", opts.outFile).Int("bytes", len(data)).Msg("export written")
	return nil
}

// play streams or fetches chunks and renders them live. Live playback
// needs raw PCM; other formats are export-only.
func play(ctx context.Context, api *client.API, text string, opts options, log zerolog.Logger) error {
	if opts.format == "" {
		opts.format = "pcm"
	}
	if !strings.EqualFold(opts.format, "pcm") {
		return fmt.Errorf("live playback needs -format pcm; use -out to save %s audio", opts.format)
	}

	player, err := playback.NewOtoPlayer(opts.sampleRate)
	if err != nil {
		return err
	}
	seq := playback.NewSequencer(player, opts.format, log)
	defer seq.Stop()

	localCache, err := buildCache(opts, log)
	if err != nil {
		log.Warn().Err(err).Msg("local cache unavailable, continuing without")
	}
	if localCache != nil {
		defer localCache.Close()
	}

	switch opts.mode {
	case "direct":
		direct := client.NewDirect(api, localCache, seq, log)
		return direct.Speak(ctx, text, client.Options{
			Workers:    opts.workers,
			ChunkOpts:  chunker.Options{MaxChars: opts.chunkMax},
			Voice:      opts.voice,
			Preset:     opts.preset,
			Speed:      opts.speed,
			Pitch:      opts.pitch,
			Format:     opts.format,
			SampleRate: opts.sampleRate,
		})
	case "stream":
		stream := client.NewStream(api, localCache, seq, log)
		return stream.Speak(ctx, text, client.StreamOptions{
			Voice:         opts.voice,
			Preset:        opts.preset,
			Speed:         opts.speed,
			Pitch:         opts.pitch,
			Format:        opts.format,
			SampleRate:    opts.sampleRate,
			ChunkMaxChars: opts.chunkMax,
			Resume:        resumeStore(opts, log),
		})
	default:
		return fmt.Errorf("invalid -mode %q (expected stream or direct)", opts.mode)
	}
}

func buildCache(opts options, log zerolog.Logger) (*cache.Tiered, error) {
	if opts.noCache {
		return nil, nil
	}
	dir := opts.cacheDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return cache.NewTiered(cache.NewMemoryTier(64<<20), nil, log), nil
		}
		dir = filepath.Join(base, "vocito", "audio")
	}
	disk, err := cache.NewDiskTier(dir, 1<<30)
	if err != nil {
		return cache.NewTiered(cache.NewMemoryTier(64<<20), nil, log), err
	}
	return cache.NewTiered(cache.NewMemoryTier(64<<20), disk, log), nil
}

func resumeStore(opts options, log zerolog.Logger) *client.ResumeStore {
	path := opts.resumeFile
	if path == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			log.Debug().Err(err).Msg("no user cache dir, resume disabled")
			return nil
		}
		path = filepath.Join(base, "vocito", "resume.json")
	}
	return client.NewResumeStore(path)
}

func readText(opts options) (string, error) {
	switch {
	case opts.text != "":
		return opts.text, nil
	case opts.file != "":
		raw, err := os.ReadFile(opts.file)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	default:
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(string(raw)) == "" {
			return "", fmt.Errorf("no text given: use -text, -file, or pipe to stdin")
		}
		return string(raw), nil
	}
}

func fatal(log zerolog.Logger, err error) {
	log.Error().Err(err).Msg("vocito failed")
	os.Exit(1)
}

func newLogger(verbose bool) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if verbose {
		lvl = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
