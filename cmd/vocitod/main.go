package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/vocito/vocito/internal/blobstore"
	"github.com/vocito/vocito/internal/chunker"
	"github.com/vocito/vocito/internal/config"
	"github.com/vocito/vocito/internal/httpapi"
	"github.com/vocito/vocito/internal/observability"
	"github.com/vocito/vocito/internal/session"
	"github.com/vocito/vocito/internal/synth"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config error")
	}
	log := newLogger(cfg.LogLevel)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := blobstore.New(ctx, blobstore.Config{
		DatabaseURL: cfg.DatabaseURL,
		NATSURL:     cfg.NATSURL,
		BucketName:  cfg.NATSBucket,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("durable store init failed")
	}
	defer store.Close()

	var provider synth.Provider
	switch cfg.ResolveProvider() {
	case "openai":
		provider, err = synth.NewOpenAIProvider(synth.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAITTSModel,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("openai provider init failed")
		}
		log.Info().Str("model", cfg.OpenAITTSModel).Msg("synthesis provider: openai")
	case "mock":
		provider = synth.NewMockProvider()
		log.Info().Msg("synthesis provider: mock (no OPENAI_API_KEY set)")
	default:
		log.Fatal().Str("provider", cfg.SynthProvider).Msg("invalid SYNTH_PROVIDER (expected auto|openai|mock)")
	}

	gateway := synth.NewGateway(provider, synth.GatewayConfig{
		CallTimeout: cfg.SynthCallTimeout,
		MaxAttempts: cfg.SynthMaxAttempts,
		BackoffBase: cfg.SynthBackoffBase,
		BackoffCap:  cfg.SynthBackoffCap,
	}, log)

	sessions := session.NewManager(session.Config{
		IdleTTL:           cfg.SessionIdleTTL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxTextChars:      cfg.MaxTextChars,
		ChunkOpts: chunker.Options{
			MaxChars: cfg.ChunkMaxChars,
			MinChars: cfg.ChunkMinChars,
		},
	}, store, gateway, metrics, log)

	api := httpapi.New(cfg, sessions, gateway, store, metrics, log)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, cfg.JanitorInterval)

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
