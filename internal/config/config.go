package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the speech delivery service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	AllowAnyOrigin bool

	SessionIdleTTL    time.Duration
	JanitorInterval   time.Duration
	HeartbeatInterval time.Duration
	MaxTextChars      int

	ChunkMaxChars int
	ChunkMinChars int

	SynthProvider     string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAITTSModel    string
	DefaultVoice      string
	DefaultFormat     string
	DefaultSampleRate int

	SynthCallTimeout time.Duration
	SynthMaxAttempts int
	SynthBackoffBase time.Duration
	SynthBackoffCap  time.Duration

	DatabaseURL string
	NATSURL     string
	NATSBucket  string

	CacheDir              string
	CacheMemoryMaxBytes   int64
	CacheMemoryMaxEntries int64
	CacheDiskMaxBytes     int64
	CacheDiskMaxEntries   int64
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "vocito"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		AllowAnyOrigin:   false,
		SynthProvider:    envOrDefault("SYNTH_PROVIDER", "auto"),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:    stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAITTSModel:   envOrDefault("OPENAI_TTS_MODEL", "tts-1"),
		DefaultVoice:     envOrDefault("SYNTH_DEFAULT_VOICE", "alloy"),
		DefaultFormat:    envOrDefault("SYNTH_DEFAULT_FORMAT", "mp3"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		NATSURL:          stringsTrimSpace("NATS_URL"),
		NATSBucket:       envOrDefault("NATS_AUDIO_BUCKET", "vocito-audio"),
		CacheDir:         stringsTrimSpace("CACHE_DIR"),

		ShutdownTimeout:   15 * time.Second,
		SessionIdleTTL:    30 * time.Minute,
		JanitorInterval:   time.Minute,
		HeartbeatInterval: 15 * time.Second,
		MaxTextChars:      200_000,
		ChunkMaxChars:     1500,
		ChunkMinChars:     64,
		DefaultSampleRate: 24000,
		SynthCallTimeout:  30 * time.Second,
		SynthMaxAttempts:  3,
		SynthBackoffBase:  500 * time.Millisecond,
		SynthBackoffCap:   5 * time.Second,

		CacheMemoryMaxBytes:   64 << 20,
		CacheMemoryMaxEntries: 256,
		CacheDiskMaxBytes:     1 << 30,
		CacheDiskMaxEntries:   4096,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTTL, err = durationFromEnv("SESSION_IDLE_TTL", cfg.SessionIdleTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("SESSION_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatInterval, err = durationFromEnv("SESSION_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTextChars, err = intFromEnv("SESSION_MAX_TEXT_CHARS", cfg.MaxTextChars)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkMaxChars, err = intFromEnv("CHUNK_MAX_CHARS", cfg.ChunkMaxChars)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkMinChars, err = intFromEnv("CHUNK_MIN_CHARS", cfg.ChunkMinChars)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultSampleRate, err = intFromEnv("SYNTH_DEFAULT_SAMPLE_RATE", cfg.DefaultSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthCallTimeout, err = durationFromEnv("SYNTH_CALL_TIMEOUT", cfg.SynthCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthMaxAttempts, err = intFromEnv("SYNTH_MAX_ATTEMPTS", cfg.SynthMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthBackoffBase, err = durationFromEnv("SYNTH_BACKOFF_BASE", cfg.SynthBackoffBase)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthBackoffCap, err = durationFromEnv("SYNTH_BACKOFF_CAP", cfg.SynthBackoffCap)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheMemoryMaxBytes, err = int64FromEnv("CACHE_MEMORY_MAX_BYTES", cfg.CacheMemoryMaxBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheMemoryMaxEntries, err = int64FromEnv("CACHE_MEMORY_MAX_ENTRIES", cfg.CacheMemoryMaxEntries)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheDiskMaxBytes, err = int64FromEnv("CACHE_DISK_MAX_BYTES", cfg.CacheDiskMaxBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheDiskMaxEntries, err = int64FromEnv("CACHE_DISK_MAX_ENTRIES", cfg.CacheDiskMaxEntries)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTTL < 5*time.Second {
		return Config{}, fmt.Errorf("SESSION_IDLE_TTL must be at least 5s")
	}
	if cfg.MaxTextChars <= 0 {
		return Config{}, fmt.Errorf("SESSION_MAX_TEXT_CHARS must be positive")
	}
	if cfg.ChunkMaxChars <= 0 {
		return Config{}, fmt.Errorf("CHUNK_MAX_CHARS must be positive")
	}
	if cfg.ChunkMinChars < 0 {
		return Config{}, fmt.Errorf("CHUNK_MIN_CHARS must be >= 0")
	}
	if cfg.ChunkMinChars > cfg.ChunkMaxChars {
		return Config{}, fmt.Errorf("CHUNK_MIN_CHARS must not exceed CHUNK_MAX_CHARS")
	}
	if cfg.SynthMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("SYNTH_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

// ResolveProvider maps the "auto" provider setting to a concrete one:
// openai when an API key is present, mock otherwise.
func (c Config) ResolveProvider() string {
	if c.SynthProvider != "auto" && c.SynthProvider != "" {
		return c.SynthProvider
	}
	if c.OpenAIAPIKey != "" {
		return "openai"
	}
	return "mock"
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
