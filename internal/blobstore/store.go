// Package blobstore is the durable server-side audio tier. Entries are
// partitioned by owning identity: one owner can never read another
// owner's blobs even with the correct key. Backends are swappable at
// construction time (postgres, NATS object store, in-memory).
package blobstore

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when no blob exists for (owner, key).
var ErrNotFound = errors.New("blobstore: not found")

// Stats reports one owner's durable usage.
type Stats struct {
	Count      int64
	TotalBytes int64
}

// Store is the capability interface consumed by the session manager and
// the direct-fetch handler. Writes are first-writer-wins: content for a
// key is deterministic, so concurrent writers of the same key are both
// harmless.
type Store interface {
	ReadBytes(ctx context.Context, ownerID, key string) ([]byte, error)
	WriteBytes(ctx context.Context, ownerID, key string, data []byte) error
	Exists(ctx context.Context, ownerID, key string) (bool, error)
	Delete(ctx context.Context, ownerID, key string) error
	Stats(ctx context.Context, ownerID string) (Stats, error)
	EvictOldest(ctx context.Context, ownerID string, maxBytes, maxCount int64) (int, error)
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	DatabaseURL string
	NATSURL     string
	BucketName  string
}

// New picks a backend: postgres when a database URL is configured, NATS
// when a NATS URL is, otherwise in-memory (dev and tests only).
func New(ctx context.Context, cfg Config) (Store, error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	}
	if strings.TrimSpace(cfg.NATSURL) != "" {
		return NewNATSStore(cfg.NATSURL, cfg.BucketName)
	}
	return NewMemoryStore(), nil
}
