// Package cache holds the client-side audio cache tiers: a volatile
// in-process tier and a persistent on-disk tier, composed behind one
// Tier interface so backends are swappable at construction time.
package cache

import (
	"errors"

	"github.com/vocito/vocito/internal/cachekey"
)

var (
	// ErrTooLarge is returned when an entry exceeds a tier's capacity.
	ErrTooLarge = errors.New("cache: entry larger than tier capacity")
	// ErrClosed is returned for operations on a closed tier.
	ErrClosed = errors.New("cache: tier closed")
)

// Meta describes a cached audio blob.
type Meta struct {
	Format string
	Params cachekey.Params
}

// Stats reports a tier's current occupancy and hit counters.
type Stats struct {
	Count      int64
	TotalBytes int64
	Hits       int64
	Misses     int64
}

// Tier is the capability interface every cache level implements.
//
// Eviction is FIFO by creation time, not recency of access: entries do
// not track read timestamps, so EvictOldest removes the oldest-created
// entries first until both bounds (when positive) are satisfied.
type Tier interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte, meta Meta) error
	Delete(key string) error
	Stats() Stats
	EvictOldest(maxBytes, maxCount int64) int
	Close() error
}
