package cache

import (
	"github.com/rs/zerolog"
)

// Tiered composes the volatile and persistent tiers for one client.
// Reads probe volatile first, then persistent; a hit in a lower tier is
// promoted upward so repeated reads become progressively cheaper. Writes
// go persistent-first; a failed tier write is logged and never surfaces,
// so playback is never blocked on cache plumbing.
type Tiered struct {
	volatile   Tier
	persistent Tier
	log        zerolog.Logger
}

// NewTiered wires the two client tiers together. persistent may be nil
// for memory-only deployments.
func NewTiered(volatile, persistent Tier, log zerolog.Logger) *Tiered {
	return &Tiered{volatile: volatile, persistent: persistent, log: log}
}

func (c *Tiered) Get(key string) ([]byte, bool) {
	if data, ok := c.volatile.Get(key); ok {
		return data, true
	}
	if c.persistent == nil {
		return nil, false
	}
	data, ok := c.persistent.Get(key)
	if !ok {
		return nil, false
	}
	if err := c.volatile.Put(key, data, Meta{}); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("volatile promotion failed")
	}
	return data, true
}

func (c *Tiered) Put(key string, data []byte, meta Meta) {
	if c.persistent != nil {
		if err := c.persistent.Put(key, data, meta); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("persistent cache write failed")
		}
	}
	if err := c.volatile.Put(key, data, meta); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("volatile cache write failed")
	}
}

func (c *Tiered) Delete(key string) {
	_ = c.volatile.Delete(key)
	if c.persistent != nil {
		_ = c.persistent.Delete(key)
	}
}

// Stats returns per-tier statistics keyed by tier name.
func (c *Tiered) Stats() map[string]Stats {
	out := map[string]Stats{"volatile": c.volatile.Stats()}
	if c.persistent != nil {
		out["persistent"] = c.persistent.Stats()
	}
	return out
}

func (c *Tiered) Close() error {
	verr := c.volatile.Close()
	if c.persistent != nil {
		if err := c.persistent.Close(); err != nil {
			return err
		}
	}
	return verr
}
