package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// DiskTier is the persistent per-client tier. Entries survive restarts
// but are local to one machine. Each entry is a pair of files under the
// base directory: <key>.bin (zstd-compressed audio) and <key>.json
// (metadata). Writes go through a temp file plus rename so a reader
// never observes a partial entry.
type DiskTier struct {
	basePath string
	capacity int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu     sync.Mutex
	index  map[string]*diskEntry
	size   int64
	hits   int64
	misses int64
	closed bool
}

type diskEntry struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"` // compressed bytes on disk
	OriginalSize int64     `json:"original_size"`
	CreatedAt    time.Time `json:"created_at"`
	Format       string    `json:"format"`
	Voice        string    `json:"voice"`
}

// NewDiskTier opens (or creates) a disk tier rooted at basePath, bounded
// to capacity bytes of compressed data. capacity <= 0 means unbounded.
func NewDiskTier(basePath string, capacity int64) (*DiskTier, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	t := &DiskTier{
		basePath: basePath,
		capacity: capacity,
		encoder:  encoder,
		decoder:  decoder,
		index:    make(map[string]*diskEntry),
	}
	t.loadIndex()
	return t, nil
}

// loadIndex rebuilds the in-memory index from metadata files. Damaged or
// orphaned entries are skipped, never fatal.
func (t *DiskTier) loadIndex() {
	matches, err := filepath.Glob(filepath.Join(t.basePath, "*.json"))
	if err != nil {
		return
	}
	for _, metaPath := range matches {
		raw, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var e diskEntry
		if err := json.Unmarshal(raw, &e); err != nil || e.Key == "" {
			continue
		}
		if _, err := os.Stat(t.dataPath(e.Key)); err != nil {
			continue
		}
		t.index[e.Key] = &e
		t.size += e.Size
	}
}

func (t *DiskTier) Get(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.index[key]
	if !ok {
		t.misses++
		return nil, false
	}

	raw, err := os.ReadFile(t.dataPath(key))
	if err != nil {
		t.dropLocked(entry)
		t.misses++
		return nil, false
	}
	data, err := t.decoder.DecodeAll(raw, nil)
	if err != nil {
		t.dropLocked(entry)
		t.misses++
		return nil, false
	}
	t.hits++
	return data, true
}

func (t *DiskTier) Put(key string, data []byte, meta Meta) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	compressed := t.encoder.EncodeAll(data, nil)
	size := int64(len(compressed))
	if t.capacity > 0 && size > t.capacity {
		return ErrTooLarge
	}

	if prev, ok := t.index[key]; ok {
		t.size -= prev.Size
		delete(t.index, key)
	}
	for t.capacity > 0 && t.size+size > t.capacity && len(t.index) > 0 {
		t.dropLocked(t.oldestLocked())
	}

	if err := writeAtomic(t.dataPath(key), compressed); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	entry := &diskEntry{
		Key:          key,
		Size:         size,
		OriginalSize: int64(len(data)),
		CreatedAt:    time.Now(),
		Format:       meta.Format,
		Voice:        meta.Params.Voice,
	}
	metaRaw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache metadata: %w", err)
	}
	if err := writeAtomic(t.metaPath(key), metaRaw); err != nil {
		os.Remove(t.dataPath(key))
		return fmt.Errorf("write cache metadata: %w", err)
	}

	t.index[key] = entry
	t.size += size
	return nil
}

func (t *DiskTier) Delete(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.index[key]; ok {
		t.dropLocked(entry)
	}
	return nil
}

func (t *DiskTier) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Stats{
		Count:      int64(len(t.index)),
		TotalBytes: t.size,
		Hits:       t.hits,
		Misses:     t.misses,
	}
}

// EvictOldest removes oldest-created entries until both bounds (when
// positive) are satisfied. Returns the number evicted.
func (t *DiskTier) EvictOldest(maxBytes, maxCount int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]*diskEntry, 0, len(t.index))
	for _, e := range t.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	evicted := 0
	for _, e := range entries {
		overBytes := maxBytes > 0 && t.size > maxBytes
		overCount := maxCount > 0 && int64(len(t.index)) > maxCount
		if !overBytes && !overCount {
			break
		}
		t.dropLocked(e)
		evicted++
	}
	return evicted
}

func (t *DiskTier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.encoder.Close()
	t.decoder.Close()
	return nil
}

func (t *DiskTier) oldestLocked() *diskEntry {
	var oldest *diskEntry
	for _, e := range t.index {
		if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) {
			oldest = e
		}
	}
	return oldest
}

func (t *DiskTier) dropLocked(entry *diskEntry) {
	if entry == nil {
		return
	}
	os.Remove(t.dataPath(entry.Key))
	os.Remove(t.metaPath(entry.Key))
	if _, ok := t.index[entry.Key]; ok {
		delete(t.index, entry.Key)
		t.size -= entry.Size
	}
}

func (t *DiskTier) dataPath(key string) string {
	return filepath.Join(t.basePath, sanitizeKey(key)+".bin")
}

func (t *DiskTier) metaPath(key string) string {
	return filepath.Join(t.basePath, sanitizeKey(key)+".json")
}

// sanitizeKey keeps file names safe even if a caller passes a key that is
// not a plain hex digest.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
