package cache

import (
	"container/list"
	"sync"
	"time"
)

// MemoryTier is the volatile in-process tier. Contents are lost on
// restart. Insertion order doubles as creation order, so the eviction
// list needs no timestamps beyond the entry's own createdAt.
type MemoryTier struct {
	capacity int64

	mu     sync.Mutex
	size   int64
	items  map[string]*list.Element
	order  *list.List // front = newest, back = oldest created
	hits   int64
	misses int64
	closed bool
}

type memoryEntry struct {
	key       string
	data      []byte
	meta      Meta
	createdAt time.Time
}

// NewMemoryTier creates a volatile tier bounded to capacity bytes.
// capacity <= 0 means unbounded.
func NewMemoryTier(capacity int64) *MemoryTier {
	return &MemoryTier{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (t *MemoryTier) Get(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.items[key]
	if !ok {
		t.misses++
		return nil, false
	}
	t.hits++
	// Copy so a caller mutating the result cannot corrupt the entry.
	data := elem.Value.(*memoryEntry).data
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

func (t *MemoryTier) Put(key string, data []byte, meta Meta) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	size := int64(len(data))
	if t.capacity > 0 && size > t.capacity {
		return ErrTooLarge
	}

	if elem, ok := t.items[key]; ok {
		// Identical content for a key is the norm; replace in place and
		// keep the original creation slot.
		entry := elem.Value.(*memoryEntry)
		t.size += size - int64(len(entry.data))
		entry.data = data
		entry.meta = meta
		return nil
	}

	for t.capacity > 0 && t.size+size > t.capacity && t.order.Len() > 0 {
		t.removeElement(t.order.Back())
	}

	elem := t.order.PushFront(&memoryEntry{
		key:       key,
		data:      data,
		meta:      meta,
		createdAt: time.Now(),
	})
	t.items[key] = elem
	t.size += size
	return nil
}

func (t *MemoryTier) Delete(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.items[key]; ok {
		t.removeElement(elem)
	}
	return nil
}

func (t *MemoryTier) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Stats{
		Count:      int64(len(t.items)),
		TotalBytes: t.size,
		Hits:       t.hits,
		Misses:     t.misses,
	}
}

// EvictOldest removes oldest-created entries until the tier fits both
// bounds. A bound <= 0 is ignored. Returns the number evicted.
func (t *MemoryTier) EvictOldest(maxBytes, maxCount int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for t.order.Len() > 0 {
		overBytes := maxBytes > 0 && t.size > maxBytes
		overCount := maxCount > 0 && int64(t.order.Len()) > maxCount
		if !overBytes && !overCount {
			break
		}
		t.removeElement(t.order.Back())
		evicted++
	}
	return evicted
}

func (t *MemoryTier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.items = make(map[string]*list.Element)
	t.order.Init()
	t.size = 0
	t.closed = true
	return nil
}

func (t *MemoryTier) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	t.order.Remove(elem)
	delete(t.items, entry.key)
	t.size -= int64(len(entry.data))
}
