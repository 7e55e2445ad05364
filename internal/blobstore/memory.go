package blobstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps blobs in process memory. It backs tests and single-
// node dev runs; production deployments configure postgres or NATS.
type MemoryStore struct {
	mu     sync.RWMutex
	owners map[string]map[string]memBlob
}

type memBlob struct {
	data      []byte
	createdAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{owners: make(map[string]map[string]memBlob)}
}

func (s *MemoryStore) ReadBytes(_ context.Context, ownerID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.owners[ownerID][key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(blob.data))
	copy(out, blob.data)
	return out, nil
}

func (s *MemoryStore) WriteBytes(_ context.Context, ownerID, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.owners[ownerID]
	if !ok {
		bucket = make(map[string]memBlob)
		s.owners[ownerID] = bucket
	}
	if _, exists := bucket[key]; exists {
		// First writer wins; identical content by construction.
		return nil
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	bucket[key] = memBlob{data: stored, createdAt: time.Now()}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, ownerID, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.owners[ownerID][key]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, ownerID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.owners[ownerID], key)
	return nil
}

func (s *MemoryStore) Stats(_ context.Context, ownerID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, blob := range s.owners[ownerID] {
		st.Count++
		st.TotalBytes += int64(len(blob.data))
	}
	return st, nil
}

func (s *MemoryStore) EvictOldest(_ context.Context, ownerID string, maxBytes, maxCount int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.owners[ownerID]
	type kb struct {
		key  string
		blob memBlob
	}
	entries := make([]kb, 0, len(bucket))
	var total int64
	for k, b := range bucket {
		entries = append(entries, kb{k, b})
		total += int64(len(b.data))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].blob.createdAt.Before(entries[j].blob.createdAt)
	})

	evicted := 0
	for _, e := range entries {
		overBytes := maxBytes > 0 && total > maxBytes
		overCount := maxCount > 0 && int64(len(bucket)) > maxCount
		if !overBytes && !overCount {
			break
		}
		delete(bucket, e.key)
		total -= int64(len(e.blob.data))
		evicted++
	}
	return evicted, nil
}

func (s *MemoryStore) Close() error { return nil }
