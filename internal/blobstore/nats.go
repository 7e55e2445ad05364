package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
)

const defaultBucket = "vocito-audio"

// NATSStore keeps audio blobs in a JetStream object store bucket.
// Owner isolation is enforced by namespacing object names with the owner
// identity; nothing outside this store hands out raw object access.
type NATSStore struct {
	conn   *nats.Conn
	store  nats.ObjectStore
	bucket string
}

func NewNATSStore(url, bucket string) (*NATSStore, error) {
	if strings.TrimSpace(bucket) == "" {
		bucket = defaultBucket
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Synthesized audio blobs keyed by content hash.",
		Storage:     nats.FileStorage,
	})
	if err != nil {
		// Bucket may already exist; bind to it.
		store, err = js.ObjectStore(bucket)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open object store bucket %q: %w", bucket, err)
		}
	}

	return &NATSStore{conn: conn, store: store, bucket: bucket}, nil
}

func objectName(ownerID, key string) string {
	return ownerID + "/" + key
}

func (s *NATSStore) ReadBytes(_ context.Context, ownerID, key string) ([]byte, error) {
	obj, err := s.store.Get(objectName(ownerID, key))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object from bucket %q: %w", s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()
	if readErr != nil {
		return nil, fmt.Errorf("read object: %w", readErr)
	}
	if closeErr != nil {
		return data, fmt.Errorf("close object: %w", closeErr)
	}
	return data, nil
}

func (s *NATSStore) WriteBytes(_ context.Context, ownerID, key string, data []byte) error {
	_, err := s.store.Put(&nats.ObjectMeta{Name: objectName(ownerID, key)}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put object to bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *NATSStore) Exists(_ context.Context, ownerID, key string) (bool, error) {
	_, err := s.store.GetInfo(objectName(ownerID, key))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("object info: %w", err)
	}
	return true, nil
}

func (s *NATSStore) Delete(_ context.Context, ownerID, key string) error {
	if err := s.store.Delete(objectName(ownerID, key)); err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *NATSStore) Stats(_ context.Context, ownerID string) (Stats, error) {
	infos, err := s.ownerObjects(ownerID)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, info := range infos {
		st.Count++
		st.TotalBytes += int64(info.Size)
	}
	return st, nil
}

func (s *NATSStore) EvictOldest(ctx context.Context, ownerID string, maxBytes, maxCount int64) (int, error) {
	infos, err := s.ownerObjects(ownerID)
	if err != nil {
		return 0, err
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ModTime.Before(infos[j].ModTime)
	})

	var total int64
	for _, info := range infos {
		total += int64(info.Size)
	}

	evicted := 0
	count := int64(len(infos))
	for _, info := range infos {
		overBytes := maxBytes > 0 && total > maxBytes
		overCount := maxCount > 0 && count > maxCount
		if !overBytes && !overCount {
			break
		}
		if err := s.store.Delete(info.Name); err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
			return evicted, fmt.Errorf("evict object: %w", err)
		}
		total -= int64(info.Size)
		count--
		evicted++
	}
	return evicted, nil
}

func (s *NATSStore) ownerObjects(ownerID string) ([]*nats.ObjectInfo, error) {
	infos, err := s.store.List()
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list objects: %w", err)
	}
	prefix := ownerID + "/"
	var out []*nats.ObjectInfo
	for _, info := range infos {
		if strings.HasPrefix(info.Name, prefix) {
			out = append(out, info)
		}
	}
	return out, nil
}

func (s *NATSStore) Close() error {
	s.conn.Close()
	return nil
}
