package filestore

import (
	"context"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps documents in memory. It is used in development when no object store is configured, and in tests.
type MemoryStore struct {
	baseURL string
	mu      sync.RWMutex
	objects map[string]memoryObject
}

var _ core.FileStore = (*MemoryStore)(nil)

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{baseURL: baseURL, objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "reading %s", key)
	}
	s.mu.Lock()
	s.objects[key] = memoryObject{data: data, contentType: contentType}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) URL(_ context.Context, key, filename string, expiry time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", core.NewNotFoundError("document")
	}
	q := url.Values{
		"filename": {filename},
		"expires":  {time.Now().Add(expiry).UTC().Format(time.RFC3339)},
	}
	return s.baseURL + "/" + url.PathEscape(key) + "?" + q.Encode(), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// Get returns a stored document.
func (s *MemoryStore) Get(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj.data, obj.contentType, ok
}
