// Package memstore provides an in-memory object store for tests. It keeps
// whole objects in a map and lets tests inject failures per operation.
package memstore

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"tubetunnel/internal/storage"
)

// Store is an in-memory storage.ObjectStore. The zero value is not usable;
// call New. All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	objects map[string]map[string][]byte
	types   map[string]string

	// Failure hooks. When set, the matching operation returns the error
	// and performs no state change.
	UploadErr   func(bucket, key string) error
	DownloadErr func(bucket, key string) error
	ExistsErr   func(bucket, key string) error
	PresignErr  func(bucket, key string) error
}

var _ storage.ObjectStore = (*Store)(nil)

func New() *Store {
	return &Store{
		objects: make(map[string]map[string][]byte),
		types:   make(map[string]string),
	}
}

func (s *Store) Upload(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	if s.UploadErr != nil {
		if err := s.UploadErr(bucket, key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects[bucket] == nil {
		s.objects[bucket] = make(map[string][]byte)
	}
	s.objects[bucket][key] = data
	s.types[bucket+"/"+key] = contentType
	return nil
}

func (s *Store) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	if s.DownloadErr != nil {
		if err := s.DownloadErr(bucket, key); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if s.ExistsErr != nil {
		if err := s.ExistsErr(bucket, key); err != nil {
			return false, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[bucket][key]
	return ok, nil
}

func (s *Store) Presign(bucket, key string, expiry time.Duration) (string, error) {
	if s.PresignErr != nil {
		if err := s.PresignErr(bucket, key); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("https://signed.example/%s/%s?expires=%d", bucket, key, int64(expiry.Seconds())), nil
}

func (s *Store) PurgeBucket(ctx context.Context, bucket string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := int64(len(s.objects[bucket]))
	delete(s.objects, bucket)
	return count, nil
}

func (s *Store) EnsureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects[bucket] == nil {
		s.objects[bucket] = make(map[string][]byte)
	}
	return nil
}

// Object returns the stored bytes for bucket/key and whether it exists.
func (s *Store) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket][key]
	return data, ok
}

// ContentType returns the content type recorded for the last upload of
// bucket/key.
func (s *Store) ContentType(bucket, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types[bucket+"/"+key]
}

// Put seeds an object directly, bypassing the failure hooks.
func (s *Store) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects[bucket] == nil {
		s.objects[bucket] = make(map[string][]byte)
	}
	s.objects[bucket][key] = data
}

// Keys returns every object key in the bucket.
func (s *Store) Keys(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects[bucket]))
	for key := range s.objects[bucket] {
		out = append(out, key)
	}
	return out
}
