// Package storage writes captured assets to object storage, lists them back
// and issues time-bounded signed URLs for playback.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// ObjectAttrs are the metadata written with an object.
type ObjectAttrs struct {
	ContentType  string
	CacheControl string
}

// ObjectStore is the persistence abstraction for asset bytes.
// Put must be all-or-nothing: a failed Put leaves no object visible, and an
// existing object is never replaced (ErrObjectExists).
type ObjectStore interface {
	Put(ctx context.Context, name string, r io.Reader, attrs ObjectAttrs) error
	List(ctx context.Context, prefix string) ([]string, error)
}

type memObject struct {
	data  []byte
	attrs ObjectAttrs
}

// MemoryStore is an in-memory ObjectStore, used in tests and local runs
// without a bucket.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

// Put implements ObjectStore.Put. The body is read fully before the object
// becomes visible.
func (s *MemoryStore) Put(ctx context.Context, name string, r io.Reader, attrs ObjectAttrs) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[name]; exists {
		return fmt.Errorf("%s: %w", name, ErrObjectExists)
	}
	s.objects[name] = memObject{data: buf.Bytes(), attrs: attrs}
	return nil
}

// List implements ObjectStore.List. Names are returned sorted.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Get returns a copy of an object's bytes and attributes.
func (s *MemoryStore) Get(name string) ([]byte, ObjectAttrs, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[name]
	if !ok {
		return nil, ObjectAttrs{}, false
	}
	return bytes.Clone(obj.data), obj.attrs, true
}
