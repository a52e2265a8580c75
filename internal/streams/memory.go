package streams

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a concurrency-safe in-memory Store.
type InMemoryStore struct {
	mu      sync.RWMutex
	streams map[int64]*Stream
}

// NewInMemoryStore returns a store holding the given streams.
func NewInMemoryStore(seed ...Stream) *InMemoryStore {
	s := &InMemoryStore{streams: make(map[int64]*Stream, len(seed))}
	for _, st := range seed {
		s.Put(st)
	}
	return s
}

// Put adds or replaces a stream.
func (s *InMemoryStore) Put(st Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := st
	s.streams[st.ID] = &cp
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(_ context.Context, id int64) (*Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

// List implements Store.List.
func (s *InMemoryStore) List(_ context.Context) ([]Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Stream, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkProcessed implements Store.MarkProcessed.
func (s *InMemoryStore) MarkProcessed(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[id]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	st.LastProcessed = &t
	return nil
}
