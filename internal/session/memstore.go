package session

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.data)
	return nil
}

// MemoryBackend keeps one MemoryStore per session token. It is used by the
// dashboard server when no database is configured; sessions do not survive a
// restart. A token gets storage only once something is written for it, and
// Clear releases it, so probing with unknown tokens allocates nothing.
type MemoryBackend struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{stores: make(map[string]*MemoryStore)}
}

// For returns the store view for token.
func (b *MemoryBackend) For(token string) Store {
	return &backendStore{backend: b, token: token}
}

// Len reports how many tokens currently hold data.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stores)
}

type backendStore struct {
	backend *MemoryBackend
	token   string
}

func (s *backendStore) lookup(create bool) *MemoryStore {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	st, ok := s.backend.stores[s.token]
	if !ok && create {
		st = NewMemoryStore()
		s.backend.stores[s.token] = st
	}
	return st
}

func (s *backendStore) Get(ctx context.Context, key string) (string, bool, error) {
	st := s.lookup(false)
	if st == nil {
		return "", false, nil
	}
	return st.Get(ctx, key)
}

func (s *backendStore) Set(ctx context.Context, key, value string) error {
	return s.lookup(true).Set(ctx, key, value)
}

func (s *backendStore) Clear(context.Context) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	delete(s.backend.stores, s.token)
	return nil
}
