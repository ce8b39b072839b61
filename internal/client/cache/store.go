package cache

import (
	"context"
	"errors"
	"sync"
)

// ErrNoUser is returned when a store is used without a user id.
var ErrNoUser = errors.New("cache: user id is required")

// Store persists one ordered entry list per user. Lists of different users never mix.
type Store interface {
	Load(ctx context.Context, userID string) ([]Entry, error)
	Save(ctx context.Context, userID string, entries []Entry) error
	Close() error
}

// MemoryStore keeps lists in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	lists map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: make(map[string][]Entry)}
}

func (s *MemoryStore) Load(_ context.Context, userID string) ([]Entry, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.lists[userID]...), nil
}

func (s *MemoryStore) Save(_ context.Context, userID string, entries []Entry) error {
	if userID == "" {
		return ErrNoUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[userID] = append([]Entry(nil), entries...)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PebbleStore)(nil)
)
