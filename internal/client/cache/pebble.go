package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

const keyPrefix = "cache/v1/"

// PebbleStore keeps each user's list as one JSON record under cache/v1/<userId>.
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("cache: open pebble at %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func storeKey(userID string) []byte {
	return []byte(keyPrefix + userID)
}

func (s *PebbleStore) Load(ctx context.Context, userID string) ([]Entry, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, closer, err := s.db.Get(storeKey(userID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: load %s: %w", userID, err)
	}
	defer closer.Close()
	var entries []Entry
	if err := json.Unmarshal(value, &entries); err != nil {
		return nil, fmt.Errorf("cache: decode %s: %w", userID, err)
	}
	return entries, nil
}

func (s *PebbleStore) Save(ctx context.Context, userID string, entries []Entry) error {
	if userID == "" {
		return ErrNoUser
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", userID, err)
	}
	if err := s.db.Set(storeKey(userID), data, pebble.Sync); err != nil {
		return fmt.Errorf("cache: save %s: %w", userID, err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
