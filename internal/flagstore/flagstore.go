// Package flagstore holds client-local one-shot flags such as force refresh
// requests.
package flagstore

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/lychee-technology/duplex"
	"github.com/puzpuzpuz/xsync/v3"
)

const keyPrefix = "flag/"

// PebbleStore persists flags in a pebble database so they survive restarts.
type PebbleStore struct {
	db *pebble.DB
}

var (
	_ duplex.FlagStore = (*PebbleStore)(nil)
	_ duplex.FlagStore = (*MemoryStore)(nil)
)

// OpenPebble opens or creates the flag database in dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open flag store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func pebbleKey(key string) []byte {
	return []byte(keyPrefix + key)
}

func (s *PebbleStore) GetFlag(key string) (string, bool, error) {
	val, closer, err := s.db.Get(pebbleKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read flag %s: %w", key, err)
	}
	defer closer.Close()
	// val is only valid until closer.Close
	return string(val), true, nil
}

func (s *PebbleStore) SetFlag(key, value string) error {
	if err := s.db.Set(pebbleKey(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("write flag %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) ClearFlag(key string) error {
	if err := s.db.Delete(pebbleKey(key), pebble.Sync); err != nil {
		return fmt.Errorf("clear flag %s: %w", key, err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// MemoryStore keeps flags for the process lifetime only.
type MemoryStore struct {
	flags *xsync.MapOf[string, string]
}

// NewMemoryStore creates an empty in-memory flag store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: xsync.NewMapOf[string, string]()}
}

func (s *MemoryStore) GetFlag(key string) (string, bool, error) {
	v, ok := s.flags.Load(key)
	return v, ok, nil
}

func (s *MemoryStore) SetFlag(key, value string) error {
	s.flags.Store(key, value)
	return nil
}

func (s *MemoryStore) ClearFlag(key string) error {
	s.flags.Delete(key)
	return nil
}
