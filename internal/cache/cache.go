// SPDX-License-Identifier: MIT

// Package cache persists fetched metadata between refresh runs so unchanged
// titles do not hit the metadata API again.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dvrsn/listpub/internal/metrics"
)

// Store is a small typed facade over a Badger database. Values are stored as
// JSON so entries stay inspectable with the badger CLI.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store backed by memory only. Used in tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open in-memory: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get unmarshals the value stored under key into v. The boolean reports
// whether the key was present.
func (s *Store) Get(key string, v any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		metrics.IncCacheMiss()
		return false, nil
	case err != nil:
		metrics.IncCacheError()
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	metrics.IncCacheHit()
	return true, nil
}

// Put stores v under key as JSON. A zero ttl keeps the entry forever.
func (s *Store) Put(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", key, err)
	}
	return nil
}
