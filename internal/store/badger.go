package store

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore implements Store on an embedded Badger database, one key per
// document. Each save is a single Badger transaction.
type BadgerStore struct {
	documentStore
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a Badger database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	if path == "" {
		return nil, errors.New("store: badger path is required")
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := &BadgerStore{db: db}
	s.documentStore = documentStore{blobs: s}
	return s, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BadgerStore) get(_ context.Context, name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return out, nil
}

func (s *BadgerStore) put(_ context.Context, name string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(name), data)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func badgerKey(name string) []byte { return []byte("paper:" + name) }
