package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/ecostream/pkg/cache"
)

// Key layout:
//
//	mem:{userID}:{id}   → msgpack MemoryRecord
//
// Ids are uuid v7, so keys of one user sort by creation time.

func userPrefix(userID string) []byte {
	return []byte("mem:" + userID + ":")
}

func recordKey(userID, id string) []byte {
	return append(userPrefix(userID), id...)
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Dir is the badger directory. Required unless InMemory.
	Dir string

	// InMemory keeps the data in memory only.
	InMemory bool

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Store is a MemorySaver backed by BadgerDB.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// OpenStore opens a memory store.
func OpenStore(opts StoreOptions) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("persist: StoreOptions.Dir is required for on-disk mode")
	}
	db, err := cache.OpenBadger(opts.Dir, opts.InMemory, nil)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}, nil
}

// Save implements MemorySaver. The record gets a fresh id and a creation
// time; IsFirst reports whether the user had no record before.
func (s *Store) Save(ctx context.Context, rec MemoryRecord) (SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	if strings.TrimSpace(rec.UserID) == "" || strings.TrimSpace(rec.Text) == "" {
		return SaveResult{}, ErrInvalidRecord
	}
	id, err := uuid.NewV7()
	if err != nil {
		return SaveResult{}, fmt.Errorf("persist: new id: %w", err)
	}
	rec.ID = id.String()
	rec.CreatedAt = s.now()

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return SaveResult{}, fmt.Errorf("persist: encode record: %w", err)
	}

	var first bool
	err = s.db.Update(func(txn *badger.Txn) error {
		first = !hasPrefix(txn, userPrefix(rec.UserID))
		return txn.Set(recordKey(rec.UserID, rec.ID), data)
	})
	if err != nil {
		return SaveResult{}, fmt.Errorf("persist: save record: %w", err)
	}
	return SaveResult{Saved: true, ID: rec.ID, IsFirst: first}, nil
}

func hasPrefix(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.Valid()
}

// List returns the records of a user, oldest first.
func (s *Store) List(ctx context.Context, userID string) ([]MemoryRecord, error) {
	var out []MemoryRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = userPrefix(userID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec MemoryRecord
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("persist: decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns how many records a user has.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = userPrefix(userID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
