package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is a Cache backed by BadgerDB v4. Expiry is delegated to badger's
// native entry TTL.
type Badger struct {
	db         *badger.DB
	defaultTTL time.Duration
}

// BadgerOptions configures the BadgerDB cache.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// DefaultTTL applies when Set is called with a zero ttl.
	DefaultTTL time.Duration

	// Logger sets the badger logger. Nil routes warnings and errors to slog.
	Logger badger.Logger
}

// NewBadger opens a BadgerDB-backed Cache.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("cache: BadgerOptions.Dir is required for on-disk mode")
	}
	db, err := OpenBadger(opts.Dir, opts.InMemory, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db, defaultTTL: opts.DefaultTTL}, nil
}

// OpenBadger opens a badger database with the package's logging defaults.
// It is shared with other stores that keep their data in badger.
func OpenBadger(dir string, inMemory bool, logger badger.Logger) (*badger.DB, error) {
	dbOpts := badger.DefaultOptions(dir)
	if inMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if logger == nil {
		logger = slogLogger{}
	}
	dbOpts = dbOpts.WithLogger(logger)
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger: %w", err)
	}
	return db, nil
}

func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (b *Badger) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = b.defaultTTL
	}
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *Badger) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *Badger) ClearByPrefix(_ context.Context, prefix string) (int, error) {
	p := []byte(prefix)
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = p
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close releases the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// slogLogger adapts badger logging to slog, dropping debug and info.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...interface{}) {
	slog.Error(fmt.Sprintf("badger: "+f, v...))
}

func (slogLogger) Warningf(f string, v ...interface{}) {
	slog.Warn(fmt.Sprintf("badger: "+f, v...))
}

func (slogLogger) Infof(string, ...interface{})  {}
func (slogLogger) Debugf(string, ...interface{}) {}
