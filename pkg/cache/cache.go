// Package cache provides the process-wide cache shared by concurrent
// requests: compiled prompts, parsed modules and technical blocks.
//
// Entries are derived data. Writes are plain overwrites (last writer wins)
// and every entry may carry a TTL. Two backends are provided: Memory, a
// bounded LRU map, and Badger, backed by BadgerDB for caches that should
// survive restarts.
package cache

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("cache: not found")
)

// Cache is the interface for a string-keyed byte cache.
type Cache interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl means the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// ClearByPrefix removes every key starting with prefix and reports how
	// many were removed.
	ClearByPrefix(ctx context.Context, prefix string) (int, error)
}
