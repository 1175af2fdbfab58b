package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// Typed stores values of type T in a Cache using msgpack encoding. Keys are
// namespaced with Prefix.
type Typed[T any] struct {
	Cache  Cache
	Prefix string
	TTL    time.Duration
}

// Key returns the namespaced storage key for key.
func (t Typed[T]) Key(key string) string { return t.Prefix + key }

// Get decodes the value for key. A value that fails to decode is deleted
// and reported as ErrNotFound.
func (t Typed[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	data, err := t.Cache.Get(ctx, t.Key(key))
	if err != nil {
		return zero, err
	}
	var v T
	if err := msgpack.Unmarshal(data, &v); err != nil {
		_ = t.Cache.Delete(ctx, t.Key(key))
		return zero, ErrNotFound
	}
	return v, nil
}

// Set encodes and stores v under key.
func (t Typed[T]) Set(ctx context.Context, key string, v T) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return t.Cache.Set(ctx, t.Key(key), data, t.TTL)
}

// Clear removes every entry under Prefix.
func (t Typed[T]) Clear(ctx context.Context) (int, error) {
	return t.Cache.ClearByPrefix(ctx, t.Prefix)
}

// Loader is a read-through Typed cache. Concurrent misses on the same key
// share a single load.
type Loader[T any] struct {
	Typed[T]
	group singleflight.Group
}

// NewLoader creates a Loader over c.
func NewLoader[T any](c Cache, prefix string, ttl time.Duration) *Loader[T] {
	return &Loader[T]{Typed: Typed[T]{Cache: c, Prefix: prefix, TTL: ttl}}
}

// GetOrLoad returns the cached value for key, calling load on a miss. The
// loaded value is stored unless keep reports false for it. A nil keep
// stores every successful load.
func (l *Loader[T]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (T, error), keep func(T) bool) (T, bool, error) {
	if v, err := l.Get(ctx, key); err == nil {
		return v, true, nil
	}
	res, err, _ := l.group.Do(key, func() (any, error) {
		if v, err := l.Get(ctx, key); err == nil {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		if keep == nil || keep(v) {
			if err := l.Set(ctx, key, v); err != nil {
				slog.Warn("cache: store loaded value", "key", l.Key(key), "error", err)
			}
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	v, _ := res.(T)
	return v, false, nil
}
