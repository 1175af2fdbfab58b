package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a Memory cache created with a zero MaxEntries.
const DefaultMaxEntries = 1000

// MemoryOptions configures a Memory cache.
type MemoryOptions struct {
	// MaxEntries bounds the number of live entries. Least recently used
	// entries are evicted first.
	MaxEntries int

	// DefaultTTL applies when Set is called with a zero ttl. Zero means
	// entries never expire.
	DefaultTTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

type memEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// Memory is an in-memory LRU cache with per-entry TTL. It is safe for
// concurrent use.
type Memory struct {
	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	opts  MemoryOptions
}

// NewMemory creates a Memory cache. Pass a zero MemoryOptions for defaults.
func NewMemory(opts MemoryOptions) *Memory {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Memory{
		ll:    list.New(),
		items: make(map[string]*list.Element),
		opts:  opts,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	e := el.Value.(*memEntry)
	if !e.expires.IsZero() && !m.opts.Now().Before(e.expires) {
		m.removeElement(el)
		return nil, ErrNotFound
	}
	m.ll.MoveToFront(el)
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = m.opts.DefaultTTL
	}
	var expires time.Time
	if ttl > 0 {
		expires = m.opts.Now().Add(ttl)
	}
	cp := make([]byte, len(value))
	copy(cp, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		e := el.Value.(*memEntry)
		e.value = cp
		e.expires = expires
		m.ll.MoveToFront(el)
		return nil
	}
	m.items[key] = m.ll.PushFront(&memEntry{key: key, value: cp, expires: expires})
	for m.ll.Len() > m.opts.MaxEntries {
		m.removeElement(m.ll.Back())
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.removeElement(el)
	}
	return nil
}

func (m *Memory) ClearByPrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, el := range m.items {
		if strings.HasPrefix(key, prefix) {
			m.removeElement(el)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, including expired entries not
// yet collected.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

func (m *Memory) removeElement(el *list.Element) {
	m.ll.Remove(el)
	delete(m.items, el.Value.(*memEntry).key)
}
