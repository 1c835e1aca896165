package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	version   int64
	expiresAt time.Time // zero = never
}

// Memory is an in-process Store used in development and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memoryEntry), now: time.Now}
}

// SetNow overrides the expiry clock; tests use it to force TTL lapses.
func (m *Memory) SetNow(now func() time.Time) { m.now = now }

func (m *Memory) live(e *memoryEntry) bool {
	return e.expiresAt.IsZero() || m.now().Before(e.expiresAt)
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || !m.live(e) {
		return nil, 0, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, e.version, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if ok && !m.live(e) {
		delete(m.entries, key)
		e, ok = nil, false
	}

	switch {
	case opts.IfVersion == AnyVersion:
	case opts.IfVersion == NoVersion && ok:
		return ErrVersionConflict
	case opts.IfVersion > 0 && (!ok || e.version != opts.IfVersion):
		return ErrVersionConflict
	}

	var version int64 = 1
	if ok {
		version = e.version + 1
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	var expires time.Time
	if opts.TTL > 0 {
		expires = m.now().Add(opts.TTL)
	}
	m.entries[key] = &memoryEntry{value: stored, version: version, expiresAt: expires}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) && m.live(e) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
