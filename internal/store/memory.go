package store

import (
	"context"
	"path"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemKV is an in-memory KV with the same expiry semantics as the Redis
// backend. It serves tests and the degraded mode the server falls into when
// Redis is unreachable; records do not survive a restart.
type MemKV struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemKV() *MemKV {
	return &MemKV{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

func (m *MemKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	m.entries[key] = memEntry{value: buf, expiresAt: exp}
	return nil
}

func (m *MemKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.expired(e) {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(e.value))
	copy(buf, e.value)
	return buf, nil
}

func (m *MemKV) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemKV) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k, e := range m.entries {
		if m.expired(e) {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemKV) expired(e memEntry) bool {
	return !e.expiresAt.IsZero() && m.now().After(e.expiresAt)
}
