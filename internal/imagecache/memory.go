package imagecache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend keeps entries in a map plus a slice ordered by CreatedAt,
// so expiry sweeps only touch the expired prefix.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]Entry
	byTime  []string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: map[string]Entry{}}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryBackend) Put(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.Key]; ok {
		m.removeIndexLocked(e.Key)
	}
	m.entries[e.Key] = e
	i := sort.Search(len(m.byTime), func(i int) bool {
		return m.entries[m.byTime[i]].CreatedAt.After(e.CreatedAt)
	})
	m.byTime = append(m.byTime, "")
	copy(m.byTime[i+1:], m.byTime[i:])
	m.byTime[i] = e.Key
	return nil
}

func (m *MemoryBackend) removeIndexLocked(key string) {
	for i, k := range m.byTime {
		if k == key {
			m.byTime = append(m.byTime[:i], m.byTime[i+1:]...)
			return
		}
	}
}

func (m *MemoryBackend) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := sort.Search(len(m.byTime), func(i int) bool {
		return !m.entries[m.byTime[i]].CreatedAt.Before(cutoff)
	})
	for _, k := range m.byTime[:n] {
		delete(m.entries, k)
	}
	m.byTime = append([]string(nil), m.byTime[n:]...)
	return n, nil
}

// Len reports the number of stored entries.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
