package cache

import (
	"container/list"
	"context"
	"sync"

	"policyrag/internal/domain"
)

type lruItem struct {
	key   string
	entry domain.CacheEntry
}

// Memory is an in-process LRU cache.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int
}

// NewMemory returns a cache holding at most maxSize entries; maxSize <= 0 means unbounded.
func NewMemory(maxSize int) *Memory {
	return &Memory{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

func (m *Memory) Get(_ context.Context, question, context string) (domain.CacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[Key(question, context)]
	if !ok {
		return domain.CacheEntry{}, false, nil
	}
	m.lru.MoveToFront(el)
	return el.Value.(*lruItem).entry, true, nil
}

func (m *Memory) Put(_ context.Context, entry domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(entry.Question, entry.Context)
	if el, ok := m.entries[key]; ok {
		el.Value.(*lruItem).entry = entry
		m.lru.MoveToFront(el)
		return nil
	}
	if m.maxSize > 0 && m.lru.Len() >= m.maxSize {
		if oldest := m.lru.Back(); oldest != nil {
			m.lru.Remove(oldest)
			delete(m.entries, oldest.Value.(*lruItem).key)
		}
	}
	m.entries[key] = m.lru.PushFront(&lruItem{key: key, entry: entry})
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}
