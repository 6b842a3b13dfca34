package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// LRUStore is a thread-safe LRU entry store with per-entry TTL. It is the
// default backend and never reports itself unavailable.
type LRUStore struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
}

type lruEntry struct {
	key       string
	result    domain.RuleResult
	expiresAt time.Time
}

// NewLRUStore creates an LRU store bounded to maxSize entries.
func NewLRUStore(maxSize int) *LRUStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUStore{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get retrieves a cached result. Expired entries are dropped on access.
func (s *LRUStore) Get(ctx context.Context, key string) (*domain.RuleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		s.removeElement(elem)
		return nil, nil
	}

	s.order.MoveToFront(elem)
	res := entry.result
	return &res, nil
}

// Set stores a result with the given TTL, evicting least-recently-used
// entries past capacity.
func (s *LRUStore) Set(ctx context.Context, key string, res *domain.RuleResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		s.order.MoveToFront(elem)
		entry := elem.Value.(*lruEntry)
		entry.result = *res
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	entry := &lruEntry{
		key:       key,
		result:    *res,
		expiresAt: time.Now().Add(ttl),
	}
	elem := s.order.PushFront(entry)
	s.items[key] = elem

	for s.order.Len() > s.maxSize {
		s.removeOldest()
	}

	return nil
}

// Ping reports store health; the in-memory store is always healthy.
func (s *LRUStore) Ping(ctx context.Context) error {
	return nil
}

// Close releases all entries.
func (s *LRUStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*list.Element)
	s.order = list.New()
	return nil
}

// Stats returns current size and capacity.
func (s *LRUStore) Stats() (size int, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len(), s.maxSize
}

func (s *LRUStore) removeElement(elem *list.Element) {
	s.order.Remove(elem)
	entry := elem.Value.(*lruEntry)
	delete(s.items, entry.key)
}

func (s *LRUStore) removeOldest() {
	if elem := s.order.Back(); elem != nil {
		s.removeElement(elem)
	}
}
