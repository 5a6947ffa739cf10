package cache

import (
	"sync"

	"github.com/cuemby/workloadcore/pkg/types"
)

// shard is a keyed mapping from string keys to CacheEntry, guarded by
// its own mutex. It implements pkg/memory.ShardAccessor so the
// MemoryManager can inspect and evict from it without this package
// creating a dependency cycle.
type shard struct {
	mu      sync.RWMutex
	index   int
	entries map[string]*types.CacheEntry
}

func newShard(index int) *shard {
	return &shard{index: index, entries: make(map[string]*types.CacheEntry)}
}

func (s *shard) get(key string) (*types.CacheEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

func (s *shard) set(key string, entry *types.CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
}

func (s *shard) delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

func (s *shard) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*types.CacheEntry)
}

// Len implements memory.ShardAccessor.
func (s *shard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot implements memory.ShardAccessor.
func (s *shard) Snapshot() map[string]*types.CacheEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*types.CacheEntry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Evict implements memory.ShardAccessor.
func (s *shard) Evict(key string) (*types.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	return e, ok
}
