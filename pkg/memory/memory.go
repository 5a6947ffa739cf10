// Package memory implements bounds checking and eviction-victim
// selection for the sharded cache: deciding when the cache is over
// capacity and which entries to remove to bring it back under bounds.
package memory

import (
	"encoding/json"
	"time"

	"github.com/cuemby/workloadcore/pkg/types"
)

// paranoiaMaxEntries and paranoiaMaxMemoryMB are the conservative bounds
// substituted when Config.ParanoiaMode is set.
const (
	paranoiaMaxEntries   = 10_000
	paranoiaMaxMemoryMB  = 10
	sampleSize           = 100
	fixedOverheadPerItem = 24 // timestamp + ttl + map/struct bookkeeping estimate
)

// Config configures a Manager's bounds.
type Config struct {
	MaxEntries   int
	MaxMemoryMB  int
	ParanoiaMode bool
}

// Manager decides whether the cache is within bounds and which entries
// to evict when it is not.
type Manager struct {
	maxEntries  int
	maxMemoryMB int
}

// New creates a Manager from cfg, applying paranoia-mode overrides.
func New(cfg Config) *Manager {
	maxEntries := cfg.MaxEntries
	maxMemoryMB := cfg.MaxMemoryMB
	if cfg.ParanoiaMode {
		maxEntries = paranoiaMaxEntries
		maxMemoryMB = paranoiaMaxMemoryMB
	}
	return &Manager{maxEntries: maxEntries, maxMemoryMB: maxMemoryMB}
}

// ShardAccessor is the minimal view a Manager needs of one cache shard.
// pkg/cache's shard type implements this; Manager never imports pkg/cache
// to avoid a cycle, since pkg/cache is the one that depends on pkg/memory.
type ShardAccessor interface {
	// Len returns the number of entries currently in the shard.
	Len() int
	// Snapshot returns a shallow copy of (key -> entry) for estimation
	// and scoring, taken under the shard's own lock.
	Snapshot() map[string]*types.CacheEntry
	// Evict removes key from the shard if present, returning the removed
	// entry and whether it was present.
	Evict(key string) (*types.CacheEntry, bool)
}

// CheckBounds reports whether the cache is within both the entry-count
// and estimated-memory bounds.
func (m *Manager) CheckBounds(shards []ShardAccessor) (ok bool, reason string) {
	total := totalEntries(shards)
	if total > m.maxEntries {
		return false, "entry count exceeds bound"
	}
	estBytes := m.estimateMemoryBytes(shards, total)
	if estBytes > int64(m.maxMemoryMB)*1024*1024 {
		return false, "estimated memory exceeds bound"
	}
	return true, ""
}

func totalEntries(shards []ShardAccessor) int {
	total := 0
	for _, s := range shards {
		total += s.Len()
	}
	return total
}

// estimateMemoryBytes samples up to sampleSize entries across shards,
// averages their estimated per-entry size, and scales by total entry
// count. If no entries can be sampled, estimation degenerates to 0 and
// CheckBounds falls back to the entry-count bound alone.
func (m *Manager) estimateMemoryBytes(shards []ShardAccessor, total int) int64 {
	if total == 0 {
		return 0
	}
	var sampled int
	var sumBytes int64
	for _, s := range shards {
		for key, entry := range s.Snapshot() {
			if sampled >= sampleSize {
				break
			}
			sumBytes += entryBytes(key, entry)
			sampled++
		}
		if sampled >= sampleSize {
			break
		}
	}
	if sampled == 0 {
		return 0
	}
	avg := sumBytes / int64(sampled)
	return avg * int64(total)
}

func entryBytes(key string, entry *types.CacheEntry) int64 {
	valBytes, err := json.Marshal(entry.Value)
	if err != nil {
		valBytes = []byte{}
	}
	return int64(len(key)) + int64(len(valBytes)) + fixedOverheadPerItem
}

// LRUKey returns the oldest-access key in shard, optionally skipping
// exclude. ok is false if the shard has no eligible key.
func (m *Manager) LRUKey(shard ShardAccessor, exclude string) (key string, ok bool) {
	var oldest time.Time
	found := false
	for k, e := range shard.Snapshot() {
		if k == exclude {
			continue
		}
		if !found || e.AccessedAt.Before(oldest) {
			key = k
			oldest = e.AccessedAt
			found = true
		}
	}
	return key, found
}

// EvictToFit removes entries across shards, preferring the highest
// eviction score, until CheckBounds holds again or the iteration cap
// (twice the shard count) is reached. exclude is never evicted. Returns
// the estimated bytes freed.
func (m *Manager) EvictToFit(shards []ShardAccessor, exclude string) (freedBytes int64) {
	iterCap := 2 * len(shards)
	now := time.Now()
	for i := 0; i < iterCap; i++ {
		if ok, _ := m.CheckBounds(shards); ok {
			return freedBytes
		}
		victimShard, victimKey, found := pickVictim(shards, exclude, now)
		if !found {
			return freedBytes
		}
		if entry, removed := victimShard.Evict(victimKey); removed {
			freedBytes += entryBytes(victimKey, entry)
		}
	}
	return freedBytes
}

// pickVictim scans every shard for the entry with the highest eviction
// score: score = idle_time * (2 - hit_rate) * size_weight.
func pickVictim(shards []ShardAccessor, exclude string, now time.Time) (shard ShardAccessor, key string, found bool) {
	var best float64
	for _, s := range shards {
		for k, e := range s.Snapshot() {
			if k == exclude {
				continue
			}
			idle := now.Sub(e.AccessedAt).Seconds()
			sizeWeight := float64(entryBytes(k, e))
			score := idle * (2 - e.HitRate()) * sizeWeight
			if !found || score > best {
				best = score
				shard = s
				key = k
				found = true
			}
		}
	}
	return shard, key, found
}
