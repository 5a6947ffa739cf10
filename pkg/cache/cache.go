// Package cache implements the ShardedTTLCache, the core's central
// component: a concurrent, sharded, TTL'd key-value store backed by a
// write-ahead log for durability, a MemoryManager for admission and
// eviction, and a PersistenceManager for point-in-time snapshots. The
// cache holds no TransactionManager; multi-key undo is Rollback over
// operations the caller recorded and passes in.
//
// Sharding and the background cleanup loop are grounded on the
// teacher's bucket-per-entity BoltDB store (cuemby-warren/pkg/storage/
// boltdb.go, generalized from bucket-per-entity to shard-per-hash) and
// its ticker-driven, stopCh-cancellable reconciliation loop
// (cuemby-warren/pkg/reconciler/reconciler.go).
package cache

import (
	"context"
	"sync"
	"time"

	coreerrors "github.com/cuemby/workloadcore/pkg/errors"
	"github.com/cuemby/workloadcore/pkg/log"
	"github.com/cuemby/workloadcore/pkg/memory"
	"github.com/cuemby/workloadcore/pkg/metrics"
	"github.com/cuemby/workloadcore/pkg/persistence"
	"github.com/cuemby/workloadcore/pkg/types"
	"github.com/cuemby/workloadcore/pkg/wal"
	"golang.org/x/sync/errgroup"
)

// hotHitRateThreshold, hotAccessThreshold and warmingCapSeconds bound the
// adaptive-TTL warming loop.
const (
	hotHitRateThreshold = 0.5
	hotAccessThreshold  = 10
	warmingCapSeconds   = 24 * 60 * 60
)

// Config configures a Cache.
type Config struct {
	NumShards           int
	DefaultTTLSeconds    float64
	CleanupInterval      time.Duration
	WarmingInterval      time.Duration
	MaxEntries           int
	MaxMemoryMB          int
	ParanoiaMode         bool
	EnableWAL            bool
	WALDir               string
	WALMaxSegmentBytes   int64
	WALRetention         time.Duration
	SnapshotDir          string
	SnapshotRetention    time.Duration
}

// Cache is the ShardedTTLCache.
type Cache struct {
	shards []*shard
	mem    *memory.Manager

	wal         *wal.WAL
	persist     *persistence.Manager
	replayOnce  sync.Once
	replayCount int
	replayErr   error

	cleanupInterval time.Duration
	warmingInterval time.Duration
	walRetention    time.Duration
	snapshotRetain  time.Duration

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New constructs a Cache from cfg but does not start its background
// loops; call Start for that.
func New(cfg Config) (*Cache, error) {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 16
	}
	shards := make([]*shard, cfg.NumShards)
	for i := range shards {
		shards[i] = newShard(i)
	}

	mem := memory.New(memory.Config{
		MaxEntries:   cfg.MaxEntries,
		MaxMemoryMB:  cfg.MaxMemoryMB,
		ParanoiaMode: cfg.ParanoiaMode,
	})

	c := &Cache{
		shards:          shards,
		mem:             mem,
		cleanupInterval: cfg.CleanupInterval,
		warmingInterval: cfg.WarmingInterval,
		walRetention:    cfg.WALRetention,
		snapshotRetain:  cfg.SnapshotRetention,
		stopCh:          make(chan struct{}),
	}

	if cfg.EnableWAL {
		w, err := wal.New(wal.Config{Dir: cfg.WALDir, MaxSegmentBytes: cfg.WALMaxSegmentBytes})
		if err != nil {
			return nil, err
		}
		c.wal = w
	}

	if cfg.SnapshotDir != "" {
		p, err := persistence.New(persistence.Config{Dir: cfg.SnapshotDir})
		if err != nil {
			return nil, err
		}
		c.persist = p
	}

	return c, nil
}

// shardAccessors returns the shards as memory.ShardAccessor values.
func (c *Cache) shardAccessors() []memory.ShardAccessor {
	out := make([]memory.ShardAccessor, len(c.shards))
	for i, s := range c.shards {
		out[i] = s
	}
	return out
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[shardFor(key, len(c.shards))]
}

// ensureReplayed drains the WAL into the cache exactly once, on first
// use after construction.
func (c *Cache) ensureReplayed() {
	if c.wal == nil {
		return
	}
	c.replayOnce.Do(func() {
		n, err := c.wal.Replay(func(op types.WALOperation, key string, value types.Value, ttl *float64) error {
			switch op {
			case types.WALOpSet:
				t := 0.0
				if ttl != nil {
					t = *ttl
				}
				return c.ApplyWALSet(key, value, t)
			case types.WALOpDelete, types.WALOpExpire:
				return c.ApplyWALDelete(key)
			}
			return nil
		})
		c.replayCount, c.replayErr = n, err
		if err != nil {
			log.Logger.Warn().Err(err).Msg("cache: wal replay encountered an error")
			return
		}
		log.Logger.Info().Int("entries", n).Msg("cache: wal replay complete")
	})
}

// Replay forces the one-time WAL replay to run immediately rather than
// lazily on first Get/Set/Delete, and reports how many entries it
// applied. Calling it more than once, or after replay has already
// happened lazily, is safe and returns the original result.
func (c *Cache) Replay() (int, error) {
	c.ensureReplayed()
	return c.replayCount, c.replayErr
}

// Get returns the stored value iff live. On a hit it refreshes the
// access time and increments the hit counter; on expiry it removes the
// entry and reports a miss.
func (c *Cache) Get(key string) (types.Value, bool, error) {
	c.ensureReplayed()
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return nil, false, nil
	}
	now := time.Now()
	if !entry.IsLive(now) {
		delete(s.entries, key)
		metrics.CacheMissesTotal.Inc()
		metrics.CacheEvictionsTotal.WithLabelValues("expired").Inc()
		return nil, false, nil
	}

	entry.AccessedAt = now
	entry.AccessCount++
	entry.HitCount++
	metrics.CacheHitsTotal.Inc()
	return entry.Value, true, nil
}

// Set installs key/value with the given TTL, WAL-logging first if WAL
// is enabled, then runs bounds-driven eviction excluding key. If bounds
// still fail after eviction, the newly inserted entry is removed and
// Set fails with a bounded-capacity error.
func (c *Cache) Set(key string, value types.Value, ttlSeconds float64) error {
	c.ensureReplayed()
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateTTL(ttlSeconds); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CacheSetDuration)

	if c.wal != nil {
		if err := c.wal.Log(types.WALOpSet, key, value, &ttlSeconds); err != nil {
			return coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "wal append on set", err)
		}
	}
	return c.installAndEvict(key, value, ttlSeconds)
}

// installAndEvict installs the entry then runs eviction excluding key;
// it never logs to the WAL, since that is the caller's responsibility.
func (c *Cache) installAndEvict(key string, value types.Value, ttlSeconds float64) error {
	now := time.Now()
	s := c.shardFor(key)
	s.set(key, &types.CacheEntry{
		Value:      value,
		CreatedAt:  now,
		TTLSeconds: ttlSeconds,
		AccessedAt: now,
	})

	c.mem.EvictToFit(c.shardAccessors(), key)

	if ok, _ := c.mem.CheckBounds(c.shardAccessors()); !ok {
		s.delete(key)
		return coreerrors.Wrap(coreerrors.ErrBoundedCapacity, "cache cannot admit entry within configured bounds", nil)
	}
	return nil
}

// ApplyWALSet is the applier counterpart of Set for WAL replay: same
// effect, but never re-logs.
func (c *Cache) ApplyWALSet(key string, value types.Value, ttlSeconds float64) error {
	return c.installAndEvict(key, value, ttlSeconds)
}

// Delete removes key from its owning shard, WAL-logging first if WAL is
// enabled. Returns whether the key was present.
func (c *Cache) Delete(key string) (bool, error) {
	c.ensureReplayed()
	if err := validateKey(key); err != nil {
		return false, err
	}
	if c.wal != nil {
		if err := c.wal.Log(types.WALOpDelete, key, nil, nil); err != nil {
			return false, coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "wal append on delete", err)
		}
	}
	return c.ApplyWALDelete(key), nil
}

// ApplyWALDelete is the applier counterpart of Delete for WAL replay.
func (c *Cache) ApplyWALDelete(key string) bool {
	return c.shardFor(key).delete(key)
}

// Clear empties all shards.
func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.clear()
	}
}

// Size returns the approximate total entry count, computed without
// per-shard locking.
func (c *Cache) Size() int {
	total := 0
	for _, s := range c.shards {
		total += len(s.entries)
	}
	return total
}

// CacheShardSizes implements metrics.Gauges: per-shard live entry
// counts, used by the periodic metrics collector.
func (c *Cache) CacheShardSizes() []int {
	sizes := make([]int, len(c.shards))
	for i, s := range c.shards {
		sizes[i] = s.Len()
	}
	return sizes
}

// Snapshot writes a point-in-time snapshot of all live entries and
// returns its path.
func (c *Cache) Snapshot() (string, error) {
	if c.persist == nil {
		return "", coreerrors.Wrap(coreerrors.ErrInputValidation, "snapshotting is not configured", nil)
	}
	now := time.Now()
	view := make(map[string]map[string]types.SnapshotEntry, len(c.shards))
	for _, s := range c.shards {
		entries := s.Snapshot()
		shardMap := make(map[string]types.SnapshotEntry)
		for k, e := range entries {
			if !e.IsLive(now) {
				continue
			}
			shardMap[k] = types.SnapshotEntry{
				Data:      e.Value,
				Timestamp: float64(e.CreatedAt.UnixNano()) / 1e9,
				TTL:       e.TTLSeconds,
			}
		}
		view[shardKeyName(s.index)] = shardMap
	}
	return c.persist.Snapshot(view)
}

// Restore loads the snapshot at path, then clears and refills the
// cache from it.
func (c *Cache) Restore(path string) error {
	if c.persist == nil {
		return coreerrors.Wrap(coreerrors.ErrInputValidation, "snapshotting is not configured", nil)
	}
	snap, err := c.persist.Restore(path)
	if err != nil {
		return err
	}

	c.Clear()
	for shardKey, entries := range snap.Shards {
		idx, ok := parseShardKeyName(shardKey)
		if !ok || idx < 0 || idx >= len(c.shards) {
			log.Logger.Warn().Str("shard_key", shardKey).Msg("cache: restore skipping out-of-range shard")
			continue
		}
		s := c.shards[idx]
		for key, e := range entries {
			s.set(key, &types.CacheEntry{
				Value:      e.Data,
				CreatedAt:  time.Unix(0, int64(e.Timestamp*1e9)),
				TTLSeconds: e.TTL,
				AccessedAt: time.Now(),
			})
		}
	}
	return nil
}

// Rollback applies the inverse of each recorded operation in reverse
// order, grouped by owning shard, and acquires shard locks in ascending
// shard-index order to match the cross-shard ordering discipline.
func (c *Cache) Rollback(ops []types.RecordedOp) error {
	byShard := make(map[int][]types.RecordedOp)
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		idx := shardFor(op.Key, len(c.shards))
		byShard[idx] = append(byShard[idx], op)
	}

	for idx := 0; idx < len(c.shards); idx++ {
		group, ok := byShard[idx]
		if !ok {
			continue
		}
		s := c.shards[idx]
		s.mu.Lock()
		for _, op := range group {
			if op.HadPrevious {
				s.entries[op.Key] = &types.CacheEntry{
					Value:      op.PreviousValue,
					CreatedAt:  time.Now(),
					TTLSeconds: op.PreviousTTL,
					AccessedAt: time.Now(),
				}
			} else {
				delete(s.entries, op.Key)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

func shardKeyName(index int) string {
	return "shard_" + itoa(index)
}

func parseShardKeyName(name string) (int, bool) {
	const prefix = "shard_"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, false
	}
	return atoiSafe(name[len(prefix):])
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func atoiSafe(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// Start launches the cleanup and adaptive-warming background loops.
func (c *Cache) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.cleanupLoop(ctx)
	if c.warmingInterval > 0 {
		c.wg.Add(1)
		go c.warmingLoop(ctx)
	}
}

// Stop signals the background loops to exit and waits for them.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Close stops background loops and closes the WAL's current segment.
func (c *Cache) Close() error {
	c.Stop()
	if c.wal != nil {
		return c.wal.Close()
	}
	return nil
}

func (c *Cache) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()
	interval := c.cleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.cleanupOnce(ctx); err != nil {
				log.Logger.Error().Err(err).Msg("cache: cleanup cycle failed")
			}
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanupOnce concurrently scans all shards, dropping entries whose
// TTL has elapsed, fanning out with errgroup so an error in one
// shard's scan doesn't stall the rest.
func (c *Cache) cleanupOnce(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	now := time.Now()
	for _, s := range c.shards {
		s := s
		g.Go(func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			for key, e := range s.entries {
				if !e.IsLive(now) {
					delete(s.entries, key)
					metrics.CacheEvictionsTotal.WithLabelValues("expired").Inc()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return coreerrors.Wrap(coreerrors.ErrFatal, "cleanup sweep failed", err)
	}
	return nil
}

// warmingLoop advisorily extends the TTL of hot in-memory entries. It
// never rewrites the WAL; the adjustment is local-only.
func (c *Cache) warmingLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.warmingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.warmOnce()
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) warmOnce() {
	for _, s := range c.shards {
		s.mu.Lock()
		for _, e := range s.entries {
			if e.HitRate() > hotHitRateThreshold && e.AccessCount > hotAccessThreshold && e.TTLSeconds < warmingCapSeconds {
				e.TTLSeconds = warmingCapSeconds
			}
		}
		s.mu.Unlock()
	}
}
