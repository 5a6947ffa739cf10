package cache

import (
	"context"
	"testing"
	"time"

	coreerrors "github.com/cuemby/workloadcore/pkg/errors"
	"github.com/cuemby/workloadcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	return context.Background()
}

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	if cfg.NumShards == 0 {
		cfg.NumShards = 4
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestSetGetDelete(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 100, MaxMemoryMB: 10})

	require.NoError(t, c.Set("alpha", "one", 60))
	v, ok, err := c.Get("alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	deleted, err := c.Delete("alpha")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = c.Get("alpha")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetExpiredEntryIsAMiss(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 100, MaxMemoryMB: 10})
	require.NoError(t, c.Set("k", "v", 0))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, ok, "an entry with ttl=0 should be expired by the time it's read")
}

func TestInvalidKeyAndTTLRejected(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 100, MaxMemoryMB: 10})

	err := c.Set("", "v", 60)
	require.Error(t, err)
	assert.ErrorIs(t, err, coreerrors.ErrInputValidation)

	err = c.Set("key", "v", -1)
	require.Error(t, err)
	assert.ErrorIs(t, err, coreerrors.ErrInputValidation)
}

// Scenario A (durability): entries written before a restart are
// recovered by replaying the WAL into a freshly constructed Cache
// pointed at the same directory.
func TestWALReplayRecoversStateAfterRestart(t *testing.T) {
	dir := t.TempDir()

	c1 := newTestCache(t, Config{MaxEntries: 1000, MaxMemoryMB: 50, EnableWAL: true, WALDir: dir})
	require.NoError(t, c1.Set("a", "1", 3600))
	require.NoError(t, c1.Set("b", "2", 3600))
	_, err := c1.Delete("a")
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2 := newTestCache(t, Config{MaxEntries: 1000, MaxMemoryMB: 50, EnableWAL: true, WALDir: dir})
	defer c2.Close()

	_, ok, err := c2.Get("a")
	require.NoError(t, err)
	assert.False(t, ok, "a was deleted before restart")

	v, ok, err := c2.Get("b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestReplayForcesImmediateWALDrainAndReportsCount(t *testing.T) {
	dir := t.TempDir()

	c1 := newTestCache(t, Config{MaxEntries: 1000, MaxMemoryMB: 50, EnableWAL: true, WALDir: dir})
	require.NoError(t, c1.Set("a", "1", 3600))
	require.NoError(t, c1.Set("b", "2", 3600))
	require.NoError(t, c1.Close())

	c2 := newTestCache(t, Config{MaxEntries: 1000, MaxMemoryMB: 50, EnableWAL: true, WALDir: dir})
	defer c2.Close()

	n, err := c2.Replay()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A second call must not re-replay or double the reported count.
	n2, err := c2.Replay()
	require.NoError(t, err)
	assert.Equal(t, 2, n2)
}

// Scenario B (bounded eviction): once MaxEntries is reached, Set evicts
// the coldest entry to make room rather than growing unbounded.
func TestSetEvictsUnderEntryBound(t *testing.T) {
	c := newTestCache(t, Config{NumShards: 1, MaxEntries: 2, MaxMemoryMB: 50})

	require.NoError(t, c.Set("first", "v", 3600))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Set("second", "v", 3600))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Set("third", "v", 3600))

	assert.LessOrEqual(t, c.Size(), 2)
	_, ok, _ := c.Get("first")
	assert.False(t, ok, "the oldest entry should have been evicted to admit the new one")
}

// Scenario C (snapshot round-trip): a snapshot taken from one Cache can
// be restored into another and reproduces the same live entries.
func TestSnapshotRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c1 := newTestCache(t, Config{MaxEntries: 100, MaxMemoryMB: 10, SnapshotDir: dir})

	require.NoError(t, c1.Set("x", map[string]interface{}{"n": float64(1)}, 3600))
	require.NoError(t, c1.Set("y", "hello", 3600))

	path, err := c1.Snapshot()
	require.NoError(t, err)
	require.NotEmpty(t, path)

	c2 := newTestCache(t, Config{MaxEntries: 100, MaxMemoryMB: 10, SnapshotDir: dir})
	require.NoError(t, c2.Restore(path))

	v, ok, err := c2.Get("x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"n": float64(1)}, v)

	v, ok, err = c2.Get("y")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestRollbackAppliesInverseOperationsInReverseOrder(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 100, MaxMemoryMB: 10})

	require.NoError(t, c.Set("k", "original", 3600))

	recordedOps := []types.RecordedOp{
		{Operation: types.WALOpSet, Key: "k", PreviousValue: "original", PreviousTTL: 3600, HadPrevious: true},
	}
	require.NoError(t, c.Set("k", "updated", 3600))

	require.NoError(t, c.Rollback(recordedOps))

	v, ok, _ := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "original", v)
}

func TestHealthCheckReportsHealthyOnFreshCache(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 100, MaxMemoryMB: 10})
	c.Start(testContext())
	defer c.Stop()

	result := c.HealthCheck()
	assert.Equal(t, HealthHealthy, result.Kind)
}

func TestHealthCheckDetectsStoppedCleanupLoop(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 100, MaxMemoryMB: 10})
	c.Start(testContext())
	c.Stop()

	result := c.HealthCheck()
	assert.Equal(t, HealthError, result.Kind)
}

func TestShardHashIsDeterministic(t *testing.T) {
	a := shardFor("same-key", 8)
	b := shardFor("same-key", 8)
	assert.Equal(t, a, b)
}
