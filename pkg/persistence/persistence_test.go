package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/workloadcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func view() map[string]map[string]types.SnapshotEntry {
	return map[string]map[string]types.SnapshotEntry{
		"shard_0": {
			"a": {Data: float64(1), Timestamp: 1.0, TTL: 60},
		},
		"shard_1": {
			"b": {Data: float64(2), Timestamp: 1.0, TTL: 60},
			"c": {Data: float64(3), Timestamp: 1.0, TTL: 60},
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	m, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)

	path, err := m.Snapshot(view())
	require.NoError(t, err)

	snap, err := m.Restore(path)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Metadata.TotalEntries)
	assert.Equal(t, "1.0", snap.Metadata.Version)
	assert.Equal(t, float64(1), snap.Shards["shard_0"]["a"].Data)
	assert.Equal(t, float64(3), snap.Shards["shard_1"]["c"].Data)
}

func TestRestoreRefusesSnapshotOlderThanCutoff(t *testing.T) {
	dir := t.TempDir()
	m, err := New(Config{Dir: dir})
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	wire := map[string]interface{}{
		"_metadata": types.SnapshotMetadata{
			CreatedAt:    float64(old.UnixNano()) / 1e9,
			TotalEntries: 0,
			Version:      "1.0",
		},
	}
	path := filepath.Join(dir, "cache_snapshot_1.json")
	data, err := json.Marshal(wire)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = m.Restore(path)
	assert.Error(t, err)
}

func TestRestoreSkipsUnknownTopLevelKeys(t *testing.T) {
	dir := t.TempDir()
	m, err := New(Config{Dir: dir})
	require.NoError(t, err)

	wire := map[string]interface{}{
		"_metadata": types.SnapshotMetadata{
			CreatedAt:    float64(time.Now().UnixNano()) / 1e9,
			TotalEntries: 1,
			Version:      "1.0",
		},
		"shard_0": map[string]types.SnapshotEntry{
			"a": {Data: "v", Timestamp: 1.0, TTL: 60},
		},
		"rogue_key": "unexpected",
	}
	path := filepath.Join(dir, "cache_snapshot_2.json")
	data, err := json.Marshal(wire)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	snap, err := m.Restore(path)
	require.NoError(t, err)
	assert.Len(t, snap.Shards, 1)
	assert.Contains(t, snap.Shards, "shard_0")
}

func TestListAndCleanup(t *testing.T) {
	dir := t.TempDir()
	m, err := New(Config{Dir: dir})
	require.NoError(t, err)

	path, err := m.Snapshot(view())
	require.NoError(t, err)

	infos, err := m.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, path, infos[0].Path)
	assert.Equal(t, 3, infos[0].TotalEntries)

	require.NoError(t, m.Cleanup(0))
	infos, err = m.List()
	require.NoError(t, err)
	assert.Empty(t, infos)
}
