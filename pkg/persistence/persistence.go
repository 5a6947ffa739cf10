// Package persistence implements the PersistenceManager: creating,
// restoring, listing, and pruning point-in-time JSON snapshots of the
// cache, grounded on the teacher's raft.SnapshotSink-based FSM snapshot
// envelope (cuemby-warren/pkg/manager/fsm.go's WarrenSnapshot) but
// reused here for on-demand, non-Raft snapshots.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	coreerrors "github.com/cuemby/workloadcore/pkg/errors"
	"github.com/cuemby/workloadcore/pkg/log"
	"github.com/cuemby/workloadcore/pkg/types"
)

const schemaVersion = "1.0"

// maxRestoreAge is the oldest a snapshot may be and still be restorable.
const maxRestoreAge = time.Hour

// Config configures a Manager.
type Config struct {
	// Dir is the snapshot directory. Created if missing.
	Dir string
}

// Manager creates, restores, lists, and prunes snapshot files.
type Manager struct {
	dir string
}

// New creates a Manager, creating Dir if it does not exist.
func New(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "create snapshot directory", err)
	}
	return &Manager{dir: cfg.Dir}, nil
}

// Info describes one snapshot file as returned by List.
type Info struct {
	Path         string
	CreatedAt    time.Time
	TotalEntries int
	SizeBytes    int64
}

// Snapshot writes view to a timestamped file and returns its path.
func (m *Manager) Snapshot(view map[string]map[string]types.SnapshotEntry) (string, error) {
	total := 0
	for _, shard := range view {
		total += len(shard)
	}

	doc := types.Snapshot{
		Metadata: types.SnapshotMetadata{
			CreatedAt:    float64(time.Now().UnixNano()) / 1e9,
			TotalEntries: total,
			Version:      schemaVersion,
		},
		Shards: view,
	}

	path := filepath.Join(m.dir, fmt.Sprintf("cache_snapshot_%d.json", time.Now().Unix()))
	f, err := os.Create(path)
	if err != nil {
		return "", coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "create snapshot file", err)
	}
	defer f.Close()

	if err := encodeSnapshot(f, doc); err != nil {
		return "", coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "write snapshot file", err)
	}
	if err := f.Sync(); err != nil {
		return "", coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "fsync snapshot file", err)
	}
	return path, nil
}

// encodeSnapshot writes the JSON wire shape: a flat object with "_metadata"
// plus one "shard_<n>" key per shard.
func encodeSnapshot(f *os.File, doc types.Snapshot) error {
	wire := make(map[string]interface{}, len(doc.Shards)+1)
	wire["_metadata"] = doc.Metadata
	for shardKey, entries := range doc.Shards {
		wire[shardKey] = entries
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(wire)
}

// parseSnapshotFile reads and JSON-validates the document at path
// without enforcing the restore-age cutoff, so List can report metadata
// for snapshots too old to restore.
func parseSnapshotFile(path string) (*types.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "read snapshot file", err)
	}

	var wire map[string]json.RawMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrIntegrityFailure, "snapshot is not a JSON object", err)
	}

	metaRaw, ok := wire["_metadata"]
	if !ok {
		return nil, coreerrors.Wrap(coreerrors.ErrIntegrityFailure, "snapshot missing _metadata", nil)
	}
	var meta types.SnapshotMetadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrIntegrityFailure, "snapshot _metadata malformed", err)
	}
	if meta.TotalEntries < 0 {
		return nil, coreerrors.Wrap(coreerrors.ErrIntegrityFailure, "snapshot total_entries is negative", nil)
	}

	shards := make(map[string]map[string]types.SnapshotEntry)
	for key, raw := range wire {
		if key == "_metadata" {
			continue
		}
		if !strings.HasPrefix(key, "shard_") {
			log.Logger.Warn().Str("key", key).Str("snapshot", path).Msg("persistence: skipping unknown top-level key")
			continue
		}
		var entries map[string]types.SnapshotEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			log.Logger.Warn().Err(err).Str("shard", key).Str("snapshot", path).Msg("persistence: skipping malformed shard")
			continue
		}
		shards[key] = entries
	}

	return &types.Snapshot{Metadata: meta, Shards: shards}, nil
}

// Restore reads and validates the snapshot at path, returning its
// parsed shard view. Snapshots older than maxRestoreAge are refused.
func (m *Manager) Restore(path string) (*types.Snapshot, error) {
	snap, err := parseSnapshotFile(path)
	if err != nil {
		return nil, err
	}
	created := time.Unix(0, int64(snap.Metadata.CreatedAt*1e9))
	if time.Since(created) > maxRestoreAge {
		return nil, coreerrors.Wrap(coreerrors.ErrIntegrityFailure, "snapshot is older than the restore cutoff", nil)
	}
	return snap, nil
}

// List enumerates snapshot files with metadata, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "read snapshot directory", err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "cache_snapshot_") {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		fi, err := e.Info()
		if err != nil {
			continue
		}
		createdAt := parseSnapshotTimestamp(e.Name(), fi.ModTime())
		total := -1
		if snap, err := parseSnapshotFile(path); err == nil {
			total = snap.Metadata.TotalEntries
		}
		infos = append(infos, Info{
			Path:         path,
			CreatedAt:    createdAt,
			TotalEntries: total,
			SizeBytes:    fi.Size(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

func parseSnapshotTimestamp(name string, fallback time.Time) time.Time {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "cache_snapshot_"), ".json")
	secs, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fallback
	}
	return time.Unix(secs, 0)
}

// Cleanup deletes snapshot files older than maxAge.
func (m *Manager) Cleanup(maxAge time.Duration) error {
	infos, err := m.List()
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, info := range infos {
		if info.CreatedAt.Before(cutoff) {
			if err := os.Remove(info.Path); err != nil {
				log.Logger.Warn().Err(err).Str("snapshot", info.Path).Msg("persistence: cleanup failed to remove snapshot")
			}
		}
	}
	return nil
}
