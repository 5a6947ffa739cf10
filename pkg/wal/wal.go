package wal

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	coreerrors "github.com/cuemby/workloadcore/pkg/errors"
	"github.com/cuemby/workloadcore/pkg/log"
	"github.com/cuemby/workloadcore/pkg/metrics"
	"github.com/cuemby/workloadcore/pkg/types"
)

// Applier is invoked once per valid entry during Replay. It must not call
// Log itself — replay is expected to install state directly.
type Applier func(op types.WALOperation, key string, value types.Value, ttl *float64) error

// Config configures a WAL instance.
type Config struct {
	// Dir is the segment directory. Created if missing.
	Dir string
	// MaxSegmentBytes is the rotation threshold. A non-positive value
	// disables rotation (a single ever-growing segment).
	MaxSegmentBytes int64
}

// segmentRecord is the on-disk shape of a WALEntry; Checksum is computed
// over the JSON encoding of every other field.
type segmentRecord struct {
	Operation types.WALOperation `json:"operation"`
	Key       string             `json:"key"`
	Value     types.Value        `json:"value,omitempty"`
	TTL       *float64           `json:"ttl,omitempty"`
	Timestamp float64            `json:"timestamp"`
	Checksum  string             `json:"checksum"`
}

// WAL is an append-only, checksummed, segment-rotated write-ahead log.
// All public operations serialize on a single mutex: appends must be
// strictly ordered and fsync must never race with rotation.
type WAL struct {
	mu              sync.Mutex
	dir             string
	maxSegmentBytes int64

	currentPath string
	currentSize int64
	file        *os.File
	writer      *bufio.Writer
}

// New opens (creating if necessary) the WAL directory and prepares for
// appends. It does not create a segment file until the first Log call.
func New(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "create wal directory", err)
	}
	return &WAL{
		dir:             cfg.Dir,
		maxSegmentBytes: cfg.MaxSegmentBytes,
	}, nil
}

// Log appends entry, fsyncs, and returns once the OS reports the write
// durable. Callers MUST treat a non-nil error as a failed mutation.
func (w *WAL) Log(op types.WALOperation, key string, value types.Value, ttl *float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := segmentRecord{
		Operation: op,
		Key:       key,
		Value:     value,
		TTL:       ttl,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}
	rec.Checksum = checksum(rec)

	line, err := json.Marshal(rec)
	if err != nil {
		return coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "marshal wal entry", err)
	}
	line = append(line, '\n')

	if err := w.rotateIfNeededLocked(int64(len(line))); err != nil {
		return err
	}
	if err := w.ensureOpenLocked(); err != nil {
		return err
	}

	timer := metrics.NewTimer()
	n, err := w.writer.Write(line)
	if err != nil {
		return coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "write wal entry", err)
	}
	if err := w.writer.Flush(); err != nil {
		return coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "flush wal entry", err)
	}
	if err := w.file.Sync(); err != nil {
		return coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "fsync wal entry", err)
	}
	timer.ObserveDuration(metrics.WALAppendDuration)
	metrics.WALAppendsTotal.WithLabelValues(string(op)).Inc()

	w.currentSize += int64(n)
	return nil
}

func (w *WAL) rotateIfNeededLocked(nextWriteLen int64) error {
	if w.file == nil {
		return nil
	}
	if w.maxSegmentBytes <= 0 {
		return nil
	}
	if w.currentSize+nextWriteLen < w.maxSegmentBytes && w.currentSize < w.maxSegmentBytes {
		return nil
	}
	if err := w.closeCurrentLocked(); err != nil {
		return err
	}
	metrics.WALSegmentsRotatedTotal.Inc()
	return nil
}

func (w *WAL) ensureOpenLocked() error {
	if w.file != nil {
		return nil
	}
	ts := time.Now().UnixNano()
	for {
		path := filepath.Join(w.dir, fmt.Sprintf("wal_%d.log", ts))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "open wal segment", err)
			}
			w.file = f
			w.writer = bufio.NewWriter(f)
			w.currentPath = path
			w.currentSize = 0
			return nil
		}
		ts++
	}
}

func (w *WAL) closeCurrentLocked() error {
	if w.file == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "flush wal segment on rotate", err)
	}
	err := w.file.Close()
	w.file = nil
	w.writer = nil
	if err != nil {
		return coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "close wal segment", err)
	}
	return nil
}

// Replay iterates every segment in mtime order, verifying each record's
// checksum and invoking applier for each valid one. It returns the count
// of applied entries. It holds the WAL's lock for the whole replay, so
// concurrent Log calls wait until it returns.
func (w *WAL) Replay(applier Applier) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	segments, err := w.segmentsByMtimeLocked()
	if err != nil {
		return 0, err
	}

	applied := 0
	timer := metrics.NewTimer()
	for _, path := range segments {
		n, err := replaySegment(path, applier)
		applied += n
		if err != nil {
			return applied, err
		}
	}
	timer.ObserveDuration(metrics.WALReplayDuration)
	return applied, nil
}

func replaySegment(path string, applier Applier) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "open wal segment for replay", err)
	}
	defer f.Close()

	applied := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec segmentRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Logger.Warn().Err(err).Str("segment", path).Msg("wal: skipping malformed record")
			metrics.WALIntegrityFailuresTotal.Inc()
			continue
		}
		want := rec.Checksum
		rec.Checksum = ""
		got := checksum(rec)
		if got != want {
			log.Logger.Warn().Str("segment", path).Str("key", rec.Key).Msg("wal: checksum mismatch, skipping")
			metrics.WALIntegrityFailuresTotal.Inc()
			continue
		}
		if err := applier(rec.Operation, rec.Key, rec.Value, rec.TTL); err != nil {
			log.Logger.Warn().Err(err).Str("segment", path).Str("key", rec.Key).Msg("wal: applier failed, continuing")
			continue
		}
		applied++
	}
	if err := scanner.Err(); err != nil {
		return applied, coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "scan wal segment", err)
	}
	return applied, nil
}

// Cleanup deletes segments whose mtime is older than retention.
func (w *WAL) Cleanup(retention time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "read wal directory", err)
	}
	cutoff := time.Now().Add(-retention)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if path == w.currentPath {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				log.Logger.Warn().Err(err).Str("segment", path).Msg("wal: cleanup failed to remove segment")
			}
		}
	}
	return nil
}

func (w *WAL) segmentsByMtimeLocked() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrDurabilityFailure, "read wal directory", err)
	}
	type seg struct {
		path  string
		mtime time.Time
	}
	var segs []seg
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		segs = append(segs, seg{path: filepath.Join(w.dir, e.Name()), mtime: info.ModTime()})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].mtime.Before(segs[j].mtime) })
	paths := make([]string, len(segs))
	for i, s := range segs {
		paths[i] = s.path
	}
	return paths, nil
}

// Close closes the current segment's writer. Idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeCurrentLocked()
}

func checksum(rec segmentRecord) string {
	rec.Checksum = ""
	b, _ := json.Marshal(rec)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
