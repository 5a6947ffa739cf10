package knowledge

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/workloadcore/pkg/log"
	"github.com/cuemby/workloadcore/pkg/types"
)

// EntityProber computes the set of SyncChanges for one external entity
// kind (job, job_stream, workstation, ...) observed since watermark.
// An empty/zero watermark means "no prior sync": a full probe, whose
// results should all be reported as SyncCreate.
type EntityProber interface {
	Kind() string
	Probe(ctx context.Context, since time.Time) ([]types.SyncChange, error)
}

// SyncCallback is invoked, in order, once per non-empty sync pass with
// the full batch of changes that pass produced.
type SyncCallback func([]types.SyncChange) error

// SyncStats reports SyncManager's run history.
type SyncStats struct {
	Runs          int64
	LastRunAt     time.Time
	LastRunDur    time.Duration
	CountByChange map[types.SyncChangeType]int64
}

// SyncManager is the KGSyncManager: it polls a set of EntityProbers
// for deltas against a monotonically advancing watermark, applies each
// delta to a Graph, and fans the resulting SyncChanges out to
// registered callbacks.
//
// The watermark only advances once a sync pass's probes all succeed;
// a partial failure leaves it where it was so the next pass re-probes
// the same window. With no watermark (first run), every prober is
// asked to report its full current state, which is persisted as
// SyncCreate changes before switching to delta mode.
//
// Per-entity-kind probing fans out with errgroup, grounded on
// google-skia-buildbot's golden-go-ingestion tryjob processor
// (errgroup.WithContext over independent per-table batch writes); the
// outer poll loop is grounded on
// cuemby-warren/pkg/reconciler/reconciler.go's ticker+stopCh loop.
type SyncManager struct {
	graph   *Graph
	probers []EntityProber

	mu        sync.Mutex
	watermark time.Time
	callbacks []SyncCallback
	stats     SyncStats

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// NewSyncManager constructs a SyncManager over graph, polling probers
// at interval when run in the background.
func NewSyncManager(graph *Graph, probers []EntityProber, interval time.Duration) *SyncManager {
	return &SyncManager{
		graph:    graph,
		probers:  probers,
		interval: interval,
		stats:    SyncStats{CountByChange: make(map[types.SyncChangeType]int64)},
	}
}

// RegisterCallback appends cb to the list invoked once per non-empty
// sync pass.
func (m *SyncManager) RegisterCallback(cb SyncCallback) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
}

// SyncNow runs one synchronization pass: it probes every registered
// EntityProber (in parallel) since the current watermark, applies the
// resulting changes to the graph, invokes every callback once with the
// full batch if the batch is non-empty, and advances the watermark if
// every prober succeeded.
func (m *SyncManager) SyncNow(ctx context.Context) ([]types.SyncChange, error) {
	m.mu.Lock()
	since := m.watermark
	firstRun := since.IsZero()
	callbacks := append([]SyncCallback(nil), m.callbacks...)
	m.mu.Unlock()

	start := time.Now()
	results := make([][]types.SyncChange, len(m.probers))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, prober := range m.probers {
		i, prober := i, prober
		eg.Go(func() error {
			changes, err := prober.Probe(egCtx, since)
			if err != nil {
				return err
			}
			if firstRun {
				for j := range changes {
					changes[j].ChangeType = types.SyncCreate
				}
			}
			results[i] = changes
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		log.Logger.Error().Err(err).Msg("knowledge: sync pass failed, watermark not advanced")
		return nil, err
	}

	var all []types.SyncChange
	for _, changes := range results {
		all = append(all, changes...)
	}

	for _, change := range all {
		if err := m.applyChange(change); err != nil {
			log.Logger.Warn().Err(err).Str("entity_id", change.EntityID).Msg("knowledge: failed to apply sync change")
		}
	}

	if len(all) > 0 {
		for _, cb := range callbacks {
			if err := cb(all); err != nil {
				log.Logger.Warn().Err(err).Msg("knowledge: sync callback failed")
			}
		}
	}

	m.mu.Lock()
	m.watermark = start
	m.stats.Runs++
	m.stats.LastRunAt = start
	m.stats.LastRunDur = time.Since(start)
	for _, change := range all {
		m.stats.CountByChange[change.ChangeType]++
	}
	m.mu.Unlock()

	return all, nil
}

func (m *SyncManager) applyChange(change types.SyncChange) error {
	nodeType := types.NodeType(change.EntityKind)
	switch change.ChangeType {
	case types.SyncCreate, types.SyncUpdate:
		return m.graph.AddNode(change.EntityID, nodeType, change.NewProps)
	case types.SyncDelete:
		return m.graph.RemoveNode(change.EntityID)
	default:
		return nil
	}
}

// Stats returns a snapshot of run history.
func (m *SyncManager) Stats() SyncStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.stats
	stats.CountByChange = make(map[types.SyncChangeType]int64, len(m.stats.CountByChange))
	for k, v := range m.stats.CountByChange {
		stats.CountByChange[k] = v
	}
	return stats
}

// Start launches a background loop that calls SyncNow every interval.
func (m *SyncManager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop stops the background loop started by Start, if any, and waits
// for it to exit.
func (m *SyncManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stopCh := m.stopCh
	m.running = false
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()
}

func (m *SyncManager) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.SyncNow(ctx); err != nil {
				log.Logger.Error().Err(err).Msg("knowledge: background sync cycle failed")
			}
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}
