package knowledge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/workloadcore/pkg/types"
)

type fakeProber struct {
	kind    string
	changes []types.SyncChange
	err     error
	calls   int
	mu      sync.Mutex
}

func (p *fakeProber) Kind() string { return p.kind }

func (p *fakeProber) Probe(ctx context.Context, since time.Time) ([]types.SyncChange, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.changes, nil
}

func TestSyncNowFirstRunReportsEverythingAsCreate(t *testing.T) {
	g := newTestGraph(t)
	prober := &fakeProber{kind: "job", changes: []types.SyncChange{
		{ChangeType: types.SyncUpdate, EntityKind: "job", EntityID: "BATCH_A", NewProps: map[string]interface{}{"owner": "ops"}},
	}}
	m := NewSyncManager(g, []EntityProber{prober}, time.Hour)

	changes, err := m.SyncNow(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, types.SyncCreate, changes[0].ChangeType)

	g.mu.RLock()
	node, ok := g.nodes["BATCH_A"]
	g.mu.RUnlock()
	require.True(t, ok)
	assert.Equal(t, "ops", node.Properties["owner"])
}

func TestSyncNowAppliesCreateAndUpdateAsUpsert(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddNode("BATCH_A", types.NodeJob, nil))

	prober := &fakeProber{kind: "job", changes: []types.SyncChange{
		{ChangeType: types.SyncUpdate, EntityKind: "job", EntityID: "BATCH_A", NewProps: map[string]interface{}{"priority": "high"}},
	}}
	m := NewSyncManager(g, []EntityProber{prober}, time.Hour)
	m.watermark = time.Now().Add(-time.Hour) // simulate a prior successful sync

	_, err := m.SyncNow(context.Background())
	require.NoError(t, err)

	g.mu.RLock()
	node := g.nodes["BATCH_A"]
	g.mu.RUnlock()
	assert.Equal(t, "high", node.Properties["priority"])
}

func TestSyncNowAppliesDelete(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.AddNode("BATCH_A", types.NodeJob, nil))

	prober := &fakeProber{kind: "job", changes: []types.SyncChange{
		{ChangeType: types.SyncDelete, EntityKind: "job", EntityID: "BATCH_A"},
	}}
	m := NewSyncManager(g, []EntityProber{prober}, time.Hour)
	m.watermark = time.Now().Add(-time.Hour)

	_, err := m.SyncNow(context.Background())
	require.NoError(t, err)

	g.mu.RLock()
	_, ok := g.nodes["BATCH_A"]
	g.mu.RUnlock()
	assert.False(t, ok)
}

func TestSyncNowDoesNotAdvanceWatermarkOnProbeFailure(t *testing.T) {
	g := newTestGraph(t)
	prober := &fakeProber{kind: "job", err: errors.New("external scheduler unreachable")}
	m := NewSyncManager(g, []EntityProber{prober}, time.Hour)

	before := m.watermark
	_, err := m.SyncNow(context.Background())
	assert.Error(t, err)
	assert.Equal(t, before, m.watermark)
}

func TestSyncNowInvokesCallbacksWithBatchAndContinuesPastCallbackError(t *testing.T) {
	g := newTestGraph(t)
	prober := &fakeProber{kind: "job", changes: []types.SyncChange{
		{ChangeType: types.SyncCreate, EntityKind: "job", EntityID: "BATCH_A"},
		{ChangeType: types.SyncCreate, EntityKind: "job", EntityID: "BATCH_B"},
	}}
	m := NewSyncManager(g, []EntityProber{prober}, time.Hour)

	var seen []string
	m.RegisterCallback(func(changes []types.SyncChange) error {
		for _, c := range changes {
			seen = append(seen, c.EntityID)
		}
		return errors.New("downstream notification failed")
	})

	_, err := m.SyncNow(context.Background())
	require.NoError(t, err, "a callback error must not fail the sync pass")
	assert.Equal(t, []string{"BATCH_A", "BATCH_B"}, seen)
}

func TestSyncNowSkipsCallbacksOnEmptyCycle(t *testing.T) {
	g := newTestGraph(t)
	prober := &fakeProber{kind: "job"}
	m := NewSyncManager(g, []EntityProber{prober}, time.Hour)

	calls := 0
	m.RegisterCallback(func(changes []types.SyncChange) error { calls++; return nil })

	_, err := m.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, calls, "an empty sync cycle must not invoke callbacks")
}

func TestStatsCountsByChangeType(t *testing.T) {
	g := newTestGraph(t)
	prober := &fakeProber{kind: "job", changes: []types.SyncChange{
		{ChangeType: types.SyncCreate, EntityKind: "job", EntityID: "BATCH_A"},
		{ChangeType: types.SyncCreate, EntityKind: "job", EntityID: "BATCH_B"},
	}}
	m := NewSyncManager(g, []EntityProber{prober}, time.Hour)

	_, err := m.SyncNow(context.Background())
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, int64(2), stats.CountByChange[types.SyncCreate])
}

func TestStartStopSyncLoopIsIdempotent(t *testing.T) {
	g := newTestGraph(t)
	prober := &fakeProber{kind: "job"}
	m := NewSyncManager(g, []EntityProber{prober}, 40*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	m.Start(ctx) // no-op second call
	time.Sleep(100 * time.Millisecond)
	m.Stop()
	m.Stop() // no-op second call

	prober.mu.Lock()
	calls := prober.calls
	prober.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 1)
}
