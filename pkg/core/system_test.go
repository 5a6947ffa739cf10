package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/workloadcore/pkg/audit"
	"github.com/cuemby/workloadcore/pkg/cache"
	"github.com/cuemby/workloadcore/pkg/events"
	"github.com/cuemby/workloadcore/pkg/feedback"
	"github.com/cuemby/workloadcore/pkg/health"
	"github.com/cuemby/workloadcore/pkg/transaction"
	"github.com/cuemby/workloadcore/pkg/types"
)

type fakeChecker struct {
	checkType health.CheckType
	healthy   bool
}

func (f *fakeChecker) Check(ctx context.Context) health.Result {
	return health.Result{Healthy: f.healthy, Message: "fake check", CheckedAt: time.Now()}
}

func (f *fakeChecker) Type() health.CheckType { return f.checkType }

type fakeBaseRetriever struct {
	candidates []feedback.Candidate
}

func (f *fakeBaseRetriever) Retrieve(query string, topK int, filters map[string]string) ([]feedback.Candidate, error) {
	return f.candidates, nil
}

func newTestConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		DataDir: dir,
		Cache: cache.Config{
			NumShards:         16,
			DefaultTTLSeconds: 300,
			CleanupInterval:   20 * time.Millisecond,
		},
		Transaction: transaction.Config{MaxActive: 10, Timeout: time.Minute},
		BaseRetriever: &fakeBaseRetriever{candidates: []feedback.Candidate{
			{DocumentID: "doc-1", BaseScore: 0.8},
		}},
		KGCacheTTL:     50 * time.Millisecond,
		KGSyncInterval: 50 * time.Millisecond,
	}
}

func TestNewSystemWiresAllComponents(t *testing.T) {
	s, err := NewSystem(newTestConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	assert.NotNil(t, s.Cache)
	assert.NotNil(t, s.Transaction)
	assert.NotNil(t, s.Feedback)
	assert.NotNil(t, s.Retriever)
	assert.NotNil(t, s.Review)
	assert.NotNil(t, s.Dictionary)
	assert.NotNil(t, s.Graph)
	assert.NotNil(t, s.Audit)
	assert.NotNil(t, s.KGCache)
	assert.NotNil(t, s.KGSync)
	assert.NotNil(t, s.Enricher)
}

func TestNewSystemWithoutBaseRetrieverSkipsRetriever(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.BaseRetriever = nil

	s, err := NewSystem(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	assert.Nil(t, s.Retriever)
}

func TestGaugesReflectComponentState(t *testing.T) {
	s, err := NewSystem(newTestConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	assert.Len(t, s.CacheShardSizes(), 16)
	assert.Equal(t, 0, s.TransactionsActive())
	assert.Equal(t, 0, s.ReviewPendingCount())

	_, err = s.Transaction.Begin("job:BATCH_A")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TransactionsActive())

	s.EnqueueForReview("what failed overnight", "BATCH_A failed", []types.ReviewReason{types.ReasonLowClassificationConfidence}, map[string]float64{"classification_confidence": 0.4})
	assert.Equal(t, 1, s.ReviewPendingCount())
}

func TestAuditPipelineWritesReachTheWiredGraphAndPublishEvents(t *testing.T) {
	s, err := NewSystem(newTestConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx) // the event broker only broadcasts once its run loop is started

	sub := s.Events().Subscribe()
	defer s.Events().Unsubscribe(sub)

	_, err = s.ProcessAuditFinding(context.Background(), audit.Finding{
		Query:            "why did BATCH_A fail",
		ResponseText:     "use conman to investigate",
		Reason:           "wrong recommendation for error code AWSBIS529",
		Confidence:       0.9,
		ReferencedDocIDs: []string{"doc-1"},
	})
	require.NoError(t, err)

	stats := s.Graph.GetStatistics()
	assert.Greater(t, stats.ErrorEdgeCount, 0)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventAuditEdgeInserted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an EventAuditEdgeInserted event")
	}
}

func TestStartAndShutdownAreIdempotentAndOrdered(t *testing.T) {
	s, err := NewSystem(newTestConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx) // second call is a no-op, must not panic or double-register loops

	time.Sleep(75 * time.Millisecond) // let the KG background refresh/sync tick at least once

	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown()) // idempotent
}

func TestHealthMonitorTracksConfiguredCheckers(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.HealthCheckers = map[string]health.Checker{
		"scheduler-a": &fakeChecker{checkType: health.CheckTypeTCP, healthy: true},
	}
	cfg.HealthCheck = health.Config{Interval: 10 * time.Millisecond, Retries: 1}

	s, err := NewSystem(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	t.Cleanup(func() { _ = s.Shutdown() })

	require.Eventually(t, func() bool {
		statuses := s.HealthStatuses()
		st, ok := statuses["scheduler-a"]
		return ok && !st.LastCheck.IsZero() && st.Healthy
	}, time.Second, 5*time.Millisecond)
}

func TestShutdownWithoutStartStillClosesStorage(t *testing.T) {
	s, err := NewSystem(newTestConfig(t))
	require.NoError(t, err)
	require.NoError(t, s.Shutdown())
}
