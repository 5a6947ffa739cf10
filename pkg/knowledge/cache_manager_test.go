package knowledge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsStaleBeforeAnyRefresh(t *testing.T) {
	g := newTestGraph(t)
	m := NewCacheManager(g, time.Hour)
	assert.True(t, m.IsStale())
}

func TestRefreshInvokesCallbacksInRegistrationOrder(t *testing.T) {
	g := newTestGraph(t)
	m := NewCacheManager(g, time.Hour)

	var order []int
	m.RegisterRefreshCallback(func() error { order = append(order, 1); return nil })
	m.RegisterRefreshCallback(func() error { order = append(order, 2); return nil })

	require.NoError(t, m.Refresh(true))
	assert.Equal(t, []int{1, 2}, order)
	assert.False(t, m.IsStale())
}

func TestRefreshSkipsWhenNotStaleAndNotForced(t *testing.T) {
	g := newTestGraph(t)
	m := NewCacheManager(g, time.Hour)

	calls := 0
	m.RegisterRefreshCallback(func() error { calls++; return nil })

	require.NoError(t, m.Refresh(false))
	require.NoError(t, m.Refresh(false))
	assert.Equal(t, 1, calls)
}

func TestInvalidateForcesNextRefresh(t *testing.T) {
	g := newTestGraph(t)
	m := NewCacheManager(g, time.Hour)
	require.NoError(t, m.Refresh(true))
	assert.False(t, m.IsStale())

	m.Invalidate()
	assert.True(t, m.IsStale())
}

func TestRefreshFailureLeavesLastRefreshUntouched(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	g, err := NewGraph(store)
	require.NoError(t, err)

	m := NewCacheManager(g, time.Hour)
	require.NoError(t, m.Refresh(true))
	firstStats := m.Stats()

	require.NoError(t, store.Close())

	err = m.Refresh(true)
	assert.Error(t, err)

	secondStats := m.Stats()
	assert.Equal(t, firstStats.LastLoad, secondStats.LastLoad, "a failed refresh must not move the last-load marker")
}

func TestStatsTracksLoadCountAndAverage(t *testing.T) {
	g := newTestGraph(t)
	m := NewCacheManager(g, time.Hour)

	require.NoError(t, m.Refresh(true))
	m.Invalidate()
	require.NoError(t, m.Refresh(true))

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.LoadCount)
}

func TestStartStopBackgroundRefreshIsIdempotent(t *testing.T) {
	g := newTestGraph(t)
	m := NewCacheManager(g, 50*time.Millisecond)

	m.StartBackgroundRefresh()
	m.StartBackgroundRefresh() // second call is a no-op, not a double-start

	time.Sleep(120 * time.Millisecond)
	m.StopBackgroundRefresh()
	m.StopBackgroundRefresh() // second call is a no-op, not a panic on double-close

	stats := m.Stats()
	assert.GreaterOrEqual(t, stats.LoadCount, int64(1))
}
