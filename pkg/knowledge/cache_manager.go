package knowledge

import (
	"sync"
	"time"

	"github.com/cuemby/workloadcore/pkg/log"
)

// RefreshCallback is invoked, in registration order, whenever the
// working copy is refreshed.
type RefreshCallback func() error

// CacheStats reports CacheManager's load history.
type CacheStats struct {
	Hits            int64
	Misses          int64
	LoadCount       int64
	LastLoad        time.Time
	AvgLoadDuration time.Duration
	TimeUntilStale  time.Duration
}

// CacheManager is the KGCacheManager: it tracks staleness of a Graph's
// working copy against a configured TTL and drives refreshes, both on
// demand and on a background loop.
//
// Grounded on cuemby-warren/pkg/reconciler/reconciler.go's
// ticker+stopCh loop, generalized from a fixed 10-second cadence to a
// configurable TTL and from an unconditional reconcile to a
// force-capable, callback-driven refresh.
type CacheManager struct {
	graph *Graph

	mu          sync.Mutex
	ttl         time.Duration
	callbacks   []RefreshCallback
	lastRefresh time.Time
	stats       CacheStats
	totalLoadNs int64

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewCacheManager constructs a CacheManager over graph with the given
// staleness TTL.
func NewCacheManager(graph *Graph, ttl time.Duration) *CacheManager {
	return &CacheManager{
		graph: graph,
		ttl:   ttl,
	}
}

// SetTTL updates the staleness window.
func (m *CacheManager) SetTTL(ttl time.Duration) {
	m.mu.Lock()
	m.ttl = ttl
	m.mu.Unlock()
}

// GetTTL returns the current staleness window.
func (m *CacheManager) GetTTL() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttl
}

// RegisterRefreshCallback appends cb to the list invoked on every
// successful refresh.
func (m *CacheManager) RegisterRefreshCallback(cb RefreshCallback) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
}

// IsStale reports whether the working copy is older than the
// configured TTL.
func (m *CacheManager) IsStale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastRefresh.IsZero() {
		return true
	}
	return time.Since(m.lastRefresh) >= m.ttl
}

// Refresh rebuilds the working copy and invokes every registered
// callback, in registration order. Unless force is true, a refresh
// that is not yet stale is skipped. A failed rebuild leaves the prior
// working copy and lastRefresh marker untouched, so a bad refresh
// never regresses a healthy cache to an empty one.
func (m *CacheManager) Refresh(force bool) error {
	m.mu.Lock()
	if !force && !m.lastRefresh.IsZero() && time.Since(m.lastRefresh) < m.ttl {
		m.mu.Unlock()
		m.recordHit()
		return nil
	}
	callbacks := append([]RefreshCallback(nil), m.callbacks...)
	m.mu.Unlock()

	start := time.Now()
	if err := m.graph.Refresh(); err != nil {
		log.Logger.Error().Err(err).Msg("knowledge: cache refresh failed, retaining prior working copy")
		m.recordMiss()
		return err
	}
	elapsed := time.Since(start)

	for _, cb := range callbacks {
		if err := cb(); err != nil {
			log.Logger.Warn().Err(err).Msg("knowledge: refresh callback failed")
		}
	}

	m.mu.Lock()
	m.lastRefresh = time.Now()
	m.stats.LoadCount++
	m.totalLoadNs += elapsed.Nanoseconds()
	m.stats.LastLoad = m.lastRefresh
	m.stats.AvgLoadDuration = time.Duration(m.totalLoadNs / m.stats.LoadCount)
	m.mu.Unlock()
	return nil
}

func (m *CacheManager) recordHit() {
	m.mu.Lock()
	m.stats.Hits++
	m.mu.Unlock()
}

func (m *CacheManager) recordMiss() {
	m.mu.Lock()
	m.stats.Misses++
	m.mu.Unlock()
}

// Invalidate forces the next access to be treated as stale, without
// performing a rebuild itself.
func (m *CacheManager) Invalidate() {
	m.mu.Lock()
	m.lastRefresh = time.Time{}
	m.mu.Unlock()
}

// Stats returns a snapshot of load history.
func (m *CacheManager) Stats() CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.stats
	if !m.lastRefresh.IsZero() {
		stats.TimeUntilStale = m.ttl - time.Since(m.lastRefresh)
	}
	return stats
}

// StartBackgroundRefresh launches a loop that forces a refresh every
// TTL, logging and continuing past errors rather than stopping the
// loop.
func (m *CacheManager) StartBackgroundRefresh() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	m.mu.Unlock()

	go m.backgroundLoop()
}

// StopBackgroundRefresh stops the background loop started by
// StartBackgroundRefresh, if any, and waits for it to exit.
func (m *CacheManager) StopBackgroundRefresh() {
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

func (m *CacheManager) backgroundLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.GetTTL())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Refresh(true); err != nil {
				log.Logger.Error().Err(err).Msg("knowledge: background refresh cycle failed")
			}
		case <-m.stopCh:
			return
		}
	}
}
