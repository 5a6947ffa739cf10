package core

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/workloadcore/pkg/health"
	"github.com/cuemby/workloadcore/pkg/log"
	"github.com/cuemby/workloadcore/pkg/metrics"
)

// healthMonitor periodically runs a fixed set of named health.Checker
// instances — typically connectivity probes for external dependencies
// syncapi.Client talks to — and forwards their streak-tracked Status
// into pkg/metrics' component registry. Grounded on cache.go's
// ticker-plus-stopCh background loop shape (cache.go's cleanupLoop).
type healthMonitor struct {
	checkers map[string]health.Checker
	cfg      health.Config

	mu       sync.Mutex
	statuses map[string]*health.Status

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newHealthMonitor(checkers map[string]health.Checker, cfg health.Config) *healthMonitor {
	statuses := make(map[string]*health.Status, len(checkers))
	for name := range checkers {
		statuses[name] = health.NewStatus()
	}
	return &healthMonitor{
		checkers: checkers,
		cfg:      cfg,
		statuses: statuses,
		stopCh:   make(chan struct{}),
	}
}

// Statuses returns a snapshot of the current Status for every
// configured checker, keyed by component name.
func (h *healthMonitor) Statuses() map[string]health.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]health.Status, len(h.statuses))
	for name, s := range h.statuses {
		out[name] = *s
	}
	return out
}

func (h *healthMonitor) start(ctx context.Context) {
	if len(h.checkers) == 0 {
		return
	}
	h.wg.Add(1)
	go h.loop(ctx)
}

func (h *healthMonitor) stop() {
	if len(h.checkers) == 0 {
		return
	}
	close(h.stopCh)
	h.wg.Wait()
}

func (h *healthMonitor) loop(ctx context.Context) {
	defer h.wg.Done()

	interval := h.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if h.cfg.StartPeriod > 0 {
		select {
		case <-time.After(h.cfg.StartPeriod):
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}

	h.runAll(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.runAll(ctx)
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *healthMonitor) runAll(ctx context.Context) {
	for name, checker := range h.checkers {
		checkCtx := ctx
		var cancel context.CancelFunc
		if h.cfg.Timeout > 0 {
			checkCtx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		}
		result := checker.Check(checkCtx)
		if cancel != nil {
			cancel()
		}

		h.mu.Lock()
		status := h.statuses[name]
		status.Update(result, h.cfg)
		healthy, msg := status.Healthy, result.Message
		h.mu.Unlock()

		metrics.UpdateComponent(name, healthy, msg)
		if !healthy {
			log.WithComponent("core.health").Warn().Str("checker", name).Str("message", msg).Msg("health check failing")
		}
	}
}
