package cache

import (
	"fmt"
	"time"
)

// HealthKind is the severity bucket a HealthCheck result maps to.
type HealthKind string

const (
	HealthHealthy  HealthKind = "healthy"
	HealthWarning  HealthKind = "warning"
	HealthError    HealthKind = "error"
	HealthCritical HealthKind = "critical"
)

// shardBalanceFactor is the maximum allowed ratio of the busiest shard's
// size to the mean shard size before balance is flagged.
const shardBalanceFactor = 3.0

// HealthResult is the outcome of Cache.HealthCheck.
type HealthResult struct {
	Kind      HealthKind
	Message   string
	CheckedAt time.Time
}

// HealthCheck verifies, in order: configured bounds hold, shard sizes
// are balanced within shardBalanceFactor of the mean, the cleanup loop
// is alive, and a synthetic set/get/delete round-trips. The first
// failing check determines the returned kind; a passing check never
// downgrades one reported by an earlier check.
func (c *Cache) HealthCheck() HealthResult {
	now := time.Now()

	if ok, reason := c.mem.CheckBounds(c.shardAccessors()); !ok {
		return HealthResult{Kind: HealthCritical, Message: "bounds exceeded: " + reason, CheckedAt: now}
	}

	if kind, msg, bad := c.checkShardBalance(); bad {
		return HealthResult{Kind: kind, Message: msg, CheckedAt: now}
	}

	if !c.cleanupLoopAlive() {
		return HealthResult{Kind: HealthError, Message: "cleanup loop is not running", CheckedAt: now}
	}

	if err := c.roundTrip(); err != nil {
		return HealthResult{Kind: HealthCritical, Message: "round-trip failed: " + err.Error(), CheckedAt: now}
	}

	return HealthResult{Kind: HealthHealthy, Message: "ok", CheckedAt: now}
}

func (c *Cache) checkShardBalance() (kind HealthKind, msg string, bad bool) {
	if len(c.shards) == 0 {
		return "", "", false
	}
	sizes := c.CacheShardSizes()
	total := 0
	maxSize := 0
	for _, s := range sizes {
		total += s
		if s > maxSize {
			maxSize = s
		}
	}
	if total == 0 {
		return "", "", false
	}
	mean := float64(total) / float64(len(sizes))
	if mean == 0 {
		return "", "", false
	}
	if float64(maxSize) > mean*shardBalanceFactor {
		return HealthWarning, fmt.Sprintf("shard imbalance: max=%d mean=%.1f", maxSize, mean), true
	}
	return "", "", false
}

// cleanupLoopAlive reports whether the background cleanup goroutine has
// not been stopped. It is a liveness check, not a progress check: a
// Cache that was never Start-ed reports alive since no loop was ever
// promised to run.
func (c *Cache) cleanupLoopAlive() bool {
	select {
	case <-c.stopCh:
		return false
	default:
		return true
	}
}

const healthCheckKeyPrefix = "__health_check__:"

func (c *Cache) roundTrip() error {
	key := healthCheckKeyPrefix + itoa(int(time.Now().UnixNano()%1_000_000))
	if err := c.Set(key, "ok", 5); err != nil {
		return err
	}
	v, ok, err := c.Get(key)
	if err != nil {
		return err
	}
	if !ok || v != "ok" {
		_, _ = c.Delete(key)
		return fmt.Errorf("round-trip value mismatch")
	}
	if _, err := c.Delete(key); err != nil {
		return err
	}
	return nil
}
