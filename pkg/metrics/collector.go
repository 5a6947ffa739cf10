package metrics

import (
	"fmt"
	"time"
)

// Gauges is the minimal view a periodic Collector needs to refresh the
// cache/transaction/review gauges. Implemented by pkg/core.System.
type Gauges interface {
	CacheShardSizes() []int
	TransactionsActive() int
	ReviewPendingCount() int
}

// Collector periodically samples a Gauges source and updates the
// corresponding Prometheus gauges.
type Collector struct {
	source Gauges
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(source Gauges) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for shard, size := range c.source.CacheShardSizes() {
		CacheEntriesTotal.WithLabelValues(fmt.Sprintf("%d", shard)).Set(float64(size))
	}
	TransactionsActive.Set(float64(c.source.TransactionsActive()))
	ReviewQueueDepth.Set(float64(c.source.ReviewPendingCount()))
}
