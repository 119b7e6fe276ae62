package metrics

import (
	"context"
	"time"

	"capture-library/internal/logging"
)

// StatsProvider is anything that can report library totals.
type StatsProvider interface {
	CollectStats(ctx context.Context) (Stats, bool)
}

// Stats holds the current library totals
type Stats struct {
	Items  int64
	Pinned int64
	Bytes  int64
}

// Collector periodically collects and updates the library gauges
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, ok := c.statsProvider.CollectStats(ctx)
	if !ok {
		logging.Debug("Metrics collection skipped: stats unavailable")
		return
	}

	LibraryItemsTotal.Set(float64(stats.Items))
	LibraryPinnedTotal.Set(float64(stats.Pinned))
	LibraryBytesTotal.Set(float64(stats.Bytes))

	logging.Debug("Metrics collected: items=%d, pinned=%d, bytes=%d", stats.Items, stats.Pinned, stats.Bytes)
}
