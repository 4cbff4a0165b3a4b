package metrics

import (
	"time"
)

// DepthSource reports pending task counts per container.
// *queue.Queue satisfies it.
type DepthSource interface {
	Depths() map[string]int
}

// SessionSource reports the number of live sessions.
// *session.Manager satisfies it.
type SessionSource interface {
	Live() int
}

// Collector periodically refreshes the gauges that drift between
// events: queue depths per container and live session count
type Collector struct {
	depths   DepthSource
	sessions SessionSource
	stopCh   chan struct{}
}

// NewCollector creates a collector over its gauge sources
func NewCollector(depths DepthSource, sessions SessionSource) *Collector {
	return &Collector{
		depths:   depths,
		sessions: sessions,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.depths != nil {
		for container, depth := range c.depths.Depths() {
			QueueDepth.WithLabelValues(container).Set(float64(depth))
		}
	}
	if c.sessions != nil {
		SessionsLive.Set(float64(c.sessions.Live()))
	}
}
