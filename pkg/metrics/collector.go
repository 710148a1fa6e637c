package metrics

import (
	"time"

	"github.com/cuemby/qsched/pkg/types"
)

// Source is the snapshot surface a Collector samples. pkg/reactor.Core
// implements it; it's an interface here so this package doesn't import
// the packages whose write paths already increment counters defined
// here.
type Source interface {
	QueueDepths() map[string]int
	JobStateCounts() map[types.JobState]int
	ResourceUtilization() map[string]float64
}

// Collector periodically samples a running core and publishes gauge metrics
// that aren't naturally updated on the write path (queue depth, per-state job
// counts, resource utilization).
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a metrics collector bound to source.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic collection in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(5 * time.Second)
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

// Stop halts periodic collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectQueueMetrics()
	c.collectResourceMetrics()
}

func (c *Collector) collectQueueMetrics() {
	depths := c.source.QueueDepths()
	for queue, depth := range depths {
		QueueDepth.WithLabelValues(queue).Set(float64(depth))
	}

	states := c.source.JobStateCounts()
	for state, count := range states {
		JobsByState.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectResourceMetrics() {
	util := c.source.ResourceUtilization()
	for kind, ratio := range util {
		ResourceUtilization.WithLabelValues(kind).Set(ratio)
	}
}
