package metrics

import (
	"time"

	"github.com/cuemby/courier/pkg/types"
)

// Source is what the Collector samples. The raft manager satisfies it.
type Source interface {
	ListResources(kind types.ResourceKind) ([]*types.Resource, error)
	IsLeader() bool
	GetRaftStats() map[string]interface{}
}

// DefaultCollectInterval is how often the Collector samples its source
const DefaultCollectInterval = 15 * time.Second

// Collector periodically samples cluster state into gauges
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(src Source) *Collector {
	return &Collector{
		source:   src,
		interval: DefaultCollectInterval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectResourceMetrics()
	c.collectInstanceMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectResourceMetrics() {
	for _, kind := range types.Kinds() {
		items, err := c.source.ListResources(kind)
		if err != nil {
			continue
		}
		ResourcesTotal.WithLabelValues(string(kind)).Set(float64(len(items)))
		if kind == types.KindBrokerUnit {
			BrokerUnitsTotal.Set(float64(len(items)))
		}
	}
}

func (c *Collector) collectInstanceMetrics() {
	items, err := c.source.ListResources(types.KindInstance)
	if err != nil {
		return
	}

	counts := map[types.InstancePhase]int{
		types.InstancePending:   0,
		types.InstanceCreating:  0,
		types.InstanceReady:     0,
		types.InstanceRetaining: 0,
	}
	for _, r := range items {
		var inst types.Instance
		if err := r.Decode(&inst); err != nil {
			continue
		}
		counts[inst.Phase]++
	}

	for phase, n := range counts {
		InstancesTotal.WithLabelValues(string(phase)).Set(float64(n))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.source.GetRaftStats()
	if stats != nil {
		if lastIndex, ok := stats["last_log_index"].(uint64); ok {
			RaftLogIndex.Set(float64(lastIndex))
		}
		if appliedIndex, ok := stats["applied_index"].(uint64); ok {
			RaftAppliedIndex.Set(float64(appliedIndex))
		}
	}
}
