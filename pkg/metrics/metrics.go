package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ComponentHealthy mirrors UpdateComponent: 1 healthy, 0 not
	ComponentHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "courier_component_healthy",
			Help: "Whether a component last reported healthy",
		},
		[]string{"component"},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "courier_scheduling_latency_seconds",
			Help:    "Time taken by one scheduling pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ShardsPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_shards_placed_total",
			Help: "Total number of shards placed on broker units",
		},
	)

	SchedulingFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_scheduling_failures_total",
			Help: "Total number of addresses that could not be placed, by exhausted dimension",
		},
		[]string{"dimension"},
	)

	BrokerUnitsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_broker_units_total",
			Help: "Total number of broker units in the cluster",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "courier_reconciliation_duration_seconds",
			Help:    "Time taken by one instance reconciliation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_reconciliation_cycles_total",
			Help: "Total number of full resync cycles completed",
		},
	)

	ReconcileErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_reconcile_errors_total",
			Help: "Total number of reconciliation errors by kind",
		},
		[]string{"kind"},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "courier_instances_total",
			Help: "Total number of instances by phase",
		},
		[]string{"phase"},
	)

	// Config distribution metrics
	ConfigSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_config_subscribers",
			Help: "Number of attached config subscribers",
		},
	)

	ConfigKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_config_keys",
			Help: "Number of distinct observer keys with live subscribers",
		},
	)

	SnapshotsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_snapshots_delivered_total",
			Help: "Total number of snapshots delivered to subscribers",
		},
	)

	SnapshotEncodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_snapshot_encode_errors_total",
			Help: "Total number of snapshots that failed to encode",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// Resources stored per kind, sampled by the Collector
	ResourcesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "courier_resources_total",
			Help: "Total number of stored resources by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(ShardsPlaced)
	prometheus.MustRegister(SchedulingFailures)
	prometheus.MustRegister(BrokerUnitsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconcileErrors)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(ConfigSubscribers)
	prometheus.MustRegister(ConfigKeys)
	prometheus.MustRegister(SnapshotsDelivered)
	prometheus.MustRegister(SnapshotEncodeErrors)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(ResourcesTotal)
	prometheus.MustRegister(ComponentHealthy)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
