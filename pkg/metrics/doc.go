/*
Package metrics provides Prometheus metrics collection and exposition for
Courier.

All metrics are package-level collectors registered with the default
registry in init(), so any package can record without wiring:

	timer := metrics.NewTimer()
	res := sched.Schedule(in)
	timer.ObserveDuration(metrics.SchedulingLatency)

Handler() exposes them for scraping, usually at /metrics on the health
listener.

# Metrics Catalog

Scheduling:

	courier_scheduling_latency_seconds        histogram, one pass
	courier_shards_placed_total               counter
	courier_scheduling_failures_total         counter{dimension}
	courier_broker_units_total                gauge, sampled

Reconciliation:

	courier_reconciliation_duration_seconds   histogram, one instance
	courier_reconciliation_cycles_total       counter, full resyncs
	courier_reconcile_errors_total            counter{kind}
	courier_instances_total                   gauge{phase}, sampled

Config distribution:

	courier_config_subscribers                gauge
	courier_config_keys                       gauge
	courier_snapshots_delivered_total         counter
	courier_snapshot_encode_errors_total      counter

Cluster:

	courier_raft_is_leader                    gauge
	courier_raft_log_index                    gauge
	courier_raft_applied_index                gauge
	courier_resources_total                   gauge{kind}

# Collector

Gauges that describe stored state are sampled rather than maintained by
the writers. Collector polls a Source (the raft manager) every 15 seconds:

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

# Health

The package also tracks component health for the /health and /ready
endpoints. Components report with UpdateComponent, which also sets the
courier_component_healthy gauge. The process is ready once raft,
controller and api have all reported healthy; other components only
affect /health/components.

	metrics.UpdateComponent(metrics.ComponentRaft, false, "bootstrapping")
	...
	metrics.UpdateComponent(metrics.ComponentRaft, true, "leader")
*/
package metrics
