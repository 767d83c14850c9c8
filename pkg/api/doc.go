/*
Package api exposes the config distributor over gRPC and serves the HTTP
health endpoints.

# Config service

The service has a single server-streaming method:

	/courier.ConfigService/Watch

A subscriber sends one WatchRequest carrying a label selector and an
annotation selector. Keys must be known label or annotation keys; anything
else is rejected with codes.InvalidArgument. The stream then carries a
SnapshotMessage for the current state followed by one message for every
change to the matching set, in sequence order:

	client                       Server                  configserv.Registry
	  │── WatchRequest ─────────▶│                               │
	  │                          │── Subscribe(key) ────────────▶│
	  │◀── Snapshot seq=1 ───────│◀── current snapshot ──────────│
	  │◀── Snapshot seq=2 ───────│◀── change ────────────────────│
	  │   (disconnect)           │── Unsubscribe ───────────────▶│

The service is registered through a hand-written grpc.ServiceDesc and
messages travel as CBOR, selected with the "cbor" content subtype. Clients
pass CallContentSubtype() on every call; pkg/client does this for you.

Each message carries the CBOR item list and its BLAKE3 digest, so a
subscriber can tell whether its applied configuration is current without
decoding it.

# Health

HealthServer serves:

	/health              liveness plus build version
	/ready               raft leader known, store reachable, controller synced
	/live                process liveness
	/health/components   per-component status
	/ready/components    critical component readiness
	/metrics             Prometheus metrics

/ready returns 503 with the failing checks until every check passes.
*/
package api
