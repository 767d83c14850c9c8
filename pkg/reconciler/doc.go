/*
Package reconciler converges provisioned infrastructure onto the declared
address spaces.

The Controller watches a source.Source of address spaces and keeps one
Instance resource per space in the cluster API, along with the BrokerUnit,
Address and RouterConfig resources the space needs.

# Architecture

	 source.Source                 resync ticker
	(deltas + listings)            (full listing)
	       │                              │
	       └──────────────┬───────────────┘
	                      ▼
	             desired-state cache
	                      │ enqueue(instance id)
	                      ▼
	     ┌────────────────────────────────────┐
	     │ work queue (dedup, delayed retries)│
	     └─────────────────┬──────────────────┘
	                       ▼
	                worker goroutines
	                       │ Reconcile(id)
	                       ▼
	      resolve plan → Variant → ClusterAPI

A listing replaces the cache and enqueues every declared and every
provisioned instance, so the controller converges from listings alone.
Deltas only make it react sooner.

# Instance Lifecycle

	Pending → Creating → Ready
	Ready → Retaining → (deleted)
	Retaining → Creating        (space declared again)

An instance whose space disappears is marked Retaining. It is deleted,
children first, only after a later listing still omits the space. The
deletion counts once a read of the instance returns not found.

# Errors

Failures are classified as Transient or Permanent. Transient failures are
retried without limit with exponential backoff:

	delay = InitialBackoff * 2^(attempt-1), capped at MaxBackoff

A new event for an instance waiting out its backoff does not cut the wait
short. Permanent failures, such as an unknown plan, are recorded on the
instance conditions and retried only on the next change or listing.

# Variants

Standard spaces shard addresses across as many broker units as their plan
allows. Brokered spaces run every address on a single unit with one shard
each.
*/
package reconciler
