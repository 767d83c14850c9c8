/*
Package configserv pushes filtered resource snapshots to data-plane
subscribers.

A subscriber names its interest as an ObserverKey: exact-match label and
annotation selectors. Subscribers with equal keys share one registry
entry, and so one cached snapshot.

	resource feed ──▶ Distributor ──▶ resource cache
	                                     │ recompute every live key
	                                     ▼
	                  entry[key] ── digest changed? ──▶ subscriptions

A snapshot holds every matching resource, projected to its kind, name,
labels, body and the annotations the key selects on. Items are sorted and
encoded as deterministic CBOR, and pushed only when the BLAKE3 digest of
the encoding changes.

Delivery per subscription is ordered and never dropped: each subscription
has its own unbounded outbox. A new subscription first receives the key's
current snapshot, even mid-stream. When the last subscription of a key
goes away the entry and its snapshot are discarded, and a later subscriber
starts a fresh sequence.
*/
package configserv
