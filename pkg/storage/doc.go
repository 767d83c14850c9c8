/*
Package storage provides BoltDB-backed persistence for Courier's cluster
resources.

Every resource kind (Instance, BrokerUnit, Address, RouterConfig) has its own
bucket, keyed by resource name, with the JSON-encoded types.Resource
envelope as value:

	courier.db
	├── meta          version → last assigned version
	├── Address       <name>  → Resource JSON
	├── BrokerUnit    <name>  → Resource JSON
	├── Instance      <name>  → Resource JSON
	└── RouterConfig  <name>  → Resource JSON

A single counter in the meta bucket stamps every write, so a resource's
Version increases on each create or replace and is unique across the
store.

The store is not replicated on its own. The manager's raft FSM is the only
writer in a running controller, which keeps every node's copy identical.
Restore is used when the FSM installs a raft snapshot.

Errors follow the usual sentinel pattern:

	r, err := store.Get(types.KindAddress, "tenant-a.orders")
	if errors.Is(err, storage.ErrNotFound) {
		...
	}
*/
package storage
