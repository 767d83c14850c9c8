/*
Package manager implements Courier's cluster resource API on top of
HashiCorp Raft.

A Manager owns a raft node, a ResourceFSM and a BoltDB resource store.
Writes (Create, Replace, Delete) are encoded as JSON Commands and applied
through raft; reads (Get, List) are served from the local store.

	┌──────────────┐   Apply(Command)   ┌──────────┐   commit   ┌─────────────┐
	│ reconciler   │ ─────────────────▶ │  raft    │ ─────────▶ │ ResourceFSM │
	└──────────────┘                    └──────────┘            └──────┬──────┘
	                                                                   │
	                                              store write + delta  │
	                                                                   ▼
	┌──────────────┐   Feed(): Subscribe / List   ┌────────────────────────────┐
	│ configserv   │ ◀─────────────────────────── │ BoltStore + events.Broker  │
	└──────────────┘                              └────────────────────────────┘

Every committed change is published as a delta on the resource feed. A
replace that leaves labels, annotations and body unchanged publishes
nothing. Restoring a raft snapshot publishes one listing.

# Leadership

Only the leader accepts writes. On any other node, or while an election is
in progress, writes fail with ErrNotLeader, which callers treat as
transient. The raft apply timeout comes from the caller's context deadline,
or DefaultApplyTimeout when there is none.

# Bootstrap

Bootstrap forms a single-node cluster. On disk it uses a TCP transport, a
file snapshot store and raft-boltdb log and stable stores inside DataDir.
With Config.InMemory the raft side lives in memory, which is what tests use:

	m, _ := manager.NewManager(&manager.Config{NodeID: "n1", DataDir: dir, InMemory: true})
	_ = m.Bootstrap()
	_ = m.WaitForLeader(ctx)
	_, err := m.Create(ctx, resource)

A node restarted on existing state skips bootstrapping and rejoins with the
configuration raft already persisted.
*/
package manager
