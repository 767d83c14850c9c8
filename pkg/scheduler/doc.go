/*
Package scheduler places the shards of an address space's addresses onto
broker units.

Scheduling is a pure function of its input. It performs no I/O, reads no
clock and never mutates the units it is given, so two calls with the same
input return the same result. The reconciler relies on this to make every
pass idempotent.

# Algorithm

One pass runs first-fit-decreasing bin packing over shards:

	┌────────────────────────────────────────────────────────────┐
	│ 1. Expand each address into Partitions shards. Every shard │
	│    carries the plan's full resource vector.                │
	│ 2. Order by descending weight, then address, then shard.   │
	│ 3. Sticky pass: keep previous assignments that are still   │
	│    valid (same plan, same usage, unit alive, fits).        │
	│ 4. First-fit pass: scan units in creation order and take   │
	│    the first with enough residual capacity in every        │
	│    dimension that satisfies colocation.                    │
	│ 5. No unit fits: allocate <space>-broker-<n>, unless the   │
	│    space's aggregate limit or MaxUnits forbids it.         │
	└────────────────────────────────────────────────────────────┘

Shards of a sharded address never share a unit. Pooled addresses may share
units with each other and with shards of other addresses.

An address that cannot be fully placed yields a SchedulingFailure naming
the exhausted dimension. Shards placed for it in the same pass are rolled
back, along with any unit allocated only for it. Other addresses are still
placed.

# Limits

AddressSpacePlan.ResourceLimits caps the summed usage of all shards in the
space. A dimension missing from the limits is unbounded. The special
dimension "aggregate" caps the sum over all dimensions.

# Rebalancing

A shard whose unit has been removed from the pool is placed again on the
next pass. Shards on live units stay where they are; the scheduler does not
compact or migrate them.

# Usage

	s := scheduler.New()
	res := s.Schedule(&scheduler.Input{
		Space:     "tenant-a",
		SpacePlan: spacePlan,
		Addresses: space.Addresses,
		Plans:     addressPlans,
		Units:     currentUnits,
	})
	for _, f := range res.Failures {
		// surface f on the address status
	}
*/
package scheduler
