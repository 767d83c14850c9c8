/*
Package types defines the data model shared by every Courier package.

The model has three groups of types:

Plans:
  - AddressPlan: per-address resource budget, partition count and colocation
  - AddressSpacePlan: per-tenant unit capacity, aggregate limits and the
    address plans it permits

Declared state:
  - AddressSpace: a tenant's declared set of addresses
  - Address: a named endpoint with a plan and a controller-written status

Provisioned state:
  - Instance: the infrastructure of one address space and its phase
  - BrokerUnit: a capacity unit holding shard assignments
  - RouterConfig: the address routes of a space
  - Resource: the kind/name envelope in which all provisioned objects are
    stored and watched

# Resource Vectors

Resources is a map of dimension name to amount. Arithmetic returns new
vectors and never mutates the receiver:

	used := types.Resources{"broker": 0.4}
	free := unit.Capacity.Sub(used)
	if dim, over := used.Exceeds(plan.ResourceLimits); over {
		// aggregate limit hit on dim
	}

A dimension absent from a capacity vector has zero capacity. A dimension
absent from a limit vector is unbounded.

# Keys

Labels and annotations on resources use the closed LabelKey and
AnnotationKey sets. ParseLabelKey and ParseAnnotationKey reject anything
else, so subscribers cannot select on keys the control plane never writes.
*/
package types
