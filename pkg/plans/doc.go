/*
Package plans provides the read-only catalog of address plans and address
space plans.

A catalog is loaded once from YAML and never changes afterwards:

	addressPlans:
	  - name: small-queue
	    addressType: queue
	    colocation: pooled
	    partitions: 1
	    resources: {broker: 0.1, router: 0.01}
	addressSpacePlans:
	  - name: standard-small
	    addressSpaceType: standard
	    unitCapacity: {broker: 1}
	    resourceLimits: {broker: 2}
	    addressPlans: [small-queue]
	defaults:
	  standard: standard-small

Lookups fail with an error matching ErrPlanNotFound. The controller treats
that as permanent: a space naming an unknown plan is not retried until its
declaration changes.
*/
package plans
