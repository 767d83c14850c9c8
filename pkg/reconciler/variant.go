package reconciler

import (
	"context"
	"fmt"

	"github.com/cuemby/courier/pkg/scheduler"
	"github.com/cuemby/courier/pkg/types"
)

// ResourceSet is the desired state handed to a variant on each pass
type ResourceSet struct {
	Space *types.AddressSpace
	Plan  *types.AddressSpacePlan
}

// Outcome summarises one variant pass
type Outcome struct {
	// Placement maps each placed address to its units, by shard
	Placement map[string][]string
	Failures  []*scheduler.SchedulingFailure
	// Units lists the broker units alive after the pass
	Units   []string
	Created []string
	Deleted []string
}

// Variant provisions the infrastructure of one address space type
type Variant interface {
	OnResourcesUpdated(ctx context.Context, set *ResourceSet) (*Outcome, error)
}

// standardVariant shards addresses across a growing pool of broker units
type standardVariant struct {
	placer *placer
}

func (v *standardVariant) OnResourcesUpdated(ctx context.Context, set *ResourceSet) (*Outcome, error) {
	return v.placer.place(ctx, set)
}

// brokeredVariant runs the whole space on a single broker unit
type brokeredVariant struct {
	placer *placer
}

func (v *brokeredVariant) OnResourcesUpdated(ctx context.Context, set *ResourceSet) (*Outcome, error) {
	return v.placer.place(ctx, set)
}

func newVariant(t types.AddressSpaceType, base placer) (Variant, error) {
	switch t {
	case types.AddressSpaceStandard:
		return &standardVariant{placer: &base}, nil
	case types.AddressSpaceBrokered:
		base.maxUnits = 1
		base.singlePartition = true
		return &brokeredVariant{placer: &base}, nil
	default:
		return nil, fmt.Errorf("unsupported address space type %q", t)
	}
}
