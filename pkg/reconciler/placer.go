package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/courier/pkg/metrics"
	"github.com/cuemby/courier/pkg/plans"
	"github.com/cuemby/courier/pkg/scheduler"
	"github.com/cuemby/courier/pkg/storage"
	"github.com/cuemby/courier/pkg/types"
)

// placer schedules a space and applies the placement through the cluster
// API. Both variants share it; they differ only in the limits they set.
type placer struct {
	api         ClusterAPI
	catalog     *plans.Catalog
	sched       *scheduler.Scheduler
	callTimeout time.Duration
	logger      zerolog.Logger

	// maxUnits caps the pool size; zero is unbounded
	maxUnits int
	// singlePartition forces every address onto one shard
	singlePartition bool
}

func (p *placer) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return fn(cctx)
}

func (p *placer) list(ctx context.Context, kind types.ResourceKind, space string) (map[string]*types.Resource, error) {
	var items []*types.Resource
	err := p.call(ctx, func(ctx context.Context) error {
		var err error
		items, err = p.api.List(ctx, kind)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	owned := make(map[string]*types.Resource)
	for _, r := range items {
		if ownedBy(r, space) {
			owned[r.Name] = r
		}
	}
	return owned, nil
}

func (p *placer) place(ctx context.Context, set *ResourceSet) (*Outcome, error) {
	space, plan := set.Space, set.Plan

	unitRes, err := p.list(ctx, types.KindBrokerUnit, space.Name)
	if err != nil {
		return nil, err
	}
	addrRes, err := p.list(ctx, types.KindAddress, space.Name)
	if err != nil {
		return nil, err
	}

	current := make([]*types.BrokerUnit, 0, len(unitRes))
	for _, r := range unitRes {
		u := &types.BrokerUnit{}
		if err := r.Decode(u); err != nil {
			return nil, err
		}
		current = append(current, u)
	}
	sort.Slice(current, func(i, j int) bool { return current[i].Ordinal < current[j].Ordinal })

	in := &scheduler.Input{
		Space:     space.Name,
		SpacePlan: plan,
		Plans:     make(map[string]*types.AddressPlan),
		Units:     current,
		MaxUnits:  p.maxUnits,
	}
	var rejected []*scheduler.SchedulingFailure
	for _, a := range space.Addresses {
		if err := p.catalog.Permits(plan, a.Plan); err != nil {
			rejected = append(rejected, &scheduler.SchedulingFailure{Address: a.Name, Reason: err.Error()})
			continue
		}
		ap, err := p.catalog.AddressPlan(a.Plan)
		if err != nil {
			return nil, err
		}
		if p.singlePartition {
			ap.Partitions = 1
		}
		in.Plans[a.Plan] = ap
		in.Addresses = append(in.Addresses, a)
	}

	timer := metrics.NewTimer()
	res := p.sched.Schedule(in)
	timer.ObserveDuration(metrics.SchedulingLatency)

	failures := append(rejected, res.Failures...)
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Address < failures[j].Address })
	for _, f := range failures {
		dim := f.Dimension
		if dim == "" {
			dim = "plan"
		}
		metrics.SchedulingFailures.WithLabelValues(dim).Inc()
	}
	metrics.ShardsPlaced.Add(float64(newAssignments(current, res.Units)))

	out := &Outcome{
		Placement: res.Placement,
		Failures:  failures,
		Created:   res.Created,
		Deleted:   res.Idle,
	}
	if err := p.apply(ctx, set, res, failures, unitRes, addrRes); err != nil {
		return nil, err
	}
	idle := make(map[string]bool, len(res.Idle))
	for _, name := range res.Idle {
		idle[name] = true
	}
	for _, u := range res.Units {
		if !idle[u.Name] {
			out.Units = append(out.Units, u.Name)
		}
	}
	return out, nil
}

// apply writes the placement. New units come first and stale ones go last,
// so an address never points at a unit that does not exist yet.
func (p *placer) apply(ctx context.Context, set *ResourceSet, res *scheduler.Result, failures []*scheduler.SchedulingFailure,
	unitRes, addrRes map[string]*types.Resource) error {
	space, plan := set.Space, set.Plan

	idle := make(map[string]bool, len(res.Idle))
	for _, name := range res.Idle {
		idle[name] = true
	}

	// Units: create new ones, then update the ones whose shards moved.
	for _, creating := range []bool{true, false} {
		for _, u := range res.Units {
			existing, ok := unitRes[u.Name]
			if idle[u.Name] || ok == creating {
				continue
			}
			desired, err := unitResource(space, plan, u)
			if err != nil {
				return err
			}
			if creating {
				if err := p.create(ctx, desired); err != nil {
					return err
				}
				p.logger.Info().Str("unit", u.Name).Msg("Broker unit created")
				continue
			}
			if existing.SameContent(desired) {
				continue
			}
			if err := p.replace(ctx, desired); err != nil {
				return err
			}
		}
	}

	failed := make(map[string]*scheduler.SchedulingFailure, len(failures))
	for _, f := range failures {
		if _, ok := failed[f.Address]; !ok {
			failed[f.Address] = f
		}
	}

	route := &types.RouterConfig{Space: space.Name, Addresses: []types.RouterRoute{}}
	wanted := make(map[string]bool, len(space.Addresses))
	for _, a := range space.Addresses {
		status := a.Clone()
		name := AddressResourceName(space.Name, a.Name)
		wanted[name] = true

		if f, ok := failed[a.Name]; ok {
			status.Status = types.AddressStatus{Phase: types.AddressPending, Messages: []string{f.Error()}}
		} else {
			units := res.Placement[a.Name]
			status.Status = types.AddressStatus{Phase: types.AddressActive, Ready: true, Placement: units}
			route.Addresses = append(route.Addresses, types.RouterRoute{
				Address: routeAddress(a),
				Type:    p.addressType(a),
				Units:   append([]string(nil), units...),
			})
		}

		desired, err := addressResource(space, plan, status)
		if err != nil {
			return err
		}
		if existing, ok := addrRes[name]; ok && existing.SameContent(desired) {
			continue
		}
		if err := p.upsert(ctx, desired, addrRes[name] != nil); err != nil {
			return err
		}
	}

	for _, name := range res.Idle {
		if _, ok := unitRes[name]; !ok {
			continue
		}
		if err := p.delete(ctx, types.KindBrokerUnit, name); err != nil {
			return err
		}
		p.logger.Info().Str("unit", name).Msg("Idle broker unit deleted")
	}

	sort.Slice(route.Addresses, func(i, j int) bool { return route.Addresses[i].Address < route.Addresses[j].Address })
	rc, err := routerConfigResource(space, route)
	if err != nil {
		return err
	}
	if err := p.syncRouterConfig(ctx, rc); err != nil {
		return err
	}

	for name := range addrRes {
		if wanted[name] {
			continue
		}
		if err := p.delete(ctx, types.KindAddress, name); err != nil {
			return err
		}
	}
	return nil
}

func (p *placer) addressType(a *types.Address) types.AddressType {
	if a.Type != "" {
		return a.Type
	}
	if ap, err := p.catalog.AddressPlan(a.Plan); err == nil {
		return ap.AddressType
	}
	return ""
}

func routeAddress(a *types.Address) string {
	if a.Address != "" {
		return a.Address
	}
	return a.Name
}

func (p *placer) syncRouterConfig(ctx context.Context, rc *types.Resource) error {
	var existing *types.Resource
	err := p.call(ctx, func(ctx context.Context) error {
		var err error
		existing, err = p.api.Get(ctx, types.KindRouterConfig, rc.Name)
		return err
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return p.create(ctx, rc)
	case err != nil:
		return err
	case existing.SameContent(rc):
		return nil
	}
	return p.replace(ctx, rc)
}

// create tolerates a resource that already exists by replacing it, which
// happens when an earlier pass failed after its create was committed.
func (p *placer) create(ctx context.Context, r *types.Resource) error {
	err := p.call(ctx, func(ctx context.Context) error {
		_, err := p.api.Create(ctx, r)
		return err
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return p.replace(ctx, r)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", r.Key(), err)
	}
	return nil
}

func (p *placer) replace(ctx context.Context, r *types.Resource) error {
	err := p.call(ctx, func(ctx context.Context) error {
		_, err := p.api.Replace(ctx, r)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to replace %s: %w", r.Key(), err)
	}
	return nil
}

func (p *placer) upsert(ctx context.Context, r *types.Resource, exists bool) error {
	if exists {
		return p.replace(ctx, r)
	}
	return p.create(ctx, r)
}

func (p *placer) delete(ctx context.Context, kind types.ResourceKind, name string) error {
	err := p.call(ctx, func(ctx context.Context) error {
		return p.api.Delete(ctx, kind, name)
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete %s: %w", types.ResourceKey(kind, name), err)
	}
	return nil
}

// newAssignments counts shards in after that were not in before
func newAssignments(before, after []*types.BrokerUnit) int {
	type key struct {
		unit, address string
		shard         int
	}
	seen := make(map[key]bool)
	for _, u := range before {
		for _, a := range u.Assignments {
			seen[key{u.Name, a.Address, a.Shard}] = true
		}
	}
	n := 0
	for _, u := range after {
		for _, a := range u.Assignments {
			if !seen[key{u.Name, a.Address, a.Shard}] {
				n++
			}
		}
	}
	return n
}
