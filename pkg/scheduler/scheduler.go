package scheduler

import (
	"fmt"
	"sort"

	"github.com/cuemby/courier/pkg/types"
)

// AggregateDimension is a limit key capping the sum of all dimensions of a
// space's usage.
const AggregateDimension = "aggregate"

// UnitsDimension is reported when a space may not allocate more units.
const UnitsDimension = "units"

// Input is everything one scheduling pass for a single address space needs
type Input struct {
	Space     string
	SpacePlan *types.AddressSpacePlan
	Addresses []*types.Address
	// Plans holds the address plan of every address, keyed by plan name.
	Plans map[string]*types.AddressPlan
	// Units is the space's current pool with its existing assignments.
	Units []*types.BrokerUnit
	// MaxUnits caps the pool size. Zero means unlimited.
	MaxUnits int
}

// Result is the outcome of a scheduling pass
type Result struct {
	// Placement maps every fully placed address to its unit per shard.
	Placement map[string][]string
	// Units is the pool after the pass, in creation order.
	Units []*types.BrokerUnit
	// Created names units allocated by this pass.
	Created []string
	// Idle names empty units that are not pinned by MinUnits.
	Idle []string
	// Failures lists addresses that could not be placed.
	Failures []*SchedulingFailure
}

// Unit returns the unit with the given name from the result pool
func (r *Result) Unit(name string) *types.BrokerUnit {
	for _, u := range r.Units {
		if u.Name == name {
			return u
		}
	}
	return nil
}

// SchedulingFailure names an address that could not be placed and the
// dimension that ran out
type SchedulingFailure struct {
	Address   string
	Shard     int
	Dimension string
	Reason    string
}

func (f *SchedulingFailure) Error() string {
	if f.Dimension == "" {
		return fmt.Sprintf("cannot schedule address %s: %s", f.Address, f.Reason)
	}
	return fmt.Sprintf("cannot schedule address %s shard %d: %s (%s)", f.Address, f.Shard, f.Reason, f.Dimension)
}

const (
	reasonQuotaExceeded = "quota exceeded"
	reasonTooLarge      = "shard exceeds unit capacity"
	reasonUnitLimit     = "unit limit reached"
	reasonUnknownPlan   = "unknown address plan"
	reasonNoSpacePlan   = "no address space plan"
)

// NameFunc names the unit with the given ordinal
type NameFunc func(space string, ordinal int) string

// Option configures a Scheduler
type Option func(*Scheduler)

// WithNameFunc overrides the unit naming scheme
func WithNameFunc(fn NameFunc) Option {
	return func(s *Scheduler) {
		s.name = fn
	}
}

// Scheduler places address shards onto broker units by first-fit-decreasing
// bin packing. It keeps no state between passes and performs no I/O.
type Scheduler struct {
	name NameFunc
}

// New creates a scheduler
func New(opts ...Option) *Scheduler {
	s := &Scheduler{name: types.BrokerUnitName}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// addressWork is an address expanded with its plan
type addressWork struct {
	addr   *types.Address
	plan   *types.AddressPlan
	weight float64
}

// pass holds the mutable state of one Schedule call. Inputs are cloned into
// it and never modified.
type pass struct {
	in          *Input
	units       []*types.BrokerUnit
	byName      map[string]*types.BrokerUnit
	usage       types.Resources
	nextOrdinal int
	created     []string
}

// Schedule computes a placement for the input. Identical inputs always yield
// identical results. Without a space plan every address fails and the pool
// is returned unchanged.
func (s *Scheduler) Schedule(in *Input) *Result {
	res := &Result{Placement: make(map[string][]string)}
	if in.SpacePlan == nil {
		for _, u := range in.Units {
			res.Units = append(res.Units, u.Clone())
		}
		for _, a := range in.Addresses {
			res.Failures = append(res.Failures, &SchedulingFailure{Address: a.Name, Reason: reasonNoSpacePlan})
		}
		return res
	}

	p := newPass(in)

	work, failures := orderAddresses(in)
	res.Failures = append(res.Failures, failures...)

	previous := previousAssignments(in.Units)
	shards := make(map[string][]string, len(work))

	// Sticky pass: surviving assignments claim their capacity first.
	for _, w := range work {
		placed := make([]string, w.plan.Partitions)
		for idx := range placed {
			prev, ok := previous[w.addr.Name][idx]
			if ok && p.keep(w, idx, prev) {
				placed[idx] = prev.unit
			}
		}
		shards[w.addr.Name] = placed
	}

	// First-fit pass in descending weight order.
	for _, w := range work {
		placed := shards[w.addr.Name]
		if failure := p.placeAddress(s, w, placed); failure != nil {
			res.Failures = append(res.Failures, failure)
			continue
		}
		res.Placement[w.addr.Name] = placed
	}

	for _, u := range p.units {
		sort.Slice(u.Assignments, func(i, j int) bool {
			if u.Assignments[i].Address != u.Assignments[j].Address {
				return u.Assignments[i].Address < u.Assignments[j].Address
			}
			return u.Assignments[i].Shard < u.Assignments[j].Shard
		})
	}
	res.Units = p.units
	res.Created = p.created
	res.Idle = p.idle()
	return res
}

func newPass(in *Input) *pass {
	p := &pass{
		in:     in,
		byName: make(map[string]*types.BrokerUnit, len(in.Units)),
		usage:  types.Resources{},
	}
	for _, u := range in.Units {
		c := u.Clone()
		c.Assignments = nil
		if in.SpacePlan != nil {
			c.Capacity = in.SpacePlan.UnitCapacity.Clone()
		}
		p.units = append(p.units, c)
		p.byName[c.Name] = c
		if c.Ordinal >= p.nextOrdinal {
			p.nextOrdinal = c.Ordinal + 1
		}
	}
	sort.SliceStable(p.units, func(i, j int) bool {
		if p.units[i].Ordinal != p.units[j].Ordinal {
			return p.units[i].Ordinal < p.units[j].Ordinal
		}
		return p.units[i].Name < p.units[j].Name
	})
	return p
}

// orderAddresses resolves plans and sorts addresses by descending shard
// weight, then name. Shards of one address share a weight, so they stay
// contiguous in the global shard order.
func orderAddresses(in *Input) ([]addressWork, []*SchedulingFailure) {
	var (
		work     []addressWork
		failures []*SchedulingFailure
	)
	for _, a := range in.Addresses {
		plan, ok := in.Plans[a.Plan]
		if !ok || plan == nil {
			failures = append(failures, &SchedulingFailure{Address: a.Name, Reason: reasonUnknownPlan + " " + a.Plan})
			continue
		}
		work = append(work, addressWork{addr: a, plan: plan, weight: plan.Resources.Weight()})
	}
	sort.SliceStable(work, func(i, j int) bool {
		if work[i].weight != work[j].weight {
			return work[i].weight > work[j].weight
		}
		return work[i].addr.Name < work[j].addr.Name
	})
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Address < failures[j].Address })
	return work, failures
}

type previousShard struct {
	unit  string
	plan  string
	usage types.Resources
}

func previousAssignments(units []*types.BrokerUnit) map[string]map[int]previousShard {
	out := make(map[string]map[int]previousShard)
	for _, u := range units {
		for _, a := range u.Assignments {
			if out[a.Address] == nil {
				out[a.Address] = make(map[int]previousShard)
			}
			out[a.Address][a.Shard] = previousShard{unit: u.Name, plan: a.Plan, usage: a.Usage}
		}
	}
	return out
}

// keep re-applies a previous assignment if it is still valid
func (p *pass) keep(w addressWork, idx int, prev previousShard) bool {
	if prev.plan != w.plan.Name || !prev.usage.Equal(w.plan.Resources) {
		return false
	}
	u, ok := p.byName[prev.unit]
	if !ok {
		return false
	}
	if !p.fits(u, w) {
		return false
	}
	if _, over := p.exceedsLimits(w.plan.Resources); over {
		return false
	}
	p.assign(u, w, idx)
	return true
}

// placeAddress places every unplaced shard of w. On failure all placements
// made here are rolled back; sticky shards stay.
func (p *pass) placeAddress(s *Scheduler, w addressWork, placed []string) *SchedulingFailure {
	ordinalBefore := p.nextOrdinal
	createdBefore := len(p.created)
	var fresh []int

	for idx := range placed {
		if placed[idx] != "" {
			continue
		}
		unit, failure := p.placeShard(s, w, idx)
		if failure != nil {
			p.rollback(w, placed, fresh, ordinalBefore, createdBefore)
			return failure
		}
		placed[idx] = unit
		fresh = append(fresh, idx)
	}
	return nil
}

func (p *pass) placeShard(s *Scheduler, w addressWork, idx int) (string, *SchedulingFailure) {
	if dim, over := p.exceedsLimits(w.plan.Resources); over {
		return "", &SchedulingFailure{Address: w.addr.Name, Shard: idx, Dimension: dim, Reason: reasonQuotaExceeded}
	}

	for _, u := range p.units {
		if p.fits(u, w) {
			p.assign(u, w, idx)
			return u.Name, nil
		}
	}

	capacity := p.in.SpacePlan.UnitCapacity
	if dim, short := w.plan.Resources.Shortfall(capacity); short {
		return "", &SchedulingFailure{Address: w.addr.Name, Shard: idx, Dimension: dim, Reason: reasonTooLarge}
	}
	if p.in.MaxUnits > 0 && len(p.units) >= p.in.MaxUnits {
		return "", &SchedulingFailure{Address: w.addr.Name, Shard: idx, Dimension: UnitsDimension, Reason: reasonUnitLimit}
	}

	u := &types.BrokerUnit{
		Name:      s.name(p.in.Space, p.nextOrdinal),
		Space:     p.in.Space,
		Ordinal:   p.nextOrdinal,
		Capacity:  capacity.Clone(),
		SpacePlan: p.in.SpacePlan.Name,
	}
	p.nextOrdinal++
	p.units = append(p.units, u)
	p.byName[u.Name] = u
	p.created = append(p.created, u.Name)
	p.assign(u, w, idx)
	return u.Name, nil
}

func (p *pass) fits(u *types.BrokerUnit, w addressWork) bool {
	if w.plan.Colocation == types.ColocationSharded && u.Hosts(w.addr.Name) {
		return false
	}
	return w.plan.Resources.Fits(u.Residual())
}

func (p *pass) exceedsLimits(demand types.Resources) (string, bool) {
	limits := p.in.SpacePlan.ResourceLimits
	next := p.usage.Add(demand)
	if limit, ok := limits[AggregateDimension]; ok {
		var total float64
		for _, dim := range next.Dimensions() {
			total += next[dim]
		}
		if total > limit+1e-9 {
			return AggregateDimension, true
		}
	}
	perDim := make(types.Resources, len(limits))
	for k, v := range limits {
		if k != AggregateDimension {
			perDim[k] = v
		}
	}
	return next.Exceeds(perDim)
}

func (p *pass) assign(u *types.BrokerUnit, w addressWork, idx int) {
	u.Assignments = append(u.Assignments, types.ShardAssignment{
		Address: w.addr.Name,
		Shard:   idx,
		Plan:    w.plan.Name,
		Usage:   w.plan.Resources.Clone(),
	})
	p.usage = p.usage.Add(w.plan.Resources)
}

func (p *pass) rollback(w addressWork, placed []string, fresh []int, ordinalBefore, createdBefore int) {
	for _, idx := range fresh {
		u := p.byName[placed[idx]]
		for i, a := range u.Assignments {
			if a.Address == w.addr.Name && a.Shard == idx {
				u.Assignments = append(u.Assignments[:i], u.Assignments[i+1:]...)
				break
			}
		}
		p.usage = p.usage.Sub(w.plan.Resources)
		placed[idx] = ""
	}

	// Units allocated for this address hold nothing else; drop them.
	for _, name := range p.created[createdBefore:] {
		delete(p.byName, name)
	}
	p.units = p.units[:len(p.units)-(len(p.created)-createdBefore)]
	p.created = p.created[:createdBefore]
	p.nextOrdinal = ordinalBefore
}

// idle lists empty units that can be removed. Empty units are pinned, earliest
// first, while the pool would otherwise drop below MinUnits.
func (p *pass) idle() []string {
	pinned := 0
	if p.in.SpacePlan != nil {
		pinned = p.in.SpacePlan.MinUnits
	}
	for _, u := range p.units {
		if len(u.Assignments) > 0 {
			pinned--
		}
	}
	var idle []string
	for _, u := range p.units {
		if len(u.Assignments) > 0 {
			continue
		}
		if pinned > 0 {
			pinned--
			continue
		}
		idle = append(idle, u.Name)
	}
	return idle
}
