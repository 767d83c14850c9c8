package types

import (
	"fmt"
)

// AddressSpaceType selects the provisioning variant of a space
type AddressSpaceType string

const (
	AddressSpaceStandard AddressSpaceType = "standard"
	AddressSpaceBrokered AddressSpaceType = "brokered"
)

// Valid reports whether t is a known space type
func (t AddressSpaceType) Valid() bool {
	return t == AddressSpaceStandard || t == AddressSpaceBrokered
}

// AddressType is the messaging semantics of an address
type AddressType string

const (
	AddressTypeQueue     AddressType = "queue"
	AddressTypeTopic     AddressType = "topic"
	AddressTypeAnycast   AddressType = "anycast"
	AddressTypeMulticast AddressType = "multicast"
)

// Valid reports whether t is a known address type
func (t AddressType) Valid() bool {
	switch t {
	case AddressTypeQueue, AddressTypeTopic, AddressTypeAnycast, AddressTypeMulticast:
		return true
	}
	return false
}

// Colocation controls whether shards of different addresses may share a unit
type Colocation string

const (
	// ColocationPooled lets shards of many addresses share one unit.
	ColocationPooled Colocation = "pooled"
	// ColocationSharded keeps shards of one address on distinct units.
	ColocationSharded Colocation = "sharded"
)

// AddressPlan is the per-address resource budget
type AddressPlan struct {
	Name        string      `yaml:"name" json:"name"`
	DisplayName string      `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	AddressType AddressType `yaml:"addressType" json:"addressType"`
	Colocation  Colocation  `yaml:"colocation" json:"colocation"`
	// Partitions is the number of shards. Every shard carries the full
	// Resources vector.
	Partitions int       `yaml:"partitions" json:"partitions"`
	Resources  Resources `yaml:"resources" json:"resources"`
}

// Usage returns the total demand of an address on this plan.
func (p *AddressPlan) Usage() Resources {
	return p.Resources.Scale(float64(p.Partitions))
}

// Clone returns a deep copy
func (p *AddressPlan) Clone() *AddressPlan {
	if p == nil {
		return nil
	}
	c := *p
	c.Resources = p.Resources.Clone()
	return &c
}

// AddressSpacePlan is the per-tenant budget
type AddressSpacePlan struct {
	Name             string           `yaml:"name" json:"name"`
	DisplayName      string           `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	AddressSpaceType AddressSpaceType `yaml:"addressSpaceType" json:"addressSpaceType"`
	// UnitCapacity is the capacity of every broker unit allocated for a
	// space on this plan.
	UnitCapacity Resources `yaml:"unitCapacity" json:"unitCapacity"`
	// ResourceLimits caps the aggregate usage of the space. Absent
	// dimensions are unbounded.
	ResourceLimits Resources `yaml:"resourceLimits,omitempty" json:"resourceLimits,omitempty"`
	// MinUnits idle units are kept alive instead of being deleted.
	MinUnits     int      `yaml:"minUnits,omitempty" json:"minUnits,omitempty"`
	AddressPlans []string `yaml:"addressPlans" json:"addressPlans"`
}

// Allows reports whether the address plan is permitted under this space plan.
func (p *AddressSpacePlan) Allows(addressPlan string) bool {
	for _, name := range p.AddressPlans {
		if name == addressPlan {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (p *AddressSpacePlan) Clone() *AddressSpacePlan {
	if p == nil {
		return nil
	}
	c := *p
	c.UnitCapacity = p.UnitCapacity.Clone()
	c.ResourceLimits = p.ResourceLimits.Clone()
	c.AddressPlans = append([]string(nil), p.AddressPlans...)
	return &c
}

// AddressSpace is a tenant's declared set of addresses
type AddressSpace struct {
	Name      string           `yaml:"name" json:"name"`
	Type      AddressSpaceType `yaml:"type" json:"type"`
	Plan      string           `yaml:"plan,omitempty" json:"plan,omitempty"`
	Addresses []*Address       `yaml:"addresses,omitempty" json:"addresses,omitempty"`
}

// ID returns the instance this space is provisioned as
func (s *AddressSpace) ID() InstanceID {
	return InstanceID(s.Name)
}

// Validate checks the declaration's structure. Plan references are checked
// against the catalog elsewhere.
func (s *AddressSpace) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("address space name is required")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("address space %s: invalid type %q", s.Name, s.Type)
	}
	seen := make(map[string]bool, len(s.Addresses))
	for _, a := range s.Addresses {
		if a == nil || a.Name == "" {
			return fmt.Errorf("address space %s: address name is required", s.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("address space %s: duplicate address %s", s.Name, a.Name)
		}
		seen[a.Name] = true
		if a.Plan == "" {
			return fmt.Errorf("address space %s: address %s has no plan", s.Name, a.Name)
		}
		if a.Type != "" && !a.Type.Valid() {
			return fmt.Errorf("address space %s: address %s has invalid type %q", s.Name, a.Name, a.Type)
		}
	}
	return nil
}

// Clone returns a deep copy
func (s *AddressSpace) Clone() *AddressSpace {
	if s == nil {
		return nil
	}
	c := *s
	c.Addresses = make([]*Address, 0, len(s.Addresses))
	for _, a := range s.Addresses {
		c.Addresses = append(c.Addresses, a.Clone())
	}
	return &c
}

// AddressPhase is the provisioning phase of an address
type AddressPhase string

const (
	AddressPending     AddressPhase = "Pending"
	AddressConfiguring AddressPhase = "Configuring"
	AddressActive      AddressPhase = "Active"
)

// Address is a named messaging endpoint owned by one address space
type Address struct {
	Name    string      `yaml:"name" json:"name"`
	Address string      `yaml:"address,omitempty" json:"address,omitempty"`
	Type    AddressType `yaml:"type,omitempty" json:"type,omitempty"`
	Plan    string      `yaml:"plan" json:"plan"`

	Status AddressStatus `yaml:"-" json:"status"`
}

// AddressStatus is written by the controller
type AddressStatus struct {
	Phase AddressPhase `json:"phase,omitempty"`
	Ready bool         `json:"ready"`
	// Placement holds the broker unit of each shard, indexed by shard.
	Placement []string `json:"placement,omitempty"`
	Messages  []string `json:"messages,omitempty"`
}

// Clone returns a deep copy
func (a *Address) Clone() *Address {
	if a == nil {
		return nil
	}
	c := *a
	c.Status.Placement = append([]string(nil), a.Status.Placement...)
	c.Status.Messages = append([]string(nil), a.Status.Messages...)
	return &c
}

// ShardAssignment records one shard placed on a unit, together with the plan
// and usage it was placed under.
type ShardAssignment struct {
	Address string    `json:"address"`
	Shard   int       `json:"shard"`
	Plan    string    `json:"plan"`
	Usage   Resources `json:"usage"`
}

// BrokerUnit is a provisioned capacity unit hosting address shards
type BrokerUnit struct {
	Name        string            `json:"name"`
	Space       string            `json:"space"`
	Ordinal     int               `json:"ordinal"`
	Capacity    Resources         `json:"capacity"`
	SpacePlan   string            `json:"spacePlan,omitempty"`
	Assignments []ShardAssignment `json:"assignments,omitempty"`
}

// BrokerUnitName returns the deterministic name of a space's n-th unit
func BrokerUnitName(space string, ordinal int) string {
	return fmt.Sprintf("%s-broker-%d", space, ordinal)
}

// Used sums the usage of all assignments
func (u *BrokerUnit) Used() Resources {
	used := Resources{}
	for _, a := range u.Assignments {
		used = used.Add(a.Usage)
	}
	return used
}

// Residual is the remaining capacity
func (u *BrokerUnit) Residual() Resources {
	return u.Capacity.Sub(u.Used())
}

// Hosts reports whether any shard of address is on this unit
func (u *BrokerUnit) Hosts(address string) bool {
	for _, a := range u.Assignments {
		if a.Address == address {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (u *BrokerUnit) Clone() *BrokerUnit {
	if u == nil {
		return nil
	}
	c := *u
	c.Capacity = u.Capacity.Clone()
	c.Assignments = make([]ShardAssignment, len(u.Assignments))
	for i, a := range u.Assignments {
		a.Usage = a.Usage.Clone()
		c.Assignments[i] = a
	}
	return &c
}

// InstanceID identifies the infrastructure instance of one address space
type InstanceID string

// InstancePhase is the lifecycle state of an instance
type InstancePhase string

const (
	InstancePending   InstancePhase = "Pending"
	InstanceCreating  InstancePhase = "Creating"
	InstanceReady     InstancePhase = "Ready"
	InstanceRetaining InstancePhase = "Retaining"
)

// ConditionType names a status condition
type ConditionType string

const (
	ConditionReady            ConditionType = "Ready"
	ConditionPlanResolved     ConditionType = "PlanResolved"
	ConditionScheduled        ConditionType = "Scheduled"
	ConditionSchedulingFailed ConditionType = "SchedulingFailed"
)

// Condition is one observation about an instance
type Condition struct {
	Type    ConditionType `json:"type"`
	Status  bool          `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Instance is the provisioned infrastructure of one address space
type Instance struct {
	ID         InstanceID       `json:"id"`
	SpaceType  AddressSpaceType `json:"spaceType"`
	SpacePlan  string           `json:"spacePlan"`
	Phase      InstancePhase    `json:"phase"`
	Conditions []Condition      `json:"conditions,omitempty"`
	Generation int64            `json:"generation"`
}

// SetCondition replaces the condition of the same type or appends it.
// It returns true if anything changed.
func (i *Instance) SetCondition(c Condition) bool {
	for idx, existing := range i.Conditions {
		if existing.Type == c.Type {
			if existing == c {
				return false
			}
			i.Conditions[idx] = c
			return true
		}
	}
	i.Conditions = append(i.Conditions, c)
	return true
}

// Condition returns the condition of the given type
func (i *Instance) Condition(t ConditionType) (Condition, bool) {
	for _, c := range i.Conditions {
		if c.Type == t {
			return c, true
		}
	}
	return Condition{}, false
}

// Clone returns a deep copy
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.Conditions = append([]Condition(nil), i.Conditions...)
	return &c
}

// RouterConfig lists the addresses a space's routers must serve
type RouterConfig struct {
	Space     string        `json:"space"`
	Addresses []RouterRoute `json:"addresses"`
}

// RouterRoute links an address to the units holding its shards
type RouterRoute struct {
	Address string      `json:"address"`
	Type    AddressType `json:"type"`
	Units   []string    `json:"units"`
}
