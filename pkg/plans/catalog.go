package plans

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/courier/pkg/types"
)

// ErrPlanNotFound is matched by every failed lookup
var ErrPlanNotFound = errors.New("plan not found")

// PlanNotFoundError names the plan that could not be resolved
type PlanNotFoundError struct {
	Kind string
	Name string
}

func (e *PlanNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *PlanNotFoundError) Unwrap() error {
	return ErrPlanNotFound
}

const (
	kindAddressPlan      = "address plan"
	kindAddressSpacePlan = "address space plan"
)

// document is the YAML layout of a plan file
type document struct {
	AddressPlans      []*types.AddressPlan              `yaml:"addressPlans"`
	AddressSpacePlans []*types.AddressSpacePlan         `yaml:"addressSpacePlans"`
	Defaults          map[types.AddressSpaceType]string `yaml:"defaults"`
}

// Catalog is the read-only set of plan definitions. It is safe for
// concurrent use; lookups return copies.
type Catalog struct {
	addressPlans map[string]*types.AddressPlan
	spacePlans   map[string]*types.AddressSpacePlan
	defaults     map[types.AddressSpaceType]string
}

// Load reads a catalog from a YAML file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plans: %w", err)
	}
	return New(doc.AddressPlans, doc.AddressSpacePlans, doc.Defaults)
}

// New builds a catalog from plan values and validates cross references
func New(addressPlans []*types.AddressPlan, spacePlans []*types.AddressSpacePlan, defaults map[types.AddressSpaceType]string) (*Catalog, error) {
	c := &Catalog{
		addressPlans: make(map[string]*types.AddressPlan, len(addressPlans)),
		spacePlans:   make(map[string]*types.AddressSpacePlan, len(spacePlans)),
		defaults:     make(map[types.AddressSpaceType]string, len(defaults)),
	}

	for _, p := range addressPlans {
		if err := validateAddressPlan(p); err != nil {
			return nil, err
		}
		if _, dup := c.addressPlans[p.Name]; dup {
			return nil, fmt.Errorf("duplicate address plan %s", p.Name)
		}
		c.addressPlans[p.Name] = p.Clone()
	}

	for _, p := range spacePlans {
		if err := c.validateSpacePlan(p); err != nil {
			return nil, err
		}
		if _, dup := c.spacePlans[p.Name]; dup {
			return nil, fmt.Errorf("duplicate address space plan %s", p.Name)
		}
		c.spacePlans[p.Name] = p.Clone()
	}

	for spaceType, name := range defaults {
		p, ok := c.spacePlans[name]
		if !ok {
			return nil, fmt.Errorf("default for %s: %w", spaceType, &PlanNotFoundError{Kind: kindAddressSpacePlan, Name: name})
		}
		if p.AddressSpaceType != spaceType {
			return nil, fmt.Errorf("default for %s references plan %s of type %s", spaceType, name, p.AddressSpaceType)
		}
		c.defaults[spaceType] = name
	}

	return c, nil
}

func validateAddressPlan(p *types.AddressPlan) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("address plan name is required")
	}
	if p.Partitions < 1 {
		return fmt.Errorf("address plan %s: partitions must be at least 1", p.Name)
	}
	if p.Colocation != types.ColocationPooled && p.Colocation != types.ColocationSharded {
		return fmt.Errorf("address plan %s: invalid colocation %q", p.Name, p.Colocation)
	}
	if p.AddressType != "" && !p.AddressType.Valid() {
		return fmt.Errorf("address plan %s: invalid address type %q", p.Name, p.AddressType)
	}
	if dim, neg := p.Resources.Negative(); neg {
		return fmt.Errorf("address plan %s: negative %s", p.Name, dim)
	}
	return nil
}

func (c *Catalog) validateSpacePlan(p *types.AddressSpacePlan) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("address space plan name is required")
	}
	if !p.AddressSpaceType.Valid() {
		return fmt.Errorf("address space plan %s: invalid type %q", p.Name, p.AddressSpaceType)
	}
	if len(p.UnitCapacity) == 0 {
		return fmt.Errorf("address space plan %s: unit capacity is required", p.Name)
	}
	if dim, neg := p.UnitCapacity.Negative(); neg {
		return fmt.Errorf("address space plan %s: negative capacity %s", p.Name, dim)
	}
	if dim, neg := p.ResourceLimits.Negative(); neg {
		return fmt.Errorf("address space plan %s: negative limit %s", p.Name, dim)
	}
	if p.MinUnits < 0 {
		return fmt.Errorf("address space plan %s: minUnits must not be negative", p.Name)
	}
	for _, name := range p.AddressPlans {
		if _, ok := c.addressPlans[name]; !ok {
			return fmt.Errorf("address space plan %s: %w", p.Name, &PlanNotFoundError{Kind: kindAddressPlan, Name: name})
		}
	}
	return nil
}

// AddressPlan looks up an address plan by name
func (c *Catalog) AddressPlan(name string) (*types.AddressPlan, error) {
	p, ok := c.addressPlans[name]
	if !ok {
		return nil, &PlanNotFoundError{Kind: kindAddressPlan, Name: name}
	}
	return p.Clone(), nil
}

// AddressSpacePlan looks up an address space plan by name
func (c *Catalog) AddressSpacePlan(name string) (*types.AddressSpacePlan, error) {
	p, ok := c.spacePlans[name]
	if !ok {
		return nil, &PlanNotFoundError{Kind: kindAddressSpacePlan, Name: name}
	}
	return p.Clone(), nil
}

// DefaultPlan returns the default space plan for a space type
func (c *Catalog) DefaultPlan(spaceType types.AddressSpaceType) (*types.AddressSpacePlan, error) {
	name, ok := c.defaults[spaceType]
	if !ok {
		return nil, &PlanNotFoundError{Kind: kindAddressSpacePlan, Name: "default/" + string(spaceType)}
	}
	return c.AddressSpacePlan(name)
}

// ResolveSpacePlan returns the plan a space runs under: its named plan, or
// the default for its type when it names none.
func (c *Catalog) ResolveSpacePlan(space *types.AddressSpace) (*types.AddressSpacePlan, error) {
	var (
		p   *types.AddressSpacePlan
		err error
	)
	if space.Plan == "" {
		p, err = c.DefaultPlan(space.Type)
	} else {
		p, err = c.AddressSpacePlan(space.Plan)
	}
	if err != nil {
		return nil, err
	}
	if p.AddressSpaceType != space.Type {
		return nil, fmt.Errorf("address space %s of type %s cannot use plan %s of type %s",
			space.Name, space.Type, p.Name, p.AddressSpaceType)
	}
	return p, nil
}

// Permits checks that addressPlan exists and is allowed by spacePlan
func (c *Catalog) Permits(spacePlan *types.AddressSpacePlan, addressPlan string) error {
	if _, ok := c.addressPlans[addressPlan]; !ok {
		return &PlanNotFoundError{Kind: kindAddressPlan, Name: addressPlan}
	}
	if !spacePlan.Allows(addressPlan) {
		return fmt.Errorf("address plan %s is not allowed by %s", addressPlan, spacePlan.Name)
	}
	return nil
}

// ValidateSpace checks a declaration structurally and against the catalog
func (c *Catalog) ValidateSpace(space *types.AddressSpace) error {
	if err := space.Validate(); err != nil {
		return err
	}
	sp, err := c.ResolveSpacePlan(space)
	if err != nil {
		return err
	}
	for _, a := range space.Addresses {
		if err := c.Permits(sp, a.Plan); err != nil {
			return fmt.Errorf("address %s: %w", a.Name, err)
		}
	}
	return nil
}

// AddressPlans lists all address plans sorted by name
func (c *Catalog) AddressPlans() []*types.AddressPlan {
	out := make([]*types.AddressPlan, 0, len(c.addressPlans))
	for _, p := range c.addressPlans {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddressSpacePlans lists all address space plans sorted by name
func (c *Catalog) AddressSpacePlans() []*types.AddressSpacePlan {
	out := make([]*types.AddressSpacePlan, 0, len(c.spacePlans))
	for _, p := range c.spacePlans {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Defaults returns the default plan name per space type
func (c *Catalog) Defaults() map[types.AddressSpaceType]string {
	out := make(map[types.AddressSpaceType]string, len(c.defaults))
	for k, v := range c.defaults {
		out[k] = v
	}
	return out
}
