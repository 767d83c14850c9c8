package plans

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/courier/pkg/types"
)

func TestLoad(t *testing.T) {
	c, err := Load("testdata/plans.yaml")
	require.NoError(t, err)

	p, err := c.AddressPlan("large-queue")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Partitions)
	assert.Equal(t, types.ColocationSharded, p.Colocation)
	assert.True(t, p.Usage().Equal(types.Resources{"broker": 1.2, "router": 0.02}))

	sp, err := c.AddressSpacePlan("standard-small")
	require.NoError(t, err)
	assert.Equal(t, 3.0, sp.ResourceLimits["broker"])

	assert.Len(t, c.AddressPlans(), 3)
	assert.Equal(t, "brokered-single", c.AddressSpacePlans()[0].Name)
}

func TestLookupReturnsCopies(t *testing.T) {
	c, err := Load("testdata/plans.yaml")
	require.NoError(t, err)

	p, err := c.AddressPlan("small-queue")
	require.NoError(t, err)
	p.Resources["broker"] = 99

	again, err := c.AddressPlan("small-queue")
	require.NoError(t, err)
	assert.Equal(t, 0.1, again.Resources["broker"])
}

func TestPlanNotFound(t *testing.T) {
	c, err := Load("testdata/plans.yaml")
	require.NoError(t, err)

	_, err = c.AddressPlan("missing")
	assert.True(t, errors.Is(err, ErrPlanNotFound))

	var pnf *PlanNotFoundError
	require.True(t, errors.As(err, &pnf))
	assert.Equal(t, "missing", pnf.Name)

	_, err = c.AddressSpacePlan("missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestDefaultPlan(t *testing.T) {
	c, err := Load("testdata/plans.yaml")
	require.NoError(t, err)

	p, err := c.DefaultPlan(types.AddressSpaceBrokered)
	require.NoError(t, err)
	assert.Equal(t, "brokered-single", p.Name)

	empty, err := New(nil, nil, nil)
	require.NoError(t, err)
	_, err = empty.DefaultPlan(types.AddressSpaceStandard)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestResolveSpacePlan(t *testing.T) {
	c, err := Load("testdata/plans.yaml")
	require.NoError(t, err)

	p, err := c.ResolveSpacePlan(&types.AddressSpace{Name: "s", Type: types.AddressSpaceStandard})
	require.NoError(t, err)
	assert.Equal(t, "standard-small", p.Name)

	_, err = c.ResolveSpacePlan(&types.AddressSpace{Name: "s", Type: types.AddressSpaceBrokered, Plan: "standard-small"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPlanNotFound)

	_, err = c.ResolveSpacePlan(&types.AddressSpace{Name: "s", Type: types.AddressSpaceStandard, Plan: "gold"})
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestValidateSpace(t *testing.T) {
	c, err := Load("testdata/plans.yaml")
	require.NoError(t, err)

	ok := &types.AddressSpace{
		Name: "s", Type: types.AddressSpaceStandard, Plan: "standard-small",
		Addresses: []*types.Address{{Name: "q1", Plan: "small-queue"}},
	}
	assert.NoError(t, c.ValidateSpace(ok))

	notAllowed := &types.AddressSpace{
		Name: "s", Type: types.AddressSpaceStandard,
		Addresses: []*types.Address{{Name: "q1", Plan: "brokered-queue"}},
	}
	assert.Error(t, c.ValidateSpace(notAllowed))

	unknown := &types.AddressSpace{
		Name: "s", Type: types.AddressSpaceStandard,
		Addresses: []*types.Address{{Name: "q1", Plan: "nope"}},
	}
	assert.ErrorIs(t, c.ValidateSpace(unknown), ErrPlanNotFound)
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "zero partitions",
			yaml: `
addressPlans:
  - {name: a, colocation: pooled, partitions: 0, resources: {broker: 1}}
`,
		},
		{
			name: "unknown colocation",
			yaml: `
addressPlans:
  - {name: a, colocation: spread, partitions: 1}
`,
		},
		{
			name: "duplicate address plan",
			yaml: `
addressPlans:
  - {name: a, colocation: pooled, partitions: 1}
  - {name: a, colocation: pooled, partitions: 1}
`,
		},
		{
			name: "space plan references unknown address plan",
			yaml: `
addressSpacePlans:
  - {name: s, addressSpaceType: standard, unitCapacity: {broker: 1}, addressPlans: [nope]}
`,
		},
		{
			name: "default references unknown plan",
			yaml: `
defaults:
  standard: nope
`,
		},
		{
			name: "negative limit",
			yaml: `
addressSpacePlans:
  - {name: s, addressSpaceType: standard, unitCapacity: {broker: 1}, resourceLimits: {broker: -1}}
`,
		},
		{
			name: "malformed yaml",
			yaml: `addressPlans: [`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
