package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/courier/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func unitResource(t *testing.T, name string, capacity float64) *types.Resource {
	t.Helper()
	r, err := types.NewResource(types.KindBrokerUnit, name, &types.BrokerUnit{
		Name:     name,
		Capacity: types.Resources{"broker": capacity},
	})
	require.NoError(t, err)
	r.Labels[types.LabelRole] = types.RoleBroker
	return r
}

func TestCreateGet(t *testing.T) {
	s := newTestStore(t)

	stored, err := s.Create(unitResource(t, "a-broker-0", 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stored.Version)

	got, err := s.Get(types.KindBrokerUnit, "a-broker-0")
	require.NoError(t, err)
	assert.True(t, got.SameContent(stored))
	assert.Equal(t, types.RoleBroker, got.Labels[types.LabelRole])

	_, err = s.Create(unitResource(t, "a-broker-0", 2))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.Get(types.KindBrokerUnit, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceBumpsVersion(t *testing.T) {
	s := newTestStore(t)

	prev, first, err := s.Replace(unitResource(t, "a-broker-0", 1))
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, second, err := s.Replace(unitResource(t, "a-broker-0", 2))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, first.Version, prev.Version)
	assert.Greater(t, second.Version, first.Version)

	var unit types.BrokerUnit
	require.NoError(t, second.Decode(&unit))
	assert.Equal(t, 2.0, unit.Capacity["broker"])
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(unitResource(t, "a-broker-0", 1))
	require.NoError(t, err)

	deleted, err := s.Delete(types.KindBrokerUnit, "a-broker-0")
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, "a-broker-0", deleted.Name)

	deleted, err = s.Delete(types.KindBrokerUnit, "a-broker-0")
	require.NoError(t, err)
	assert.Nil(t, deleted)
}

func TestListOrdering(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"b-broker-0", "a-broker-1", "a-broker-0"} {
		_, err := s.Create(unitResource(t, name, 1))
		require.NoError(t, err)
	}
	inst, err := types.NewResource(types.KindInstance, "a", &types.Instance{ID: "a"})
	require.NoError(t, err)
	_, err = s.Create(inst)
	require.NoError(t, err)

	units, err := s.List(types.KindBrokerUnit)
	require.NoError(t, err)
	var names []string
	for _, u := range units {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"a-broker-0", "a-broker-1", "b-broker-0"}, names)

	all, err := s.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, types.KindBrokerUnit, all[0].Kind)
	assert.Equal(t, types.KindInstance, all[3].Kind)
}

func TestUnknownKind(t *testing.T) {
	s := newTestStore(t)
	_, err := s.List("Widget")
	assert.Error(t, err)
}

func TestRestore(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(unitResource(t, "old-broker-0", 1))
	require.NoError(t, err)

	snap := unitResource(t, "new-broker-0", 1)
	snap.Version = 40
	require.NoError(t, s.Restore([]*types.Resource{snap}))

	all, err := s.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new-broker-0", all[0].Name)
	assert.Equal(t, uint64(40), all[0].Version)

	stored, err := s.Create(unitResource(t, "next-broker-0", 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(41), stored.Version)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	_, err = s.Create(unitResource(t, "a-broker-0", 1))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(types.KindBrokerUnit, "a-broker-0")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
}
