package configserv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/courier/pkg/types"
)

func TestObserverKeyEqualityIgnoresInsertionOrder(t *testing.T) {
	a := map[types.LabelKey]string{}
	a[types.LabelRole] = types.RoleBroker
	a[types.LabelAddressSpace] = "tenant-a"

	b := map[types.LabelKey]string{}
	b[types.LabelAddressSpace] = "tenant-a"
	b[types.LabelRole] = types.RoleBroker

	k1 := NewObserverKey(a, map[types.AnnotationKey]string{types.AnnotationClusterID: "mytopic"})
	k2 := NewObserverKey(b, map[types.AnnotationKey]string{types.AnnotationClusterID: "mytopic"})
	assert.True(t, k1.Equal(k2))
	assert.Equal(t, k1.String(), k2.String())

	k3 := NewObserverKey(b, nil)
	assert.False(t, k1.Equal(k3))
}

func TestObserverKeyLabelsAndAnnotationsDoNotCollide(t *testing.T) {
	// The same pairs on different sides are different interests.
	onLabels := NewObserverKey(map[types.LabelKey]string{types.LabelRole: "x"}, nil)
	other := NewObserverKey(nil, nil)
	assert.False(t, onLabels.Equal(other))
	assert.Equal(t, `role="x"|`, onLabels.String())
	assert.Equal(t, `|`, other.String())
}

func TestObserverKeyQuotesValues(t *testing.T) {
	k1 := NewObserverKey(nil, map[types.AnnotationKey]string{types.AnnotationBrokerID: "a,b"})
	k2 := NewObserverKey(nil, map[types.AnnotationKey]string{
		types.AnnotationBrokerID:  "a",
		types.AnnotationClusterID: "b",
	})
	assert.False(t, k1.Equal(k2))
}

func TestObserverKeyIsImmutable(t *testing.T) {
	l := map[types.LabelKey]string{types.LabelRole: types.RoleBroker}
	k := NewObserverKey(l, nil)
	before := k.String()

	l[types.LabelRole] = types.RoleAddress
	assert.Equal(t, before, k.String())

	got := k.Labels()
	got[types.LabelApp] = "mutated"
	assert.Equal(t, map[types.LabelKey]string{types.LabelRole: types.RoleBroker}, k.Labels())
	assert.Empty(t, k.Annotations())
}

func TestObserverKeyMatches(t *testing.T) {
	r := brokerResource("b0", "mytopic")

	tests := []struct {
		name string
		key  ObserverKey
		want bool
	}{
		{"empty selects all", NewObserverKey(nil, nil), true},
		{"label match", NewObserverKey(map[types.LabelKey]string{types.LabelRole: types.RoleBroker}, nil), true},
		{"label mismatch", NewObserverKey(map[types.LabelKey]string{types.LabelRole: types.RoleAddress}, nil), false},
		{"annotation match", NewObserverKey(
			map[types.LabelKey]string{types.LabelRole: types.RoleBroker},
			map[types.AnnotationKey]string{types.AnnotationClusterID: "mytopic"}), true},
		{"annotation mismatch", NewObserverKey(nil, map[types.AnnotationKey]string{types.AnnotationClusterID: "other"}), false},
		{"annotation missing", NewObserverKey(nil, map[types.AnnotationKey]string{types.AnnotationBrokerID: "b0"}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.Matches(r))
		})
	}
}

func TestObserverKeyZeroValueMatchesAll(t *testing.T) {
	var k ObserverKey
	assert.True(t, k.Matches(brokerResource("b0", "")))
}

func TestParseObserverKey(t *testing.T) {
	k, err := ParseObserverKey(map[string]string{"role": "broker"}, map[string]string{"cluster_id": "mytopic"})
	require.NoError(t, err)
	assert.Equal(t, `role="broker"|cluster_id="mytopic"`, k.String())

	_, err = ParseObserverKey(map[string]string{"colour": "blue"}, nil)
	assert.ErrorIs(t, err, types.ErrUnknownKey)

	_, err = ParseObserverKey(nil, map[string]string{"owner": "x"})
	assert.ErrorIs(t, err, types.ErrUnknownKey)
}

func TestProjectKeepsSelectedAnnotationsOnly(t *testing.T) {
	r := brokerResource("b0", "mytopic")
	r.Annotations[types.AnnotationBrokerID] = "b0"

	plain := NewObserverKey(nil, nil).project(r)
	assert.Nil(t, plain.Annotations)
	assert.Equal(t, types.RoleBroker, plain.Labels[string(types.LabelRole)])
	assert.Equal(t, []byte(r.Body), plain.Body)

	selected := NewObserverKey(nil, map[types.AnnotationKey]string{types.AnnotationClusterID: "mytopic"}).project(r)
	assert.Equal(t, map[string]string{"cluster_id": "mytopic"}, selected.Annotations)
}
