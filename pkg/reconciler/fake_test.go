package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/courier/pkg/plans"
	"github.com/cuemby/courier/pkg/storage"
	"github.com/cuemby/courier/pkg/types"
)

const testPlans = `
addressPlans:
  - name: small-queue
    addressType: queue
    colocation: pooled
    partitions: 1
    resources:
      broker: 0.3
  - name: large-queue
    addressType: queue
    colocation: sharded
    partitions: 2
    resources:
      broker: 0.6
  - name: huge-queue
    addressType: queue
    colocation: pooled
    partitions: 1
    resources:
      broker: 1.5
  - name: brokered-queue
    addressType: queue
    colocation: pooled
    partitions: 1
    resources:
      broker: 0.3
  - name: brokered-topic
    addressType: topic
    colocation: sharded
    partitions: 3
    resources:
      broker: 0.1
addressSpacePlans:
  - name: standard-small
    addressSpaceType: standard
    unitCapacity:
      broker: 1
    resourceLimits:
      broker: 3
    addressPlans: [small-queue, large-queue, huge-queue]
  - name: brokered-single
    addressSpaceType: brokered
    unitCapacity:
      broker: 1
    addressPlans: [brokered-queue, brokered-topic]
defaults:
  standard: standard-small
  brokered: brokered-single
`

func testCatalog(t *testing.T) *plans.Catalog {
	t.Helper()
	c, err := plans.Parse([]byte(testPlans))
	require.NoError(t, err)
	return c
}

var errUnavailable = errors.New("api unavailable")

// fakeAPI is an in-memory ClusterAPI with failure injection
type fakeAPI struct {
	mu      sync.Mutex
	items   map[string]*types.Resource
	version uint64
	writes  int

	failInstanceDeletes int
	instanceDeleteDelay time.Duration
	instanceDeletes     []time.Time
	failLists           error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: make(map[string]*types.Resource)}
}

func (f *fakeAPI) Create(ctx context.Context, r *types.Resource) (*types.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[r.Key()]; ok {
		return nil, fmt.Errorf("%s: %w", r.Key(), storage.ErrAlreadyExists)
	}
	return f.put(r), nil
}

func (f *fakeAPI) Replace(ctx context.Context, r *types.Resource) (*types.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.put(r), nil
}

func (f *fakeAPI) put(r *types.Resource) *types.Resource {
	f.version++
	f.writes++
	c := r.Clone()
	c.Version = f.version
	f.items[c.Key()] = c
	return c.Clone()
}

func (f *fakeAPI) Delete(ctx context.Context, kind types.ResourceKind, name string) error {
	if kind == types.KindInstance {
		f.mu.Lock()
		delay := f.instanceDeleteDelay
		f.mu.Unlock()
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == types.KindInstance {
		f.instanceDeletes = append(f.instanceDeletes, time.Now())
		if f.failInstanceDeletes > 0 {
			f.failInstanceDeletes--
			return errUnavailable
		}
	}
	key := types.ResourceKey(kind, name)
	if _, ok := f.items[key]; !ok {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	f.writes++
	delete(f.items, key)
	return nil
}

func (f *fakeAPI) Get(ctx context.Context, kind types.ResourceKind, name string) (*types.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.items[types.ResourceKey(kind, name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", types.ResourceKey(kind, name), storage.ErrNotFound)
	}
	return r.Clone(), nil
}

func (f *fakeAPI) List(ctx context.Context, kind types.ResourceKind) ([]*types.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLists != nil {
		return nil, f.failLists
	}
	var out []*types.Resource
	for _, r := range f.items {
		if r.Kind == kind {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeAPI) names(kind types.ResourceKind) []string {
	items, _ := f.List(context.Background(), kind)
	names := []string{}
	for _, r := range items {
		names = append(names, r.Name)
	}
	return names
}

func (f *fakeAPI) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeAPI) deleteTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.instanceDeletes...)
}

func (f *fakeAPI) instance(name string) *types.Instance {
	r, err := f.Get(context.Background(), types.KindInstance, name)
	if err != nil {
		return nil
	}
	inst := &types.Instance{}
	if err := r.Decode(inst); err != nil {
		return nil
	}
	return inst
}

func (f *fakeAPI) address(t *testing.T, space, name string) (*types.Resource, *types.Address) {
	t.Helper()
	r, err := f.Get(context.Background(), types.KindAddress, AddressResourceName(space, name))
	require.NoError(t, err)
	a := &types.Address{}
	require.NoError(t, r.Decode(a))
	return r, a
}

func (f *fakeAPI) unit(t *testing.T, name string) (*types.Resource, *types.BrokerUnit) {
	t.Helper()
	r, err := f.Get(context.Background(), types.KindBrokerUnit, name)
	require.NoError(t, err)
	u := &types.BrokerUnit{}
	require.NoError(t, r.Decode(u))
	return r, u
}
