package configserv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/courier/pkg/events"
	"github.com/cuemby/courier/pkg/types"
)

// memFeed is an in-memory resource feed
type memFeed struct {
	*events.Broker[*types.Resource]

	mu    sync.Mutex
	items map[string]*types.Resource
}

func newMemFeed(items ...*types.Resource) *memFeed {
	f := &memFeed{Broker: events.NewBroker[*types.Resource](0), items: make(map[string]*types.Resource)}
	for _, r := range items {
		f.items[r.Key()] = r
	}
	f.Start()
	return f
}

func (f *memFeed) List(ctx context.Context) ([]*types.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Resource, 0, len(f.items))
	for _, r := range f.items {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (f *memFeed) put(r *types.Resource) {
	f.mu.Lock()
	_, exists := f.items[r.Key()]
	f.items[r.Key()] = r
	f.mu.Unlock()

	typ := events.EventAdded
	if exists {
		typ = events.EventModified
	}
	f.Publish(events.Delta(typ, r.Clone()))
}

// putQuiet changes the state without publishing
func (f *memFeed) putQuiet(r *types.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[r.Key()] = r
}

func runDistributor(t *testing.T, feed *memFeed) *Distributor {
	t.Helper()
	d := NewDistributor(feed, Config{RetryInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Error("distributor did not stop")
		}
		feed.Stop()
	})
	return d
}

func TestDistributorSelectorKeyedSubscribers(t *testing.T) {
	feed := newMemFeed(brokerResource("b0", "other"), addressResource("a0"))
	d := runDistributor(t, feed)
	reg := d.Registry()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	broker, err := reg.Subscribe(ctx, brokerKey)
	require.NoError(t, err)
	defer reg.Unsubscribe(broker)
	topic, err := reg.Subscribe(ctx, topicKey)
	require.NoError(t, err)
	defer reg.Unsubscribe(topic)

	assert.Len(t, reg.Keys(), 2)
	assert.Equal(t, []string{"b0"}, names(receive(t, broker).Items))
	assert.Empty(t, receive(t, topic).Items)

	feed.put(brokerResource("b0", "mytopic"))
	snap := receive(t, topic)
	assert.Equal(t, []string{"b0"}, names(snap.Items))
	assertQuiet(t, broker)
}

func TestDistributorRelistsAfterDisconnect(t *testing.T) {
	feed := newMemFeed(brokerResource("b0", ""))
	d := runDistributor(t, feed)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub, err := d.Registry().Subscribe(ctx, brokerKey)
	require.NoError(t, err)
	defer d.Registry().Unsubscribe(sub)
	receive(t, sub)

	require.Eventually(t, func() bool { return feed.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	feed.putQuiet(brokerResource("b1", ""))
	feed.DropSubscribers()

	assert.Equal(t, []string{"b0", "b1"}, names(receive(t, sub).Items))
}
