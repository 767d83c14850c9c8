package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/courier/pkg/api"
	"github.com/cuemby/courier/pkg/configserv"
	"github.com/cuemby/courier/pkg/events"
	"github.com/cuemby/courier/pkg/types"
)

type memFeed struct {
	*events.Broker[*types.Resource]

	mu    sync.Mutex
	items []*types.Resource
}

func (f *memFeed) List(ctx context.Context) ([]*types.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Resource(nil), f.items...), nil
}

func (f *memFeed) add(r *types.Resource) {
	f.mu.Lock()
	f.items = append(f.items, r)
	f.mu.Unlock()
	f.Publish(events.Delta(events.EventAdded, r))
}

func broker(name string) *types.Resource {
	r, err := types.NewResource(types.KindBrokerUnit, name, &types.BrokerUnit{Name: name})
	if err != nil {
		panic(err)
	}
	r.Labels[types.LabelRole] = types.RoleBroker
	r.Annotations[types.AnnotationClusterID] = name
	return r
}

func startServer(t *testing.T, items ...*types.Resource) (*Client, *memFeed, *configserv.Registry) {
	t.Helper()
	feed := &memFeed{Broker: events.NewBroker[*types.Resource](0), items: items}
	feed.Start()

	ctx, cancel := context.WithCancel(context.Background())
	d := configserv.NewDistributor(feed, configserv.Config{RetryInterval: 10 * time.Millisecond})
	go func() { _ = d.Run(ctx) }()

	lis := bufconn.Listen(1 << 20)
	srv := api.NewServer(d.Registry())
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		srv.ForceStop()
		cancel()
		feed.Stop()
	})
	return NewClientFromConn(conn), feed, d.Registry()
}

func TestWatchStreamsSnapshots(t *testing.T) {
	c, feed, registry := startServer(t, broker("b0"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snaps := make(chan *Snapshot, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, map[string]string{"role": "broker"}, map[string]string{"cluster_id": "b1"}, func(s *Snapshot) error {
			snaps <- s
			return nil
		})
	}()

	first := waitSnapshot(t, snaps)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Empty(t, first.Items)
	assert.Equal(t, `role="broker"|cluster_id="b1"`, first.Key)

	feed.add(broker("b1"))
	second := waitSnapshot(t, snaps)
	assert.Equal(t, uint64(2), second.Sequence)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "b1", second.Items[0].Name)
	assert.Equal(t, map[string]string{"cluster_id": "b1"}, second.Items[0].Annotations)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch did not return")
	}

	// The server detaches the subscriber once the client is gone.
	require.Eventually(t, func() bool { return len(registry.Keys()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestWatchStopsWhenCallbackFails(t *testing.T) {
	c, _, _ := startServer(t, broker("b0"))

	errStop := errors.New("stop")
	err := c.Watch(context.Background(), map[string]string{"role": "broker"}, nil, func(s *Snapshot) error {
		return errStop
	})
	assert.ErrorIs(t, err, errStop)
}

func TestWatchRejectsUnknownSelector(t *testing.T) {
	c, _, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.Watch(ctx, map[string]string{"colour": "blue"}, nil, func(*Snapshot) error { return nil })
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDecodeRejectsDigestMismatch(t *testing.T) {
	encoded, err := configserv.EncodeItems(nil)
	require.NoError(t, err)

	_, err = decode(&api.SnapshotMessage{Sequence: 1, Encoded: encoded, Digest: make([]byte, 32)})
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func waitSnapshot(t *testing.T, ch <-chan *Snapshot) *Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
