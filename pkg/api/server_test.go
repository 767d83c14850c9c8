package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/courier/pkg/codec"
	"github.com/cuemby/courier/pkg/configserv"
	"github.com/cuemby/courier/pkg/events"
	"github.com/cuemby/courier/pkg/types"
)

// staticFeed lists a fixed set of resources and never publishes
type staticFeed struct {
	*events.Broker[*types.Resource]
	items []*types.Resource
}

func (f *staticFeed) List(context.Context) ([]*types.Resource, error) {
	return f.items, nil
}

func dial(t *testing.T, items ...*types.Resource) (*grpc.ClientConn, *configserv.Registry) {
	t.Helper()
	feed := &staticFeed{Broker: events.NewBroker[*types.Resource](0), items: items}
	feed.Start()

	ctx, cancel := context.WithCancel(context.Background())
	d := configserv.NewDistributor(feed, configserv.Config{})
	go func() { _ = d.Run(ctx) }()

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(d.Registry())
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
	return conn, d.Registry()
}

func openWatch(ctx context.Context, t *testing.T, conn *grpc.ClientConn, req *WatchRequest) grpc.ClientStream {
	t.Helper()
	stream, err := conn.NewStream(ctx, &ConfigServiceDesc.Streams[0], WatchMethod, CallContentSubtype())
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(req))
	require.NoError(t, stream.CloseSend())
	return stream
}

func TestWatchSendsCurrentSnapshot(t *testing.T) {
	r, err := types.NewResource(types.KindRouterConfig, "tenant-a", &types.RouterConfig{Space: "tenant-a"})
	require.NoError(t, err)
	r.Labels[types.LabelRole] = types.RoleRouterConfig
	r.Labels[types.LabelAddressSpace] = "tenant-a"

	conn, registry := dial(t, r)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream := openWatch(ctx, t, conn, &WatchRequest{Labels: map[string]string{"role": types.RoleRouterConfig}})

	msg := new(SnapshotMessage)
	require.NoError(t, stream.RecvMsg(msg))
	assert.Equal(t, uint64(1), msg.Sequence)
	assert.Equal(t, `role="router-config"|`, msg.Key)

	sum := codec.Sum(msg.Encoded)
	assert.Equal(t, sum[:], msg.Digest)

	items, err := configserv.DecodeItems(msg.Encoded)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "tenant-a", items[0].Name)

	keys := registry.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, msg.Key, keys[0].String())
}

func TestWatchRejectsInvalidSelector(t *testing.T) {
	conn, registry := dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream := openWatch(ctx, t, conn, &WatchRequest{Annotations: map[string]string{"owner": "me"}})

	err := stream.RecvMsg(new(SnapshotMessage))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Empty(t, registry.Keys())
}

func TestToMessage(t *testing.T) {
	key := configserv.NewObserverKey(map[types.LabelKey]string{types.LabelRole: types.RoleBroker}, nil)
	encoded, err := configserv.EncodeItems(nil)
	require.NoError(t, err)

	snap := &configserv.Snapshot{Key: key, Sequence: 7, Digest: codec.Sum(encoded), Encoded: encoded}
	msg := toMessage(snap)

	assert.Equal(t, key.String(), msg.Key)
	assert.Equal(t, uint64(7), msg.Sequence)
	assert.Equal(t, snap.Digest[:], msg.Digest)
	assert.Equal(t, encoded, msg.Encoded)
}
