package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/courier/pkg/api"
	"github.com/cuemby/courier/pkg/codec"
	"github.com/cuemby/courier/pkg/configserv"
)

// ErrDigestMismatch reports a snapshot whose content does not match its
// digest
var ErrDigestMismatch = errors.New("snapshot digest mismatch")

// Client is a config service subscriber
type Client struct {
	conn *grpc.ClientConn
}

// NewClient connects to addr. Without options the connection is plaintext.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// NewClientFromConn wraps an existing connection
func NewClientFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Snapshot is a decoded snapshot message
type Snapshot struct {
	Key      string
	Sequence uint64
	Digest   codec.Digest
	Items    []configserv.Item
}

// Watch subscribes with the given selectors and calls fn for every
// snapshot until ctx is done, the stream ends or fn returns an error.
func (c *Client) Watch(ctx context.Context, labels, annotations map[string]string, fn func(*Snapshot) error) error {
	stream, err := c.conn.NewStream(ctx, &api.ConfigServiceDesc.Streams[0], api.WatchMethod, api.CallContentSubtype())
	if err != nil {
		return fmt.Errorf("failed to open watch: %w", err)
	}
	if err := stream.SendMsg(&api.WatchRequest{Labels: labels, Annotations: annotations}); err != nil {
		return fmt.Errorf("failed to send watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send: %w", err)
	}

	for {
		msg := new(api.SnapshotMessage)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		snap, err := decode(msg)
		if err != nil {
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}

func decode(msg *api.SnapshotMessage) (*Snapshot, error) {
	sum := codec.Sum(msg.Encoded)
	if len(msg.Digest) != len(sum) || string(msg.Digest) != string(sum[:]) {
		return nil, fmt.Errorf("snapshot %d: %w", msg.Sequence, ErrDigestMismatch)
	}
	items, err := configserv.DecodeItems(msg.Encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %d: %w", msg.Sequence, err)
	}
	return &Snapshot{Key: msg.Key, Sequence: msg.Sequence, Digest: sum, Items: items}, nil
}
