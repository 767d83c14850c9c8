package api

import (
	"google.golang.org/grpc"

	"github.com/cuemby/courier/pkg/codec"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "courier.ConfigService"

// WatchMethod is the full method name of the Watch stream
const WatchMethod = "/" + ServiceName + "/Watch"

// WatchRequest attaches a subscriber. Keys must be known label and
// annotation keys.
type WatchRequest struct {
	Labels      map[string]string `cbor:"labels,omitempty"`
	Annotations map[string]string `cbor:"annotations,omitempty"`
}

// SnapshotMessage carries one complete snapshot. Encoded holds the CBOR
// item list; Digest is its BLAKE3 digest.
type SnapshotMessage struct {
	Key      string `cbor:"key"`
	Sequence uint64 `cbor:"sequence"`
	Digest   []byte `cbor:"digest"`
	Encoded  []byte `cbor:"encoded"`
}

// ConfigServiceServer is the server API for the config service
type ConfigServiceServer interface {
	Watch(*WatchRequest, ConfigServiceWatchServer) error
}

// ConfigServiceWatchServer is the server side of a Watch stream
type ConfigServiceWatchServer interface {
	Send(*SnapshotMessage) error
	grpc.ServerStream
}

type configServiceWatchServer struct {
	grpc.ServerStream
}

func (x *configServiceWatchServer) Send(m *SnapshotMessage) error {
	return x.ServerStream.SendMsg(m)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	m := new(WatchRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ConfigServiceServer).Watch(m, &configServiceWatchServer{stream})
}

// ConfigServiceDesc describes the service without generated code. Messages
// travel as CBOR, selected by the "cbor" content subtype.
var ConfigServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConfigServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "courier/config",
}

// CallContentSubtype is the call option clients must use
func CallContentSubtype() grpc.CallOption {
	return grpc.CallContentSubtype(codec.Name)
}
