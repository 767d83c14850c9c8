package codec

import (
	"google.golang.org/grpc/encoding"
)

// Name is the gRPC content subtype of the CBOR codec
const Name = "cbor"

// GRPC carries gRPC messages as deterministic CBOR. Messages are plain Go
// structs; no generated code is involved.
type GRPC struct{}

func (GRPC) Marshal(v any) ([]byte, error) {
	return Marshal(v)
}

func (GRPC) Unmarshal(data []byte, v any) error {
	return Unmarshal(data, v)
}

func (GRPC) Name() string {
	return Name
}

func init() {
	encoding.RegisterCodec(GRPC{})
}
