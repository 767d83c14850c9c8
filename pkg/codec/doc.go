// Package codec is Courier's CBOR encoding. Snapshots pushed to
// subscribers are encoded with Core Deterministic Encoding so that equal
// content always yields equal bytes, and are compared by their BLAKE3
// digest. The same encoding is registered as the "cbor" gRPC codec.
package codec
