package codec

import (
	"encoding/hex"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// encMode uses Core Deterministic Encoding: sorted map keys, smallest
// integer encoding and no indefinite-length items. Equal values always
// encode to identical bytes, which snapshot comparison depends on.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value.
type RawMessage = cbor.RawMessage

// Digest is a 32-byte BLAKE3 digest of an encoded snapshot
type Digest [32]byte

// snapshotDomainKey separates snapshot digests from any other BLAKE3 use.
var snapshotDomainKey = [32]byte{
	'c', 'o', 'u', 'r', 'i', 'e', 'r', '.', 's', 'n', 'a', 'p', 's', 'h', 'o', 't',
}

// Sum returns the keyed BLAKE3 digest of data.
func Sum(data []byte) Digest {
	hasher, err := blake3.NewKeyed(snapshotDomainKey[:])
	if err != nil {
		panic("codec: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(data)
	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d
}

// IsZero reports whether the digest is unset
func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}
