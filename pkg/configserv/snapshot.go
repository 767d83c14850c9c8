package configserv

import (
	"fmt"

	"github.com/cuemby/courier/pkg/codec"
)

// Item is one resource as seen by a subscriber
type Item struct {
	Kind        string            `cbor:"kind" json:"kind"`
	Name        string            `cbor:"name" json:"name"`
	Labels      map[string]string `cbor:"labels,omitempty" json:"labels,omitempty"`
	Annotations map[string]string `cbor:"annotations,omitempty" json:"annotations,omitempty"`
	// Body is the resource body as JSON
	Body []byte `cbor:"body,omitempty" json:"body,omitempty"`
}

// Snapshot is the complete set of resources matching one key. Sequence
// increases by one with every snapshot delivered for the key.
type Snapshot struct {
	Key      ObserverKey
	Sequence uint64
	Digest   codec.Digest
	Items    []Item
	Encoded  []byte
}

// EncodingError reports a snapshot that could not be encoded. The key keeps
// its previous snapshot and is retried on the next change.
type EncodingError struct {
	Key string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to encode snapshot for %s: %v", e.Key, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// Encoder turns snapshot items into the bytes sent to subscribers
type Encoder func(items []Item) ([]byte, error)

// EncodeItems is the default Encoder: deterministic CBOR of the item list
func EncodeItems(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	return codec.Marshal(items)
}

// DecodeItems reverses EncodeItems
func DecodeItems(data []byte) ([]Item, error) {
	var items []Item
	if err := codec.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
