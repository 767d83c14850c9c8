package storage

import (
	"errors"

	"github.com/cuemby/courier/pkg/types"
)

var (
	// ErrNotFound is returned when no resource exists under a kind and name
	ErrNotFound = errors.New("resource not found")
	// ErrAlreadyExists is returned by Create when the resource is present
	ErrAlreadyExists = errors.New("resource already exists")
)

// Store defines the interface for cluster resource storage.
// Every write stores a fresh Version, one past the previous one.
type Store interface {
	// Create stores a new resource. It fails with ErrAlreadyExists if the
	// kind and name are taken.
	Create(r *types.Resource) (*types.Resource, error)
	// Replace stores r whether or not it exists and returns the previous
	// value, nil when there was none.
	Replace(r *types.Resource) (prev, stored *types.Resource, err error)
	// Delete removes a resource and returns it. Deleting a missing
	// resource returns nil and no error.
	Delete(kind types.ResourceKind, name string) (*types.Resource, error)
	Get(kind types.ResourceKind, name string) (*types.Resource, error)
	List(kind types.ResourceKind) ([]*types.Resource, error)
	ListAll() ([]*types.Resource, error)

	// Restore replaces the whole content of the store
	Restore(items []*types.Resource) error

	Close() error
}
