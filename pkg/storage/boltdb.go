package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/courier/pkg/types"
)

// bucketMeta holds the store-wide version counter
var (
	bucketMeta = []byte("meta")
	keyVersion = []byte("version")
)

func bucketFor(kind types.ResourceKind) []byte {
	return []byte(kind)
}

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "courier.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketMeta, err)
		}
		for _, kind := range types.Kinds() {
			if _, err := tx.CreateBucketIfNotExists(bucketFor(kind)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", kind, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func bucket(tx *bolt.Tx, kind types.ResourceKind) (*bolt.Bucket, error) {
	b := tx.Bucket(bucketFor(kind))
	if b == nil {
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}
	return b, nil
}

func decode(data []byte) (*types.Resource, error) {
	var r types.Resource
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.Labels == nil {
		r.Labels = make(map[types.LabelKey]string)
	}
	if r.Annotations == nil {
		r.Annotations = make(map[types.AnnotationKey]string)
	}
	return &r, nil
}

// nextVersion increments the store-wide counter inside tx
func nextVersion(tx *bolt.Tx) (uint64, error) {
	b := tx.Bucket(bucketMeta)
	var v uint64
	if data := b.Get(keyVersion); data != nil {
		if err := json.Unmarshal(data, &v); err != nil {
			return 0, err
		}
	}
	v++
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return v, b.Put(keyVersion, data)
}

func put(tx *bolt.Tx, b *bolt.Bucket, r *types.Resource) (*types.Resource, error) {
	v, err := nextVersion(tx)
	if err != nil {
		return nil, err
	}
	stored := r.Clone()
	stored.Version = v
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	return stored, b.Put([]byte(stored.Name), data)
}

// Create stores a new resource
func (s *BoltStore) Create(r *types.Resource) (*types.Resource, error) {
	var stored *types.Resource
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, r.Kind)
		if err != nil {
			return err
		}
		if b.Get([]byte(r.Name)) != nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, r.Key())
		}
		stored, err = put(tx, b, r)
		return err
	})
	return stored, err
}

// Replace stores r, creating it if absent
func (s *BoltStore) Replace(r *types.Resource) (*types.Resource, *types.Resource, error) {
	var prev, stored *types.Resource
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, r.Kind)
		if err != nil {
			return err
		}
		if data := b.Get([]byte(r.Name)); data != nil {
			if prev, err = decode(data); err != nil {
				return err
			}
		}
		stored, err = put(tx, b, r)
		return err
	})
	return prev, stored, err
}

// Delete removes a resource. A missing resource is not an error.
func (s *BoltStore) Delete(kind types.ResourceKind, name string) (*types.Resource, error) {
	var deleted *types.Resource
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, kind)
		if err != nil {
			return err
		}
		data := b.Get([]byte(name))
		if data == nil {
			return nil
		}
		if deleted, err = decode(data); err != nil {
			return err
		}
		return b.Delete([]byte(name))
	})
	return deleted, err
}

// Get returns one resource
func (s *BoltStore) Get(kind types.ResourceKind, name string) (*types.Resource, error) {
	var r *types.Resource
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, kind)
		if err != nil {
			return err
		}
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, types.ResourceKey(kind, name))
		}
		r, err = decode(data)
		return err
	})
	return r, err
}

// List returns every resource of one kind, ordered by name
func (s *BoltStore) List(kind types.ResourceKind) ([]*types.Resource, error) {
	var items []*types.Resource
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, kind)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			r, err := decode(v)
			if err != nil {
				return err
			}
			items = append(items, r)
			return nil
		})
	})
	return items, err
}

// ListAll returns every resource ordered by kind, then name
func (s *BoltStore) ListAll() ([]*types.Resource, error) {
	var items []*types.Resource
	for _, kind := range types.Kinds() {
		list, err := s.List(kind)
		if err != nil {
			return nil, err
		}
		items = append(items, list...)
	}
	return items, nil
}

// Restore drops every stored resource and writes items as given,
// versions included
func (s *BoltStore) Restore(items []*types.Resource) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var maxVersion uint64
		for _, kind := range types.Kinds() {
			name := bucketFor(kind)
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		for _, r := range items {
			b, err := bucket(tx, r.Kind)
			if err != nil {
				return err
			}
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(r.Name), data); err != nil {
				return err
			}
			if r.Version > maxVersion {
				maxVersion = r.Version
			}
		}
		data, err := json.Marshal(maxVersion)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyVersion, data)
	})
}
