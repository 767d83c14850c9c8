package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/courier/pkg/types"
)

// ClusterAPI is the cluster resource API the controller applies its
// decisions through. Every operation must be safe to retry. Missing
// resources are reported with storage.ErrNotFound and duplicate creates
// with storage.ErrAlreadyExists.
type ClusterAPI interface {
	Create(ctx context.Context, r *types.Resource) (*types.Resource, error)
	Replace(ctx context.Context, r *types.Resource) (*types.Resource, error)
	Delete(ctx context.Context, kind types.ResourceKind, name string) error
	Get(ctx context.Context, kind types.ResourceKind, name string) (*types.Resource, error)
	List(ctx context.Context, kind types.ResourceKind) ([]*types.Resource, error)
}

// Config holds controller settings. Zero values select the defaults.
type Config struct {
	// Workers is the number of instances reconciled concurrently
	Workers int
	// ResyncInterval is how often a full desired-state listing is taken
	ResyncInterval time.Duration
	// CallTimeout bounds every ClusterAPI call
	CallTimeout time.Duration
	// InitialBackoff is the delay before the first retry of a transient
	// failure
	InitialBackoff time.Duration
	// MaxBackoff caps the retry delay
	MaxBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = 30 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// ErrorKind classifies a reconciliation failure
type ErrorKind string

const (
	// Transient failures are retried with backoff
	Transient ErrorKind = "transient"
	// Permanent failures need the declaration or catalog to change
	Permanent ErrorKind = "permanent"
)

// ReconciliationError reports a failed reconciliation of one instance
type ReconciliationError struct {
	InstanceID types.InstanceID
	Kind       ErrorKind
	Err        error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s (%s): %v", e.InstanceID, e.Kind, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

func transient(id types.InstanceID, err error) *ReconciliationError {
	var re *ReconciliationError
	if errors.As(err, &re) {
		return re
	}
	return &ReconciliationError{InstanceID: id, Kind: Transient, Err: err}
}

func permanent(id types.InstanceID, err error) *ReconciliationError {
	return &ReconciliationError{InstanceID: id, Kind: Permanent, Err: err}
}

// IsPermanent reports whether err is a permanent reconciliation failure
func IsPermanent(err error) bool {
	var re *ReconciliationError
	return errors.As(err, &re) && re.Kind == Permanent
}

// State is the controller's view of its last attempt on an instance
type State string

const (
	StatePending     State = "Pending"
	StateReconciling State = "Reconciling"
	StateSynced      State = "Synced"
	StateError       State = "Error"
	StateFailed      State = "Failed"
)

// Status is the reconciliation status of one instance
type Status struct {
	ID                types.InstanceID
	State             State
	Phase             types.InstancePhase
	LastError         string
	RetryCount        int
	LastReconcileTime *time.Time
}
