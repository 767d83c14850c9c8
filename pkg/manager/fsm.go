package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cuemby/courier/pkg/events"
	"github.com/cuemby/courier/pkg/storage"
	"github.com/cuemby/courier/pkg/types"
)

// Command operations
const (
	OpCreate  = "create"
	OpReplace = "replace"
	OpDelete  = "delete"
)

// ResourceFSM implements the Raft Finite State Machine for Courier's
// cluster resources. It applies committed commands to the store and
// publishes the resulting changes on the resource feed.
type ResourceFSM struct {
	mu     sync.RWMutex
	store  storage.Store
	broker *events.Broker[*types.Resource]
}

// NewResourceFSM creates a new FSM instance
func NewResourceFSM(store storage.Store, broker *events.Broker[*types.Resource]) *ResourceFSM {
	return &ResourceFSM{
		store:  store,
		broker: broker,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// resourceRef names a resource without its content
type resourceRef struct {
	Kind types.ResourceKind `json:"kind"`
	Name string             `json:"name"`
}

// Apply applies a Raft log entry to the FSM.
// It returns the stored resource, nil for a no-op delete, or an error.
func (f *ResourceFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpCreate:
		var r types.Resource
		if err := json.Unmarshal(cmd.Data, &r); err != nil {
			return err
		}
		stored, err := f.store.Create(&r)
		if err != nil {
			return err
		}
		f.publish(events.EventAdded, stored)
		return stored

	case OpReplace:
		var r types.Resource
		if err := json.Unmarshal(cmd.Data, &r); err != nil {
			return err
		}
		prev, stored, err := f.store.Replace(&r)
		if err != nil {
			return err
		}
		switch {
		case prev == nil:
			f.publish(events.EventAdded, stored)
		case !prev.SameContent(stored):
			f.publish(events.EventModified, stored)
		}
		return stored

	case OpDelete:
		var ref resourceRef
		if err := json.Unmarshal(cmd.Data, &ref); err != nil {
			return err
		}
		deleted, err := f.store.Delete(ref.Kind, ref.Name)
		if err != nil {
			return err
		}
		if deleted != nil {
			f.publish(events.EventDeleted, deleted)
		}
		return deleted

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

func (f *ResourceFSM) publish(typ events.EventType, r *types.Resource) {
	if f.broker != nil {
		f.broker.Publish(events.Delta(typ, r.Clone()))
	}
}

// Snapshot creates a point-in-time snapshot of the FSM
// This is called periodically by Raft to compact the log
func (f *ResourceFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	resources, err := f.store.ListAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %v", err)
	}

	return &ResourceSnapshot{Resources: resources}, nil
}

// Restore restores the FSM from a snapshot.
// Subscribers receive the restored state as a listing.
func (f *ResourceFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot ResourceSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.store.Restore(snapshot.Resources); err != nil {
		return fmt.Errorf("failed to restore resources: %v", err)
	}

	if f.broker != nil {
		items := make([]*types.Resource, 0, len(snapshot.Resources))
		for _, r := range snapshot.Resources {
			items = append(items, r.Clone())
		}
		f.broker.Publish(events.Listing(items))
	}
	return nil
}

// ResourceSnapshot represents a point-in-time snapshot of cluster state
type ResourceSnapshot struct {
	Resources []*types.Resource
}

// Persist writes the snapshot to the given SnapshotSink
func (s *ResourceSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *ResourceSnapshot) Release() {}
