package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/cuemby/courier/pkg/events"
	"github.com/cuemby/courier/pkg/log"
	"github.com/cuemby/courier/pkg/storage"
	"github.com/cuemby/courier/pkg/types"
)

// ErrNotLeader is returned for writes submitted to a node that is not the
// raft leader. Callers retry.
var ErrNotLeader = errors.New("not the raft leader")

// DefaultApplyTimeout bounds a raft apply when the caller's context has no
// deadline
const DefaultApplyTimeout = 5 * time.Second

// Manager is the cluster resource API. It replicates writes through raft and
// serves reads from the local store.
type Manager struct {
	nodeID       string
	bindAddr     string
	dataDir      string
	inMemory     bool
	applyTimeout time.Duration

	raft   *raft.Raft
	fsm    *ResourceFSM
	store  storage.Store
	broker *events.Broker[*types.Resource]
	logger zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	// InMemory keeps the raft log, stable store and snapshots in memory
	// and uses the in-memory transport. The resource store stays on disk.
	InMemory     bool
	ApplyTimeout time.Duration
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	broker := events.NewBroker[*types.Resource](0)
	broker.Start()

	applyTimeout := cfg.ApplyTimeout
	if applyTimeout <= 0 {
		applyTimeout = DefaultApplyTimeout
	}

	m := &Manager{
		nodeID:       cfg.NodeID,
		bindAddr:     cfg.BindAddr,
		dataDir:      cfg.DataDir,
		inMemory:     cfg.InMemory,
		applyTimeout: applyTimeout,
		fsm:          NewResourceFSM(store, broker),
		store:        store,
		broker:       broker,
		logger:       log.WithComponent("manager").With().Str("node_id", cfg.NodeID).Logger(),
	}

	return m, nil
}

func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// Tuned for LAN deployments: followers start an election after 500ms
	// without a heartbeat.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	config.LogLevel = "WARN"
	return config
}

// Bootstrap initializes a new single-node Raft cluster
func (m *Manager) Bootstrap() error {
	config := m.raftConfig()

	var (
		transport     raft.Transport
		snapshotStore raft.SnapshotStore
		logStore      raft.LogStore
		stableStore   raft.StableStore
	)

	if m.inMemory {
		_, inmem := raft.NewInmemTransport(raft.ServerAddress(m.nodeID))
		transport = inmem
		snapshotStore = raft.NewInmemSnapshotStore()
		mem := raft.NewInmemStore()
		logStore, stableStore = mem, mem
	} else {
		addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
		if err != nil {
			return fmt.Errorf("failed to resolve bind address: %v", err)
		}

		tcp, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to create transport: %v", err)
		}
		transport = tcp

		snapshotStore, err = raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to create snapshot store: %v", err)
		}

		bolt, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
		if err != nil {
			return fmt.Errorf("failed to create log store: %v", err)
		}
		logStore = bolt

		stableStore, err = raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
		if err != nil {
			return fmt.Errorf("failed to create stable store: %v", err)
		}
	}

	// A restarted node already has a configuration in its stable store
	hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
	if err != nil {
		return fmt.Errorf("failed to inspect raft state: %v", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %v", err)
	}
	m.raft = r

	if hasState {
		m.logger.Info().Msg("Recovered existing raft state")
		return nil
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      config.LocalID,
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}

	m.logger.Info().Str("addr", string(transport.LocalAddr())).Msg("Bootstrapped single-node cluster")
	return nil
}

// WaitForLeader blocks until this node is leader or ctx is done
func (m *Manager) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.IsLeader() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for leadership: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = m.LeaderAddr()

	return stats
}

// Apply submits a command to the Raft cluster and returns the FSM's
// response
func (m *Manager) Apply(ctx context.Context, cmd Command) (*types.Resource, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !m.IsLeader() {
		return nil, fmt.Errorf("%w: leader is %q", ErrNotLeader, m.LeaderAddr())
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %v", err)
	}

	timeout := m.applyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	future := m.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		switch {
		case errors.Is(err, raft.ErrNotLeader), errors.Is(err, raft.ErrLeadershipLost):
			return nil, fmt.Errorf("%w: %v", ErrNotLeader, err)
		case errors.Is(err, raft.ErrEnqueueTimeout):
			return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return nil, fmt.Errorf("failed to apply command: %w", err)
	}

	switch resp := future.Response().(type) {
	case error:
		return nil, resp
	case *types.Resource:
		return resp, nil
	default:
		return nil, nil
	}
}

func (m *Manager) applyResource(ctx context.Context, op string, r *types.Resource) (*types.Resource, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return m.Apply(ctx, Command{Op: op, Data: data})
}

// Create stores a new resource. It fails with storage.ErrAlreadyExists if
// the resource is present.
func (m *Manager) Create(ctx context.Context, r *types.Resource) (*types.Resource, error) {
	return m.applyResource(ctx, OpCreate, r)
}

// Replace stores r, creating it if absent
func (m *Manager) Replace(ctx context.Context, r *types.Resource) (*types.Resource, error) {
	return m.applyResource(ctx, OpReplace, r)
}

// Delete removes a resource. Deleting a missing resource succeeds.
func (m *Manager) Delete(ctx context.Context, kind types.ResourceKind, name string) error {
	data, err := json.Marshal(resourceRef{Kind: kind, Name: name})
	if err != nil {
		return err
	}
	_, err = m.Apply(ctx, Command{Op: OpDelete, Data: data})
	return err
}

// Get reads one resource from the local store
func (m *Manager) Get(ctx context.Context, kind types.ResourceKind, name string) (*types.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.store.Get(kind, name)
}

// List reads every resource of a kind from the local store
func (m *Manager) List(ctx context.Context, kind types.ResourceKind) ([]*types.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.store.List(kind)
}

// ListResources lists one kind without a context, for samplers
func (m *Manager) ListResources(kind types.ResourceKind) ([]*types.Resource, error) {
	return m.store.List(kind)
}

// Feed returns the resource change feed: deltas from the FSM and listings
// from the local store
func (m *Manager) Feed() events.Feed[*types.Resource] {
	return &resourceFeed{m: m}
}

type resourceFeed struct {
	m *Manager
}

func (f *resourceFeed) Subscribe() events.Subscriber[*types.Resource] {
	return f.m.broker.Subscribe()
}

func (f *resourceFeed) Unsubscribe(sub events.Subscriber[*types.Resource]) {
	f.m.broker.Unsubscribe(sub)
}

func (f *resourceFeed) List(ctx context.Context) ([]*types.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Hold the FSM read lock so the listing is not torn by a concurrent
	// apply.
	f.m.fsm.mu.RLock()
	defer f.m.fsm.mu.RUnlock()
	return f.m.store.ListAll()
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %v", err)
		}
	}

	if m.broker != nil {
		m.broker.Stop()
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %v", err)
		}
	}

	return nil
}
