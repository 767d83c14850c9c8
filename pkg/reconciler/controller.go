package reconciler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"

	"github.com/cuemby/courier/pkg/events"
	"github.com/cuemby/courier/pkg/log"
	"github.com/cuemby/courier/pkg/metrics"
	"github.com/cuemby/courier/pkg/plans"
	"github.com/cuemby/courier/pkg/scheduler"
	"github.com/cuemby/courier/pkg/source"
	"github.com/cuemby/courier/pkg/storage"
	"github.com/cuemby/courier/pkg/types"
)

// Controller converges provisioned instances onto the declared address
// spaces. It reacts to desired-state deltas and also runs a full pass on
// every listing, so it stays correct when deltas are lost.
type Controller struct {
	api     ClusterAPI
	source  source.Source
	catalog *plans.Catalog
	sched   *scheduler.Scheduler
	cfg     Config
	logger  zerolog.Logger

	queue *delayedQueue

	// feedMu serialises listings and deltas from the watcher and the
	// resync ticker
	feedMu sync.Mutex

	mu        sync.RWMutex
	desired   map[types.InstanceID]*types.AddressSpace
	resyncGen uint64
	synced    bool
	// retaining records the listing generation an instance was marked
	// Retaining in
	retaining map[types.InstanceID]uint64
	variants  map[types.InstanceID]variantEntry
	// failed holds the declaration an instance last failed permanently on
	failed map[types.InstanceID]*types.AddressSpace
	// locks serialise reconciles of one instance. Entries are never
	// removed since a worker may still hold one.
	locks    *xsync.Map[types.InstanceID, *sync.Mutex]
	statuses map[types.InstanceID]*Status
	running  bool
}

type variantEntry struct {
	spaceType types.AddressSpaceType
	variant   Variant
}

// New creates a controller. The scheduler and catalog are shared by every
// instance; the catalog must not change while the controller runs.
func New(api ClusterAPI, src source.Source, catalog *plans.Catalog, cfg Config) *Controller {
	return &Controller{
		api:       api,
		source:    src,
		catalog:   catalog,
		sched:     scheduler.New(),
		cfg:       cfg.withDefaults(),
		logger:    log.WithComponent("reconciler"),
		queue:     newDelayedQueue(),
		desired:   make(map[types.InstanceID]*types.AddressSpace),
		retaining: make(map[types.InstanceID]uint64),
		variants:  make(map[types.InstanceID]variantEntry),
		failed:    make(map[types.InstanceID]*types.AddressSpace),
		locks:     xsync.NewMap[types.InstanceID, *sync.Mutex](),
		statuses:  make(map[types.InstanceID]*Status),
	}
}

// Run processes work until ctx is done. It returns ctx.Err().
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("controller already running")
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info().
		Int("workers", c.cfg.Workers).
		Dur("resync_interval", c.cfg.ResyncInterval).
		Msg("Starting reconciliation controller")

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.worker(ctx, id)
		}(i)
	}

	watcher := &events.Watcher[*types.AddressSpace]{
		Feed:   c.source,
		Handle: func(e *events.Event[*types.AddressSpace]) { c.handleEvent(ctx, e) },
		OnDisconnect: func(err error) {
			c.logger.Warn().Err(err).Msg("Desired-state watch lost, resyncing")
		},
		RetryInterval: c.cfg.InitialBackoff,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = watcher.Run(ctx)
	}()

	ticker := time.NewTicker(c.cfg.ResyncInterval)
	defer ticker.Stop()

	metrics.UpdateComponent(metrics.ComponentController, true, "running")
	for {
		select {
		case <-ticker.C:
			if err := c.Resync(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("Periodic resync failed")
			}
		case <-ctx.Done():
			c.queue.Shutdown()
			wg.Wait()
			metrics.UpdateComponent(metrics.ComponentController, false, "stopped")
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			c.logger.Info().Msg("Reconciliation controller stopped")
			return ctx.Err()
		}
	}
}

// Resync takes a full listing of the desired state and reconciles every
// known instance against it
func (c *Controller) Resync(ctx context.Context) error {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()

	items, err := c.source.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list address spaces: %w", err)
	}
	c.applyListing(ctx, items)
	return nil
}

func (c *Controller) handleEvent(ctx context.Context, e *events.Event[*types.AddressSpace]) {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()

	if e.IsListing() {
		c.applyListing(ctx, e.Items)
		return
	}
	if e.Object == nil {
		return
	}

	id := e.Object.ID()
	c.mu.Lock()
	switch e.Type {
	case events.EventDeleted:
		delete(c.desired, id)
	default:
		c.desired[id] = e.Object.Clone()
	}
	c.mu.Unlock()

	c.logger.Debug().Str("instance", string(id)).Str("event", string(e.Type)).Msg("Desired state changed")
	c.enqueue(id)
}

func (c *Controller) applyListing(ctx context.Context, items []*types.AddressSpace) {
	desired := make(map[types.InstanceID]*types.AddressSpace, len(items))
	ids := make(map[types.InstanceID]bool, len(items))
	for _, s := range items {
		desired[s.ID()] = s.Clone()
		ids[s.ID()] = true
	}

	c.mu.Lock()
	c.desired = desired
	c.resyncGen++
	c.synced = true
	for id := range c.retaining {
		ids[id] = true
	}
	c.mu.Unlock()

	// Instances that were provisioned but are no longer declared
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	observed, err := c.api.List(cctx, types.KindInstance)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to list instances during resync")
	}
	for _, r := range observed {
		ids[types.InstanceID(r.Name)] = true
	}

	for id := range ids {
		c.enqueue(id)
	}
	metrics.ReconciliationCyclesTotal.Inc()
}

// enqueue adds id unless it is waiting out a retry backoff or failed
// permanently on its current declaration. A pending retry picks up the
// latest desired state.
func (c *Controller) enqueue(id types.InstanceID) {
	if c.queue.Waiting(id) || c.failedUnchanged(id) {
		return
	}
	c.queue.Add(request{ID: id})
}

// failedUnchanged reports whether id failed permanently and is still
// declared exactly as it was then
func (c *Controller) failedUnchanged(id types.InstanceID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	failed, ok := c.failed[id]
	if !ok {
		return false
	}
	desired, ok := c.desired[id]
	return ok && reflect.DeepEqual(failed, desired)
}

func (c *Controller) worker(ctx context.Context, id int) {
	logger := c.logger.With().Int("worker", id).Logger()
	logger.Debug().Msg("Worker started")
	for {
		req, ok := c.queue.Get(ctx)
		if !ok {
			logger.Debug().Msg("Worker stopped")
			return
		}
		c.processRequest(ctx, req)
		c.queue.Done(req)
	}
}

func (c *Controller) processRequest(ctx context.Context, req request) {
	c.updateStatus(req.ID, StateReconciling, req.Attempt, nil)

	err := c.Reconcile(ctx, req.ID)
	if err == nil {
		c.clearFailed(req.ID)
		c.updateStatus(req.ID, StateSynced, 0, nil)
		return
	}
	if ctx.Err() != nil {
		return
	}

	rerr := transient(req.ID, err)
	metrics.ReconcileErrors.WithLabelValues(string(rerr.Kind)).Inc()
	logger := log.WithInstance(c.logger, string(req.ID))

	if rerr.Kind == Permanent {
		logger.Error().Err(rerr.Err).Msg("Reconciliation failed permanently")
		c.markFailed(req.ID)
		c.updateStatus(req.ID, StateFailed, req.Attempt, rerr)
		return
	}
	c.clearFailed(req.ID)

	next := req.Attempt + 1
	backoff := c.calculateBackoff(next)
	c.updateStatus(req.ID, StateError, next, rerr)
	c.queue.AddAfter(request{ID: req.ID, Attempt: next}, backoff)
	logger.Warn().Err(rerr.Err).Int("attempt", next).Dur("backoff", backoff).Msg("Reconciliation failed, requeuing")
}

func (c *Controller) markFailed(id types.InstanceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if desired, ok := c.desired[id]; ok {
		c.failed[id] = desired.Clone()
	}
}

func (c *Controller) clearFailed(id types.InstanceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failed, id)
}

// calculateBackoff returns InitialBackoff * 2^(attempt-1), capped at
// MaxBackoff
func (c *Controller) calculateBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := c.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	if backoff > c.cfg.MaxBackoff {
		backoff = c.cfg.MaxBackoff
	}
	return backoff
}

// Reconcile runs one pass for an instance. Passes are idempotent.
func (c *Controller) Reconcile(ctx context.Context, id types.InstanceID) error {
	lock := c.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	c.mu.RLock()
	desired := c.desired[id].Clone()
	gen := c.resyncGen
	c.mu.RUnlock()

	observed, err := c.getInstance(ctx, id)
	if err != nil {
		return transient(id, err)
	}
	if desired == nil {
		return c.retire(ctx, id, observed, gen)
	}
	return c.provision(ctx, desired, observed)
}

func (c *Controller) provision(ctx context.Context, space *types.AddressSpace, observed *types.Instance) error {
	id := space.ID()
	logger := log.WithAddressSpace(c.logger, space.Name)

	c.mu.Lock()
	delete(c.retaining, id)
	c.mu.Unlock()

	inst := observed.Clone()
	if inst == nil {
		inst = &types.Instance{ID: id, SpaceType: space.Type, Phase: types.InstanceCreating}
		r, err := instanceResource(inst)
		if err != nil {
			return permanent(id, err)
		}
		if err := c.callCreate(ctx, r); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
			return transient(id, err)
		}
		logger.Info().Msg("Instance created")
	}
	before := observed.Clone()
	if inst.Phase == types.InstanceRetaining || inst.Phase == types.InstancePending {
		inst.Phase = types.InstanceCreating
	}

	plan, err := c.catalog.ResolveSpacePlan(space)
	if err != nil {
		inst.SetCondition(types.Condition{Type: types.ConditionPlanResolved, Status: false, Reason: planFailureReason(err), Message: err.Error()})
		inst.SetCondition(types.Condition{Type: types.ConditionReady, Status: false, Reason: "PlanNotResolved"})
		if werr := c.writeInstance(ctx, before, inst); werr != nil {
			return transient(id, werr)
		}
		c.setPhase(id, inst.Phase)
		return permanent(id, err)
	}

	if inst.SpacePlan != plan.Name || inst.SpaceType != space.Type {
		if inst.SpacePlan != "" {
			inst.Generation++
		}
		inst.SpacePlan = plan.Name
		inst.SpaceType = space.Type
	}
	inst.SetCondition(types.Condition{Type: types.ConditionPlanResolved, Status: true})

	variant, err := c.variantFor(id, space.Type)
	if err != nil {
		return permanent(id, err)
	}
	outcome, err := variant.OnResourcesUpdated(ctx, &ResourceSet{Space: space, Plan: plan})
	if err != nil {
		return transient(id, err)
	}

	inst.Phase = types.InstanceReady
	inst.SetCondition(types.Condition{
		Type:    types.ConditionScheduled,
		Status:  true,
		Message: fmt.Sprintf("%d addresses on %d broker units", len(outcome.Placement), len(outcome.Units)),
	})
	if len(outcome.Failures) > 0 {
		inst.SetCondition(types.Condition{
			Type:    types.ConditionSchedulingFailed,
			Status:  true,
			Reason:  "InsufficientCapacity",
			Message: outcome.Failures[0].Error(),
		})
		inst.SetCondition(types.Condition{Type: types.ConditionReady, Status: false, Reason: "SchedulingFailed"})
	} else {
		inst.SetCondition(types.Condition{Type: types.ConditionSchedulingFailed, Status: false})
		inst.SetCondition(types.Condition{Type: types.ConditionReady, Status: true})
	}

	if err := c.writeInstance(ctx, before, inst); err != nil {
		return transient(id, err)
	}
	c.setPhase(id, inst.Phase)

	logger.Debug().
		Int("placed", len(outcome.Placement)).
		Int("failed", len(outcome.Failures)).
		Strs("created", outcome.Created).
		Strs("deleted", outcome.Deleted).
		Msg("Instance reconciled")
	return nil
}

// retire handles an instance whose space is no longer declared. It is
// marked Retaining first and deleted only once a later listing confirms
// the space is still absent.
func (c *Controller) retire(ctx context.Context, id types.InstanceID, observed *types.Instance, gen uint64) error {
	logger := log.WithInstance(c.logger, string(id))

	if observed == nil {
		c.forget(id)
		return nil
	}

	if observed.Phase != types.InstanceRetaining {
		inst := observed.Clone()
		inst.Phase = types.InstanceRetaining
		inst.SetCondition(types.Condition{Type: types.ConditionReady, Status: false, Reason: "Retaining"})
		if err := c.writeInstance(ctx, observed, inst); err != nil {
			return transient(id, err)
		}
		c.mu.Lock()
		c.retaining[id] = gen
		c.mu.Unlock()
		c.setPhase(id, inst.Phase)
		logger.Info().Msg("Address space no longer declared, retaining instance")
		return nil
	}

	c.mu.Lock()
	marked, ok := c.retaining[id]
	if !ok {
		// Retaining from before a restart: wait for the next listing.
		c.retaining[id] = gen
		marked = gen
	}
	c.mu.Unlock()
	if gen <= marked {
		return nil
	}

	if err := c.deleteInstance(ctx, id); err != nil {
		return transient(id, err)
	}
	logger.Info().Msg("Instance deleted")
	c.forget(id)
	return nil
}

func (c *Controller) deleteInstance(ctx context.Context, id types.InstanceID) error {
	space := string(id)
	for _, kind := range []types.ResourceKind{types.KindAddress, types.KindBrokerUnit, types.KindRouterConfig} {
		var items []*types.Resource
		err := c.call(ctx, func(ctx context.Context) error {
			var err error
			items, err = c.api.List(ctx, kind)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", kind, err)
		}
		for _, r := range items {
			if !ownedBy(r, space) {
				continue
			}
			if err := c.callDelete(ctx, kind, r.Name); err != nil {
				return err
			}
		}
	}

	if err := c.callDelete(ctx, types.KindInstance, space); err != nil {
		return err
	}

	// The delete is done only once the instance is observably gone.
	still, err := c.getInstance(ctx, id)
	if err != nil {
		return err
	}
	if still != nil {
		return fmt.Errorf("deletion of instance %s not confirmed", id)
	}
	return nil
}

func (c *Controller) getInstance(ctx context.Context, id types.InstanceID) (*types.Instance, error) {
	var r *types.Resource
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		r, err = c.api.Get(ctx, types.KindInstance, string(id))
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance %s: %w", id, err)
	}
	inst := &types.Instance{}
	if err := r.Decode(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// writeInstance replaces the instance resource when it differs from before
func (c *Controller) writeInstance(ctx context.Context, before, after *types.Instance) error {
	desired, err := instanceResource(after)
	if err != nil {
		return err
	}
	if before != nil {
		current, err := instanceResource(before)
		if err != nil {
			return err
		}
		if current.SameContent(desired) {
			return nil
		}
	}
	err = c.call(ctx, func(ctx context.Context) error {
		_, err := c.api.Replace(ctx, desired)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update instance %s: %w", after.ID, err)
	}
	return nil
}

func (c *Controller) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	return fn(cctx)
}

func (c *Controller) callCreate(ctx context.Context, r *types.Resource) error {
	return c.call(ctx, func(ctx context.Context) error {
		_, err := c.api.Create(ctx, r)
		return err
	})
}

func (c *Controller) callDelete(ctx context.Context, kind types.ResourceKind, name string) error {
	err := c.call(ctx, func(ctx context.Context) error {
		return c.api.Delete(ctx, kind, name)
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete %s: %w", types.ResourceKey(kind, name), err)
	}
	return nil
}

func (c *Controller) variantFor(id types.InstanceID, t types.AddressSpaceType) (Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.variants[id]; ok && e.spaceType == t {
		return e.variant, nil
	}
	v, err := newVariant(t, placer{
		api:         c.api,
		catalog:     c.catalog,
		sched:       c.sched,
		callTimeout: c.cfg.CallTimeout,
		logger:      log.WithAddressSpace(c.logger, string(id)),
	})
	if err != nil {
		return nil, err
	}
	c.variants[id] = variantEntry{spaceType: t, variant: v}
	return v, nil
}

func (c *Controller) instanceLock(id types.InstanceID) *sync.Mutex {
	l, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	return l
}

// forget drops per-instance state once the instance is gone
func (c *Controller) forget(id types.InstanceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.retaining, id)
	delete(c.variants, id)
	delete(c.statuses, id)
}

func (c *Controller) updateStatus(id types.InstanceID, state State, retries int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state == StateSynced {
		if _, desired := c.desired[id]; !desired {
			if _, retaining := c.retaining[id]; !retaining {
				// Deleted instances keep no status.
				delete(c.statuses, id)
				return
			}
		}
	}

	s, ok := c.statuses[id]
	if !ok {
		s = &Status{ID: id, State: StatePending}
		c.statuses[id] = s
	}
	s.State = state
	s.RetryCount = retries
	if err != nil {
		s.LastError = err.Error()
	} else if state == StateSynced {
		s.LastError = ""
	}
	if state != StateReconciling {
		now := time.Now()
		s.LastReconcileTime = &now
	}
}

func (c *Controller) setPhase(id types.InstanceID, phase types.InstancePhase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[id]
	if !ok {
		s = &Status{ID: id, State: StateReconciling}
		c.statuses[id] = s
	}
	s.Phase = phase
}

// Status returns the reconciliation status of one instance
func (c *Controller) Status(id types.InstanceID) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.statuses[id]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// Statuses returns all statuses ordered by instance id
func (c *Controller) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Status, 0, len(c.statuses))
	for _, s := range c.statuses {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ready reports whether the first desired-state listing has been applied
func (c *Controller) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

// QueueLen returns the number of queued instances
func (c *Controller) QueueLen() int {
	return c.queue.Len()
}

func planFailureReason(err error) string {
	if errors.Is(err, plans.ErrPlanNotFound) {
		return "PlanNotFound"
	}
	return "InvalidPlan"
}
