package configserv

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/courier/pkg/codec"
	"github.com/cuemby/courier/pkg/events"
	"github.com/cuemby/courier/pkg/log"
	"github.com/cuemby/courier/pkg/metrics"
	"github.com/cuemby/courier/pkg/types"
)

// Subscription is one subscriber's handle. Snapshots arrive on C() in
// sequence order; the channel is closed on Unsubscribe.
type Subscription struct {
	id  uint64
	key ObserverKey

	ch     chan *Snapshot
	notify chan struct{}
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	outbox []*Snapshot
}

func newSubscription(id uint64, key ObserverKey) *Subscription {
	s := &Subscription{
		id:     id,
		key:    key,
		ch:     make(chan *Snapshot),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// C returns the snapshot channel
func (s *Subscription) C() <-chan *Snapshot {
	return s.ch
}

// Key returns the key the subscription was made with
func (s *Subscription) Key() ObserverKey {
	return s.key
}

// Pending returns the number of snapshots not yet received
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

func (s *Subscription) enqueue(snap *Snapshot) {
	s.mu.Lock()
	s.outbox = append(s.outbox, snap)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump hands queued snapshots to the receiver. The outbox is unbounded, so
// a slow receiver delays only itself.
func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.outbox) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		next := s.outbox[0]
		s.outbox[0] = nil
		s.outbox = s.outbox[1:]
		s.mu.Unlock()

		select {
		case s.ch <- next:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// entry is the shared state of every subscription with an equal key
type entry struct {
	key ObserverKey

	// mu sequences delivery to the entry's subscriptions
	mu      sync.Mutex
	subs    map[uint64]*Subscription
	last    *Snapshot
	seq     uint64
	removed bool
}

// Registry deduplicates subscriber interest by ObserverKey and pushes a
// new snapshot to a key's subscribers whenever the matching resources
// change.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextID  uint64
	subs    int

	cacheMu sync.RWMutex
	cache   map[string]*types.Resource
	ready   chan struct{}
	once    sync.Once

	encode Encoder
	logger zerolog.Logger
}

// NewRegistry creates an empty registry. A nil encoder selects EncodeItems.
func NewRegistry(encode Encoder) *Registry {
	if encode == nil {
		encode = EncodeItems
	}
	return &Registry{
		entries: make(map[string]*entry),
		cache:   make(map[string]*types.Resource),
		ready:   make(chan struct{}),
		encode:  encode,
		logger:  log.WithComponent("configserv"),
	}
}

// Subscribe attaches a handle for key. The current snapshot is queued on
// the handle before any later push can reach it. Subscribe waits for the
// registry's first listing so the first snapshot is never partial.
func (r *Registry) Subscribe(ctx context.Context, key ObserverKey) (*Subscription, error) {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r.mu.Lock()
	e, ok := r.entries[key.String()]
	if !ok {
		e = &entry{key: key, subs: make(map[uint64]*Subscription)}
		r.entries[key.String()] = e
	}
	r.nextID++
	sub := newSubscription(r.nextID, key)

	// Lock order is registry then entry.
	e.mu.Lock()
	r.mu.Unlock()

	if e.removed {
		// Lost a race with the last Unsubscribe; start over.
		e.mu.Unlock()
		sub.close()
		return r.Subscribe(ctx, key)
	}

	if e.last == nil {
		snap, err := r.build(e)
		if err != nil {
			e.mu.Unlock()
			sub.close()
			r.dropIfEmpty(e)
			return nil, err
		}
		e.seq++
		snap.Sequence = e.seq
		e.last = snap
	}
	sub.enqueue(e.last)
	e.subs[sub.id] = sub
	e.mu.Unlock()

	r.mu.Lock()
	r.subs++
	r.updateGauges()
	r.mu.Unlock()

	logger := log.WithObserverKey(r.logger, key.String())
	logger.Debug().Uint64("subscription", sub.id).Msg("Subscriber attached")
	return sub, nil
}

// Unsubscribe detaches sub and closes its channel. The last subscription
// of a key discards the key's cached snapshot.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	if e, ok := r.entries[sub.key.String()]; ok {
		e.mu.Lock()
		if _, attached := e.subs[sub.id]; attached {
			delete(e.subs, sub.id)
			r.subs--
			if len(e.subs) == 0 {
				e.removed = true
				e.last = nil
				delete(r.entries, sub.key.String())
			}
		}
		e.mu.Unlock()
	}
	r.updateGauges()
	r.mu.Unlock()

	sub.close()
}

func (r *Registry) dropIfEmpty(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.subs) == 0 && r.entries[e.key.String()] == e {
		e.removed = true
		delete(r.entries, e.key.String())
	}
}

// updateGauges must be called with r.mu held
func (r *Registry) updateGauges() {
	metrics.ConfigKeys.Set(float64(len(r.entries)))
	metrics.ConfigSubscribers.Set(float64(r.subs))
}

// Keys returns the live keys in canonical order
func (r *Registry) Keys() []ObserverKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]ObserverKey, 0, len(r.entries))
	for _, e := range r.entries {
		keys = append(keys, e.key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Subscribers returns the number of live subscriptions for key
func (r *Registry) Subscribers(key ObserverKey) int {
	r.mu.Lock()
	e, ok := r.entries[key.String()]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// apply folds a feed event into the resource cache
func (r *Registry) apply(ev *events.Event[*types.Resource]) {
	r.cacheMu.Lock()
	switch {
	case ev.IsListing():
		r.cache = make(map[string]*types.Resource, len(ev.Items))
		for _, res := range ev.Items {
			r.cache[res.Key()] = res.Clone()
		}
	case ev.Object == nil:
	case ev.Type == events.EventDeleted:
		delete(r.cache, ev.Object.Key())
	default:
		r.cache[ev.Object.Key()] = ev.Object.Clone()
	}
	r.cacheMu.Unlock()

	if ev.IsListing() {
		r.once.Do(func() { close(r.ready) })
	}
}

// recomputeAll refreshes every live key, at most limit at a time. A failing
// key is logged and left for the next event.
func (r *Registry) recomputeAll(limit int) {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, e := range entries {
		g.Go(func() error {
			if err := r.recompute(e); err != nil {
				logger := log.WithObserverKey(r.logger, e.key.String())
				logger.Error().Err(err).Msg("Snapshot recompute failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// recompute pushes a new snapshot for e when its content changed
func (r *Registry) recompute(e *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return nil
	}
	snap, err := r.build(e)
	if err != nil {
		return err
	}
	if e.last != nil && e.last.Digest == snap.Digest {
		return nil
	}
	e.seq++
	snap.Sequence = e.seq
	e.last = snap

	ids := make([]uint64, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		e.subs[id].enqueue(snap)
	}
	metrics.SnapshotsDelivered.Add(float64(len(ids)))
	return nil
}

// build computes the current content for e without assigning a sequence.
// It must be called with e.mu held.
func (r *Registry) build(e *entry) (*Snapshot, error) {
	items := r.match(e.key)
	encoded, err := r.encode(items)
	if err != nil {
		metrics.SnapshotEncodeErrors.Inc()
		return nil, &EncodingError{Key: e.key.String(), Err: err}
	}
	return &Snapshot{
		Key:     e.key,
		Digest:  codec.Sum(encoded),
		Items:   items,
		Encoded: encoded,
	}, nil
}

func (r *Registry) match(key ObserverKey) []Item {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	items := []Item{}
	for _, res := range r.cache {
		if key.Matches(res) {
			items = append(items, key.project(res))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Kind != items[j].Kind {
			return items[i].Kind < items[j].Kind
		}
		return items[i].Name < items[j].Name
	})
	return items
}
