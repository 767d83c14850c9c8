package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrWatchDisconnected reports a lost subscription. Consumers recover by
// taking a full listing.
var ErrWatchDisconnected = errors.New("watch disconnected")

// EventType represents the shape of an event
type EventType string

const (
	EventAdded    EventType = "added"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
	// EventListing carries the complete authoritative state in Items.
	EventListing EventType = "listing"
)

// Event is either an incremental delta on one object or a full listing
type Event[T any] struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Object    T
	Items     []T
}

// Delta creates an incremental event
func Delta[T any](typ EventType, obj T) *Event[T] {
	return &Event[T]{ID: uuid.New().String(), Type: typ, Object: obj}
}

// Listing creates a full listing event
func Listing[T any](items []T) *Event[T] {
	return &Event[T]{ID: uuid.New().String(), Type: EventListing, Items: items}
}

// IsListing reports whether the event is authoritative
func (e *Event[T]) IsListing() bool {
	return e.Type == EventListing
}

// Subscriber is a channel that receives events. The broker closes it when the
// subscription is dropped.
type Subscriber[T any] chan *Event[T]

// DefaultSubscriberBuffer is the per-subscriber buffer when none is given
const DefaultSubscriberBuffer = 50

// Broker fans events out to subscribers in publish order. A subscriber that
// falls a full buffer behind is dropped and its channel closed.
type Broker[T any] struct {
	subscribers map[Subscriber[T]]bool
	mu          sync.RWMutex
	eventCh     chan *Event[T]
	stopCh      chan struct{}
	stopOnce    sync.Once
	buffer      int
}

// NewBroker creates a new event broker. A buffer of zero selects
// DefaultSubscriberBuffer.
func NewBroker[T any](buffer int) *Broker[T] {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broker[T]{
		subscribers: make(map[Subscriber[T]]bool),
		eventCh:     make(chan *Event[T], 100),
		stopCh:      make(chan struct{}),
		buffer:      buffer,
	}
}

// Start begins the broker's event distribution loop
func (b *Broker[T]) Start() {
	go b.run()
}

// Stop stops the broker and closes every subscription
func (b *Broker[T]) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker[T]) Subscribe() Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber[T], b.buffer)
	select {
	case <-b.stopCh:
		close(sub)
		return sub
	default:
	}
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription. It is safe to call on a subscription
// the broker already dropped.
func (b *Broker[T]) Unsubscribe(sub Subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers
func (b *Broker[T]) Publish(event *Event[T]) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker[T]) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			b.closeAll()
			return
		}
	}
}

func (b *Broker[T]) broadcast(event *Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Lagging subscriber: drop it so it resyncs from a listing.
			delete(b.subscribers, sub)
			close(sub)
		}
	}
}

func (b *Broker[T]) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// DropSubscribers closes every current subscription. Watchers recover by
// taking a fresh listing.
func (b *Broker[T]) DropSubscribers() {
	b.closeAll()
}

// SubscriberCount returns the number of active subscribers
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Feed is a change feed: a stream of deltas plus an authoritative listing.
type Feed[T any] interface {
	Subscribe() Subscriber[T]
	Unsubscribe(Subscriber[T])
	List(ctx context.Context) ([]T, error)
}

// Watcher consumes a Feed. It always starts from a listing and takes a fresh
// listing after every lost subscription, so Handle sees a consistent view
// even when deltas are dropped.
type Watcher[T any] struct {
	Feed   Feed[T]
	Handle func(*Event[T])
	// OnDisconnect is called with ErrWatchDisconnected or a listing error.
	OnDisconnect func(error)
	// RetryInterval is the pause before retrying a failed listing.
	RetryInterval time.Duration
}

// Run blocks until ctx is done
func (w *Watcher[T]) Run(ctx context.Context) error {
	retry := w.RetryInterval
	if retry <= 0 {
		retry = time.Second
	}

	for {
		// Subscribe before listing so no delta between the two is lost.
		sub := w.Feed.Subscribe()

		items, err := w.Feed.List(ctx)
		if err != nil {
			w.Feed.Unsubscribe(sub)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.disconnected(err)
			select {
			case <-time.After(retry):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		w.Handle(Listing(items))

		received, err := w.drain(ctx, sub)
		if err != nil {
			return err
		}
		w.disconnected(ErrWatchDisconnected)

		// A subscription that closes before delivering anything usually
		// means the feed is shutting down; avoid spinning on it.
		if !received {
			select {
			case <-time.After(retry):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (w *Watcher[T]) drain(ctx context.Context, sub Subscriber[T]) (bool, error) {
	received := false
	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return received, nil
			}
			received = true
			w.Handle(event)
		case <-ctx.Done():
			w.Feed.Unsubscribe(sub)
			return received, ctx.Err()
		}
	}
}

func (w *Watcher[T]) disconnected(err error) {
	if w.OnDisconnect != nil {
		w.OnDisconnect(err)
	}
}
