package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/courier/pkg/types"
)

// request is one unit of work for the controller
type request struct {
	ID      types.InstanceID
	Attempt int
}

// workQueue is a FIFO of instance ids with deduplication. An id handed to a
// worker is not handed out again until Done; adds in the meantime are
// folded into one re-add.
type workQueue struct {
	mu sync.Mutex

	queue []request

	// processing tracks ids currently held by a worker
	processing map[types.InstanceID]bool

	// dirty tracks ids added while processing
	dirty map[types.InstanceID]request

	cond *sync.Cond

	shuttingDown bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{
		processing: make(map[types.InstanceID]bool),
		dirty:      make(map[types.InstanceID]request),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add adds or updates a request in the queue
func (q *workQueue) Add(req request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	if q.processing[req.ID] {
		if pending, ok := q.dirty[req.ID]; ok && pending.Attempt > req.Attempt {
			req.Attempt = pending.Attempt
		}
		q.dirty[req.ID] = req
		return
	}

	for i, existing := range q.queue {
		if existing.ID == req.ID {
			if existing.Attempt > req.Attempt {
				req.Attempt = existing.Attempt
			}
			q.queue[i] = req
			return
		}
	}

	q.queue = append(q.queue, req)
	q.cond.Signal()
}

// Get retrieves the next request, blocking until one is available, the
// queue shuts down or ctx is done
func (q *workQueue) Get(ctx context.Context) (request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		if ctx.Err() != nil {
			return request{}, false
		}

		// Wake the cond wait when ctx is cancelled; done releases the
		// helper on a normal wakeup.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()

		q.cond.Wait()
		close(done)

		if ctx.Err() != nil {
			return request{}, false
		}
	}

	if q.shuttingDown && len(q.queue) == 0 {
		return request{}, false
	}

	req := q.queue[0]
	q.queue = q.queue[1:]
	q.processing[req.ID] = true

	return req, true
}

// Done marks a request as completed
func (q *workQueue) Done(req request) {
	q.done(req, false)
}

// done releases req.ID; dropDirty discards adds folded in while it was
// processing instead of re-queueing them.
func (q *workQueue) done(req request, dropDirty bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, req.ID)

	if dropDirty {
		delete(q.dirty, req.ID)
		return
	}

	if dirtyReq, ok := q.dirty[req.ID]; ok {
		delete(q.dirty, req.ID)
		q.queue = append(q.queue, dirtyReq)
		q.cond.Signal()
	}
}

// Len returns the queue length
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Shutdown stops the queue
func (q *workQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown = true
	q.cond.Broadcast()
}

// delayedQueue wraps a workQueue with delayed requeue support
type delayedQueue struct {
	*workQueue

	mu         sync.Mutex
	delayedMap map[types.InstanceID]*time.Timer
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func newDelayedQueue() *delayedQueue {
	return &delayedQueue{
		workQueue:  newWorkQueue(),
		delayedMap: make(map[types.InstanceID]*time.Timer),
		stopCh:     make(chan struct{}),
	}
}

// AddAfter adds a request after a delay, replacing any pending delayed add
// for the same id
func (d *delayedQueue) AddAfter(req request, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.delayedMap[req.ID]; ok {
		timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.delayedMap[req.ID] != timer {
			// replaced or cancelled after firing
			d.mu.Unlock()
			return
		}
		delete(d.delayedMap, req.ID)
		d.mu.Unlock()

		select {
		case <-d.stopCh:
			return
		default:
			d.workQueue.Add(req)
		}
	})
	d.delayedMap[req.ID] = timer
}

// Done marks a request as completed. While a delayed add is pending for the
// id, adds folded in during processing are dropped so the delayed add owns
// the retry.
func (d *delayedQueue) Done(req request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, waiting := d.delayedMap[req.ID]
	d.workQueue.done(req, waiting)
}

// Waiting reports whether a delayed add is pending for id
func (d *delayedQueue) Waiting(id types.InstanceID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.delayedMap[id]
	return ok
}

// Shutdown stops the queue and cancels pending timers
func (d *delayedQueue) Shutdown() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})

	d.mu.Lock()
	for _, timer := range d.delayedMap {
		timer.Stop()
	}
	d.delayedMap = make(map[types.InstanceID]*time.Timer)
	d.mu.Unlock()

	d.workQueue.Shutdown()
}
