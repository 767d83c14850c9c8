package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueueDeduplicates(t *testing.T) {
	q := newWorkQueue()
	q.Add(request{ID: "a"})
	q.Add(request{ID: "b"})
	q.Add(request{ID: "a", Attempt: 3})
	assert.Equal(t, 2, q.Len())

	req, ok := q.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, request{ID: "a", Attempt: 3}, req)
}

func TestWorkQueueRequeuesDirtyOnDone(t *testing.T) {
	q := newWorkQueue()
	q.Add(request{ID: "a"})

	req, ok := q.Get(context.Background())
	require.True(t, ok)

	// Added while processing: held back until Done.
	q.Add(request{ID: "a"})
	assert.Equal(t, 0, q.Len())

	q.Done(req)
	assert.Equal(t, 1, q.Len())
}

func TestWorkQueueGetHonoursContext(t *testing.T) {
	q := newWorkQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Get(ctx)
	assert.False(t, ok)
}

func TestWorkQueueShutdownUnblocksGet(t *testing.T) {
	q := newWorkQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Shutdown()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after shutdown")
	}

	q.Add(request{ID: "late"})
	assert.Equal(t, 0, q.Len())
}

func TestDelayedQueueAddAfter(t *testing.T) {
	q := newDelayedQueue()
	defer q.Shutdown()

	q.AddAfter(request{ID: "a", Attempt: 1}, 30*time.Millisecond)
	assert.True(t, q.Waiting("a"))
	assert.Equal(t, 0, q.Len())

	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, q.Waiting("a"))

	req, ok := q.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, req.Attempt)
}

func TestDelayedQueueShutdownCancelsTimers(t *testing.T) {
	q := newDelayedQueue()
	q.AddAfter(request{ID: "a"}, 10*time.Millisecond)
	q.Shutdown()
	q.Shutdown()

	assert.False(t, q.Waiting("a"))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, q.Len())
}

func TestWorkQueueKeepsHigherAttempt(t *testing.T) {
	q := newWorkQueue()
	q.Add(request{ID: "a", Attempt: 2})
	q.Add(request{ID: "a"})

	req, ok := q.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, 2, req.Attempt)

	q.Add(request{ID: "a", Attempt: 3})
	q.Add(request{ID: "a"})
	q.Done(req)

	req, ok = q.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, 3, req.Attempt)
}

func TestDelayedQueueDoneDropsFoldedAddWhileWaiting(t *testing.T) {
	q := newDelayedQueue()
	defer q.Shutdown()

	q.Add(request{ID: "a"})
	req, ok := q.Get(context.Background())
	require.True(t, ok)

	// A resync folds in an add, then the worker schedules its retry.
	q.Add(request{ID: "a"})
	q.AddAfter(request{ID: "a", Attempt: 1}, 50*time.Millisecond)
	q.Done(req)

	assert.Equal(t, 0, q.Len())
	assert.True(t, q.Waiting("a"))

	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)
	req, ok = q.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, request{ID: "a", Attempt: 1}, req)
}

func TestDelayedQueueDoneRequeuesFoldedAddWithoutRetry(t *testing.T) {
	q := newDelayedQueue()
	defer q.Shutdown()

	q.Add(request{ID: "a"})
	req, ok := q.Get(context.Background())
	require.True(t, ok)

	q.Add(request{ID: "a"})
	q.Done(req)
	assert.Equal(t, 1, q.Len())
}

func TestDelayedQueueAddAfterReplacesPendingAdd(t *testing.T) {
	q := newDelayedQueue()
	defer q.Shutdown()

	q.AddAfter(request{ID: "a", Attempt: 1}, 10*time.Millisecond)
	q.AddAfter(request{ID: "a", Attempt: 2}, 40*time.Millisecond)

	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, 0, q.Len())
	assert.True(t, q.Waiting("a"))

	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)
	req, ok := q.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, 2, req.Attempt)
}
