package routing

import (
	"context"
	"sync"

	"github.com/chartwork/mapsync/internal/queue"
)

// DefaultThrottleLimit caps simultaneous outbound routing calls across
// all sessions, to respect upstream rate limits.
const DefaultThrottleLimit = 4

// waiter is one queued Acquire call.
type waiter struct {
	ready     chan struct{}
	cancelled bool
}

// Throttle is a FIFO concurrency limiter: at most limit callers hold a
// slot at once, and waiting callers are served in arrival order.
type Throttle struct {
	mu      sync.Mutex
	limit   int
	active  int
	waiters *queue.Queue[*waiter]
}

// NewThrottle creates a throttle. A non-positive limit selects
// DefaultThrottleLimit.
func NewThrottle(limit int) *Throttle {
	if limit <= 0 {
		limit = DefaultThrottleLimit
	}
	return &Throttle{
		limit:   limit,
		waiters: queue.New[*waiter](),
	}
}

// Acquire blocks until a slot is free or the context is cancelled.
func (t *Throttle) Acquire(ctx context.Context) error {
	t.mu.Lock()
	if t.active < t.limit {
		t.active++
		t.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	t.waiters.Push(w)
	t.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		select {
		case <-w.ready:
			// Signalled between cancellation and locking: the slot was
			// handed to us, give it back.
			t.mu.Unlock()
			t.Release()
		default:
			w.cancelled = true
			t.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Release frees a slot, handing it to the oldest live waiter if any.
func (t *Throttle) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.waiters.Empty() {
		w := t.waiters.Pop()
		if w.cancelled {
			continue
		}
		close(w.ready)
		return
	}
	t.active--
}

// Active returns the number of currently held slots.
func (t *Throttle) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
