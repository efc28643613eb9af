// Package queue implements the thread-safe hybrid task queue described in
// spec §4.3: a FIFO for immediate tasks and a min-heap by deadline for
// delayed tasks, sharing one monitor and one lazy cancelled-id set.
//
// Grounded on the teacher's internal/eventloop.EventLoop, which keeps a
// map[int]*timerEntry and linear-scans it for the next deadline — that
// works there because only the single JS goroutine that owns the timers
// ever polls them. Here, multiple host goroutines enqueue concurrently
// against one worker, so deadline lookup uses container/heap instead of
// a linear scan.
package queue

import (
	"container/heap"
	"sync"
	"time"
)

// Kind tags what a Task represents.
type Kind int

const (
	KindMessage Kind = iota
	KindTimer
	KindClose
)

// Task is one unit of work the event loop will run to completion before
// draining microtasks. Deadline is set at enqueue time: now() for
// immediate tasks, now()+delay for delayed ones.
type Task struct {
	Kind     Kind
	ID       uint64
	Deadline time.Time
	Run      func()

	index int // heap bookkeeping, delayed tasks only
}

// delayedHeap implements container/heap.Interface, ordered by Deadline.
type delayedHeap []*Task

func (h delayedHeap) Len() int           { return len(h) }
func (h delayedHeap) Less(i, j int) bool { return h[i].Deadline.Before(h[j].Deadline) }
func (h delayedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *delayedHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// TaskQueue is the single monitor-protected hybrid queue a Worker Runtime
// pulls from. Zero value is not usable; construct with New.
type TaskQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	fifo      []*Task
	delayed   delayedHeap
	cancelled map[uint64]struct{}
	shutdown  bool
}

// New constructs an empty, running TaskQueue.
func New() *TaskQueue {
	q := &TaskQueue{cancelled: make(map[uint64]struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends an immediate task to the FIFO, stamping its deadline to
// now.
func (q *TaskQueue) Enqueue(t *Task) {
	q.mu.Lock()
	t.Deadline = time.Now()
	q.fifo = append(q.fifo, t)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// EnqueueDelayed pushes a delayed task onto the min-heap, stamping its
// deadline to now+delay.
func (q *TaskQueue) EnqueueDelayed(t *Task, delay time.Duration) {
	q.mu.Lock()
	t.Deadline = time.Now().Add(delay)
	heap.Push(&q.delayed, t)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Cancel marks id cancelled. Idempotent, lazy: a matching pending task is
// skipped silently whenever it is later dequeued.
func (q *TaskQueue) Cancel(id uint64) {
	q.mu.Lock()
	q.cancelled[id] = struct{}{}
	q.mu.Unlock()
}

// Shutdown marks the queue permanently empty-returning and wakes every
// blocked dequeue.
func (q *TaskQueue) Shutdown() {
	q.mu.Lock()
	q.shutdown = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// TimeUntilNext reports how long the caller should wait before the next
// eligible task could be ready: zero if the FIFO is non-empty or a
// delayed task's deadline has passed, a positive delta if only future
// delayed tasks exist, or a large sentinel duration if nothing is queued.
const infiniteWait = 365 * 24 * time.Hour

func (q *TaskQueue) TimeUntilNext() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timeUntilNextLocked()
}

func (q *TaskQueue) timeUntilNextLocked() time.Duration {
	if len(q.fifo) > 0 {
		return 0
	}
	if len(q.delayed) == 0 {
		return infiniteWait
	}
	d := time.Until(q.delayed[0].Deadline)
	if d < 0 {
		return 0
	}
	return d
}

// Dequeue blocks until an immediate task is available, the earliest
// delayed deadline has passed, the queue shuts down, or maxWait elapses.
// Cancelled tasks are skipped silently and do not count against maxWait.
// Immediate tasks always win over delayed tasks, even when both are
// eligible. Returns (nil, false) on timeout or shutdown.
func (q *TaskQueue) Dequeue(maxWait time.Duration) (*Task, bool) {
	deadline := time.Now().Add(maxWait)

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.shutdown {
			return nil, false
		}

		if t, ok := q.popEligibleLocked(); ok {
			if q.isCancelledLocked(t) {
				continue
			}
			return t, true
		}

		wait := q.timeUntilNextLocked()
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		if wait > remaining {
			wait = remaining
		}

		if wait >= infiniteWait {
			q.waitOrDeadline(deadline)
			continue
		}

		q.waitFor(wait)
	}
}

// popEligibleLocked removes and returns the next eligible task, if any,
// preferring the FIFO over the delayed heap.
func (q *TaskQueue) popEligibleLocked() (*Task, bool) {
	if len(q.fifo) > 0 {
		t := q.fifo[0]
		q.fifo = q.fifo[1:]
		return t, true
	}
	if len(q.delayed) > 0 && !q.delayed[0].Deadline.After(time.Now()) {
		t := heap.Pop(&q.delayed).(*Task)
		return t, true
	}
	return nil, false
}

func (q *TaskQueue) isCancelledLocked(t *Task) bool {
	_, cancelled := q.cancelled[t.ID]
	return cancelled
}

// waitFor blocks on the condition variable for at most d. Must be called
// with q.mu held; cond.Wait releases it while parked and reacquires it
// before returning, same as any other monitor wait.
func (q *TaskQueue) waitFor(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()
	q.cond.Wait()
}

// waitOrDeadline blocks until signaled, re-checking against an absolute
// wall-clock deadline rather than a fixed duration (used when nothing is
// queued at all, so TimeUntilNext reports the infinite sentinel).
func (q *TaskQueue) waitOrDeadline(deadline time.Time) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return
	}
	q.waitFor(remaining)
}
