package queue

import (
	"sync"
	"testing"
	"time"
)

func TestDequeue_FIFOOrder(t *testing.T) {
	q := New()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		q.Enqueue(&Task{ID: uint64(i), Run: func() { order = append(order, i) }})
	}
	for i := 0; i < 3; i++ {
		task, ok := q.Dequeue(time.Second)
		if !ok {
			t.Fatalf("dequeue %d: timed out", i)
		}
		task.Run()
	}
	if order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("FIFO order not preserved: %v", order)
	}
}

func TestDequeue_ImmediateBeatsDelayed(t *testing.T) {
	q := New()
	q.EnqueueDelayed(&Task{ID: 1}, 0)
	q.Enqueue(&Task{ID: 2})

	task, ok := q.Dequeue(time.Second)
	if !ok {
		t.Fatal("dequeue timed out")
	}
	if task.ID != 2 {
		t.Errorf("expected immediate task (id 2) to win over an eligible delayed task, got id %d", task.ID)
	}
}

func TestDequeue_DelayedFiresNoEarlierThanDeadline(t *testing.T) {
	q := New()
	delay := 40 * time.Millisecond
	start := time.Now()
	q.EnqueueDelayed(&Task{ID: 1}, delay)

	task, ok := q.Dequeue(time.Second)
	if !ok {
		t.Fatal("dequeue timed out")
	}
	if task.ID != 1 {
		t.Fatalf("got task id %d", task.ID)
	}
	if elapsed := time.Since(start); elapsed < delay {
		t.Errorf("delayed task fired early: elapsed=%v want>=%v", elapsed, delay)
	}
}

func TestDequeue_DelayedHeapOrdersByDeadline(t *testing.T) {
	q := New()
	q.EnqueueDelayed(&Task{ID: 3}, 30*time.Millisecond)
	q.EnqueueDelayed(&Task{ID: 1}, 5*time.Millisecond)
	q.EnqueueDelayed(&Task{ID: 2}, 15*time.Millisecond)

	var got []uint64
	for i := 0; i < 3; i++ {
		task, ok := q.Dequeue(time.Second)
		if !ok {
			t.Fatalf("dequeue %d timed out", i)
		}
		got = append(got, task.ID)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("delayed tasks not ordered by deadline: %v", got)
	}
}

func TestCancel_SkipsSilentlyAndIsIdempotent(t *testing.T) {
	q := New()
	q.Enqueue(&Task{ID: 1})
	q.Enqueue(&Task{ID: 2})
	q.Cancel(1)
	q.Cancel(1) // idempotent, must not panic or double-remove anything

	task, ok := q.Dequeue(time.Second)
	if !ok {
		t.Fatal("dequeue timed out")
	}
	if task.ID != 2 {
		t.Errorf("expected cancelled task 1 to be skipped, got id %d", task.ID)
	}
}

func TestCancel_OfDelayedTaskIsSkippedWhenDue(t *testing.T) {
	q := New()
	q.EnqueueDelayed(&Task{ID: 1}, 5*time.Millisecond)
	q.EnqueueDelayed(&Task{ID: 2}, 10*time.Millisecond)
	q.Cancel(1)

	task, ok := q.Dequeue(time.Second)
	if !ok {
		t.Fatal("dequeue timed out")
	}
	if task.ID != 2 {
		t.Errorf("expected cancelled delayed task to be skipped, got id %d", task.ID)
	}
}

func TestDequeue_TimesOutWhenEmpty(t *testing.T) {
	q := New()
	start := time.Now()
	_, ok := q.Dequeue(20 * time.Millisecond)
	if ok {
		t.Fatal("expected timeout on empty queue")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned before maxWait elapsed: %v", elapsed)
	}
}

func TestShutdown_WakesBlockedDequeue(t *testing.T) {
	q := New()
	done := make(chan struct{})
	go func() {
		_, ok := q.Dequeue(5 * time.Second)
		if ok {
			t.Error("expected shutdown to return ok=false")
		}
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake on Shutdown")
	}
}

func TestTimeUntilNext(t *testing.T) {
	q := New()
	if d := q.TimeUntilNext(); d < infiniteWait {
		t.Errorf("empty queue should report the infinite sentinel, got %v", d)
	}

	q.EnqueueDelayed(&Task{ID: 1}, 50*time.Millisecond)
	if d := q.TimeUntilNext(); d <= 0 || d > 50*time.Millisecond {
		t.Errorf("expected a bounded positive wait, got %v", d)
	}

	q.Enqueue(&Task{ID: 2})
	if d := q.TimeUntilNext(); d != 0 {
		t.Errorf("immediate task pending should report zero wait, got %v", d)
	}
}

// TestConcurrentProducers_PreservesPerProducerOrder exercises spec §8's
// concurrent-posting property: tasks from a single producer goroutine
// dequeue in the order that producer enqueued them, even when many
// producers post interleaved. Each task carries its producer's index and
// a per-producer sequence number packed into ID (rather than a single
// shared counter) so a dequeued task can be attributed back to the
// producer that made it and checked against that producer's own
// enqueue order.
func TestConcurrentProducers_PreservesPerProducerOrder(t *testing.T) {
	q := New()
	const producers = 8
	const perProducer = 50

	packID := func(producer, seq int) uint64 {
		return uint64(producer)<<32 | uint64(seq)
	}
	unpackID := func(id uint64) (producer, seq int) {
		return int(id >> 32), int(id & 0xffffffff)
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for seq := 0; seq < perProducer; seq++ {
				q.Enqueue(&Task{ID: packID(p, seq), Kind: KindMessage})
			}
		}(p)
	}
	wg.Wait()

	lastSeq := make([]int, producers)
	for i := range lastSeq {
		lastSeq[i] = -1
	}
	seen := make(map[uint64]bool)
	for i := 0; i < producers*perProducer; i++ {
		task, ok := q.Dequeue(time.Second)
		if !ok {
			t.Fatalf("dequeue %d timed out", i)
		}
		if seen[task.ID] {
			t.Fatalf("task id %d dequeued twice", task.ID)
		}
		seen[task.ID] = true

		producer, seq := unpackID(task.ID)
		if seq <= lastSeq[producer] {
			t.Fatalf("producer %d: dequeued seq %d out of order after seq %d", producer, seq, lastSeq[producer])
		}
		lastSeq[producer] = seq
	}
	if len(seen) != producers*perProducer {
		t.Errorf("expected %d distinct tasks, saw %d", producers*perProducer, len(seen))
	}
	for p, last := range lastSeq {
		if last != perProducer-1 {
			t.Errorf("producer %d: last dequeued seq = %d, want %d", p, last, perProducer-1)
		}
	}
}
