package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fixedEstimator time.Duration

func (f fixedEstimator) AverageJobDuration() time.Duration { return time.Duration(f) }

func TestDequeueOrder(t *testing.T) {
	q := New(nil)
	now := time.Now()

	// Same timestamp on purpose: insertion order must break the tie.
	for i, p := range []int{5, 1, 5, 3} {
		q.Enqueue(Item{JobID: fmt.Sprintf("job-%d", i), Priority: p, CreatedAt: now})
	}

	want := []string{"job-0", "job-2", "job-3", "job-1"}
	for _, id := range want {
		it, ok := q.Dequeue()
		if !ok {
			t.Fatalf("queue empty, expected %s", id)
		}
		if it.JobID != id {
			t.Errorf("expected %s, got %s", id, it.JobID)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("expected empty queue")
	}
}

func TestOlderJobsFirstWithinPriority(t *testing.T) {
	q := New(nil)
	now := time.Now()
	q.Enqueue(Item{JobID: "new", Priority: 10, CreatedAt: now})
	q.Enqueue(Item{JobID: "old", Priority: 10, CreatedAt: now.Add(-time.Minute)})

	it, _ := q.Dequeue()
	if it.JobID != "old" {
		t.Errorf("expected old job first, got %s", it.JobID)
	}
}

func TestRetriedLosesTies(t *testing.T) {
	q := New(nil)
	now := time.Now()
	q.Enqueue(Item{JobID: "retry", Priority: 10, CreatedAt: now.Add(-time.Hour), Retried: true})
	q.Enqueue(Item{JobID: "fresh", Priority: 10, CreatedAt: now})
	q.Enqueue(Item{JobID: "batch", Priority: 1, CreatedAt: now.Add(-2 * time.Hour)})

	order := []string{"fresh", "retry", "batch"}
	for _, id := range order {
		it, _ := q.Dequeue()
		if it.JobID != id {
			t.Errorf("expected %s, got %s", id, it.JobID)
		}
	}
}

func TestEnqueuePositionAndWait(t *testing.T) {
	q := New(fixedEstimator(20 * time.Second))
	now := time.Now()

	pos, wait := q.Enqueue(Item{JobID: "a", Priority: 1, CreatedAt: now})
	if pos != 1 || wait != 20*time.Second {
		t.Errorf("expected position 1 / 20s, got %d / %s", pos, wait)
	}

	pos, wait = q.Enqueue(Item{JobID: "b", Priority: 10, CreatedAt: now.Add(time.Second)})
	if pos != 1 || wait != 20*time.Second {
		t.Errorf("higher priority job should jump ahead, got %d / %s", pos, wait)
	}
	if got := q.PositionOf("a"); got != 2 {
		t.Errorf("expected a at position 2, got %d", got)
	}

	pos, wait = q.Enqueue(Item{JobID: "c", Priority: 1, CreatedAt: now.Add(2 * time.Second)})
	if pos != 3 || wait != time.Minute {
		t.Errorf("expected position 3 / 1m, got %d / %s", pos, wait)
	}
}

func TestEstimateWaitDefault(t *testing.T) {
	q := New(fixedEstimator(0))
	if got := q.EstimateWait(2); got != 2*DefaultJobDuration {
		t.Errorf("expected default duration fallback, got %s", got)
	}
	if got := q.EstimateWait(0); got != 0 {
		t.Errorf("expected zero wait for absent job, got %s", got)
	}
}

func TestRemove(t *testing.T) {
	q := New(nil)
	now := time.Now()
	q.Enqueue(Item{JobID: "a", Priority: 5, CreatedAt: now})
	q.Enqueue(Item{JobID: "b", Priority: 5, CreatedAt: now.Add(time.Second)})

	if !q.Remove("a") {
		t.Error("expected a to be removed")
	}
	if q.Remove("a") {
		t.Error("second remove should be a no-op")
	}
	if q.Remove("missing") {
		t.Error("removing an absent job should be a no-op")
	}
	if q.Length() != 1 {
		t.Errorf("expected length 1, got %d", q.Length())
	}
	if q.PositionOf("a") != 0 {
		t.Error("removed job must report position 0")
	}
	if q.PositionOf("b") != 1 {
		t.Errorf("expected b at position 1, got %d", q.PositionOf("b"))
	}

	it, ok := q.Dequeue()
	if !ok || it.JobID != "b" {
		t.Errorf("dequeue must skip removed jobs, got %+v", it)
	}
}

func TestEnqueueExistingUpdatesRank(t *testing.T) {
	q := New(nil)
	now := time.Now()
	q.Enqueue(Item{JobID: "a", Priority: 1, CreatedAt: now})
	q.Enqueue(Item{JobID: "b", Priority: 5, CreatedAt: now})
	q.Enqueue(Item{JobID: "a", Priority: 9, CreatedAt: now})

	if q.Length() != 2 {
		t.Fatalf("re-enqueue must not duplicate, length %d", q.Length())
	}
	if q.PositionOf("a") != 1 {
		t.Errorf("expected a promoted to position 1, got %d", q.PositionOf("a"))
	}
}

func TestConcurrentDequeueExactlyOnce(t *testing.T) {
	const (
		jobs    = 500
		workers = 16
	)
	q := New(nil)
	now := time.Now()
	for i := 0; i < jobs; i++ {
		q.Enqueue(Item{JobID: fmt.Sprintf("job-%d", i), Priority: i % 7, CreatedAt: now})
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				it, ok := q.Dequeue()
				if !ok {
					return
				}
				mu.Lock()
				seen[it.JobID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("expected %d distinct jobs, got %d", jobs, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %s dequeued %d times", id, n)
		}
	}
}

func TestConcurrentRemoveAndDequeue(t *testing.T) {
	const jobs = 200
	q := New(nil)
	now := time.Now()
	for i := 0; i < jobs; i++ {
		q.Enqueue(Item{JobID: fmt.Sprintf("job-%d", i), Priority: 1, CreatedAt: now})
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		removed  = make(map[string]bool)
		dequeued = make(map[string]bool)
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < jobs; i += 2 {
			id := fmt.Sprintf("job-%d", i)
			if q.Remove(id) {
				mu.Lock()
				removed[id] = true
				mu.Unlock()
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			it, ok := q.Dequeue()
			if !ok {
				return
			}
			mu.Lock()
			dequeued[it.JobID] = true
			mu.Unlock()
		}
	}()
	wg.Wait()

	// Drain anything the remover left behind after the dequeuer stopped.
	for {
		it, ok := q.Dequeue()
		if !ok {
			break
		}
		dequeued[it.JobID] = true
	}

	for id := range removed {
		if dequeued[id] {
			t.Errorf("job %s was both removed and dequeued", id)
		}
	}
	if len(removed)+len(dequeued) != jobs {
		t.Errorf("expected every job accounted for once, got %d removed + %d dequeued", len(removed), len(dequeued))
	}
}

func TestReadySignal(t *testing.T) {
	q := New(nil)
	q.Enqueue(Item{JobID: "a", Priority: 1, CreatedAt: time.Now()})

	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("expected ready signal after enqueue")
	}
}
