package queue

import (
	"container/heap"
	"sync"
	"time"
)

// DefaultJobDuration is used when no estimator is configured or it has no data yet.
const DefaultJobDuration = 30 * time.Second

// DurationEstimator supplies the average time a job spends in the pipeline.
type DurationEstimator interface {
	AverageJobDuration() time.Duration
}

// Item is a queued job reference.
type Item struct {
	JobID     string
	Priority  int
	CreatedAt time.Time
	// Retried items lose ties against fresh items of the same priority.
	Retried   bool

	seq   uint64
	index int
}

// PriorityQueue orders jobs by priority (descending), then fresh before
// retried, then CreatedAt and insertion order (ascending). It is safe for
// concurrent use.
type PriorityQueue struct {
	mu        sync.Mutex
	items     itemHeap
	byID      map[string]*Item
	seq       uint64
	estimator DurationEstimator
	ready     chan struct{}
}

// New creates an empty queue. estimator may be nil.
func New(estimator DurationEstimator) *PriorityQueue {
	return &PriorityQueue{
		byID:      make(map[string]*Item),
		estimator: estimator,
		ready:     make(chan struct{}, 1),
	}
}

// Enqueue inserts the job and returns its 1-based position together with the
// estimated wait. Enqueueing a job that is already present updates its rank.
func (q *PriorityQueue) Enqueue(item Item) (int, time.Duration) {
	q.mu.Lock()
	if existing, ok := q.byID[item.JobID]; ok {
		existing.Priority = item.Priority
		existing.Retried = item.Retried
		heap.Fix(&q.items, existing.index)
	} else {
		q.seq++
		it := item
		it.seq = q.seq
		q.byID[it.JobID] = &it
		heap.Push(&q.items, &it)
	}
	position := q.positionLocked(item.JobID)
	q.mu.Unlock()

	q.signal()
	return position, q.EstimateWait(position)
}

// Dequeue removes and returns the highest ranked job. ok is false when the
// queue is empty. Each item is handed to exactly one caller.
func (q *PriorityQueue) Dequeue() (Item, bool) {
	q.mu.Lock()
	if q.items.Len() == 0 {
		q.mu.Unlock()
		return Item{}, false
	}
	it := heap.Pop(&q.items).(*Item)
	delete(q.byID, it.JobID)
	more := q.items.Len() > 0
	q.mu.Unlock()

	// Wake the next idle worker while work remains.
	if more {
		q.signal()
	}
	return *it, true
}

// Remove drops jobID from the queue. Removing an absent job is a no-op; the
// return value reports whether something was removed.
func (q *PriorityQueue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[jobID]
	if !ok {
		return false
	}
	heap.Remove(&q.items, it.index)
	delete(q.byID, jobID)
	return true
}

// Length returns the number of queued jobs.
func (q *PriorityQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// PositionOf returns the 1-based rank of jobID, or 0 if it is not queued.
func (q *PriorityQueue) PositionOf(jobID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.positionLocked(jobID)
}

// Contains reports whether jobID is queued.
func (q *PriorityQueue) Contains(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[jobID]
	return ok
}

// EstimateWait is position x average job duration.
func (q *PriorityQueue) EstimateWait(position int) time.Duration {
	if position <= 0 {
		return 0
	}
	avg := DefaultJobDuration
	if q.estimator != nil {
		if d := q.estimator.AverageJobDuration(); d > 0 {
			avg = d
		}
	}
	return time.Duration(position) * avg
}

// Ready delivers a signal after an enqueue so idle workers can stop waiting.
func (q *PriorityQueue) Ready() <-chan struct{} {
	return q.ready
}

func (q *PriorityQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *PriorityQueue) positionLocked(jobID string) int {
	target, ok := q.byID[jobID]
	if !ok {
		return 0
	}
	ahead := 0
	for _, it := range q.items {
		if it != target && less(it, target) {
			ahead++
		}
	}
	return ahead + 1
}

func less(a, b *Item) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Retried != b.Retried {
		return !a.Retried
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

type itemHeap []*Item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x interface{}) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
