package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/xraph/docbatch/job"
)

// Item is a queued batch job reference.
type Item struct {
	JobID      string
	Priority   job.Priority
	TenantID   string
	EnqueuedAt time.Time

	seq   uint64
	index int
}

// PriorityQueue orders queued job ids by priority tier, then by enqueue
// order within a tier. Membership is idempotent per job id. It is safe for
// concurrent use.
type PriorityQueue struct {
	mu    sync.Mutex
	items itemHeap
	byID  map[string]*Item
	seq   uint64
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{byID: make(map[string]*Item)}
}

// Enqueue inserts it unless its job id is already queued. It reports
// whether the item was inserted.
func (q *PriorityQueue) Enqueue(it Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byID[it.JobID]; ok {
		return false
	}
	q.push(it)
	return true
}

// Dequeue removes and returns the highest-priority, oldest item.
func (q *PriorityQueue) Dequeue() (Item, bool) {
	return q.DequeueFunc(nil)
}

// DequeueFunc removes and returns the first item, in queue order, that
// accept admits. Rejected items keep their place. A nil accept admits
// everything. accept runs with the queue locked and must not call back
// into the queue.
func (q *PriorityQueue) DequeueFunc(accept func(Item) bool) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var rejected []*Item
	defer func() {
		for _, it := range rejected {
			heap.Push(&q.items, it)
		}
	}()

	for q.items.Len() > 0 {
		it := heap.Pop(&q.items).(*Item) //nolint:errcheck // heap only holds *Item
		if accept == nil || accept(*it) {
			delete(q.byID, it.JobID)
			return *it, true
		}
		rejected = append(rejected, it)
	}
	return Item{}, false
}

// Remove drops the job from the queue if present. It reports whether an
// entry was removed.
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

// Requeue removes any entry for it.JobID and inserts it again at the back
// of its (possibly new) priority tier.
func (q *PriorityQueue) Requeue(it Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if old, ok := q.byID[it.JobID]; ok {
		heap.Remove(&q.items, old.index)
		delete(q.byID, it.JobID)
	}
	q.push(it)
}

// Contains reports whether the job is queued.
func (q *PriorityQueue) Contains(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[jobID]
	return ok
}

// Len returns the number of queued jobs.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// DepthByTenant returns the number of queued jobs per tenant.
func (q *PriorityQueue) DepthByTenant() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int)
	for _, it := range q.items {
		out[it.TenantID]++
	}
	return out
}

// DepthByPriority returns the number of queued jobs per priority tier.
func (q *PriorityQueue) DepthByPriority() map[job.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[job.Priority]int)
	for _, it := range q.items {
		out[it.Priority]++
	}
	return out
}

// Snapshot returns the queued items in dequeue order.
func (q *PriorityQueue) Snapshot() []Item {
	q.mu.Lock()
	cp := make(itemHeap, len(q.items))
	for i, it := range q.items {
		c := *it
		cp[i] = &c
	}
	q.mu.Unlock()

	out := make([]Item, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, *heap.Pop(&cp).(*Item)) //nolint:errcheck // heap only holds *Item
	}
	return out
}

func (q *PriorityQueue) push(it Item) {
	q.seq++
	it.seq = q.seq
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = time.Now().UTC()
	}
	p := &it
	heap.Push(&q.items, p)
	q.byID[it.JobID] = p
}

// ──────────────────────────────────────────────────
// heap.Interface
// ──────────────────────────────────────────────────

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	ri, rj := h[i].Priority.Rank(), h[j].Priority.Rank()
	if ri != rj {
		return ri > rj
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*Item) //nolint:errcheck // heap only holds *Item
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
