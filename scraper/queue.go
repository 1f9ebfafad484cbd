package scraper

import (
	"container/heap"
	"sync"
)

// taskQueue orders jobs by priority, FIFO within a priority.
type taskQueue struct {
	mu     sync.Mutex
	items  jobHeap
	seq    uint64
	notify chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{notify: make(chan struct{}, 1)}
}

func (q *taskQueue) Push(j *job) int {
	q.mu.Lock()
	q.seq++
	j.seq = q.seq
	heap.Push(&q.items, j)
	n := len(q.items)
	q.mu.Unlock()
	q.signal()
	return n
}

// Raise lifts j to priority when that is higher than its current one and
// reports whether it did. A job parked on a retry timer is outside the heap
// and carries the new priority when it is pushed again.
func (q *taskQueue) Raise(j *job, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if priority <= j.priority {
		return false
	}
	j.priority = priority
	if i := j.index; i >= 0 && i < len(q.items) && q.items[i] == j {
		heap.Fix(&q.items, i)
	}
	return true
}

// Pop blocks until a job is available or done is closed.
func (q *taskQueue) Pop(done <-chan struct{}) (*job, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			j := heap.Pop(&q.items).(*job)
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-done:
			return nil, false
		}
	}
}

// Drain removes and returns every queued job.
func (q *taskQueue) Drain() []*job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*job, 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(&q.items).(*job))
	}
	return out
}

func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *taskQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
