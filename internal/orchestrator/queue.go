package orchestrator

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// ErrTaskExists is returned by taskQueue.Enqueue for a duplicate task ID.
var ErrTaskExists = fmt.Errorf("orchestrator: task already queued")

// ErrQueueFull is returned by taskQueue.Enqueue once maxSize is reached.
var ErrQueueFull = fmt.Errorf("orchestrator: queue full")

// queuedTask is one pending task plus its heap bookkeeping.
type queuedTask struct {
	task     *v1.Task
	queuedAt time.Time
	index    int
}

// taskHeap orders by (priority desc, createdAt asc), with queuedAt asc as
// the tie-break, grounded on the teacher's
// internal/orchestrator/queue/queue.go taskHeap.
type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	if !h[i].task.CreatedAt.Equal(h[j].task.CreatedAt) {
		return h[i].task.CreatedAt.Before(h[j].task.CreatedAt)
	}
	return h[i].queuedAt.Before(h[j].queuedAt)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x interface{}) {
	qt := x.(*queuedTask)
	qt.index = len(*h)
	*h = append(*h, qt)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// taskQueue is a priority queue of pending Tasks ordered by
// (priority desc, createdAt asc), per spec §4.4.
type taskQueue struct {
	mu      sync.RWMutex
	heap    taskHeap
	byID    map[string]*queuedTask
	maxSize int
}

func newTaskQueue(maxSize int) *taskQueue {
	return &taskQueue{byID: make(map[string]*queuedTask), maxSize: maxSize}
}

func (q *taskQueue) Enqueue(t *v1.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[t.ID]; ok {
		return ErrTaskExists
	}
	if q.maxSize > 0 && len(q.heap) >= q.maxSize {
		return ErrQueueFull
	}
	qt := &queuedTask{task: t, queuedAt: time.Now()}
	heap.Push(&q.heap, qt)
	q.byID[t.ID] = qt
	return nil
}

// PeekReady returns (without removing) the highest-priority task for which
// pred reports all dependencies satisfied, scanning in priority order.
func (q *taskQueue) PeekReady(pred func(*v1.Task) bool) *v1.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	candidates := append(taskHeap(nil), q.heap...)
	// container/heap guarantees only root-order; sort a working copy by
	// the same Less to scan in priority order without mutating the heap.
	sortHeap(candidates)
	for _, qt := range candidates {
		if pred(qt.task) {
			cp := *qt.task
			return &cp
		}
	}
	return nil
}

func sortHeap(h taskHeap) {
	for i := 1; i < len(h); i++ {
		for j := i; j > 0 && h.Less(j, j-1); j-- {
			h[j], h[j-1] = h[j-1], h[j]
		}
	}
}

func (q *taskQueue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	qt, ok := q.byID[taskID]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, qt.index)
	delete(q.byID, taskID)
	return true
}

func (q *taskQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.heap)
}

func (q *taskQueue) IsFull() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.maxSize > 0 && len(q.heap) >= q.maxSize
}

func (q *taskQueue) List() []*v1.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*v1.Task, 0, len(q.heap))
	for _, qt := range q.heap {
		cp := *qt.task
		out = append(out, &cp)
	}
	return out
}
