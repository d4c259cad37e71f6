package service

import (
	"container/heap"

	"github.com/lessonforge/task-scheduler/internal/core/domain"
)

// queueEntry orders tasks by (negated priority, insertion sequence) so the
// highest priority dequeues first and equal priorities dequeue FIFO. Removed
// entries are tombstoned and skipped lazily on Get, avoiding a re-heapify
// on cancellation.
type queueEntry struct {
	priority int // negated domain priority, min-heap pops the highest first
	seq      uint64
	task     *domain.Task
	removed  bool
}

type entryHeap []*queueEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*queueEntry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TaskQueue is a priority queue of queued tasks. It is not goroutine safe;
// the scheduler serializes access under its own lock.
type TaskQueue struct {
	name    string
	heap    entryHeap
	entries map[string]*queueEntry
	seq     uint64
}

func NewTaskQueue(name string) *TaskQueue {
	return &TaskQueue{
		name:    name,
		entries: make(map[string]*queueEntry),
	}
}

// Put inserts the task in O(log n).
func (q *TaskQueue) Put(task *domain.Task) {
	e := &queueEntry{
		priority: -int(task.Priority),
		seq:      q.seq,
		task:     task,
	}
	q.seq++
	q.entries[task.ID] = e
	heap.Push(&q.heap, e)
}

// Get removes and returns the highest-priority, earliest-inserted task,
// or nil when the queue is empty.
func (q *TaskQueue) Get() *domain.Task {
	for q.heap.Len() > 0 {
		e := heap.Pop(&q.heap).(*queueEntry)
		if e.removed {
			continue
		}
		delete(q.entries, e.task.ID)
		return e.task
	}
	return nil
}

// Remove tombstones the entry for id in O(1). It reports whether the id
// was present.
func (q *TaskQueue) Remove(id string) bool {
	e, ok := q.entries[id]
	if !ok {
		return false
	}
	delete(q.entries, id)
	e.removed = true
	e.task = nil
	return true
}

func (q *TaskQueue) Size() int { return len(q.entries) }

func (q *TaskQueue) IsEmpty() bool { return len(q.entries) == 0 }
