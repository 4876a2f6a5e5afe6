// Package scheduler holds the three priority queues (fast, standard,
// long) feeding the analysis hub, and the adaptive thresholds that
// classify tasks into them.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/neira-project/neira/pkg/memory"
)

// Queue identifies one of the scheduler's queues. Pop order is
// strictly Fast before Standard before Long regardless of priority.
type Queue int

// Queues.
const (
	QueueFast Queue = iota
	QueueStandard
	QueueLong
)

// String returns the queue's metric label.
func (q Queue) String() string {
	switch q {
	case QueueFast:
		return "fast"
	case QueueStandard:
		return "standard"
	default:
		return "long"
	}
}

// Task is one scheduled unit of analysis work.
type Task struct {
	ID        string
	Payload   string
	Priority  memory.Priority
	Timeout   time.Duration // 0 = none
	Cells     []string
	CreatedAt time.Time
}

// FlowEvent is published to the data-flow listener on every enqueue.
type FlowEvent struct {
	Queue    Queue
	TaskID   string
	Priority memory.Priority
}

// Scheduler owns the three heaps. All operations take the single
// scheduler lock; length queries use a read lock.
type Scheduler struct {
	mu     sync.RWMutex
	queues [3]taskHeap
	seq    uint64
	flow   func(FlowEvent)
}

// New creates an empty scheduler. flow may be nil.
func New(flow func(FlowEvent)) *Scheduler {
	return &Scheduler{flow: flow}
}

// Enqueue pushes a task onto the given queue and publishes a flow
// event.
func (s *Scheduler) Enqueue(q Queue, task Task) {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.seq++
	heap.Push(&s.queues[q], &heapItem{task: task, seq: s.seq})
	s.mu.Unlock()

	if s.flow != nil {
		s.flow(FlowEvent{Queue: q, TaskID: task.ID, Priority: task.Priority})
	}
}

// Next pops the highest-priority task, draining Fast first, then
// Standard, then Long.
func (s *Scheduler) Next() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for q := range s.queues {
		if s.queues[q].Len() > 0 {
			item := heap.Pop(&s.queues[q]).(*heapItem)
			return item.task, true
		}
	}
	return Task{}, false
}

// Lengths returns the current queue lengths (fast, standard, long).
func (s *Scheduler) Lengths() (int, int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queues[QueueFast].Len(), s.queues[QueueStandard].Len(), s.queues[QueueLong].Len()
}

// Backpressure is the sum of all queue lengths.
func (s *Scheduler) Backpressure() int {
	f, st, l := s.Lengths()
	return f + st + l
}

// heapItem wraps a task with an insertion sequence; the sequence only
// breaks priority ties deterministically inside this process, it is
// not a FIFO guarantee.
type heapItem struct {
	task Task
	seq  uint64
}

// taskHeap is a max-heap on task priority.
type taskHeap []*heapItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*heapItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
