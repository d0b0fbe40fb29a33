// Package serial provides a serialized execution context: tasks submitted to a
// Queue run one at a time, in submission order.
package serial

import "sync"

// Queue is an unbounded FIFO task queue. A worker goroutine is started when
// the first task arrives and exits once the queue is empty, so an idle Queue
// holds no goroutine and needs no Close.
type Queue struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
}

func New() *Queue { return &Queue{} }

// Submit enqueues f and returns without waiting for it. A task may submit
// further tasks to the same Queue; they run after everything already queued.
func (q *Queue) Submit(f func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, f)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.run()
}

// Len reports the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		f := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		f()
	}
}
