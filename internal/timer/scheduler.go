package timer

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

var ErrSchedulerStopped = errors.New("scheduler is stopped")

// task is a callback due at a point in time. Repeating tasks carry a
// non-zero interval and are pushed back onto the heap once their callback
// returns, so a slow callback never overlaps with itself.
type task struct {
	id       string
	at       time.Time
	interval time.Duration
	fn       func()
	index    int // position in the heap, -1 while running or removed
}

// taskHeap is a min-heap of tasks ordered by due time
type taskHeap []*task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler runs one-shot and periodic callbacks on their own goroutines.
type Scheduler struct {
	mu      sync.Mutex
	heap    taskHeap
	tasks   map[string]*task // by id, includes tasks whose callback is running
	wakeup  chan struct{}
	stopCh  chan struct{}
	running sync.WaitGroup
	started bool
	stopped bool
}

// NewScheduler creates an idle scheduler. Call Start to begin firing tasks.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		heap:   make(taskHeap, 0),
		tasks:  make(map[string]*task),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Start launches the dispatch loop. Calling it more than once is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.run()
}

// Stop halts dispatching and waits for callbacks already running to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.running.Wait()
}

// Schedule runs fn once at the given time, replacing any task with the same id.
func (s *Scheduler) Schedule(id string, at time.Time, fn func()) error {
	return s.add(&task{id: id, at: at, fn: fn})
}

// Every runs fn each interval, starting one interval from now. The next run
// is timed from the moment the previous callback returned.
func (s *Scheduler) Every(id string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	return s.add(&task{id: id, at: time.Now().Add(interval), interval: interval, fn: fn})
}

func (s *Scheduler) add(t *task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	s.removeLocked(t.id)
	heap.Push(&s.heap, t)
	s.tasks[t.id] = t

	if s.heap[0] == t {
		s.signal()
	}
	return nil
}

// Cancel removes a task. A callback that is already running completes, but a
// periodic task will not be scheduled again.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Scheduler) removeLocked(id string) bool {
	existing, ok := s.tasks[id]
	if !ok {
		return false
	}
	if existing.index >= 0 {
		heap.Remove(&s.heap, existing.index)
	}
	delete(s.tasks, id)
	return true
}

func (s *Scheduler) signal() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		wait := 24 * time.Hour
		if s.heap.Len() > 0 {
			next := s.heap[0]
			wait = time.Until(next.at)
			if wait <= 0 {
				t := heap.Pop(&s.heap).(*task)
				if t.interval == 0 {
					delete(s.tasks, t.id)
				}
				s.running.Add(1)
				go s.fire(t)
				s.mu.Unlock()
				continue
			}
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) fire(t *task) {
	defer s.running.Done()

	t.fn()

	if t.interval == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.tasks[t.id] != t {
		return
	}
	t.at = time.Now().Add(t.interval)
	heap.Push(&s.heap, t)
	if s.heap[0] == t {
		s.signal()
	}
}

// Stats reports the number of registered tasks.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{ScheduledTasks: len(s.tasks), Pending: s.heap.Len()}
}

type Stats struct {
	ScheduledTasks int
	Pending        int
}
