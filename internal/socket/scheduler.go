package socket

import (
	"container/heap"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// scheduledTask is one entry in the scheduler's min-heap, keyed by absolute
// deadline per spec.md §4.3.
type scheduledTask struct {
	deadline time.Time
	seq      uint64 // insertion order, breaks ties deterministically
	fn       func()
}

type taskHeap []*scheduledTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*scheduledTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// scheduler is the single auxiliary timer thread: a min-heap keyed by
// absolute deadline, woken on the earliest entry. Task panics are
// recovered and discarded; task bodies must be idempotent, since the same
// logical action (e.g. a pure-ACK debounce) may be scheduled more than
// once.
type scheduler struct {
	clock clockwork.Clock

	mu      sync.Mutex
	tasks   taskHeap
	nextSeq uint64
	closed  bool

	wake chan struct{} // reallocated each time the head of the heap changes
	done chan struct{}
}

func newScheduler(clock clockwork.Clock) *scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &scheduler{clock: clock, wake: make(chan struct{}), done: make(chan struct{})}
	go s.run()
	return s
}

// schedule queues fn to run after delay from now.
func (s *scheduler) schedule(delay time.Duration, fn func()) {
	s.scheduleAt(s.clock.Now().Add(delay), fn)
}

// after returns a channel that fires once delay has elapsed on the
// scheduler's clock, for callers that need to race a single wait against
// it without going through the task heap (e.g. Connect's handshake
// timeout).
func (s *scheduler) after(delay time.Duration) <-chan time.Time {
	return s.clock.After(delay)
}

// scheduleASAP schedules fn to run before any currently pending or future
// task, used for the "close this socket now" escalation when MaxAttempts
// is exceeded.
func (s *scheduler) scheduleASAP(fn func()) {
	s.scheduleAt(time.Time{}, fn)
}

func (s *scheduler) scheduleAt(deadline time.Time, fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	t := &scheduledTask{deadline: deadline, seq: s.nextSeq, fn: fn}
	s.nextSeq++
	heap.Push(&s.tasks, t)
	w := s.wake
	s.wake = make(chan struct{})
	s.mu.Unlock()
	close(w)
}

// close stops the scheduler; any tasks still queued are discarded.
func (s *scheduler) close() {
	s.mu.Lock()
	s.closed = true
	w := s.wake
	s.wake = make(chan struct{})
	s.mu.Unlock()
	close(w)
	<-s.done
}

func (s *scheduler) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.tasks) == 0 {
			wake := s.wake
			s.mu.Unlock()
			<-wake
			continue
		}
		wait := s.tasks[0].deadline.Sub(s.clock.Now())
		if wait > 0 {
			wake := s.wake
			timer := s.clock.NewTimer(wait)
			s.mu.Unlock()
			select {
			case <-timer.Chan():
			case <-wake:
			}
			timer.Stop()
			continue
		}
		task := heap.Pop(&s.tasks).(*scheduledTask)
		s.mu.Unlock()
		s.runTask(task.fn)
	}
}

func (s *scheduler) runTask(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
