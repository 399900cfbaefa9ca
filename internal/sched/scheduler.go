// Package sched implements the process-wide scheduler: a min-heap of
// timed callbacks serviced by one goroutine, the same role ast_sched_add
// / ast_sched_del play in the source, generalised to run_at/cancel/
// wait_until_next_ms so any subsystem (the PBX interpreter's
// whentohangup deadline, a dialplan application's timer, a future
// retry backoff) can share one clock instead of spawning its own
// time.Timer.
package sched

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// TaskID identifies a scheduled callback, returned by RunAt/RunAfter and
// accepted by Cancel.
type TaskID uint64

type task struct {
	id    TaskID
	at    time.Time
	fn    func()
	index int // heap.Interface bookkeeping
}

type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
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

// Scheduler runs scheduled callbacks on a single goroutine, in deadline
// order. Callbacks run inline on that goroutine, so a slow callback
// delays every later one; long-running work should hand off to its own
// goroutine.
type Scheduler struct {
	log *slog.Logger

	mu     sync.Mutex
	heap   taskHeap
	byID   map[TaskID]*task
	nextID TaskID

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a scheduler, not yet running its service goroutine.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:    log,
		byID:   make(map[TaskID]*task),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Run starts the scheduler's service goroutine and returns at once; the
// goroutine exits once ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the service goroutine and waits for it to exit. Pending
// tasks are discarded without running.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// RunAt schedules fn to run at (or shortly after) at. It returns a
// TaskID usable with Cancel.
func (s *Scheduler) RunAt(at time.Time, fn func()) TaskID {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	t := &task{id: id, at: at, fn: fn}
	heap.Push(&s.heap, t)
	s.byID[id] = t
	s.mu.Unlock()

	s.signalWake()
	return id
}

// RunAfter schedules fn to run after d elapses.
func (s *Scheduler) RunAfter(d time.Duration, fn func()) TaskID {
	return s.RunAt(time.Now().Add(d), fn)
}

// Cancel removes a pending task. It reports whether the task was still
// pending (false means it already ran or never existed).
func (s *Scheduler) Cancel(id TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, t.index)
	delete(s.byID, id)
	return true
}

// WaitUntilNextMs reports how many milliseconds remain until the
// earliest pending task fires, or -1 if the schedule is empty. Exposed
// for callers (poll loops, CLI introspection) that want the value
// without racing the service goroutine's own timer.
func (s *Scheduler) WaitUntilNextMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return -1
	}
	d := time.Until(s.heap[0].at)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

// Len reports the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.heap) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.heap[0].at)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.runDue()
		}
	}
}

func (s *Scheduler) runDue() {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.heap) == 0 || s.heap[0].at.After(now) {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.heap).(*task)
		delete(s.byID, t.id)
		s.mu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("sched: task panicked", "id", t.id, "recover", r)
				}
			}()
			t.fn()
		}()
	}
}
