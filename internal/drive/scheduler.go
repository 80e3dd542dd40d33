package drive

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/serialdebug/internal/monitoring"
	"github.com/banshee-data/serialdebug/internal/timeutil"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("scheduler already started")
	// ErrStopped is returned by Register and Stop once Stop has been called.
	ErrStopped = errors.New("scheduler stopped")
)

type message struct {
	task Task
	stop bool
}

// Scheduler ticks registered tasks at a fixed interval on one goroutine.
//
// Register and Stop may be called from any goroutine, including from inside a
// task, and never block. Messages from different producers are not ordered
// relative to each other; each is delivered at most once, one per tick.
//
// Tasks that implement io.Closer are closed when the scheduler drops them at
// shutdown without them having finished.
type Scheduler struct {
	interval time.Duration
	clock    timeutil.Clock

	mu       sync.Mutex
	inbox    []message
	queued   int // tasks waiting in inbox
	stopping bool

	started  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
	count    atomic.Int64
	ticks    atomic.Uint64

	// tasks is only touched by the loop goroutine.
	tasks []Task
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the clock used for the inter-tick sleep.
func WithClock(c timeutil.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// New creates an idle scheduler that will tick every interval once started.
func New(interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		interval: interval,
		clock:    timeutil.RealClock{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop. It must be called exactly once; later
// calls return ErrAlreadyStarted.
func (s *Scheduler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go s.run()
	return nil
}

// Register queues t. It begins ticking on or after the next iteration.
func (s *Scheduler) Register(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrStopped
	}
	s.inbox = append(s.inbox, message{task: t})
	s.queued++
	return nil
}

// Stop queues a stop request. Register fails with ErrStopped from this point
// on. The loop exits after the tick in progress and the messages queued ahead
// of the stop request have been drained; tasks still registered are dropped
// without further ticks.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrStopped
	}
	s.stopping = true
	s.inbox = append(s.inbox, message{stop: true})
	return nil
}

// Done is closed once the loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Len returns the number of tasks ticking as of the last completed tick.
func (s *Scheduler) Len() int {
	return int(s.count.Load())
}

// Active returns the number of tasks either ticking or queued to start. A
// task is counted in exactly one of the two at any moment.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.count.Load()) + s.queued
}

// Ticks returns the number of completed ticks.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) run() {
	defer s.doneOnce.Do(func() { close(s.done) })
	for {
		if stop := s.tick(); stop {
			return
		}
		s.clock.Sleep(s.interval)
	}
}

// tick runs one iteration and reports whether a stop request was drained.
func (s *Scheduler) tick() bool {
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if s.drive(t) {
			kept = append(kept, t)
		}
	}
	// clear the tail so removed tasks can be collected
	for i := len(kept); i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
	s.tasks = kept

	stop := false
	s.mu.Lock()
	if len(s.inbox) > 0 {
		m := s.inbox[0]
		s.inbox[0] = message{}
		s.inbox = s.inbox[1:]
		if m.stop {
			stop = true
		} else {
			s.queued--
			if m.task != nil {
				s.tasks = append(s.tasks, m.task)
			}
		}
	}
	s.count.Store(int64(len(s.tasks)))
	s.mu.Unlock()

	s.ticks.Add(1)
	if stop {
		monitoring.Logf("scheduler stopping with %d task(s) registered", len(s.tasks))
		s.dispose()
	}
	return stop
}

// dispose closes the tasks dropped at shutdown.
func (s *Scheduler) dispose() {
	for _, t := range s.tasks {
		if c, ok := t.(io.Closer); ok {
			if err := c.Close(); err != nil {
				monitoring.Logf("Failed to close task %T: %v", t, err)
			}
		}
	}
	s.tasks = nil
	s.count.Store(0)
}

// drive invokes one task, converting errors and panics into removal.
func (s *Scheduler) drive(t Task) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("Failed to drive task %T: panic: %v", t, r)
			keep = false
		}
	}()

	keep, err := t.Drive()
	if err != nil {
		monitoring.Logf("Failed to drive task %T: %v", t, err)
		return false
	}
	return keep
}

func (s *Scheduler) String() string {
	return fmt.Sprintf("Scheduler(interval=%s, tasks=%d)", s.interval, s.Len())
}
