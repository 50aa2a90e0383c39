// README: Cooperative task scheduler; self-rescheduling timers with no overlapping runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"dispatch/internal/metrics"
	"dispatch/internal/obs"
)

var (
	ErrUnknownTask   = errors.New("unknown task")
	ErrDuplicateTask = errors.New("task already registered")
)

type Job func(ctx context.Context) error

// Task is a named job. The first run happens StartDelay after Start when
// StartDelay is positive, otherwise at Schedule.Next.
type Task struct {
	Name       string
	Schedule   Schedule
	StartDelay time.Duration
	Job        Job
}

type taskState struct {
	Task
	run    sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*taskState
	order   []string
	ctx     context.Context
	stop    context.CancelFunc
	started bool
}

func New() *Scheduler {
	return &Scheduler{tasks: map[string]*taskState{}}
}

// Add registers a task. Tasks added after Start begin immediately.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Job == nil || t.Schedule == nil {
		return fmt.Errorf("task %q: name, schedule and job are required", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name)
	}
	ts := &taskState{Task: t}
	s.tasks[t.Name] = ts
	s.order = append(s.order, t.Name)
	if s.started {
		s.launch(ts)
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.stop = context.WithCancel(ctx)
	s.started = true
	for _, name := range s.order {
		s.launch(s.tasks[name])
	}
}

// Stop cancels every task and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.stop()
	s.started = false
	var waiting []chan struct{}
	for _, ts := range s.tasks {
		if ts.done != nil {
			waiting = append(waiting, ts.done)
		}
	}
	s.mu.Unlock()
	for _, done := range waiting {
		<-done
	}
}

// Cancel stops one task's timer. A run in progress sees its context
// cancelled. It reports whether the task existed.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	ts, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
		for i, n := range s.order {
			if n == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if ts.cancel != nil {
		ts.cancel()
		<-ts.done
	}
	log.Printf("scheduler: task=%s cancelled", name)
	return true
}

// RunNow runs a task immediately, waiting for any scheduled run of the
// same task to finish first.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	ts, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, ts, "manual")
}

// Names lists registered tasks in registration order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// launch must be called with s.mu held.
func (s *Scheduler) launch(ts *taskState) {
	ctx, cancel := context.WithCancel(s.ctx)
	ts.cancel = cancel
	ts.done = make(chan struct{})
	go s.loop(ctx, ts)
}

func (s *Scheduler) loop(ctx context.Context, ts *taskState) {
	defer close(ts.done)

	wait := ts.StartDelay
	if wait <= 0 {
		wait = time.Until(ts.Schedule.Next(time.Now()))
	}
	log.Printf("scheduler: task=%s next_run_in=%s", ts.Name, wait.Round(time.Second))
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		_ = s.run(ctx, ts, "scheduled")
		// Armed only after the run returns, so runs never overlap.
		timer.Reset(time.Until(ts.Schedule.Next(time.Now())))
	}
}

func (s *Scheduler) run(ctx context.Context, ts *taskState, trigger string) (err error) {
	ts.run.Lock()
	defer ts.run.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", ts.Name, r)
			log.Printf("scheduler: task=%s panic=%v\n%s", ts.Name, r, debug.Stack())
		}
		status := "ok"
		if err != nil {
			status = "error"
			log.Printf("scheduler: task=%s trigger=%s err=%v", ts.Name, trigger, err)
		}
		metrics.JobRuns.WithLabelValues(ts.Name, status).Inc()
		metrics.JobDuration.WithLabelValues(ts.Name).Observe(time.Since(start).Seconds())
	}()

	ctx = obs.WithRequestID(ctx, ts.Name+"-"+start.UTC().Format("20060102T150405"))
	return ts.Job(ctx)
}
