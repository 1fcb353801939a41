// Package scheduler runs interval tasks: the store's expiry sweep, the
// fallback poller and the backend's cleanup job.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/schoolhub/schoolhub/internal/logging"
)

// Handler is the work done on every tick.
type Handler func(ctx context.Context) error

// Task describes one periodic job.
type Task struct {
	ID       string
	Name     string
	Interval time.Duration
	// Timeout bounds one run; zero means the interval.
	Timeout time.Duration
	// RunImmediately runs the handler once as soon as the loop starts.
	RunImmediately bool
	Handler        Handler
}

// IntervalTask builds a task that runs every interval.
func IntervalTask(id, name string, interval time.Duration, h Handler) *Task {
	return &Task{ID: id, Name: name, Interval: interval, Handler: h}
}

// Status is a snapshot of a task's run history.
type Status struct {
	ID        string
	Name      string
	Interval  time.Duration
	Active    bool
	LastRun   time.Time
	Runs      int64
	Failures  int64
	LastError string
}

type job struct {
	task   *Task
	cancel context.CancelFunc

	runs     int64
	failures int64
	lastRun  time.Time
	lastErr  string
}

// Config configures the scheduler
type Config struct {
	Logger *logging.Logger
}

// Scheduler owns one goroutine per registered task while started.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	started bool
	wg      sync.WaitGroup
	logger  *logging.Logger
}

// New creates a stopped scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*job),
		logger: logging.OrDefault(cfg.Logger).WithField("component", "scheduler"),
	}
}

// Register adds a task. A task with the same ID is replaced and its loop
// cancelled. If the scheduler is running the new loop starts at once.
func (s *Scheduler) Register(t *Task) error {
	switch {
	case t == nil || t.ID == "":
		return fmt.Errorf("scheduler: task ID is required")
	case t.Handler == nil:
		return fmt.Errorf("scheduler: task %s has no handler", t.ID)
	case t.Interval <= 0:
		return fmt.Errorf("scheduler: task %s: interval must be positive", t.ID)
	}
	if t.Timeout <= 0 {
		t.Timeout = t.Interval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[t.ID]; ok && old.cancel != nil {
		old.cancel()
	}
	j := &job{task: t}
	s.jobs[t.ID] = j
	if s.started {
		s.launch(j)
	}
	return nil
}

// Unregister cancels and forgets a task. Unknown IDs are ignored.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[id]; ok {
		if j.cancel != nil {
			j.cancel()
		}
		delete(s.jobs, id)
	}
}

// Start launches every registered task.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler: already started")
	}
	s.started = true
	for _, j := range s.jobs {
		s.launch(j)
	}
	return nil
}

// Stop cancels every loop and waits for running handlers to return. Tasks
// stay registered, so Start may be called again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for _, j := range s.jobs {
		if j.cancel != nil {
			j.cancel()
			j.cancel = nil
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// launch starts j's loop. Caller holds s.mu.
func (s *Scheduler) launch(j *job) {
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx, j)
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	if j.task.RunImmediately {
		s.run(ctx, j)
	}

	ticker := time.NewTicker(j.task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.run(ctx, j)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) error {
	runCtx, cancel := context.WithTimeout(ctx, j.task.Timeout)
	defer cancel()

	err := j.task.Handler(runCtx)

	s.mu.Lock()
	j.runs++
	j.lastRun = time.Now()
	j.lastErr = ""
	if err != nil {
		j.failures++
		j.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("%s failed: %v", j.task.ID, err)
	}
	return err
}

// RunNow runs a task on the calling goroutine and returns its error.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown task %s", id)
	}
	return s.run(ctx, j)
}

// Status returns the run history of one task.
func (s *Scheduler) Status(id string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Status{}, false
	}
	return j.status(), true
}

// Tasks lists every task ordered by ID.
func (s *Scheduler) Tasks() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.status())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (j *job) status() Status {
	return Status{
		ID:        j.task.ID,
		Name:      j.task.Name,
		Interval:  j.task.Interval,
		Active:    j.cancel != nil,
		LastRun:   j.lastRun,
		Runs:      j.runs,
		Failures:  j.failures,
		LastError: j.lastErr,
	}
}
