package store

import (
	"context"
	"sync"
	"time"

	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/scheduler"
)

// CleanupTaskID is the scheduler task that sweeps expired entries.
const CleanupTaskID = "store.clear-expired"

// DefaultCleanupInterval is how often the expiry sweep runs.
const DefaultCleanupInterval = 60 * time.Second

// Dispatcher accepts actions.
type Dispatcher interface {
	Dispatch(a Action)
}

// Effect runs side effects after an action has been reduced. It is called
// outside the store lock, in dispatch order, and must not block.
type Effect interface {
	Apply(a Action, prev, next State)
}

// EffectFunc adapts a function to Effect.
type EffectFunc func(a Action, prev, next State)

// Apply calls f.
func (f EffectFunc) Apply(a Action, prev, next State) { f(a, prev, next) }

// Options configure a Store.
type Options struct {
	Reducer         Reducer
	Initial         *State
	Effect          Effect
	Scheduler       *scheduler.Scheduler
	CleanupInterval time.Duration
	Logger          *logging.Logger
}

type transition struct {
	action     Action
	prev, next State
}

// Store owns the notification state.
type Store struct {
	reducer Reducer
	logger  *logging.Logger

	mu        sync.Mutex
	state     State
	effect    Effect
	listeners map[uint64]func(State)
	nextID    uint64

	// Transitions reduced but not yet handed to the effect and listeners.
	// One goroutine at a time drains them, so delivery follows Version.
	pending    []transition
	delivering bool

	sched           *scheduler.Scheduler
	ownsScheduler   bool
	cleanupInterval time.Duration
	initialized     bool
	disposed        bool
}

// New creates a store. Nothing runs until Init.
func New(opts Options) *Store {
	state := InitialState()
	if opts.Initial != nil {
		state = *opts.Initial
	}
	interval := opts.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	logger := logging.OrDefault(opts.Logger).WithField("component", "store")

	s := &Store{
		reducer:         opts.Reducer,
		logger:          logger,
		state:           state,
		effect:          opts.Effect,
		listeners:       make(map[uint64]func(State)),
		sched:           opts.Scheduler,
		cleanupInterval: interval,
	}
	if s.sched == nil {
		s.sched = scheduler.New(scheduler.Config{Logger: opts.Logger})
		s.ownsScheduler = true
	}
	return s
}

// SetEffect installs the side-effect handler.
func (s *Store) SetEffect(e Effect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effect = e
}

// Init registers the periodic expiry sweep. A store that created its own
// scheduler also starts it.
func (s *Store) Init() error {
	s.mu.Lock()
	if s.initialized || s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.mu.Unlock()

	task := scheduler.IntervalTask(CleanupTaskID, "Clear expired notifications", s.cleanupInterval,
		func(ctx context.Context) error {
			s.Dispatch(ClearExpired{})
			return nil
		})
	if err := s.sched.Register(task); err != nil {
		return err
	}
	if s.ownsScheduler {
		return s.sched.Start()
	}
	return nil
}

// Dispose stops the sweep and drops listeners. Later dispatches are ignored.
func (s *Store) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.listeners = make(map[uint64]func(State))
	s.mu.Unlock()

	s.sched.Unregister(CleanupTaskID)
	if s.ownsScheduler {
		s.sched.Stop()
	}
}

// Dispatch reduces a, then hands the transition to the effect handler and
// every listener. Transitions are delivered in the order they were reduced.
// A Dispatch that finds another goroutine delivering leaves its transition
// to that goroutine and returns once the state is updated; this also covers
// effects and listeners that dispatch.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		s.logger.Debug("Dropping %s: store disposed", a.ActionType())
		return
	}
	prev := s.state
	next := s.reducer.Reduce(prev, a)
	next.Version = prev.Version + 1
	s.state = next
	s.pending = append(s.pending, transition{action: a, prev: prev, next: next})

	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	s.mu.Unlock()

	s.deliver()
}

// deliver drains pending transitions until none are left.
func (s *Store) deliver() {
	defer func() {
		if p := recover(); p != nil {
			s.mu.Lock()
			s.pending = nil
			s.delivering = false
			s.mu.Unlock()
			panic(p)
		}
	}()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.delivering = false
			s.mu.Unlock()
			return
		}
		batch := s.pending
		s.pending = nil
		effect := s.effect
		listeners := make([]func(State), 0, len(s.listeners))
		for _, fn := range s.listeners {
			listeners = append(listeners, fn)
		}
		s.mu.Unlock()

		for _, tr := range batch {
			if effect != nil {
				effect.Apply(tr.action, tr.prev, tr.next)
			}
			for _, fn := range listeners {
				fn(tr.next)
			}
		}
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for every new state. The returned function removes it.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}
