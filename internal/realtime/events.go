package realtime

import "sync"

// eventLoop runs callbacks one at a time, in the order they were pushed.
type eventLoop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	signal  chan struct{}
	quit    chan struct{}
	exited  chan struct{}
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (l *eventLoop) push(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *eventLoop) drain() {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

func (l *eventLoop) run() {
	defer close(l.exited)
	for {
		select {
		case <-l.signal:
			l.drain()
		case <-l.quit:
			l.drain()
			return
		}
	}
}

// stop delivers what is already queued, then ends the loop.
func (l *eventLoop) stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	close(l.quit)
	<-l.exited
}
