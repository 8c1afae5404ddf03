package connection

import (
	"sync"

	"github.com/hudlink/hudlink/internal/queue"
)

// loop runs posted jobs one at a time, in post order, on its own goroutine.
// The manager uses one loop for blocking transport I/O and one for observer
// delivery.
type loop struct {
	jobs   *queue.Queue[func()]
	wake   chan struct{}
	quit   chan struct{}
	exited chan struct{}

	mu     sync.Mutex
	closed bool
}

func newLoop() *loop {
	l := &loop{
		jobs:   queue.New[func()](),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go l.run()
	return l
}

// post enqueues fn. It returns false once the loop has been closed.
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.jobs.Push(fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *loop) run() {
	defer close(l.exited)
	for {
		l.drain()
		select {
		case <-l.wake:
		case <-l.quit:
			l.drain()
			return
		}
	}
}

func (l *loop) drain() {
	for {
		fn, ok := l.jobs.TryPop()
		if !ok {
			return
		}
		fn()
	}
}

// close stops accepting jobs, runs what is already queued and waits for the
// goroutine to exit. Must not be called from a job on the same loop.
func (l *loop) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.exited
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.quit)
	<-l.exited
}
