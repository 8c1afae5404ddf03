package connection

import (
	"sync"

	"github.com/hudlink/hudlink/internal/transport"
)

// link pairs an open transport with its writer goroutine. Sends are queued on
// sendCh and written in order; the first write error ends the writer and is
// reported through onError.
type link struct {
	tr      transport.Transport
	sendCh  chan []byte
	done    chan struct{}
	stopped chan struct{}

	onWrite func(n int)
	onError func(err error)

	stopOnce sync.Once
}

func newLink(tr transport.Transport, queueSize int, onWrite func(int), onError func(error)) *link {
	return &link{
		tr:      tr,
		sendCh:  make(chan []byte, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		onWrite: onWrite,
		onError: onError,
	}
}

func (l *link) start() {
	go l.writeLoop()
}

func (l *link) writeLoop() {
	defer close(l.stopped)
	for {
		select {
		case <-l.done:
			return
		case data := <-l.sendCh:
			if err := l.tr.Write(data); err != nil {
				select {
				case <-l.done:
					// Closed underneath us, not a failure.
				default:
					l.onError(err)
				}
				return
			}
			l.onWrite(len(data))
		}
	}
}

// send queues data without blocking. It returns false when the queue is full
// or the link is shutting down.
func (l *link) send(data []byte) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.sendCh <- data:
		return true
	default:
		return false
	}
}

func (l *link) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// close stops the writer, closes the transport and waits for the writer to
// exit. Closing the transport first unblocks a writer stuck in Write.
func (l *link) close() error {
	l.stop()
	err := l.tr.Close()
	<-l.stopped
	return err
}
