// internal/connection/manager.go
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hudlink/hudlink/internal/transport"
	"github.com/hudlink/hudlink/pkg/core"
)

// ErrDisposed is returned by Connect after Dispose.
var ErrDisposed = errors.New("connection manager disposed")

// DefaultSendQueue is the per-link send buffer used when none is configured.
const DefaultSendQueue = 64

// Observer receives connection state transitions. Calls are made from a
// single goroutine, in transition order.
type Observer interface {
	OnConnectionStateChanged(change core.StateChange)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(core.StateChange)

func (f ObserverFunc) OnConnectionStateChanged(c core.StateChange) { f(c) }

// Stats is a point-in-time view of manager counters.
type Stats struct {
	State     core.ConnectionState
	Endpoint  core.Endpoint
	Sent      uint64
	SentBytes uint64
	Dropped   uint64
	Failures  uint64
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	sendQueue int
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSendQueue sets the per-link send buffer size.
func WithSendQueue(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sendQueue = n
		}
	}
}

// Manager owns at most one transport and drives the connection state machine.
// Connect, Disconnect and Send never block on I/O: opening and closing run on
// a worker goroutine, writes on the link's writer goroutine, and observers are
// called from a separate notifier goroutine.
type Manager struct {
	factory   transport.Factory
	logger    *slog.Logger
	sendQueue int

	ctx    context.Context
	cancel context.CancelFunc

	worker   *loop
	notifier *loop

	mu         sync.Mutex
	state      core.ConnectionState
	endpoint   core.Endpoint
	link       *link
	cancelDial context.CancelFunc
	attempt    uint64
	closing    bool
	disposed   bool
	changed    chan struct{}

	// disconnects counts Disconnect calls so deferred connects can tell
	// whether they were superseded.
	disconnects uint64

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObsID int

	sent      atomic.Uint64
	sentBytes atomic.Uint64
	dropped   atomic.Uint64
	failures  atomic.Uint64

	// OTEL metrics
	sendsCounter    metric.Int64Counter
	droppedCounter  metric.Int64Counter
	failuresCounter metric.Int64Counter
}

// New creates a disconnected manager that builds transports with factory.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(factory transport.Factory, opts ...Option) (*Manager, error) {
	if factory == nil {
		return nil, errors.New("transport factory is required")
	}

	o := options{
		logger:    slog.New(slog.DiscardHandler),
		sendQueue: DefaultSendQueue,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		factory:   factory,
		logger:    o.logger,
		sendQueue: o.sendQueue,
		ctx:       ctx,
		cancel:    cancel,
		worker:    newLoop(),
		notifier:  newLoop(),
		changed:   make(chan struct{}),
		observers: make(map[int]Observer),
	}

	mt := meter()
	var err error

	m.sendsCounter, err = mt.Int64Counter(
		"connection.sends",
		metric.WithDescription("Messages written to the transport"),
	)
	if err != nil {
		m.shutdown()
		return nil, fmt.Errorf("creating sends counter: %w", err)
	}

	m.droppedCounter, err = mt.Int64Counter(
		"connection.sends.dropped",
		metric.WithDescription("Messages dropped before reaching the transport"),
	)
	if err != nil {
		m.shutdown()
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	m.failuresCounter, err = mt.Int64Counter(
		"connection.failures",
		metric.WithDescription("Failed connects and broken links"),
	)
	if err != nil {
		m.shutdown()
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}

	return m, nil
}

// Subscribe registers an observer and returns a function that removes it.
func (m *Manager) Subscribe(o Observer) func() {
	m.obsMu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = o
	m.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.obsMu.Lock()
			delete(m.observers, id)
			m.obsMu.Unlock()
		})
	}
}

// State returns the current connection state.
func (m *Manager) State() core.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Endpoint returns the endpoint of the current or most recent connection.
func (m *Manager) Endpoint() core.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	state, ep := m.state, m.endpoint
	m.mu.Unlock()
	return Stats{
		State:     state,
		Endpoint:  ep,
		Sent:      m.sent.Load(),
		SentBytes: m.sentBytes.Load(),
		Dropped:   m.dropped.Load(),
		Failures:  m.failures.Load(),
	}
}

// Connect starts connecting to ep and returns immediately. Connecting to the
// endpoint already connected, or calling Connect while an attempt is in
// flight, does nothing. Connecting to a different endpoint while connected
// disconnects first. The outcome is reported to observers.
func (m *Manager) Connect(ep core.Endpoint) error {
	if ep.IsZero() {
		return fmt.Errorf("%w: empty endpoint", core.ErrAddressParse)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrDisposed
	}

	if m.closing {
		m.deferConnectLocked(ep)
		return nil
	}

	switch m.state {
	case core.StateConnecting:
		return nil
	case core.StateConnected:
		if m.endpoint.Equal(ep) {
			return nil
		}
		m.logger.Info("Switching endpoint", "from", m.endpoint.String(), "to", ep.String())
		m.disconnectLocked(nil)
		m.deferConnectLocked(ep)
		return nil
	}

	m.startConnectLocked(ep)
	return nil
}

// deferConnectLocked replays Connect once the pending close has been
// declared. A Disconnect issued in between cancels the replay.
func (m *Manager) deferConnectLocked(ep core.Endpoint) {
	intent := m.disconnects
	m.worker.post(func() {
		m.mu.Lock()
		stale := intent != m.disconnects
		m.mu.Unlock()
		if stale {
			return
		}
		if err := m.Connect(ep); err != nil && !errors.Is(err, ErrDisposed) {
			m.logger.Warn("Deferred connect failed", "endpoint", ep.String(), "error", err)
		}
	})
}

func (m *Manager) startConnectLocked(ep core.Endpoint) {
	m.endpoint = ep
	m.setStateLocked(core.StateConnecting, nil)

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelDial = cancel
	m.attempt++
	gen := m.attempt

	m.worker.post(func() { m.open(ctx, cancel, gen, ep) })
}

// open runs on the worker goroutine.
func (m *Manager) open(ctx context.Context, cancel context.CancelFunc, gen uint64, ep core.Endpoint) {
	defer cancel()

	m.logger.Debug("Opening transport", "endpoint", ep.String())
	tr, err := m.factory(ep)
	if err == nil {
		err = tr.Open(ctx)
	}
	if err == nil && !tr.IsOpen() {
		err = fmt.Errorf("%w: transport did not report open", transport.ErrConnectFailure)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.attempt || m.state != core.StateConnecting {
		// Cancelled by Disconnect or Dispose.
		if tr != nil {
			_ = tr.Close()
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		if tr != nil {
			_ = tr.Close()
		}
		m.recordFailure("connect")
		m.logger.Warn("Connect failed", "endpoint", ep.String(), "error", err)
		m.setStateLocked(core.StateFailed, err)
		m.setStateLocked(core.StateDisconnected, err)
		return
	}

	var l *link
	l = newLink(tr, m.sendQueue,
		func(n int) {
			m.sent.Add(1)
			m.sentBytes.Add(uint64(n))
			m.sendsCounter.Add(context.Background(), 1)
		},
		func(err error) { m.linkFailed(l, err) },
	)
	m.link = l
	l.start()

	m.logger.Info("Connected", "endpoint", ep.String())
	m.setStateLocked(core.StateConnected, nil)
}

// linkFailed tears down a link whose writer hit an error.
func (m *Manager) linkFailed(l *link, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.link != l {
		return
	}
	m.recordFailure("send")
	m.logger.Warn("Link failed", "endpoint", m.endpoint.String(), "error", err)
	m.disconnectLocked(err)
}

// Send queues data on the active link. It never blocks and returns false when
// the data was dropped, either because nothing is connected or because the
// send queue is full.
func (m *Manager) Send(data []byte) bool {
	m.mu.Lock()
	l := m.link
	m.mu.Unlock()

	if l == nil {
		m.recordDrop("not_connected")
		return false
	}
	if !l.send(data) {
		m.recordDrop("queue_full")
		return false
	}
	return true
}

// Disconnect closes the active link or cancels an in-flight connect. It
// returns immediately; Disconnected is declared once the transport's Close
// has returned. Calling it while already disconnected does nothing.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.disconnectLocked(nil)
}

// DisconnectAndWait disconnects and blocks until the manager is disconnected
// or ctx is done.
func (m *Manager) DisconnectAndWait(ctx context.Context) error {
	m.Disconnect()
	return m.WaitForState(ctx, core.StateDisconnected)
}

func (m *Manager) disconnectLocked(cause error) {
	if m.closing {
		return
	}
	switch m.state {
	case core.StateConnecting:
		m.attempt++
		if m.cancelDial != nil {
			m.cancelDial()
			m.cancelDial = nil
		}
	case core.StateConnected:
	default:
		return
	}

	l := m.link
	m.link = nil
	m.closing = true
	m.worker.post(func() { m.finishClose(l, cause) })
}

// finishClose runs on the worker goroutine after any in-flight open.
func (m *Manager) finishClose(l *link, cause error) {
	if l != nil {
		if err := l.close(); err != nil {
			m.logger.Debug("Transport close error", "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closing = false
	m.logger.Info("Disconnected", "endpoint", m.endpoint.String())
	m.setStateLocked(core.StateDisconnected, cause)
}

// WaitForState blocks until the manager reaches state or ctx is done.
func (m *Manager) WaitForState(ctx context.Context, state core.ConnectionState) error {
	for {
		m.mu.Lock()
		if m.state == state && !m.closing {
			m.mu.Unlock()
			return nil
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dispose disconnects, then stops the worker and notifier goroutines after
// delivering any pending notifications. Connect returns ErrDisposed
// afterwards. Dispose is idempotent and must not be called from an observer.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.disconnectLocked(nil)
	m.mu.Unlock()

	m.shutdown()
}

func (m *Manager) shutdown() {
	m.worker.close()
	m.cancel()
	m.notifier.close()
}

func (m *Manager) setStateLocked(s core.ConnectionState, err error) {
	change := core.StateChange{
		State:    s,
		Previous: m.state,
		Endpoint: m.endpoint,
		Err:      err,
		At:       time.Now(),
	}
	m.state = s
	close(m.changed)
	m.changed = make(chan struct{})

	m.notifier.post(func() { m.deliver(change) })
}

func (m *Manager) deliver(change core.StateChange) {
	m.obsMu.RLock()
	ids := make([]int, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	m.obsMu.RUnlock()

	// Subscription order.
	slices.Sort(ids)
	for _, id := range ids {
		m.obsMu.RLock()
		o, ok := m.observers[id]
		m.obsMu.RUnlock()
		if ok {
			o.OnConnectionStateChanged(change)
		}
	}
}

func (m *Manager) recordDrop(reason string) {
	m.dropped.Add(1)
	m.droppedCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Manager) recordFailure(stage string) {
	m.failures.Add(1)
	m.failuresCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("stage", stage)))
}
