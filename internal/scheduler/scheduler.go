// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hudlink/hudlink/pkg/core"
	"github.com/hudlink/hudlink/pkg/streaming"
)

// HeadingThreshold is the minimum heading change, in degrees, before discrete
// mode sends another compass message.
const HeadingThreshold = 0.5

// Conn is the part of the connection manager the scheduler drives.
type Conn interface {
	State() core.ConnectionState
	Send(data []byte) bool
	Connect(ep core.Endpoint) error
}

// Source produces telemetry snapshots.
type Source interface {
	Snapshot(cfg core.StreamConfig) core.TelemetryPacket
}

// TickStats describes one tick.
type TickStats struct {
	At       time.Time
	Mode     core.StreamMode
	Skipped  bool
	Messages int
	Bytes    int
	Dropped  int
	POIs     int
	Err      error
}

// TickObserver is called after every tick on the scheduler goroutine.
type TickObserver interface {
	OnTick(stats TickStats)
}

// TickObserverFunc adapts a function to TickObserver.
type TickObserverFunc func(TickStats)

func (f TickObserverFunc) OnTick(s TickStats) { f(s) }

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scheduler periodically snapshots telemetry, encodes it and hands it to the
// connection. It is either idle or running; Start, Stop, Reconfigure and
// Trigger are safe from any goroutine.
type Scheduler struct {
	conn   Conn
	source Source
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	cfg     core.StreamConfig
	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	trigger chan struct{}

	obsMu     sync.RWMutex
	observers map[int]TickObserver
	nextObsID int

	// Touched only by the scheduler goroutine.
	lastHeading float64
	headingSent bool

	// OTEL metrics
	ticks          metric.Int64Counter
	skipped        metric.Int64Counter
	encodeFailures metric.Int64Counter
}

// New creates an idle scheduler.
func New(conn Conn, source Source, opts ...Option) (*Scheduler, error) {
	if conn == nil || source == nil {
		return nil, errors.New("scheduler needs a connection and a source")
	}
	s := &Scheduler{
		conn:      conn,
		source:    source,
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
		observers: make(map[int]TickObserver),
	}
	for _, opt := range opts {
		opt(s)
	}

	m := meter()
	var err error

	s.ticks, err = m.Int64Counter(
		"scheduler.ticks",
		metric.WithDescription("Ticks that produced telemetry"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ticks counter: %w", err)
	}

	s.skipped, err = m.Int64Counter(
		"scheduler.ticks.skipped",
		metric.WithDescription("Ticks skipped because nothing was connected"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating skipped counter: %w", err)
	}

	s.encodeFailures, err = m.Int64Counter(
		"scheduler.encode.failures",
		metric.WithDescription("Messages that could not be encoded"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating encode failures counter: %w", err)
	}

	return s, nil
}

// Subscribe registers a tick observer and returns a function that removes it.
func (s *Scheduler) Subscribe(o TickObserver) func() {
	s.obsMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = o
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// Running reports whether the scheduler is ticking.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Config returns the active configuration.
func (s *Scheduler) Config() core.StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start begins ticking with cfg: once immediately, then every
// cfg.UpdateInterval. It does nothing if already running.
func (s *Scheduler) Start(cfg core.StreamConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return
	}
	s.cfg = cfg.Normalize()
	s.startLocked()
}

func (s *Scheduler) startLocked() {
	s.running.Store(true)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.headingSent = false

	// Drop a trigger left over from a previous run.
	select {
	case <-s.trigger:
	default:
	}

	s.logger.Debug("Scheduler started", "interval", s.cfg.UpdateInterval, "mode", s.cfg.Mode.String())
	go s.run(s.cfg, s.stop, s.done)
}

// Stop cancels ticking and waits for the scheduler goroutine to exit. Sends
// already handed to the connection are not affected. Must not be called from
// a TickObserver.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	close(s.stop)
	<-s.done
	s.logger.Debug("Scheduler stopped")
}

// Reconfigure replaces the configuration. When running, the timer restarts
// with the new interval; if the endpoint changed the connection is pointed
// at the new endpoint first. When idle the configuration is only stored.
func (s *Scheduler) Reconfigure(cfg core.StreamConfig) error {
	cfg = cfg.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	endpointChanged := !s.cfg.SameEndpoint(cfg)
	wasRunning := s.running.Load()
	s.stopLocked()
	s.cfg = cfg

	if !wasRunning {
		return nil
	}

	var err error
	if endpointChanged && !cfg.Endpoint.IsZero() {
		s.logger.Info("Endpoint changed, reconnecting", "endpoint", cfg.Endpoint.String())
		err = s.conn.Connect(cfg.Endpoint)
	}
	s.startLocked()
	return err
}

// Trigger requests an extra tick as soon as possible. Triggers arriving
// before that tick runs collapse into it. Ignored while idle.
func (s *Scheduler) Trigger() {
	if !s.running.Load() {
		return
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(cfg core.StreamConfig, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(cfg.UpdateInterval)
	defer ticker.Stop()

	s.tick(cfg)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick(cfg)
		case <-s.trigger:
			s.tick(cfg)
		}
	}
}

func (s *Scheduler) tick(cfg core.StreamConfig) {
	stats := TickStats{At: s.now(), Mode: cfg.Mode}
	ctx := context.Background()
	modeAttr := metric.WithAttributes(attribute.String("mode", cfg.Mode.String()))

	if s.conn.State() != core.StateConnected {
		stats.Skipped = true
		s.skipped.Add(ctx, 1)
		s.notify(stats)
		return
	}

	pkt := s.source.Snapshot(cfg)
	stats.POIs = len(pkt.POIs)

	switch cfg.Mode {
	case core.ModeDiscrete:
		s.sendDiscrete(pkt, &stats)
	default:
		data, err := streaming.EncodeTelemetry(pkt)
		if err != nil {
			s.encodeFailed(err, &stats)
			break
		}
		s.send(data, &stats)
	}

	s.ticks.Add(ctx, 1, modeAttr)
	s.notify(stats)
}

// sendDiscrete sends one message per POI and a compass message when the
// heading moved more than HeadingThreshold since the last one sent.
func (s *Scheduler) sendDiscrete(pkt core.TelemetryPacket, stats *TickStats) {
	for _, poi := range pkt.POIs {
		data, err := streaming.EncodePOI(poi)
		if err != nil {
			s.encodeFailed(err, stats)
			continue
		}
		s.send(data, stats)
	}

	if pkt.Compass == nil || !pkt.Compass.Valid {
		return
	}
	heading := pkt.Compass.Heading
	if s.headingSent && headingDelta(heading, s.lastHeading) <= HeadingThreshold {
		return
	}
	data, err := streaming.EncodeCompass(heading)
	if err != nil {
		s.encodeFailed(err, stats)
		return
	}
	s.send(data, stats)
	s.lastHeading = heading
	s.headingSent = true
}

func (s *Scheduler) send(data []byte, stats *TickStats) {
	if s.conn.Send(data) {
		stats.Messages++
		stats.Bytes += len(data)
		return
	}
	stats.Dropped++
}

func (s *Scheduler) encodeFailed(err error, stats *TickStats) {
	s.encodeFailures.Add(context.Background(), 1)
	s.logger.Warn("Dropping message that failed to encode", "error", err)
	stats.Err = errors.Join(stats.Err, err)
}

func (s *Scheduler) notify(stats TickStats) {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, o := range s.observers {
		o.OnTick(stats)
	}
}

// headingDelta is the smallest angle between two headings in degrees.
func headingDelta(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}
