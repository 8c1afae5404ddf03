package main

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hudlink/hudlink/pkg/core"
)

// dialer is the part of the connection manager the reconnect policy needs.
type dialer interface {
	Connect(ep core.Endpoint) error
	State() core.ConnectionState
	Endpoint() core.Endpoint
}

// reconnector retries the last endpoint after a fixed delay whenever the
// link ends with an error. A plain Disconnect carries no error and is left
// alone.
type reconnector struct {
	conn   dialer
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newReconnector(conn dialer, delay time.Duration, logger *slog.Logger) *reconnector {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &reconnector{conn: conn, delay: delay, logger: logger}
}

func (r *reconnector) OnConnectionStateChanged(c core.StateChange) {
	if c.State != core.StateDisconnected || c.Err == nil || c.Endpoint.IsZero() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}

	ep := c.Endpoint
	r.logger.Info("Scheduling reconnect", "endpoint", ep.String(), "delay", r.delay, "reason", c.Reason())
	r.timer = time.AfterFunc(r.delay, func() { r.retry(ep) })
}

func (r *reconnector) retry(ep core.Endpoint) {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}

	// The operator may have connected elsewhere in the meantime.
	if r.conn.State() != core.StateDisconnected || !r.conn.Endpoint().Equal(ep) {
		return
	}
	if err := r.conn.Connect(ep); err != nil {
		r.logger.Warn("Reconnect failed", "endpoint", ep.String(), "error", err)
	}
}

// Stop cancels a pending retry. Later failures are ignored.
func (r *reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
