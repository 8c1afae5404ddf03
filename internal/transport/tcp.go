package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hudlink/hudlink/pkg/core"
)

type tcpTransport struct {
	mu   sync.Mutex
	ep   core.Endpoint
	opts Options
	conn net.Conn
}

func newTCP(ep core.Endpoint, opts Options) *tcpTransport {
	return &tcpTransport{ep: ep, opts: opts}
}

func (t *tcpTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	d := net.Dialer{Timeout: t.opts.DialTimeout, KeepAlive: t.opts.KeepAlive}
	conn, err := d.DialContext(ctx, "tcp", t.ep.Address())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnectFailure, t.ep.Address(), err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *tcpTransport) Write(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	if t.opts.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
			return fmt.Errorf("%w: set deadline: %v", ErrSendFailure, err)
		}
	}
	if _, err := conn.Write(frame(data, t.opts.Framing)); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrSendFailure, t.ep.Address(), err)
	}
	return nil
}

func (t *tcpTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *tcpTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *tcpTransport) Endpoint() core.Endpoint { return t.ep }
