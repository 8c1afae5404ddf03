package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/hudlink/hudlink/pkg/core"
)

// wsTransport sends each payload as one text frame. Framing is ignored since
// frames already delimit messages.
type wsTransport struct {
	mu   sync.Mutex
	ep   core.Endpoint
	opts Options
	conn *ws.Conn
}

func newWebSocket(ep core.Endpoint, opts Options) *wsTransport {
	return &wsTransport{ep: ep, opts: opts}
}

func (w *wsTransport) Open(ctx context.Context) error {
	w.mu.Lock()
	if w.conn != nil {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	dialer := *ws.DefaultDialer
	if w.opts.DialTimeout > 0 {
		dialer.HandshakeTimeout = w.opts.DialTimeout
	}
	conn, _, err := dialer.DialContext(ctx, w.ep.Host, nil)
	if err != nil {
		return fmt.Errorf("%w: websocket dial %s: %v", ErrConnectFailure, w.ep.Host, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go w.drain(conn)
	return nil
}

// drain reads and discards inbound frames so control frames (ping, close)
// are processed. It exits once the connection is closed.
func (w *wsTransport) drain(conn *ws.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (w *wsTransport) Write(data []byte) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	if w.opts.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout)); err != nil {
			return fmt.Errorf("%w: set deadline: %v", ErrSendFailure, err)
		}
	}
	if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
		return fmt.Errorf("%w: websocket write: %v", ErrSendFailure, err)
	}
	return nil
}

func (w *wsTransport) Close() error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

func (w *wsTransport) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

func (w *wsTransport) Endpoint() core.Endpoint { return w.ep }
