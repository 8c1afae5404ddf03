// internal/transport/transport.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hudlink/hudlink/pkg/core"
)

var (
	// ErrTransportUnavailable is returned when the link type cannot be used on
	// this host, such as a missing or disabled Bluetooth adapter.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrConnectFailure wraps I/O errors raised while opening a link.
	ErrConnectFailure = errors.New("connect failure")
	// ErrSendFailure wraps I/O errors raised while writing. The link is dead
	// once a write has failed.
	ErrSendFailure = errors.New("send failure")
	// ErrNotOpen is returned by Write on a link that is not open.
	ErrNotOpen = fmt.Errorf("%w: link not open", ErrSendFailure)
)

// Framing controls what is appended to each written payload.
type Framing int

const (
	// FramingRaw writes payloads as-is.
	FramingRaw Framing = iota
	// FramingLine appends a newline to every payload.
	FramingLine
)

func (f Framing) String() string {
	if f == FramingLine {
		return "line"
	}
	return "raw"
}

// ParseFraming maps a config string to a framing, defaulting to raw.
func ParseFraming(s string) Framing {
	if s == "line" {
		return FramingLine
	}
	return FramingRaw
}

// Options holds the tunables shared by all transports. Zero values mean OS
// defaults.
type Options struct {
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	KeepAlive     time.Duration
	RFCOMMChannel uint8
	Framing       Framing
}

// DefaultRFCOMMChannel is used when Options.RFCOMMChannel is zero.
const DefaultRFCOMMChannel uint8 = 1

// Transport owns one physical link. Open and Close may block; Write is
// synchronous and is only ever called from a single writer goroutine.
type Transport interface {
	Open(ctx context.Context) error
	Write(data []byte) error
	Close() error
	IsOpen() bool
	Endpoint() core.Endpoint
}

// Factory builds an unopened transport for an endpoint.
type Factory func(ep core.Endpoint) (Transport, error)

// NewFactory returns a Factory that builds transports with opts.
func NewFactory(opts Options) Factory {
	return func(ep core.Endpoint) (Transport, error) {
		return New(ep, opts)
	}
}

// New creates a transport matching the endpoint kind.
func New(ep core.Endpoint, opts Options) (Transport, error) {
	if ep.IsZero() {
		return nil, fmt.Errorf("%w: empty endpoint", core.ErrAddressParse)
	}
	switch ep.Kind {
	case core.KindTCP:
		return newTCP(ep, opts), nil
	case core.KindBluetooth:
		return newBluetooth(ep, opts), nil
	case core.KindWebSocket:
		return newWebSocket(ep, opts), nil
	default:
		return nil, fmt.Errorf("unknown endpoint kind: %s", ep.Kind)
	}
}

// frame applies f to data without touching the caller's slice.
func frame(data []byte, f Framing) []byte {
	if f != FramingLine {
		return data
	}
	out := make([]byte, len(data)+1)
	copy(out, data)
	out[len(data)] = '\n'
	return out
}
