package transport

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hudlink/hudlink/pkg/core"
)

// SerialPortProfile is the well-known Bluetooth SPP service class.
var SerialPortProfile = uuid.MustParse("00001101-0000-1000-8000-00805F9B34FB")

// bluetoothTransport is an RFCOMM stream to a paired device. The platform
// specific Open lives in bluetooth_linux.go and bluetooth_other.go.
type bluetoothTransport struct {
	mu   sync.Mutex
	ep   core.Endpoint
	opts Options
	conn io.WriteCloser
}

func newBluetooth(ep core.Endpoint, opts Options) *bluetoothTransport {
	if opts.RFCOMMChannel == 0 {
		opts.RFCOMMChannel = DefaultRFCOMMChannel
	}
	return &bluetoothTransport{ep: ep, opts: opts}
}

func (b *bluetoothTransport) Write(data []byte) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	if _, err := conn.Write(frame(data, b.opts.Framing)); err != nil {
		return fmt.Errorf("%w: rfcomm write %s: %v", ErrSendFailure, b.ep.Host, err)
	}
	return nil
}

func (b *bluetoothTransport) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (b *bluetoothTransport) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *bluetoothTransport) Endpoint() core.Endpoint { return b.ep }

// parseMAC converts "AA:BB:CC:DD:EE:FF" to the little-endian byte order the
// kernel expects in a bdaddr.
func parseMAC(s string) ([6]uint8, error) {
	var addr [6]uint8
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("%w: bad mac %q", core.ErrAddressParse, s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("%w: bad mac %q", core.ErrAddressParse, s)
		}
		addr[5-i] = uint8(v)
	}
	return addr, nil
}
