// pkg/core/endpoint.go
package core

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Default ports for TCP endpoints without an explicit port.
const (
	DefaultTCPPort    uint16 = 8080 // aggregated telemetry receivers
	DefaultLegacyPort uint16 = 8088 // discrete poi/compass receivers
)

// ErrAddressParse is returned for addresses that cannot describe any endpoint.
var ErrAddressParse = errors.New("address parse error")

// EndpointKind selects the transport variant for an endpoint.
type EndpointKind int

const (
	KindTCP EndpointKind = iota
	KindBluetooth
	KindWebSocket
)

func (k EndpointKind) String() string {
	switch k {
	case KindBluetooth:
		return "bluetooth"
	case KindWebSocket:
		return "websocket"
	default:
		return "tcp"
	}
}

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// Endpoint is a transport-addressable destination. It is a value type and is
// never modified after ParseEndpoint returns it.
type Endpoint struct {
	Kind EndpointKind
	// Host is the hostname/IP for TCP, the upper-cased MAC for Bluetooth and
	// the full URL for WebSocket.
	Host string
	// Port is zero for Bluetooth and WebSocket endpoints.
	Port uint16
	// Raw is the address string the endpoint was parsed from.
	Raw string
}

// IsBluetoothAddress reports whether addr looks like XX:XX:XX:XX:XX:XX.
func IsBluetoothAddress(addr string) bool {
	return macPattern.MatchString(addr)
}

// ParseEndpoint derives an endpoint from a user-supplied address.
// A MAC address selects Bluetooth, a ws:// or wss:// URL selects WebSocket and
// anything else is treated as host[:port] over TCP. A missing or malformed port
// falls back to defaultPort rather than failing.
func ParseEndpoint(addr string, defaultPort uint16) (Endpoint, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Endpoint{}, fmt.Errorf("%w: empty address", ErrAddressParse)
	}

	if IsBluetoothAddress(addr) {
		return Endpoint{Kind: KindBluetooth, Host: strings.ToUpper(addr), Raw: addr}, nil
	}

	lower := strings.ToLower(addr)
	if strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://") {
		u, err := url.Parse(addr)
		if err != nil || u.Host == "" {
			return Endpoint{}, fmt.Errorf("%w: invalid websocket url %q", ErrAddressParse, addr)
		}
		return Endpoint{Kind: KindWebSocket, Host: addr, Raw: addr}, nil
	}

	if defaultPort == 0 {
		defaultPort = DefaultTCPPort
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port at all, or something SplitHostPort cannot make sense of
		// ("a:b:c"). Keep everything before the first colon as the host.
		host = addr
		portStr = ""
		if i := strings.Index(addr, ":"); i >= 0 && net.ParseIP(addr) == nil {
			host = addr[:i]
			portStr = addr[i+1:]
		}
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host in %q", ErrAddressParse, addr)
	}

	port := defaultPort
	if p, err := strconv.ParseUint(portStr, 10, 16); err == nil && p != 0 {
		port = uint16(p)
	}

	return Endpoint{Kind: KindTCP, Host: host, Port: port, Raw: addr}, nil
}

// Address returns the dialable form of the endpoint.
func (e Endpoint) Address() string {
	if e.Kind == KindTCP {
		return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
	}
	return e.Host
}

// IsZero reports whether the endpoint was never set.
func (e Endpoint) IsZero() bool {
	return e.Host == ""
}

// Equal compares endpoints by what they dial, not by how they were written.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.Kind == o.Kind && e.Port == o.Port && strings.EqualFold(e.Host, o.Host)
}

func (e Endpoint) String() string {
	if e.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Address())
}
