package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hudlink/hudlink/pkg/core"
)

// listen starts a loopback listener and returns an endpoint pointing at it
// plus a channel yielding the first accepted connection.
func listen(t *testing.T) (core.Endpoint, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	ep, err := core.ParseEndpoint(ln.Addr().String(), core.DefaultTCPPort)
	require.NoError(t, err)
	return ep, accepted
}

func TestTCP_OpenWriteClose(t *testing.T) {
	ep, accepted := listen(t)

	tr, err := New(ep, Options{WriteTimeout: time.Second})
	require.NoError(t, err)
	assert.False(t, tr.IsOpen())

	require.NoError(t, tr.Open(context.Background()))
	assert.True(t, tr.IsOpen())
	assert.Equal(t, ep, tr.Endpoint())

	server := <-accepted
	defer server.Close()

	require.NoError(t, tr.Write([]byte(`{"a":1}`)))
	require.NoError(t, tr.Close())
	assert.False(t, tr.IsOpen())

	got, err := io.ReadAll(server)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	// Close is idempotent and writes after close fail.
	assert.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Write([]byte("x")), ErrSendFailure)
}

func TestTCP_LineFraming(t *testing.T) {
	ep, accepted := listen(t)

	tr, err := New(ep, Options{Framing: FramingLine})
	require.NoError(t, err)
	require.NoError(t, tr.Open(context.Background()))
	defer tr.Close()

	server := <-accepted
	defer server.Close()

	payload := []byte(`{"type":"compass","heading":1}`)
	require.NoError(t, tr.Write(payload))
	require.NoError(t, tr.Write([]byte(`{"type":"compass","heading":2}`)))

	r := bufio.NewReader(server)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"type":"compass","heading":1}`+"\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"type":"compass","heading":2}`+"\n", line)

	// caller's slice untouched
	assert.Equal(t, `{"type":"compass","heading":1}`, string(payload))
}

func TestTCP_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ep, err := core.ParseEndpoint(addr, core.DefaultTCPPort)
	require.NoError(t, err)

	tr, err := New(ep, Options{DialTimeout: time.Second})
	require.NoError(t, err)

	err = tr.Open(context.Background())
	assert.ErrorIs(t, err, ErrConnectFailure)
	assert.False(t, tr.IsOpen())
}

func TestTCP_OpenCancelled(t *testing.T) {
	ep, err := core.ParseEndpoint("192.0.2.1:9", core.DefaultTCPPort)
	require.NoError(t, err)

	tr, err := New(ep, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = tr.Open(ctx)
	assert.ErrorIs(t, err, ErrConnectFailure)
}

func TestNew_Kinds(t *testing.T) {
	for addr, want := range map[string]string{
		"10.0.0.1:9000":     "*transport.tcpTransport",
		"00:11:22:33:44:55": "*transport.bluetoothTransport",
		"ws://10.0.0.1/hud": "*transport.wsTransport",
	} {
		ep, err := core.ParseEndpoint(addr, core.DefaultTCPPort)
		require.NoError(t, err)
		tr, err := NewFactory(Options{})(ep)
		require.NoError(t, err)
		assert.Equal(t, want, fmt.Sprintf("%T", tr), addr)
	}

	_, err := New(core.Endpoint{}, Options{})
	assert.ErrorIs(t, err, core.ErrAddressParse)
}

func TestParseFraming(t *testing.T) {
	assert.Equal(t, FramingLine, ParseFraming("line"))
	assert.Equal(t, FramingRaw, ParseFraming("raw"))
	assert.Equal(t, FramingRaw, ParseFraming(""))
	assert.Equal(t, "line", FramingLine.String())
}
