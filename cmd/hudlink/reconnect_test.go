package main

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hudlink/hudlink/pkg/core"
)

type fakeDialer struct {
	mu       sync.Mutex
	state    core.ConnectionState
	endpoint core.Endpoint
	connects chan core.Endpoint
}

func newFakeDialer(ep core.Endpoint) *fakeDialer {
	return &fakeDialer{endpoint: ep, connects: make(chan core.Endpoint, 4)}
}

func (f *fakeDialer) Connect(ep core.Endpoint) error {
	f.mu.Lock()
	f.state = core.StateConnecting
	f.endpoint = ep
	f.mu.Unlock()
	f.connects <- ep
	return nil
}

func (f *fakeDialer) State() core.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeDialer) Endpoint() core.Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoint
}

func testEndpoint(t *testing.T, addr string) core.Endpoint {
	t.Helper()
	ep, err := core.ParseEndpoint(addr, core.DefaultTCPPort)
	require.NoError(t, err)
	return ep
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestReconnector_RetriesAfterError(t *testing.T) {
	ep := testEndpoint(t, "10.0.0.1:9000")
	d := newFakeDialer(ep)
	r := newReconnector(d, 10*time.Millisecond, quietLogger())
	defer r.Stop()

	r.OnConnectionStateChanged(core.StateChange{
		State:    core.StateDisconnected,
		Previous: core.StateConnected,
		Endpoint: ep,
		Err:      errors.New("broken pipe"),
	})

	select {
	case got := <-d.connects:
		assert.Equal(t, ep, got)
	case <-time.After(time.Second):
		t.Fatal("no reconnect attempt")
	}
}

func TestReconnector_IgnoresCleanDisconnect(t *testing.T) {
	ep := testEndpoint(t, "10.0.0.1:9000")
	d := newFakeDialer(ep)
	r := newReconnector(d, 5*time.Millisecond, quietLogger())
	defer r.Stop()

	r.OnConnectionStateChanged(core.StateChange{State: core.StateDisconnected, Endpoint: ep})
	r.OnConnectionStateChanged(core.StateChange{State: core.StateFailed, Endpoint: ep, Err: errors.New("x")})

	select {
	case <-d.connects:
		t.Fatal("unexpected reconnect")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnector_SkipsWhenEndpointChanged(t *testing.T) {
	old := testEndpoint(t, "10.0.0.1:9000")
	d := newFakeDialer(testEndpoint(t, "10.0.0.2:9000"))
	r := newReconnector(d, 5*time.Millisecond, quietLogger())
	defer r.Stop()

	r.OnConnectionStateChanged(core.StateChange{
		State:    core.StateDisconnected,
		Endpoint: old,
		Err:      errors.New("refused"),
	})

	select {
	case <-d.connects:
		t.Fatal("reconnected to a stale endpoint")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnector_StopCancelsPending(t *testing.T) {
	ep := testEndpoint(t, "10.0.0.1:9000")
	d := newFakeDialer(ep)
	r := newReconnector(d, 30*time.Millisecond, quietLogger())

	r.OnConnectionStateChanged(core.StateChange{
		State:    core.StateDisconnected,
		Endpoint: ep,
		Err:      errors.New("reset"),
	})
	r.Stop()

	select {
	case <-d.connects:
		t.Fatal("reconnect after Stop")
	case <-time.After(80 * time.Millisecond):
	}
}
