package control

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hudlink/hudlink/internal/connection"
	"github.com/hudlink/hudlink/pkg/core"
)

type fakeLink struct {
	mu        sync.Mutex
	state     core.ConnectionState
	endpoint  core.Endpoint
	connects  []core.Endpoint
	disconnds int
}

func (f *fakeLink) Connect(ep core.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, ep)
	f.endpoint = ep
	f.state = core.StateConnecting
	return nil
}

func (f *fakeLink) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnds++
	f.state = core.StateDisconnected
}

func (f *fakeLink) State() core.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeLink) Endpoint() core.Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoint
}

func (f *fakeLink) Stats() connection.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return connection.Stats{State: f.state, Endpoint: f.endpoint, Sent: 7, SentBytes: 700}
}

type fakeStreamer struct {
	mu       sync.Mutex
	cfg      core.StreamConfig
	running  bool
	triggers int
}

func (f *fakeStreamer) Start(cfg core.StreamConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg.Normalize()
	f.running = true
}

func (f *fakeStreamer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeStreamer) Reconfigure(cfg core.StreamConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg.Normalize()
	return nil
}

func (f *fakeStreamer) Trigger() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
}

func (f *fakeStreamer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeStreamer) Config() core.StreamConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func newTestConsole(t *testing.T) (*Console, *Dispatcher, *fakeLink, *fakeStreamer) {
	t.Helper()
	d, _ := newTestDispatcher(t)
	link := &fakeLink{}
	stream := &fakeStreamer{cfg: core.StreamConfig{
		UpdateInterval: core.DefaultUpdateInterval,
		EnablePOI:      true,
		EnableMap:      true,
		EnableCompass:  true,
	}.Normalize()}
	return NewConsole(d, link, stream, core.DefaultTCPPort), d, link, stream
}

func run(t *testing.T, c *Console, input string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), strings.NewReader(input), &out))
	return out.String()
}

func TestConsole_Connect(t *testing.T) {
	c, _, link, stream := newTestConsole(t)

	out := run(t, c, "connect 192.168.1.20:9000\n")

	assert.Contains(t, out, "connecting to tcp(192.168.1.20:9000)")
	require.Len(t, link.connects, 1)
	assert.Equal(t, "192.168.1.20:9000", link.connects[0].Address())
	assert.Equal(t, link.connects[0], stream.Config().Endpoint)
}

func TestConsole_ConnectDefaultPort(t *testing.T) {
	c, _, link, _ := newTestConsole(t)

	run(t, c, "connect 10.0.0.5\n")

	require.Len(t, link.connects, 1)
	assert.Equal(t, core.DefaultTCPPort, link.connects[0].Port)
}

func TestConsole_ConnectRejectsBadAddress(t *testing.T) {
	c, _, link, _ := newTestConsole(t)

	out := run(t, c, "connect\nconnect not a host\n")

	assert.Equal(t, 2, strings.Count(out, "error:"))
	assert.Empty(t, link.connects)
}

func TestConsole_StartConnectsConfiguredEndpoint(t *testing.T) {
	c, _, link, stream := newTestConsole(t)

	ep, err := core.ParseEndpoint("10.0.0.9:9000", core.DefaultTCPPort)
	require.NoError(t, err)
	cfg := stream.Config()
	cfg.Endpoint = ep
	require.NoError(t, stream.Reconfigure(cfg))

	out := run(t, c, "start\n")

	assert.Contains(t, out, "streaming")
	assert.True(t, stream.Running())
	require.Len(t, link.connects, 1)
	assert.Equal(t, ep, link.connects[0])
}

func TestConsole_StartWithoutEndpoint(t *testing.T) {
	c, _, link, stream := newTestConsole(t)

	run(t, c, "start\nstop\n")

	assert.False(t, stream.Running())
	assert.Empty(t, link.connects)
}

func TestConsole_Reconfigure(t *testing.T) {
	c, _, _, stream := newTestConsole(t)

	out := run(t, c, strings.Join([]string{
		"rate 250",
		"mode discrete",
		"distance 1500",
		"poi off",
		"map OFF",
		"compass on",
	}, "\n"))

	cfg := stream.Config()
	assert.Equal(t, 250*time.Millisecond, cfg.UpdateInterval)
	assert.Equal(t, core.ModeDiscrete, cfg.Mode)
	assert.InDelta(t, 1500, cfg.MaxPOIDistanceM, 1e-9)
	assert.False(t, cfg.EnablePOI)
	assert.False(t, cfg.EnableMap)
	assert.True(t, cfg.EnableCompass)
	assert.Contains(t, out, "poi off")
	assert.NotContains(t, out, "error:")
}

func TestConsole_RateIsClamped(t *testing.T) {
	c, _, _, stream := newTestConsole(t)

	out := run(t, c, "rate 10\n")

	assert.Equal(t, core.MinUpdateInterval, stream.Config().UpdateInterval)
	assert.Contains(t, out, "rate "+core.MinUpdateInterval.String())
}

func TestConsole_BadArguments(t *testing.T) {
	c, _, _, _ := newTestConsole(t)

	out := run(t, c, "rate fast\ndistance -3\npoi maybe\nmode\nmode sideways\n")

	assert.Equal(t, 5, strings.Count(out, "error: usage"))
}

func TestConsole_Refresh(t *testing.T) {
	c, d, _, stream := newTestConsole(t)

	out := run(t, c, "refresh\n")
	d.Close()

	assert.Contains(t, out, "queued")
	assert.Equal(t, 1, stream.triggers)
}

func TestConsole_StatusAndHelp(t *testing.T) {
	c, _, _, _ := newTestConsole(t)

	out := run(t, c, "# ignored\n\nstatus\nhelp\nbogus\n")

	assert.Contains(t, out, "state=disconnected")
	assert.Contains(t, out, "sent=7 bytes=700")
	assert.Contains(t, out, "connect <host[:port]|MAC|ws://url>")
	assert.Contains(t, out, "quit")
	assert.Contains(t, out, "error: unknown command: bogus")
}

func TestConsole_QuitStopsReading(t *testing.T) {
	c, _, link, _ := newTestConsole(t)

	run(t, c, "quit\ndisconnect\n")

	assert.Zero(t, link.disconnds)
}

func TestConsole_RunCancelled(t *testing.T) {
	c, _, _, _ := newTestConsole(t)

	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, r, &bytes.Buffer{}) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
