package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hudlink/hudlink/internal/transport"
	"github.com/hudlink/hudlink/pkg/core"
)

// fakeTransport records writes and lets tests control Open and Write.
type fakeTransport struct {
	ep core.Endpoint

	openErr  error
	openGate chan struct{} // when set, Open waits for it or ctx
	writeErr error

	mu       sync.Mutex
	open     bool
	writes   [][]byte
	closes   int
	openCtxE error
}

func (f *fakeTransport) Open(ctx context.Context) error {
	if f.openGate != nil {
		select {
		case <-f.openGate:
		case <-ctx.Done():
			f.mu.Lock()
			f.openCtxE = ctx.Err()
			f.mu.Unlock()
			return ctx.Err()
		}
	}
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	f.open = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if !f.open {
		return transport.ErrNotOpen
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closes++
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) Endpoint() core.Endpoint { return f.ep }

func (f *fakeTransport) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	for i, w := range f.writes {
		out[i] = string(w)
	}
	return out
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// fakeFactory hands out fakeTransports, optionally customised per call.
type fakeFactory struct {
	mu      sync.Mutex
	made    []*fakeTransport
	created atomic.Int32
	setup   func(*fakeTransport)
	err     error
}

func (ff *fakeFactory) build(ep core.Endpoint) (transport.Transport, error) {
	ff.created.Add(1)
	if ff.err != nil {
		return nil, ff.err
	}
	ft := &fakeTransport{ep: ep}
	if ff.setup != nil {
		ff.setup(ft)
	}
	ff.mu.Lock()
	ff.made = append(ff.made, ft)
	ff.mu.Unlock()
	return ft, nil
}

func (ff *fakeFactory) last() *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.made) == 0 {
		return nil
	}
	return ff.made[len(ff.made)-1]
}

// recorder collects state changes delivered to an observer.
type recorder struct {
	mu      sync.Mutex
	changes []core.StateChange
}

func (r *recorder) OnConnectionStateChanged(c core.StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) states() []core.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.ConnectionState, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.State
	}
	return out
}

func (r *recorder) all() []core.StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.StateChange(nil), r.changes...)
}

func (r *recorder) waitLen(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.states()) >= n }, 2*time.Second, 5*time.Millisecond,
		"want %d notifications, have %v", n, r.states())
}

func newTestManager(t *testing.T, ff *fakeFactory, opts ...Option) (*Manager, *recorder) {
	t.Helper()
	m, err := New(ff.build, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Dispose)

	rec := &recorder{}
	m.Subscribe(rec)
	return m, rec
}

func endpoint(t *testing.T, addr string) core.Endpoint {
	t.Helper()
	ep, err := core.ParseEndpoint(addr, core.DefaultTCPPort)
	require.NoError(t, err)
	return ep
}

func waitState(t *testing.T, m *Manager, s core.ConnectionState) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitForState(ctx, s), "waiting for %s", s)
}

var errBoom = errors.New("boom")
