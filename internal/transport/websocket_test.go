package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hudlink/hudlink/pkg/core"
)

type frameLog struct {
	mu     sync.Mutex
	frames []string
}

func (f *frameLog) add(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, s)
}

func (f *frameLog) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.frames))
	copy(cp, f.frames)
	return cp
}

func wsServer(t *testing.T) (*httptest.Server, *frameLog) {
	t.Helper()
	fl := &frameLog{}
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			fl.add(string(msg))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, fl
}

func TestWebSocket_WriteFrames(t *testing.T) {
	srv, fl := wsServer(t)

	ep, err := core.ParseEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")+"/hud", 0)
	require.NoError(t, err)
	require.Equal(t, core.KindWebSocket, ep.Kind)

	tr, err := New(ep, Options{WriteTimeout: time.Second, Framing: FramingLine})
	require.NoError(t, err)
	require.NoError(t, tr.Open(context.Background()))
	assert.True(t, tr.IsOpen())

	require.NoError(t, tr.Write([]byte(`{"timestamp":1}`)))
	require.NoError(t, tr.Write([]byte(`{"timestamp":2}`)))

	assert.Eventually(t, func() bool { return len(fl.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	// one frame per payload, no newline appended
	assert.Equal(t, []string{`{"timestamp":1}`, `{"timestamp":2}`}, fl.all())

	require.NoError(t, tr.Close())
	assert.False(t, tr.IsOpen())
	assert.ErrorIs(t, tr.Write([]byte("x")), ErrSendFailure)
}

func TestWebSocket_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ep, err := core.ParseEndpoint("ws"+strings.TrimPrefix(srv.URL, "http"), 0)
	require.NoError(t, err)

	tr, err := New(ep, Options{DialTimeout: time.Second})
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Open(context.Background()), ErrConnectFailure)
}
