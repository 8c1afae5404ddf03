package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextHandler_InjectsLiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	calls := 0
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), func() []slog.Attr {
		calls++
		return []slog.Attr{slog.Int("call", calls)}
	})

	logger := slog.New(h)
	logger.Info("a")
	logger.Info("b")

	assert.Contains(t, buf.String(), "msg=a call=1")
	assert.Contains(t, buf.String(), "msg=b call=2")
}

func TestContextHandler_NilProvider(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil), nil)).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestContextHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), func() []slog.Attr {
		return []slog.Attr{slog.String("state", "connected")}
	})

	slog.New(h).With("component", "manager").WithGroup("g").Info("x", "k", "v")

	out := buf.String()
	assert.Contains(t, out, "component=manager")
	assert.Contains(t, out, "g.k=v")
	assert.Contains(t, out, "g.state=connected")
	assert.Same(t, h, h.WithGroup(""))
}
