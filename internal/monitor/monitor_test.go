package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hudlink/hudlink/internal/connection"
	"github.com/hudlink/hudlink/pkg/core"
)

type stubLink struct{ stats connection.Stats }

func (l stubLink) Stats() connection.Stats { return l.stats }

type stubStream struct {
	running bool
	cfg     core.StreamConfig
}

func (s stubStream) Running() bool             { return s.running }
func (s stubStream) Config() core.StreamConfig { return s.cfg }

func newTestService(t *testing.T, interval time.Duration) (*Service, string) {
	t.Helper()
	ep, err := core.ParseEndpoint("10.1.1.1", core.DefaultTCPPort)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "status.json")
	svc := NewService(Dependencies{
		Link: stubLink{stats: connection.Stats{
			State:     core.StateConnected,
			Endpoint:  ep,
			Sent:      12,
			SentBytes: 3400,
			Dropped:   1,
		}},
		Stream: stubStream{running: true, cfg: core.StreamConfig{
			UpdateInterval: 250 * time.Millisecond,
			EnablePOI:      true,
			Mode:           core.ModeDiscrete,
		}.Normalize()},
		Path:     path,
		Interval: interval,
	})
	return svc, path
}

func readStatus(t *testing.T, path string) Status {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	return st
}

func TestGetStatus(t *testing.T) {
	svc, _ := newTestService(t, 0)

	st := svc.GetStatus()
	assert.Equal(t, "connected", st.State)
	assert.Equal(t, "tcp(10.1.1.1:8080)", st.Endpoint)
	assert.True(t, st.Streaming)
	assert.Equal(t, "discrete", st.Mode)
	assert.Equal(t, int64(250), st.RateMs)
	assert.True(t, st.POI)
	assert.False(t, st.Map)
	assert.InDelta(t, core.DefaultMaxPOIDistance, st.MaxDistM, 1e-9)
	assert.Equal(t, uint64(12), st.Sent)
	assert.Equal(t, uint64(1), st.Dropped)
}

func TestWriteStatus(t *testing.T) {
	svc, path := newTestService(t, 0)

	require.NoError(t, svc.WriteStatus())
	st := readStatus(t, path)
	assert.Equal(t, uint64(3400), st.SentBytes)

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStartStop(t *testing.T) {
	svc, path := newTestService(t, 10*time.Millisecond)

	svc.Start()
	svc.Start()
	assert.True(t, svc.IsRunning())

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
	svc.Stop()
	assert.False(t, svc.IsRunning())
	assert.Equal(t, "connected", readStatus(t, path).State)
}

func TestStopWithoutStart(t *testing.T) {
	svc, path := newTestService(t, 0)
	svc.Stop()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
