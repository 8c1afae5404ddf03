package telemetry

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hudlink/hudlink/internal/geo"
	"github.com/hudlink/hudlink/pkg/core"
)

type stubMap struct {
	self    core.Location
	hasSelf bool
	zoom    float64
	bearing float64
	items   []PointItem
}

func (s *stubMap) SelfLocation() (core.Location, bool) { return s.self, s.hasSelf }
func (s *stubMap) ZoomLevel() float64                  { return s.zoom }
func (s *stubMap) Bearing() float64                    { return s.bearing }
func (s *stubMap) PointItems() []PointItem             { return s.items }

var munich = core.Location{Lat: 48.137, Lon: 11.575, Alt: 519}

func allChannels() core.StreamConfig {
	return core.StreamConfig{
		UpdateInterval:  time.Second,
		EnablePOI:       true,
		EnableMap:       true,
		EnableCompass:   true,
		MaxPOIDistanceM: 1000,
	}
}

func newTestAggregator(m *stubMap) *Aggregator {
	a := NewAggregator(m)
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return a
}

func TestSnapshot_DistanceBoundary(t *testing.T) {
	near := geo.Offset(munich, 400, 30)
	edge := geo.Offset(munich, 700, 120)
	edgeDist := geo.Distance(munich, edge)

	m := &stubMap{
		self:    munich,
		hasSelf: true,
		items: []PointItem{
			{ID: "near", Name: "Near", Type: TypeFriendly, Location: near},
			{ID: "edge", Name: "Edge", Type: TypeHostile, Location: edge},
		},
	}
	a := newTestAggregator(m)

	cfg := allChannels()
	cfg.MaxPOIDistanceM = edgeDist
	p := a.Snapshot(cfg)
	require.Len(t, p.POIs, 2, "exactly at the limit is included")

	cfg.MaxPOIDistanceM = edgeDist - 1
	p = a.Snapshot(cfg)
	require.Len(t, p.POIs, 1, "limit+1 is excluded")
	assert.Equal(t, "near", p.POIs[0].ID)
}

func TestSnapshot_FarPointsExcluded(t *testing.T) {
	m := &stubMap{
		self:    munich,
		hasSelf: true,
		items: []PointItem{
			{ID: "far", Type: TypeHostile, Location: geo.Offset(munich, 5000, 0)},
			{ID: "other-side", Type: TypeHostile, Location: core.Location{Lat: -48, Lon: -168}},
		},
	}
	p := newTestAggregator(m).Snapshot(allChannels())
	assert.True(t, p.POIsEnabled)
	assert.NotNil(t, p.POIs)
	assert.Empty(t, p.POIs)
}

func TestSnapshot_Colors(t *testing.T) {
	loc := geo.Offset(munich, 10, 0)
	m := &stubMap{
		self:    munich,
		hasSelf: true,
		items: []PointItem{
			{ID: "f", Type: TypeFriendly, Location: loc},
			{ID: "h", Type: TypeHostile, Location: loc},
			{ID: "n", Type: TypeNeutral, Location: loc},
			{ID: "u", Type: TypeUnknown, Location: loc},
			{ID: "x", Type: "b-m-p-w", Location: loc},
			{ID: "icon", IconPath: "icons/cot/checkpoint.png", Location: loc},
			{ID: "bare", Location: loc},
		},
	}
	p := newTestAggregator(m).Snapshot(allChannels())
	require.Len(t, p.POIs, 7)

	byID := map[string]core.POI{}
	for _, poi := range p.POIs {
		byID[poi.ID] = poi
	}
	assert.Equal(t, core.ColorFriendly, byID["f"].Color)
	assert.Equal(t, core.ColorHostile, byID["h"].Color)
	assert.Equal(t, "#FF0000", byID["h"].Color.Hex())
	assert.Equal(t, core.ColorNeutral, byID["n"].Color)
	assert.Equal(t, core.ColorUnknown, byID["u"].Color)
	assert.Equal(t, core.ColorUnknown, byID["x"].Color)
	assert.Equal(t, "checkpoint", byID["icon"].Type)
	assert.Equal(t, DefaultType, byID["bare"].Type)

	// Source order is kept.
	assert.Equal(t, "f", p.POIs[0].ID)
	assert.Equal(t, "bare", p.POIs[6].ID)
}

func TestSnapshot_DisabledChannels(t *testing.T) {
	m := &stubMap{self: munich, hasSelf: true, zoom: 12, bearing: 45,
		items: []PointItem{{ID: "a", Location: munich}}}
	a := newTestAggregator(m)

	p := a.Snapshot(core.StreamConfig{UpdateInterval: time.Second})
	assert.False(t, p.POIsEnabled)
	assert.Nil(t, p.POIs)
	assert.Nil(t, p.Map)
	assert.Nil(t, p.Compass)
	assert.Equal(t, int64(1700000000000), p.TimestampMs)

	p = a.Snapshot(core.StreamConfig{EnableMap: true})
	require.NotNil(t, p.Map)
	assert.Equal(t, 12.0, p.Map.Zoom)
	assert.Equal(t, 45.0, p.Map.Bearing)
	assert.True(t, p.Map.HasSelf)
	assert.Equal(t, munich, p.Map.Self)
}

func TestSnapshot_NoSelfLocation(t *testing.T) {
	m := &stubMap{zoom: 3, items: []PointItem{{ID: "a", Location: munich}}}
	p := newTestAggregator(m).Snapshot(allChannels())

	assert.True(t, p.POIsEnabled)
	assert.Empty(t, p.POIs)
	require.NotNil(t, p.Map)
	assert.False(t, p.Map.HasSelf)
	assert.Equal(t, 3.0, p.Map.Zoom)
	require.NotNil(t, p.Compass)
	assert.False(t, p.Compass.Valid)
}

func TestOrientation_RequiresBothSensors(t *testing.T) {
	a := newTestAggregator(&stubMap{})

	a.OnAccelerometer(0, 0, 9.81)
	assert.False(t, a.Orientation().Valid)

	// Device flat, magnetic north along +Y with downward dip: heading 0.
	a.OnMagnetometer(0, 22, -42)
	o := a.Orientation()
	require.True(t, o.Valid)
	assert.InDelta(t, 0, o.Heading, 0.01)
	assert.InDelta(t, 0, o.Tilt, 0.01)
	assert.InDelta(t, 0, o.Roll, 0.01)
}

func TestOrientation_Heading(t *testing.T) {
	a := newTestAggregator(&stubMap{})
	a.OnAccelerometer(0, 0, 9.81)

	// North along +X means the device's top points west.
	a.OnMagnetometer(22, 0, -42)
	assert.InDelta(t, 270, a.Orientation().Heading, 0.01)

	// North along -X: top points east.
	a.OnMagnetometer(-22, 0, -42)
	assert.InDelta(t, 90, a.Orientation().Heading, 0.01)
}

func TestOrientation_FreeFallKeepsLastSample(t *testing.T) {
	a := newTestAggregator(&stubMap{})
	a.OnAccelerometer(0, 0, 9.81)
	a.OnMagnetometer(-22, 0, -42)
	before := a.Orientation()

	a.OnAccelerometer(0, 0, 0.1)
	assert.Equal(t, before, a.Orientation())
}

func TestOrientation_Tilt(t *testing.T) {
	a := newTestAggregator(&stubMap{})
	// Device pitched 30 degrees: gravity partly along +Y.
	g := 9.81
	a.OnAccelerometer(0, g*math.Sin(math.Pi/6), g*math.Cos(math.Pi/6))
	a.OnMagnetometer(0, 22, -42)

	o := a.Orientation()
	require.True(t, o.Valid)
	assert.InDelta(t, -30, o.Tilt, 0.01)
}

type fakeSensors struct {
	mu    sync.Mutex
	sinks []SensorSink
}

func (f *fakeSensors) SubscribeSensors(s SensorSink) func() {
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.sinks = nil
		f.mu.Unlock()
	}
}

func (f *fakeSensors) push() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sinks {
		s.OnAccelerometer(0, 0, 9.81)
		s.OnMagnetometer(0, 22, -42)
	}
}

func TestAttach(t *testing.T) {
	src := &fakeSensors{}
	a := newTestAggregator(&stubMap{})
	detach := a.Attach(src)

	src.push()
	assert.True(t, a.Orientation().Valid)
	detach()
}

func TestConcurrentSensorsAndSnapshot(t *testing.T) {
	a := newTestAggregator(&stubMap{self: munich, hasSelf: true})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			a.OnAccelerometer(0, 0, 9.81)
			a.OnMagnetometer(float64(i%40)-20, 22, -42)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = a.Snapshot(allChannels())
		}
	}()
	wg.Wait()
}

func TestNormalizeHeading(t *testing.T) {
	assert.Equal(t, 0.0, normalizeHeading(360))
	assert.Equal(t, 270.0, normalizeHeading(-90))
	assert.Equal(t, 10.0, normalizeHeading(730))
}
