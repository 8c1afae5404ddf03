// Package mapsim provides a simulated host map: a fixed self position,
// markers placed by range and bearing from it, and a device that slowly
// turns in place. It drives the CLI when no real host map is attached.
package mapsim

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/hudlink/hudlink/internal/config"
	"github.com/hudlink/hudlink/internal/geo"
	"github.com/hudlink/hudlink/internal/telemetry"
	"github.com/hudlink/hudlink/pkg/core"
)

const (
	gravity     = 9.81 // m/s²
	fieldHoriz  = 20.0 // µT
	fieldVertic = 40.0 // µT, pointing down
)

// Sim implements telemetry.MapContext, telemetry.SensorSource and
// telemetry.ChangeSource.
type Sim struct {
	mu       sync.RWMutex
	self     core.Location
	hasSelf  bool
	zoom     float64
	bearing  float64
	items    []telemetry.PointItem
	heading  float64
	turnRate float64

	subMu      sync.Mutex
	nextSub    int
	sensorSubs map[int]telemetry.SensorSink
	changeSubs map[int]func()
}

// New builds a simulation from cfg. Markers are placed relative to the
// configured self position.
func New(cfg config.SimConfig) (*Sim, error) {
	self, err := geo.LocationFromString(cfg.Self)
	if err != nil {
		return nil, fmt.Errorf("sim self position: %w", err)
	}

	s := &Sim{
		self:       self,
		hasSelf:    true,
		zoom:       cfg.Zoom,
		turnRate:   cfg.TurnRateDegPS,
		sensorSubs: make(map[int]telemetry.SensorSink),
		changeSubs: make(map[int]func()),
	}

	for _, m := range cfg.Markers {
		if m.RangeM < 0 {
			return nil, fmt.Errorf("sim marker %q: negative range", m.ID)
		}
		s.items = append(s.items, telemetry.PointItem{
			ID:       m.ID,
			Name:     m.Name,
			Type:     m.Type,
			IconPath: m.IconPath,
			Location: geo.Offset(self, m.RangeM, m.Bearing),
		})
	}

	return s, nil
}

// SelfLocation returns the simulated device position.
func (s *Sim) SelfLocation() (core.Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self, s.hasSelf
}

// ZoomLevel returns the simulated map zoom.
func (s *Sim) ZoomLevel() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zoom
}

// Bearing returns the simulated map rotation.
func (s *Sim) Bearing() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bearing
}

// PointItems returns a copy of the current markers.
func (s *Sim) PointItems() []telemetry.PointItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// Heading returns the direction the simulated device faces.
func (s *Sim) Heading() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heading
}

// SetSelf moves the device. ok=false simulates a lost position fix.
func (s *Sim) SetSelf(loc core.Location, ok bool) {
	s.mu.Lock()
	s.self, s.hasSelf = loc, ok
	s.mu.Unlock()
	s.notifyChanged()
}

// SetView sets the map zoom and rotation.
func (s *Sim) SetView(zoom, bearing float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoom, s.bearing = zoom, bearing
}

// AddItem places a marker at rangeM along bearingDeg from the current self
// position, replacing any marker with the same id.
func (s *Sim) AddItem(item telemetry.PointItem, rangeM, bearingDeg float64) {
	s.mu.Lock()
	item.Location = geo.Offset(s.self, rangeM, bearingDeg)
	s.items = slices.DeleteFunc(s.items, func(it telemetry.PointItem) bool { return it.ID == item.ID })
	s.items = append(s.items, item)
	s.mu.Unlock()
	s.notifyChanged()
}

// RemoveItem deletes a marker. It reports whether one was removed.
func (s *Sim) RemoveItem(id string) bool {
	s.mu.Lock()
	n := len(s.items)
	s.items = slices.DeleteFunc(s.items, func(it telemetry.PointItem) bool { return it.ID == id })
	removed := len(s.items) != n
	s.mu.Unlock()

	if removed {
		s.notifyChanged()
	}
	return removed
}

// SubscribeSensors registers a sink for simulated sensor samples.
func (s *Sim) SubscribeSensors(sink telemetry.SensorSink) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.sensorSubs[id] = sink
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.sensorSubs, id)
			s.subMu.Unlock()
		})
	}
}

// OnItemsChanged registers fn to run after markers or self position change.
func (s *Sim) OnItemsChanged(fn func()) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.changeSubs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.changeSubs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Sim) notifyChanged() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.changeSubs))
	for _, fn := range s.changeSubs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Step advances the simulated heading by dt at the configured turn rate and
// pushes one accelerometer and one magnetometer sample to every sink.
func (s *Sim) Step(dt time.Duration) {
	s.mu.Lock()
	h := math.Mod(s.heading+s.turnRate*dt.Seconds(), 360)
	if h < 0 {
		h += 360
	}
	s.heading = h
	s.mu.Unlock()

	ax, ay, az := 0.0, 0.0, gravity
	mx, my, mz := FieldForHeading(h)

	s.subMu.Lock()
	sinks := make([]telemetry.SensorSink, 0, len(s.sensorSubs))
	for _, sink := range s.sensorSubs {
		sinks = append(sinks, sink)
	}
	s.subMu.Unlock()

	for _, sink := range sinks {
		sink.OnAccelerometer(ax, ay, az)
		sink.OnMagnetometer(mx, my, mz)
	}
}

// Run steps the simulation every period until ctx is done.
func (s *Sim) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.Step(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step(period)
		}
	}
}

// FieldForHeading returns the magnetometer vector a flat device reads when
// its top edge points headingDeg clockwise from magnetic north.
func FieldForHeading(headingDeg float64) (x, y, z float64) {
	h := headingDeg * math.Pi / 180
	return -math.Sin(h) * fieldHoriz, math.Cos(h) * fieldHoriz, -fieldVertic
}
