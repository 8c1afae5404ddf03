// internal/telemetry/aggregator.go
package telemetry

import (
	"sync"
	"time"

	"github.com/hudlink/hudlink/internal/geo"
	"github.com/hudlink/hudlink/pkg/core"
)

// Aggregator builds telemetry packets from a MapContext and the latest
// sensor vectors. Sensor callbacks and Snapshot may run on different
// goroutines.
type Aggregator struct {
	mapCtx MapContext
	now    func() time.Time

	mu          sync.Mutex
	accel       [3]float64
	mag         [3]float64
	hasAccel    bool
	hasMag      bool
	orientation core.OrientationSample
}

// NewAggregator creates an aggregator reading from mapCtx.
func NewAggregator(mapCtx MapContext) *Aggregator {
	return &Aggregator{mapCtx: mapCtx, now: time.Now}
}

// Attach subscribes the aggregator to a sensor source.
func (a *Aggregator) Attach(src SensorSource) (detach func()) {
	return src.SubscribeSensors(a)
}

// OnAccelerometer records a gravity vector in m/s².
func (a *Aggregator) OnAccelerometer(x, y, z float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accel = [3]float64{x, y, z}
	a.hasAccel = true
	a.recomputeLocked()
}

// OnMagnetometer records a geomagnetic vector in µT.
func (a *Aggregator) OnMagnetometer(x, y, z float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mag = [3]float64{x, y, z}
	a.hasMag = true
	a.recomputeLocked()
}

func (a *Aggregator) recomputeLocked() {
	if !a.hasAccel || !a.hasMag {
		return
	}
	r, ok := rotationMatrix(a.accel, a.mag)
	if !ok {
		// Keep the last good sample.
		return
	}
	azimuth, pitch, roll := orientationAngles(r)
	a.orientation = core.OrientationSample{
		Heading: normalizeHeading(degrees(azimuth)),
		Tilt:    degrees(pitch),
		Roll:    degrees(roll),
		Valid:   true,
	}
}

// Orientation returns the latest orientation. Valid is false until both
// sensors have reported.
func (a *Aggregator) Orientation() core.OrientationSample {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orientation
}

// Snapshot builds a packet from current state. Only channels enabled in cfg
// are populated. POIs farther than cfg.MaxPOIDistanceM from self are left
// out; without a self location no POIs are reported.
func (a *Aggregator) Snapshot(cfg core.StreamConfig) core.TelemetryPacket {
	cfg = cfg.Normalize()
	p := core.TelemetryPacket{TimestampMs: a.now().UnixMilli()}

	self, hasSelf := a.mapCtx.SelfLocation()

	if cfg.EnablePOI {
		p.POIsEnabled = true
		p.POIs = []core.POI{}
		if hasSelf {
			p.POIs = a.nearbyPOIs(self, cfg.MaxPOIDistanceM)
		}
	}

	if cfg.EnableMap {
		m := &core.MapState{
			Zoom:    a.mapCtx.ZoomLevel(),
			Bearing: a.mapCtx.Bearing(),
		}
		if hasSelf {
			m.Self = self
			m.HasSelf = true
		}
		p.Map = m
	}

	if cfg.EnableCompass {
		o := a.Orientation()
		p.Compass = &o
	}

	return p
}

func (a *Aggregator) nearbyPOIs(self core.Location, maxDistance float64) []core.POI {
	env := geo.SearchEnvelope(self, maxDistance)
	items := a.mapCtx.PointItems()
	pois := make([]core.POI, 0, len(items))

	for _, item := range items {
		if !env.Contains(item.Location) {
			continue
		}
		if geo.Distance(self, item.Location) > maxDistance {
			continue
		}
		typeCode := ItemType(item)
		pois = append(pois, core.POI{
			ID:       item.ID,
			Name:     item.Name,
			Type:     typeCode,
			Location: item.Location,
			Color:    ColorFor(typeCode),
		})
	}
	return pois
}
