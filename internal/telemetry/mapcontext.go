package telemetry

import "github.com/hudlink/hudlink/pkg/core"

// PointItem is a point-like map item as reported by the host map.
type PointItem struct {
	ID       string
	Name     string
	Type     string
	IconPath string
	Location core.Location
}

// MapContext is the narrow view of the host map the aggregator reads from.
// Implementations must be safe to call from the scheduler goroutine.
type MapContext interface {
	// SelfLocation returns the device position, if known.
	SelfLocation() (core.Location, bool)
	ZoomLevel() float64
	// Bearing is the map rotation in degrees.
	Bearing() float64
	PointItems() []PointItem
}

// SensorSink receives raw sensor vectors.
type SensorSink interface {
	OnAccelerometer(x, y, z float64)
	OnMagnetometer(x, y, z float64)
}

// SensorSource pushes accelerometer and magnetometer samples to a sink.
type SensorSource interface {
	SubscribeSensors(sink SensorSink) (unsubscribe func())
}

// ChangeSource signals that the set of map items changed.
type ChangeSource interface {
	OnItemsChanged(fn func()) (unsubscribe func())
}
