// pkg/core/telemetry.go
package core

import "fmt"

// Location is a WGS84 position. Alt is metres above the ellipsoid.
type Location struct {
	Lat float64
	Lon float64
	Alt float64
}

// RGB is an 8-bit-per-channel display color.
type RGB struct {
	R, G, B uint8
}

// Hex renders the color as #RRGGBB.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Affiliation colors.
var (
	ColorFriendly = RGB{R: 0x00, G: 0x00, B: 0xFF}
	ColorHostile  = RGB{R: 0xFF, G: 0x00, B: 0x00}
	ColorNeutral  = RGB{R: 0x00, G: 0xFF, B: 0x00}
	ColorUnknown  = RGB{R: 0xFF, G: 0xFF, B: 0x00}
)

// POI is a point of interest as sent to the display. It is rebuilt on every
// tick and never modified afterwards.
type POI struct {
	ID       string
	Name     string
	Type     string
	Location Location
	Color    RGB
}

// OrientationSample holds device orientation in degrees.
// Valid is false until both accelerometer and magnetometer have reported.
type OrientationSample struct {
	Heading float64
	Tilt    float64
	Roll    float64
	Valid   bool
}

// MapState is the map channel of a telemetry packet.
type MapState struct {
	Self    Location
	HasSelf bool
	Zoom    float64
	Bearing float64
}

// TelemetryPacket is one aggregated snapshot. A nil Map or Compass and a
// false POIsEnabled mean the channel was disabled.
type TelemetryPacket struct {
	TimestampMs int64
	POIsEnabled bool
	POIs        []POI
	Map         *MapState
	Compass     *OrientationSample
}
