package streaming

// Message type constants for the discrete (legacy) message shapes.
const (
	TypePOI     = "poi"
	TypeCompass = "compass"
)

// POIMessage is the discrete single-POI message.
type POIMessage struct {
	Type  string  `json:"type"` // always "poi"
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Alt   float64 `json:"alt"`
	Color string  `json:"color"`
}

// CompassMessage is the discrete heading message.
type CompassMessage struct {
	Type    string  `json:"type"` // always "compass"
	Heading float64 `json:"heading"`
}

// TelemetryMessage is the aggregated per-tick message. A disabled channel is a
// nil field and therefore absent from the encoded object.
type TelemetryMessage struct {
	Timestamp int64             `json:"timestamp"`
	POIs      *[]POIEntry       `json:"pois,omitempty"`
	Map       *MapEntry         `json:"map,omitempty"`
	Compass   *OrientationEntry `json:"compass,omitempty"`
}

// POIEntry is one element of TelemetryMessage.POIs.
type POIEntry struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Alt   float64 `json:"alt"`
	Color string  `json:"color"`
}

// MapEntry carries self position and view state. The self_* keys are omitted
// when the host has no self location.
type MapEntry struct {
	SelfLat    *float64 `json:"self_lat,omitempty"`
	SelfLon    *float64 `json:"self_lon,omitempty"`
	SelfAlt    *float64 `json:"self_alt,omitempty"`
	ZoomLevel  float64  `json:"zoom_level"`
	MapBearing float64  `json:"map_bearing"`
}

// OrientationEntry carries device orientation in degrees.
type OrientationEntry struct {
	Heading float64 `json:"heading"`
	Tilt    float64 `json:"tilt"`
	Roll    float64 `json:"roll"`
}
