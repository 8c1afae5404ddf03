package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/hudlink/hudlink/pkg/core"
)

// EarthRadiusM is the IUGG mean earth radius.
const EarthRadiusM = 6371008.8

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// LocationFromString parses "lat,lon" or "lat,lon,alt".
func LocationFromString(coords string) (core.Location, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return core.Location{}, ErrInvalidCoordinates
	}
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return core.Location{}, ErrInvalidCoordinates
		}
		vals[i] = v
	}
	loc := core.Location{Lat: vals[0], Lon: vals[1]}
	if len(vals) == 3 {
		loc.Alt = vals[2]
	}
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lon < -180 || loc.Lon > 180 {
		return core.Location{}, ErrInvalidCoordinates
	}
	return loc, nil
}

// Distance returns the great-circle distance in metres (haversine). Altitude
// is ignored.
func Distance(a, b core.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Envelope is a lon/lat bounding box around a search circle, used to reject
// far points before the exact distance check.
type Envelope struct {
	env geom.Envelope
	all bool
}

// SearchEnvelope returns a box that fully contains every point within
// radiusM of center. It degrades to the whole world whenever the circle
// cannot be bounded by a single lon/lat box.
func SearchEnvelope(center core.Location, radiusM float64) Envelope {
	// 1% slack keeps boundary points inside despite rounding.
	r := radiusM * 1.01 / EarthRadiusM
	dLat := r * 180 / math.Pi
	if center.Lat+dLat >= 90 || center.Lat-dLat <= -90 {
		return Envelope{all: true}
	}

	// Widest longitude reached by a spherical cap of angular radius r.
	s := math.Sin(r) / math.Cos(center.Lat*math.Pi/180)
	if r >= math.Pi/2 || s >= 1 {
		return Envelope{all: true}
	}
	dLon := math.Asin(s) * 180 / math.Pi
	if center.Lon-dLon < -180 || center.Lon+dLon > 180 {
		return Envelope{all: true}
	}

	seq := geom.NewSequence([]float64{
		center.Lon - dLon, center.Lat - dLat,
		center.Lon + dLon, center.Lat + dLat,
	}, geom.DimXY)
	ls, err := geom.NewLineString(seq)
	if err != nil {
		return Envelope{all: true}
	}
	return Envelope{env: ls.Envelope()}
}

// Contains reports whether loc may lie inside the search circle.
func (e Envelope) Contains(loc core.Location) bool {
	if e.all {
		return true
	}
	return e.env.Contains(geom.XY{X: loc.Lon, Y: loc.Lat})
}

// Offset moves origin by rangeM metres along bearingDeg (clockwise from north)
// in Web Mercator (EPSG:3857) space. Good enough for the short ranges a
// heads-up display cares about.
func Offset(origin core.Location, rangeM, bearingDeg float64) core.Location {
	epsg := wgs84.EPSG()
	to3857 := epsg.Transform(4326, 3857)
	to4326 := epsg.Transform(3857, 4326)

	x, y, _ := to3857(origin.Lon, origin.Lat, 0)

	// Mercator stretches distances by 1/cos(lat).
	scale := 1 / math.Cos(origin.Lat*math.Pi/180)
	b := bearingDeg * math.Pi / 180
	x += rangeM * math.Sin(b) * scale
	y += rangeM * math.Cos(b) * scale

	lon, lat, _ := to4326(x, y, 0)
	return core.Location{Lat: lat, Lon: lon, Alt: origin.Alt}
}
