package streaming

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hudlink/hudlink/pkg/core"
)

// ErrEncode is returned when a message cannot be serialized (for example a
// NaN coordinate). Callers drop the message and carry on.
var ErrEncode = errors.New("encode failure")

// EncodeTelemetry builds the aggregated message for a packet.
func EncodeTelemetry(p core.TelemetryPacket) ([]byte, error) {
	return marshal("telemetry", TelemetryFromPacket(p))
}

// EncodePOI builds the discrete "poi" message.
func EncodePOI(p core.POI) ([]byte, error) {
	return marshal(TypePOI, POIMessage{
		Type:  TypePOI,
		ID:    p.ID,
		Name:  p.Name,
		Lat:   p.Location.Lat,
		Lon:   p.Location.Lon,
		Alt:   p.Location.Alt,
		Color: p.Color.Hex(),
	})
}

// EncodeCompass builds the discrete "compass" message.
func EncodeCompass(heading float64) ([]byte, error) {
	return marshal(TypeCompass, CompassMessage{Type: TypeCompass, Heading: heading})
}

// TelemetryFromPacket converts a packet to its wire representation.
func TelemetryFromPacket(p core.TelemetryPacket) TelemetryMessage {
	msg := TelemetryMessage{Timestamp: p.TimestampMs}

	if p.POIsEnabled {
		entries := make([]POIEntry, 0, len(p.POIs))
		for _, poi := range p.POIs {
			entries = append(entries, POIEntry{
				ID:    poi.ID,
				Name:  poi.Name,
				Type:  poi.Type,
				Lat:   poi.Location.Lat,
				Lon:   poi.Location.Lon,
				Alt:   poi.Location.Alt,
				Color: poi.Color.Hex(),
			})
		}
		msg.POIs = &entries
	}

	if p.Map != nil {
		m := &MapEntry{ZoomLevel: p.Map.Zoom, MapBearing: p.Map.Bearing}
		if p.Map.HasSelf {
			lat, lon, alt := p.Map.Self.Lat, p.Map.Self.Lon, p.Map.Self.Alt
			m.SelfLat, m.SelfLon, m.SelfAlt = &lat, &lon, &alt
		}
		msg.Map = m
	}

	if p.Compass != nil {
		msg.Compass = &OrientationEntry{
			Heading: p.Compass.Heading,
			Tilt:    p.Compass.Tilt,
			Roll:    p.Compass.Roll,
		}
	}

	return msg
}

// DecodeTelemetry parses an aggregated message back into a packet.
func DecodeTelemetry(data []byte) (core.TelemetryPacket, error) {
	var msg TelemetryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return core.TelemetryPacket{}, fmt.Errorf("decode telemetry: %w", err)
	}

	p := core.TelemetryPacket{TimestampMs: msg.Timestamp}

	if msg.POIs != nil {
		p.POIsEnabled = true
		p.POIs = make([]core.POI, 0, len(*msg.POIs))
		for _, e := range *msg.POIs {
			color, err := ParseColor(e.Color)
			if err != nil {
				return core.TelemetryPacket{}, fmt.Errorf("decode telemetry: poi %q: %w", e.ID, err)
			}
			p.POIs = append(p.POIs, core.POI{
				ID:       e.ID,
				Name:     e.Name,
				Type:     e.Type,
				Location: core.Location{Lat: e.Lat, Lon: e.Lon, Alt: e.Alt},
				Color:    color,
			})
		}
	}

	if msg.Map != nil {
		m := &core.MapState{Zoom: msg.Map.ZoomLevel, Bearing: msg.Map.MapBearing}
		if msg.Map.SelfLat != nil && msg.Map.SelfLon != nil {
			m.HasSelf = true
			m.Self = core.Location{Lat: *msg.Map.SelfLat, Lon: *msg.Map.SelfLon}
			if msg.Map.SelfAlt != nil {
				m.Self.Alt = *msg.Map.SelfAlt
			}
		}
		p.Map = m
	}

	if msg.Compass != nil {
		p.Compass = &core.OrientationSample{
			Heading: msg.Compass.Heading,
			Tilt:    msg.Compass.Tilt,
			Roll:    msg.Compass.Roll,
			Valid:   true,
		}
	}

	return p, nil
}

// ParseColor parses "#RRGGBB".
func ParseColor(s string) (core.RGB, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return core.RGB{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return core.RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return core.RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func marshal(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal %s: %v", ErrEncode, msgType, err)
	}
	return data, nil
}
