// pkg/core/config.go
package core

import "time"

// Update interval bounds and defaults.
const (
	MinUpdateInterval     = 100 * time.Millisecond
	MaxUpdateInterval     = 5000 * time.Millisecond
	DefaultUpdateInterval = 500 * time.Millisecond
	DefaultMaxPOIDistance = 1000.0
)

// StreamMode selects the message shape the scheduler produces.
type StreamMode int

const (
	// ModeAggregated sends one telemetry object per tick.
	ModeAggregated StreamMode = iota
	// ModeDiscrete sends one "poi" message per POI and a "compass" message
	// when the heading moves.
	ModeDiscrete
)

func (m StreamMode) String() string {
	if m == ModeDiscrete {
		return "discrete"
	}
	return "aggregated"
}

// ParseStreamMode maps a config string to a mode, defaulting to aggregated.
func ParseStreamMode(s string) StreamMode {
	switch s {
	case "discrete", "legacy":
		return ModeDiscrete
	default:
		return ModeAggregated
	}
}

// StreamConfig is the streaming configuration. Callers replace it on
// reconfiguration instead of modifying a shared instance.
type StreamConfig struct {
	Endpoint        Endpoint
	UpdateInterval  time.Duration
	EnablePOI       bool
	EnableMap       bool
	EnableCompass   bool
	MaxPOIDistanceM float64
	Mode            StreamMode
}

// ClampInterval bounds d to [MinUpdateInterval, MaxUpdateInterval].
func ClampInterval(d time.Duration) time.Duration {
	if d < MinUpdateInterval {
		return MinUpdateInterval
	}
	if d > MaxUpdateInterval {
		return MaxUpdateInterval
	}
	return d
}

// Normalize returns a copy with the interval clamped and an unset distance
// replaced by the default.
func (c StreamConfig) Normalize() StreamConfig {
	c.UpdateInterval = ClampInterval(c.UpdateInterval)
	if c.MaxPOIDistanceM <= 0 {
		c.MaxPOIDistanceM = DefaultMaxPOIDistance
	}
	return c
}

// SameEndpoint reports whether c and o dial the same endpoint.
func (c StreamConfig) SameEndpoint(o StreamConfig) bool {
	return c.Endpoint.Equal(o.Endpoint)
}
