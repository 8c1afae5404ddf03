package telemetry

import "math"

// Standard gravity, used for the free-fall check.
const standardGravity = 9.80665

// rotationMatrix follows Android's SensorManager.getRotationMatrix: it builds
// the device-to-world rotation from a gravity and a geomagnetic vector. ok is
// false in free fall or when the vectors are near parallel.
func rotationMatrix(gravity, geomagnetic [3]float64) (r [9]float64, ok bool) {
	ax, ay, az := gravity[0], gravity[1], gravity[2]
	normsqA := ax*ax + ay*ay + az*az
	freeFall := standardGravity * standardGravity * 0.01
	if normsqA < freeFall {
		return r, false
	}

	ex, ey, ez := geomagnetic[0], geomagnetic[1], geomagnetic[2]
	hx := ey*az - ez*ay
	hy := ez*ax - ex*az
	hz := ex*ay - ey*ax
	normH := math.Sqrt(hx*hx + hy*hy + hz*hz)
	if normH < 0.1 {
		return r, false
	}

	invH := 1 / normH
	hx, hy, hz = hx*invH, hy*invH, hz*invH
	invA := 1 / math.Sqrt(normsqA)
	ax, ay, az = ax*invA, ay*invA, az*invA

	mx := ay*hz - az*hy
	my := az*hx - ax*hz
	mz := ax*hy - ay*hx

	return [9]float64{
		hx, hy, hz,
		mx, my, mz,
		ax, ay, az,
	}, true
}

// orientationAngles returns azimuth, pitch and roll in radians.
func orientationAngles(r [9]float64) (azimuth, pitch, roll float64) {
	azimuth = math.Atan2(r[1], r[4])
	pitch = math.Asin(clamp(-r[7], -1, 1))
	roll = math.Atan2(-r[6], r[8])
	return
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// normalizeHeading maps degrees into [0, 360).
func normalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
