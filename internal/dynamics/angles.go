package dynamics

import "math"

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// NormalizeDeg maps any angle into [0, 360).
func NormalizeDeg(x float64) float64 {
	x = math.Mod(x, 360)
	if x < 0 {
		x += 360
	}
	if x >= 360 {
		x -= 360
	}
	return x
}

// ShortestArc returns the signed turn in (-180, 180] that takes from to to.
func ShortestArc(from, to float64) float64 {
	delta := NormalizeDeg(to) - NormalizeDeg(from)
	if delta > 180 {
		delta -= 360
	} else if delta <= -180 {
		delta += 360
	}
	return delta
}

// LerpAngleDeg interpolates along the shorter arc between a0 and a1.
func LerpAngleDeg(a0, a1, t float64) float64 {
	return NormalizeDeg(a0 + ShortestArc(a0, a1)*t)
}

// vector converts a speed and true bearing to east/north components.
func vector(speed, bearingDeg float64) (east, north float64) {
	r := bearingDeg * degToRad
	return speed * math.Sin(r), speed * math.Cos(r)
}

func bearing(east, north float64) float64 {
	if east == 0 && north == 0 {
		return 0
	}
	return NormalizeDeg(math.Atan2(east, north) * radToDeg)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
