package dynamics

import "math"

// Environment is the external input to a physics step.
type Environment struct {
	TrueWindSpeedKts float64
	// TrueWindDirDeg is the true bearing the wind blows from.
	TrueWindDirDeg  float64
	CurrentSpeedKts float64
	// CurrentDirDeg is the true bearing the current flows toward.
	CurrentDirDeg float64
	WaveHeightM   float64
}

var seaStateThresholdsM = [...]float64{0.1, 0.5, 1.25, 2.5, 4.0}

// SeaState classifies wave height into six bands, 0 (calm) to 5 (rough and
// above). It is monotonic in wave height.
func SeaState(waveHeightM float64) int {
	for i, limit := range seaStateThresholdsM {
		if waveHeightM < limit {
			return i
		}
	}
	return len(seaStateThresholdsM)
}

// Degradation holds performance multipliers for a sea state; each is in
// (0, 1] and non-increasing as the sea state grows.
type Degradation struct {
	Speed        float64
	Acceleration float64
	TurnRate     float64
}

func DegradationFor(seaState int) Degradation {
	s := float64(max(0, min(seaState, len(seaStateThresholdsM))))
	return Degradation{
		Speed:        1 - 0.06*s,
		Acceleration: 1 - 0.09*s,
		TurnRate:     1 - 0.07*s,
	}
}

// ApparentWind combines the true wind with the vessel's own motion. The
// returned angle is relative to the bow in [0, 360).
func ApparentWind(twsKts, twdDeg, headingDeg, speedKts float64) (awsKts, awaDeg float64) {
	// Both vectors point to where the wind appears to come from.
	we, wn := vector(twsKts, twdDeg)
	be, bn := vector(speedKts, headingDeg)
	e, n := we+be, wn+bn
	awsKts = math.Hypot(e, n)
	if awsKts < 1e-9 {
		return 0, 0
	}
	return awsKts, NormalizeDeg(bearing(e, n) - headingDeg)
}
