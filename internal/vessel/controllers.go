package vessel

import (
	"math"
	"time"

	"nmea-bridge/internal/dynamics"
)

// smoother moves a value exponentially toward its target with time
// constant tau. The first sample is taken as-is.
type smoother struct {
	tau   time.Duration
	value float64
	have  bool
	angle bool
}

func (s *smoother) step(target float64, dt time.Duration) float64 {
	if !s.have || s.tau <= 0 {
		s.value, s.have = target, true
		if s.angle {
			s.value = dynamics.NormalizeDeg(s.value)
		}
		return s.value
	}
	alpha := 1 - math.Exp(-dt.Seconds()/s.tau.Seconds())
	if s.angle {
		s.value = dynamics.LerpAngleDeg(s.value, target, alpha)
	} else {
		s.value += alpha * (target - s.value)
	}
	return s.value
}

func (s *smoother) reset() {
	s.value, s.have = 0, false
}

type motionController struct {
	heading smoother
}

func (c *motionController) update(t Target, dt time.Duration) float64 {
	return c.heading.step(t.HeadingDeg, dt)
}

type controlController struct {
	throttle smoother
}

func (c *controlController) update(t Target, dt time.Duration) float64 {
	return c.throttle.step(t.ThrottlePct, dt)
}

type windController struct {
	speed smoother
	dir   smoother
}

func (c *windController) update(env dynamics.Environment, dt time.Duration) (float64, float64) {
	return c.speed.step(env.TrueWindSpeedKts, dt), c.dir.step(env.TrueWindDirDeg, dt)
}

type environmentController struct {
	depth        smoother
	waterTemp    smoother
	waveHeight   smoother
	currentSpeed smoother
	currentDir   smoother
}

func (c *environmentController) update(env Environment, dt time.Duration) Environment {
	out := env
	out.DepthM = c.depth.step(env.DepthM, dt)
	out.WaterTempC = c.waterTemp.step(env.WaterTempC, dt)
	out.WaveHeightM = c.waveHeight.step(env.WaveHeightM, dt)
	out.CurrentSpeedKts = c.currentSpeed.step(env.CurrentSpeedKts, dt)
	out.CurrentDirDeg = c.currentDir.step(env.CurrentDirDeg, dt)
	return out
}

func newControllers(tau time.Duration) (motionController, windController, environmentController, controlController) {
	return motionController{heading: smoother{tau: tau, angle: true}},
		windController{speed: smoother{tau: tau}, dir: smoother{tau: tau, angle: true}},
		environmentController{
			depth:        smoother{tau: tau},
			waterTemp:    smoother{tau: 4 * tau},
			waveHeight:   smoother{tau: tau},
			currentSpeed: smoother{tau: tau},
			currentDir:   smoother{tau: tau, angle: true},
		},
		controlController{throttle: smoother{tau: tau}}
}
