// Package dynamics integrates vessel motion and environment over fixed time
// steps, bounded by a vessel profile.
package dynamics

import (
	"math"
	"time"

	"nmea-bridge/internal/profile"
)

type Position struct {
	Lat float64
	Lon float64
}

// Wind is a speed plus an angle whose reference depends on the field.
type Wind struct {
	SpeedKts float64
	AngleDeg float64
}

// State is the vessel state after a step.
type State struct {
	Position       Position
	HeadingDeg     float64
	SpeedKts       float64
	AccelKtsPerSec float64
	TurnRateDPS    float64

	CourseOverGroundDeg float64
	SpeedOverGroundKts  float64

	// TrueWind.AngleDeg is the true bearing the wind blows from.
	TrueWind Wind
	// TrueWindAngleDeg is relative to the bow, in (-180, 180].
	TrueWindAngleDeg float64
	// ApparentWind.AngleDeg is relative to the bow, in [0, 360).
	ApparentWind Wind

	Environment Environment
	SeaState    int
}

// Target is the commanded state the engine steers toward.
type Target struct {
	HeadingDeg float64
	// ThrottlePct drives powerboats; sailboats follow their polar.
	ThrottlePct float64
}

// Engine is not safe for concurrent use; vessel.Coordinator serializes access.
type Engine struct {
	profile *profile.Profile
	state   State
}

func New(p *profile.Profile) *Engine {
	e := &Engine{profile: p}
	e.Reset()
	return e
}

func (e *Engine) Profile() *profile.Profile { return e.profile }

func (e *Engine) State() State { return e.state }

// Reset restores the profile's default position, heading and speed.
func (e *Engine) Reset() {
	d := e.profile.Defaults
	e.state = State{
		Position:            Position{Lat: d.Latitude, Lon: d.Longitude},
		HeadingDeg:          NormalizeDeg(d.HeadingDeg),
		SpeedKts:            math.Min(d.SpeedKts, e.profile.Derived.MaxSpeedKts),
		CourseOverGroundDeg: NormalizeDeg(d.HeadingDeg),
	}
	e.state.SpeedOverGroundKts = e.state.SpeedKts
}

// Step advances the state by dt.
func (e *Engine) Step(dt time.Duration, target Target, env Environment) State {
	secs := dt.Seconds()
	if secs <= 0 {
		return e.state
	}
	s := e.state

	s.Environment = env
	s.TrueWind = Wind{SpeedKts: env.TrueWindSpeedKts, AngleDeg: NormalizeDeg(env.TrueWindDirDeg)}
	s.SeaState = SeaState(env.WaveHeightM)
	deg := DegradationFor(s.SeaState)

	e.advanceSpeed(&s, target, deg, secs)
	e.advanceHeading(&s, target, deg, secs)
	advancePosition(&s, secs)

	s.TrueWindAngleDeg = ShortestArc(s.HeadingDeg, s.TrueWind.AngleDeg)
	aws, awa := ApparentWind(s.TrueWind.SpeedKts, s.TrueWind.AngleDeg, s.HeadingDeg, s.SpeedKts)
	s.ApparentWind = Wind{SpeedKts: aws, AngleDeg: awa}

	e.state = s
	return s
}

// TargetSpeedKts is the steady-state speed the engine accelerates toward
// before sea-state degradation and clamping.
func (e *Engine) TargetSpeedKts(s State, target Target) float64 {
	p := e.profile
	switch p.Type {
	case profile.Sailboat:
		twa := ShortestArc(s.HeadingDeg, s.TrueWind.AngleDeg)
		return p.Polar.BoatSpeed(twa, s.TrueWind.SpeedKts)
	case profile.Powerboat:
		return p.ThrottleSpeedKts(target.ThrottlePct)
	}
	return 0
}

// accelerationKtsPerSec derives the acceleration limit from displacement and
// the momentum factor. Power-to-weight boosts powerboats.
func (e *Engine) accelerationKtsPerSec() float64 {
	p := e.profile
	tonnes := math.Max(p.Dimensions.DisplacementKg/1000, 0.1)
	a := 1 / (p.Physics.MomentumFactor * math.Sqrt(tonnes))
	if p.Type == profile.Powerboat {
		a *= 1 + p.Derived.PowerToWeight/100
	}
	return a
}

func (e *Engine) advanceSpeed(s *State, target Target, deg Degradation, secs float64) {
	maxSpeed := e.profile.Derived.MaxSpeedKts
	want := clamp(e.TargetSpeedKts(*s, target)*deg.Speed, 0, maxSpeed)

	accel := e.accelerationKtsPerSec() * deg.Acceleration
	decel := 0.6*accel + e.profile.Physics.DragCoefficient*s.SpeedKts

	prev := s.SpeedKts
	diff := want - prev
	var dv float64
	if diff > 0 {
		dv = math.Min(diff, accel*secs)
	} else {
		dv = math.Max(diff, -decel*secs)
	}
	s.SpeedKts = clamp(prev+dv, 0, maxSpeed)
	s.AccelKtsPerSec = (s.SpeedKts - prev) / secs
}

// MaxTurnRateDPS is the turn rate limit at the given speed and sea state.
// Shorter hulls and higher speeds turn faster.
func (e *Engine) MaxTurnRateDPS(speedKts float64, seaState int) float64 {
	p := e.profile
	lengthFactor := clamp(math.Sqrt(10/p.Dimensions.LengthM), 0.5, 2)
	ref := p.Derived.HullSpeedKts
	if p.Type == profile.Powerboat && p.Performance.CruiseSpeedKts > 0 {
		ref = p.Performance.CruiseSpeedKts
	}
	speedFactor := 0.25
	if ref > 0 {
		speedFactor = clamp(0.25+0.75*speedKts/ref, 0.25, 1.5)
	}
	return p.Physics.MaxTurnRateDPS * lengthFactor * speedFactor * DegradationFor(seaState).TurnRate
}

func (e *Engine) advanceHeading(s *State, target Target, deg Degradation, secs float64) {
	limit := e.MaxTurnRateDPS(s.SpeedKts, s.SeaState) * secs
	step := clamp(ShortestArc(s.HeadingDeg, target.HeadingDeg), -limit, limit)
	s.HeadingDeg = NormalizeDeg(s.HeadingDeg + step)
	s.TurnRateDPS = step / secs
}

func advancePosition(s *State, secs float64) {
	be, bn := vector(s.SpeedKts, s.HeadingDeg)
	ce, cn := vector(s.Environment.CurrentSpeedKts, s.Environment.CurrentDirDeg)
	ge, gn := be+ce, bn+cn

	s.SpeedOverGroundKts = math.Hypot(ge, gn)
	if s.SpeedOverGroundKts > 1e-9 {
		s.CourseOverGroundDeg = bearing(ge, gn)
	} else {
		s.CourseOverGroundDeg = s.HeadingDeg
	}

	hours := secs / 3600
	s.Position.Lat = clamp(s.Position.Lat+gn*hours/60, -89.9, 89.9)
	cosLat := math.Cos(s.Position.Lat * degToRad)
	lon := s.Position.Lon + ge*hours/(60*cosLat)
	if lon >= 180 {
		lon -= 360
	} else if lon < -180 {
		lon += 360
	}
	s.Position.Lon = lon
}
