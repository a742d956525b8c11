package vessel

import (
	"math"
	"sync"
	"time"

	"nmea-bridge/internal/dynamics"
)

const (
	historySize = 32
	// coherentScore is the minimum score reported as temporally coherent.
	coherentScore = 0.8
	maxRudderDeg  = 35.0
)

type Option func(*Coordinator)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithSmoothing sets the transition controllers' time constant.
func WithSmoothing(tau time.Duration) Option {
	return func(c *Coordinator) { c.tau = tau }
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	mu     sync.RWMutex
	engine *dynamics.Engine
	now    func() time.Time
	tau    time.Duration

	motion  motionController
	wind    windController
	env     environmentController
	control controlController

	history [historySize]time.Time
	histLen int
	histPos int

	state State
}

func New(engine *dynamics.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{engine: engine, now: time.Now, tau: 2 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	c.resetLocked()
	return c
}

// Update advances the engine by dt toward target under env and returns the
// new coordinated state.
func (c *Coordinator) Update(dt time.Duration, target Target, env Environment) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	heading := c.motion.update(target, dt)
	throttle := c.control.update(target, dt)
	tws, twd := c.wind.update(env.Environment, dt)
	smoothed := c.env.update(env, dt)
	smoothed.TrueWindSpeedKts = tws
	smoothed.TrueWindDirDeg = twd

	ds := c.engine.Step(dt, dynamics.Target{HeadingDeg: heading, ThrottlePct: throttle}, smoothed.Environment)
	now := c.now()

	c.state.Position = PositionSection{Lat: ds.Position.Lat, Lon: ds.Position.Lon, UpdatedAt: now}
	c.state.Motion = motionSection(ds, now)
	c.state.Wind = windSection(ds, now)
	c.state.Environment = EnvironmentSection{
		DepthM:          smoothed.DepthM,
		WaterTempC:      smoothed.WaterTempC,
		WaveHeightM:     smoothed.WaveHeightM,
		SeaState:        ds.SeaState,
		CurrentSpeedKts: smoothed.CurrentSpeedKts,
		CurrentDirDeg:   smoothed.CurrentDirDeg,
		UpdatedAt:       now,
	}
	c.state.Control = ControlSection{
		TargetHeadingDeg: dynamics.NormalizeDeg(target.HeadingDeg),
		ThrottlePct:      throttle,
		RudderDeg:        c.rudderDeg(ds),
		UpdatedAt:        now,
	}

	c.record(now)
	score := c.coherenceLocked()
	c.state.Metadata = Metadata{
		UpdateCount:       c.state.Metadata.UpdateCount + 1,
		CoherenceScore:    score,
		TemporalCoherence: c.histLen >= 3 && score >= coherentScore,
		LastUpdate:        now,
	}
	return c.state
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Reset restores the engine's default state and clears update history and
// controller memory.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// CoherenceScore is 1/(1+cv) of the gaps between recent updates, where cv is
// their coefficient of variation. Fewer than two gaps score 1.
func (c *Coordinator) CoherenceScore() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coherenceLocked()
}

func (c *Coordinator) resetLocked() {
	c.engine.Reset()
	c.motion, c.wind, c.env, c.control = newControllers(c.tau)
	c.history = [historySize]time.Time{}
	c.histLen, c.histPos = 0, 0

	ds := c.engine.State()
	now := c.now()
	def := c.engine.Profile().Defaults
	c.state = State{
		Position:    PositionSection{Lat: ds.Position.Lat, Lon: ds.Position.Lon, UpdatedAt: now},
		Motion:      motionSection(ds, now),
		Wind:        windSection(ds, now),
		Environment: EnvironmentSection{UpdatedAt: now},
		Control:     ControlSection{TargetHeadingDeg: ds.HeadingDeg, ThrottlePct: def.ThrottlePct, UpdatedAt: now},
		Metadata:    Metadata{CoherenceScore: 1, LastUpdate: now},
	}
}

func (c *Coordinator) record(t time.Time) {
	c.history[c.histPos] = t
	c.histPos = (c.histPos + 1) % historySize
	if c.histLen < historySize {
		c.histLen++
	}
}

func (c *Coordinator) coherenceLocked() float64 {
	if c.histLen < 3 {
		return 1
	}
	start := (c.histPos - c.histLen + historySize) % historySize
	gaps := make([]float64, 0, c.histLen-1)
	prev := c.history[start]
	for i := 1; i < c.histLen; i++ {
		cur := c.history[(start+i)%historySize]
		gaps = append(gaps, cur.Sub(prev).Seconds())
		prev = cur
	}
	return coherence(gaps)
}

func coherence(gaps []float64) float64 {
	if len(gaps) < 2 {
		return 1
	}
	var sum float64
	for _, g := range gaps {
		sum += g
	}
	mean := sum / float64(len(gaps))
	if mean <= 0 {
		return 0
	}
	var sq float64
	for _, g := range gaps {
		sq += (g - mean) * (g - mean)
	}
	cv := math.Sqrt(sq/float64(len(gaps))) / mean
	return 1 / (1 + cv)
}

func (c *Coordinator) rudderDeg(ds dynamics.State) float64 {
	limit := c.engine.MaxTurnRateDPS(ds.SpeedKts, ds.SeaState)
	if limit <= 0 {
		return 0
	}
	return math.Max(-maxRudderDeg, math.Min(maxRudderDeg, ds.TurnRateDPS/limit*maxRudderDeg))
}

func motionSection(ds dynamics.State, now time.Time) MotionSection {
	return MotionSection{
		HeadingDeg:          ds.HeadingDeg,
		SpeedKts:            ds.SpeedKts,
		CourseOverGroundDeg: ds.CourseOverGroundDeg,
		SpeedOverGroundKts:  ds.SpeedOverGroundKts,
		AccelKtsPerSec:      ds.AccelKtsPerSec,
		TurnRateDPS:         ds.TurnRateDPS,
		UpdatedAt:           now,
	}
}

func windSection(ds dynamics.State, now time.Time) WindSection {
	return WindSection{
		TrueSpeedKts:     ds.TrueWind.SpeedKts,
		TrueDirDeg:       ds.TrueWind.AngleDeg,
		TrueAngleDeg:     ds.TrueWindAngleDeg,
		ApparentSpeedKts: ds.ApparentWind.SpeedKts,
		ApparentAngleDeg: ds.ApparentWind.AngleDeg,
		UpdatedAt:        now,
	}
}
