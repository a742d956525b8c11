package sentence

import (
	"fmt"
	"math"
	"sort"
	"time"

	"nmea-bridge/internal/autopilot"
	"nmea-bridge/internal/scenario"
	"nmea-bridge/internal/vessel"
)

// DefaultRates are the physics-mode category rates in Hz.
var DefaultRates = map[string]float64{
	"gps":         1,
	"speed":       2,
	"heading":     5,
	"wind":        2,
	"depth":       1,
	"environment": 0.2,
	"autopilot":   1,
}

type StateSource interface {
	Snapshot() vessel.State
}

type AutopilotSource interface {
	Snapshot() autopilot.State
}

type syncCategory struct {
	name   string
	timing timing
	build  func(st vessel.State, o options, now time.Time) []string
}

var syncBuilders = map[string]func(st vessel.State, o options, now time.Time) []string{
	"gps": func(st vessel.State, _ options, now time.Time) []string {
		fix := scenario.Fix{
			Lat:        st.Position.Lat,
			Lon:        st.Position.Lon,
			SpeedKts:   st.Motion.SpeedOverGroundKts,
			CourseDeg:  st.Motion.CourseOverGroundDeg,
			Satellites: 10,
		}
		return []string{GGA(now, fix), RMC(now, fix)}
	},
	"speed": func(st vessel.State, _ options, _ time.Time) []string {
		return []string{
			VTG(GNSS, st.Motion.CourseOverGroundDeg, st.Motion.SpeedOverGroundKts),
			VHW(st.Motion.HeadingDeg, st.Motion.SpeedKts),
		}
	},
	"heading": func(st vessel.State, _ options, _ time.Time) []string {
		return []string{HDT(st.Motion.HeadingDeg)}
	},
	"wind": func(st vessel.State, _ options, _ time.Time) []string {
		return []string{
			MWV(st.Wind.ApparentAngleDeg, "R", st.Wind.ApparentSpeedKts),
			MWV(st.Wind.TrueAngleDeg, "T", st.Wind.TrueSpeedKts),
		}
	},
	"depth": func(st vessel.State, o options, _ time.Time) []string {
		return depthSentences(st.Environment.DepthM, o.keelOffsetM)
	},
	"environment": func(st vessel.State, _ options, _ time.Time) []string {
		return []string{MTW(st.Environment.WaterTempC)}
	},
	"autopilot": func(_ vessel.State, o options, _ time.Time) []string {
		return autopilotSentences(o.ap)
	},
}

// Synchronized emits sentences from one vessel state snapshot per call, so
// every sentence of a tick agrees with the others.
type Synchronized struct {
	state StateSource
	opts  options
	cats  []*syncCategory
}

// NewSynchronized schedules the categories named in rates. ap may be nil,
// in which case the autopilot category emits nothing.
func NewSynchronized(state StateSource, ap AutopilotSource, rates map[string]float64, opts ...Option) (*Synchronized, error) {
	s := &Synchronized{state: state, opts: buildOptions(opts)}
	s.opts.ap = ap
	names := make([]string, 0, len(rates))
	for name := range rates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		build, ok := syncBuilders[name]
		if !ok {
			return nil, fmt.Errorf("unknown sentence category %q", name)
		}
		t, err := newTiming(rates[name])
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", name, err)
		}
		s.cats = append(s.cats, &syncCategory{name: name, timing: t, build: build})
	}
	return s, nil
}

func (s *Synchronized) Generate(now time.Time) ([]string, error) {
	var out []string
	var st vessel.State
	snapped := false
	for _, c := range s.cats {
		if !c.timing.due(now) {
			continue
		}
		if !snapped {
			st, snapped = s.state.Snapshot(), true
		}
		out = append(out, c.build(st, s.opts, now)...)
		c.timing.mark(now)
	}
	return out, nil
}

// Consistency penalties.
const (
	stalePositionAge = 2 * time.Second
	penaltyStale     = 0.35
	penaltyWind      = 0.35
	penaltyMotion    = 0.3
)

// CrossParameterConsistency scores in [0,1] how well the sections of st
// agree: moving with a stale position, true wind without apparent wind, and
// deceleration at rest each cost points.
func CrossParameterConsistency(st vessel.State) float64 {
	score := 1.0
	if st.Motion.SpeedKts > 0.1 && st.Motion.UpdatedAt.Sub(st.Position.UpdatedAt) > stalePositionAge {
		score -= penaltyStale
	}
	if st.Wind.TrueSpeedKts > 0.5 && st.Wind.ApparentSpeedKts < 0.01 && st.Motion.SpeedKts < st.Wind.TrueSpeedKts-0.5 {
		score -= penaltyWind
	}
	if st.Motion.SpeedKts < 0 || (st.Motion.SpeedKts < 0.01 && st.Motion.AccelKtsPerSec < -0.01) {
		score -= penaltyMotion
	}
	return math.Max(0, math.Min(1, score))
}
