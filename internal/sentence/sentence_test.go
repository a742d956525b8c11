package sentence

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nmea-bridge/internal/autopilot"
	"nmea-bridge/internal/nmea"
	"nmea-bridge/internal/scenario"
	"nmea-bridge/internal/vessel"
)

var wire = regexp.MustCompile(`^[$!][A-Z]{2}[A-Z]{3},.*\*[0-9A-F]{2}\r\n$`)

type fakeSource struct {
	scalars   map[string]float64
	fix       *scenario.Fix
	instances map[string][]string
	values    map[string]map[string]float64
}

func (f *fakeSource) Scalar(name string) (float64, bool) {
	v, ok := f.scalars[name]
	return v, ok
}

func (f *fakeSource) GPS() (scenario.Fix, bool) {
	if f.fix == nil {
		return scenario.Fix{}, false
	}
	return *f.fix, true
}

func (f *fakeSource) Instances(name string) (map[string]float64, []string, bool) {
	ids, ok := f.instances[name]
	return f.values[name], ids, ok
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		scalars: map[string]float64{"depth": 10, "heading": 45, "speed": 6, "sog": 6.2, "wind_speed": 12, "wind_angle": 30},
		fix:     &scenario.Fix{Lat: 41.5, Lon: -71.25, SpeedKts: 6.2, CourseDeg: 47, AltitudeM: 3, Satellites: 9},
		instances: map[string][]string{
			"tanks":   {"fuel", "grey water"},
			"engines": {"port", "starboard"},
		},
		values: map[string]map[string]float64{
			"tanks":   {"fuel": 80, "grey water": 15},
			"engines": {"port": 1800, "starboard": 1820},
		},
	}
}

func fields(t *testing.T, line string) []string {
	t.Helper()
	require.Regexp(t, wire, line)
	s, err := nmea.Parse(line)
	require.NoError(t, err)
	return s.Fields
}

func TestBuilders(t *testing.T) {
	at := time.Date(2024, 7, 4, 13, 5, 9, 250*int(time.Millisecond), time.UTC)
	fix := scenario.Fix{Lat: 48.1173, Lon: 11.5167, SpeedKts: 22.4, CourseDeg: 84.4, AltitudeM: 545.4, Satellites: 8}

	assert.Equal(t, []string{"IIDBT", "32.8", "f", "10.0", "M", "5.5", "F"}, fields(t, DBT(10)))
	assert.Equal(t, []string{"IIDPT", "10.0", "0.0", ""}, fields(t, DPT(10, 0)))
	assert.Equal(t, []string{"IIDBK", "6.6", "f", "2.0", "M", "1.1", "F"}, fields(t, DBK(2)))
	assert.Equal(t, []string{"GPVTG", "350.0", "T", "", "M", "5.0", "N", "9.3", "K", "A"}, fields(t, VTG(GNSS, -10, 5)))
	assert.Equal(t, []string{"IIVHW", "45.0", "T", "", "M", "6.0", "N", "11.1", "K"}, fields(t, VHW(45, 6)))
	assert.Equal(t, []string{"IIMWV", "330.0", "R", "12.0", "N", "A"}, fields(t, MWV(-30, "R", 12)))
	assert.Equal(t, []string{"IIHDT", "359.5", "T"}, fields(t, HDT(-0.5)))
	assert.Equal(t, []string{"IIMTW", "17.5", "C"}, fields(t, MTW(17.5)))
	assert.Equal(t, []string{"ERRPM", "E", "2", "1820", "", "A"}, fields(t, RPM(2, 1820.4)))
	assert.Equal(t, []string{"GPZDA", "130509.25", "04", "07", "2024", "00", "00"}, fields(t, ZDA(at)))

	gga := fields(t, GGA(at, fix))
	assert.Equal(t, []string{"GPGGA", "130509.25", "4807.0380", "N", "01131.0020", "E", "1", "08"}, gga[:8])
	rmc := fields(t, RMC(at, fix))
	assert.Equal(t, "A", rmc[2])
	assert.Equal(t, "22.4", rmc[7])
	assert.Equal(t, "040724", rmc[9])

	xdr := fields(t, XDR(
		Measurement{Type: "V", Value: 80, Unit: "P", ID: InstanceID("TANK", "fuel")},
		Measurement{Type: "U", Value: 12.64, Unit: "V", ID: InstanceID("BATT", "house-2")},
	))
	assert.Equal(t, []string{"YXXDR", "V", "80.0", "P", "TANK_FUEL", "U", "12.6", "V", "BATT_HOUSE_2"}, xdr)
}

func TestAutopilotSentences(t *testing.T) {
	st := autopilot.State{Engaged: true, TargetHeadingDeg: 100, CurrentHeadingDeg: 90, RudderDeg: -12.5}
	htd := fields(t, HTD(st))
	require.Len(t, htd, 18)
	assert.Equal(t, "APHTD", htd[0])
	assert.Equal(t, "12.5", htd[2])
	assert.Equal(t, "L", htd[3])
	assert.Equal(t, "H", htd[4])
	assert.Equal(t, "100.0", htd[10])
	assert.Equal(t, "90.0", htd[17])

	assert.Equal(t, []string{"APRSA", "-12.5", "A", "", ""}, fields(t, RSA(-12.5)))
}

func TestScheduler_EmitsOnlyDueCategories(t *testing.T) {
	sched, err := NewScheduler(newFakeSource(), map[string]float64{"gps": 5, "depth": 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"depth", "gps"}, sched.Categories())

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	counts := map[string]int{}
	for i := 0; i < 20; i++ {
		out, err := sched.Generate(start.Add(time.Duration(i) * ScanInterval))
		require.NoError(t, err)
		for _, s := range out {
			require.Regexp(t, wire, s)
			counts[s[3:6]]++
		}
	}
	assert.Equal(t, 5, counts["GGA"])
	assert.Equal(t, 5, counts["RMC"])
	assert.Equal(t, 2, counts["DBT"])
	assert.Equal(t, 2, counts["DPT"])
	assert.Equal(t, 2, counts["DBK"])
	assert.Zero(t, counts["MWV"])
	assert.Zero(t, counts["HTD"])
}

func TestScheduler_InstancesAndWind(t *testing.T) {
	sched, err := NewScheduler(newFakeSource(), map[string]float64{
		"tanks": 1, "engines": 1, "wind_speed": 1, "wind_angle": 2, "heading": 1,
	})
	require.NoError(t, err)
	out, err := sched.Generate(time.Now())
	require.NoError(t, err)
	joined := strings.Join(out, "")
	assert.Contains(t, joined, "TANK_FUEL")
	assert.Contains(t, joined, "TANK_GREY_WATER")
	assert.Contains(t, joined, "$ERRPM,E,1,1800,")
	assert.Contains(t, joined, "$ERRPM,E,2,1820,")
	assert.Contains(t, joined, "$IIMWV,30.0,R,12.0,N,A*")
	assert.Contains(t, joined, "$IIHDG,45.0,")
}

func TestScheduler_WindNeedsBothStreams(t *testing.T) {
	sched, err := NewScheduler(newFakeSource(), map[string]float64{"wind_speed": 1})
	require.NoError(t, err)
	assert.Empty(t, sched.Categories())
}

func TestScheduler_MissingValueIsError(t *testing.T) {
	src := newFakeSource()
	delete(src.scalars, "depth")
	sched, err := NewScheduler(src, map[string]float64{"depth": 1})
	require.NoError(t, err)
	_, err = sched.Generate(time.Now())
	require.ErrorContains(t, err, "stream depth has no value")
}

func TestScheduler_DepthBelowKeel(t *testing.T) {
	sched, err := NewScheduler(newFakeSource(), map[string]float64{"depth": 1}, WithKeelOffset(1.8))
	require.NoError(t, err)
	out, err := sched.Generate(time.Now())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"IIDBT", "32.8", "f", "10.0", "M", "5.5", "F"}, fields(t, out[0]))
	assert.Equal(t, []string{"IIDPT", "10.0", "-1.8", ""}, fields(t, out[1]))
	assert.Equal(t, "8.2", fields(t, out[2])[3])

	src := newFakeSource()
	src.scalars["depth"] = 1
	sched, err = NewScheduler(src, map[string]float64{"depth": 1}, WithKeelOffset(1.8))
	require.NoError(t, err)
	out, err = sched.Generate(time.Now())
	require.NoError(t, err)
	assert.Equal(t, "0.0", fields(t, out[2])[3], "keel below the bottom reads zero")
}

func TestScheduler_AutopilotCategory(t *testing.T) {
	ap := autopilot.NewShared(90)
	sched, err := NewScheduler(newFakeSource(), map[string]float64{"depth": 1}, WithAutopilot(ap, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"autopilot", "depth"}, sched.Categories())

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out, err := sched.Generate(now)
	require.NoError(t, err)
	var types []string
	for _, s := range out {
		types = append(types, fields(t, s)[0])
	}
	assert.Equal(t, []string{"IIDBT", "IIDPT", "IIDBK", "APHTD", "APRSA"}, types)

	_, err = NewScheduler(newFakeSource(), nil, WithAutopilot(ap, 0))
	assert.ErrorContains(t, err, "category autopilot")
}

func TestScheduler_SpeedWithoutHeadingLeavesFieldEmpty(t *testing.T) {
	src := newFakeSource()
	delete(src.scalars, "heading")
	sched, err := NewScheduler(src, map[string]float64{"speed": 1})
	require.NoError(t, err)
	out, err := sched.Generate(time.Now())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"IIVHW", "", "T", "", "M", "6.0", "N", "11.1", "K"}, fields(t, out[0]))
}

type countingState struct {
	mu    sync.Mutex
	calls int
	st    vessel.State
}

func (c *countingState) Snapshot() vessel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	st := c.st
	st.Motion.HeadingDeg += float64(c.calls)
	return st
}

func TestSynchronized_OneSnapshotPerTick(t *testing.T) {
	src := &countingState{}
	src.st.Motion.SpeedKts = 6
	src.st.Motion.SpeedOverGroundKts = 6
	ap := autopilot.NewShared(90)

	gen, err := NewSynchronized(src, ap, DefaultRates)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out, err := gen.Generate(now)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	// gps 2, speed 2, heading 1, wind 2, depth 3, environment 1, autopilot 2
	assert.Len(t, out, 13)

	var vhw, hdt []string
	for _, s := range out {
		f := fields(t, s)
		switch f[0] {
		case "IIVHW":
			vhw = f
		case "IIHDT":
			hdt = f
		}
	}
	assert.Equal(t, vhw[1], hdt[1], "heading agrees across sentences of one tick")

	out, err = gen.Generate(now.Add(ScanInterval))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 1, src.calls, "no snapshot when nothing is due")

	out, err = gen.Generate(now.Add(200 * time.Millisecond))
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, 2, src.calls)
}

func TestSynchronized_DepthUsesKeelOffset(t *testing.T) {
	src := &countingState{}
	src.st.Environment.DepthM = 20
	gen, err := NewSynchronized(src, nil, map[string]float64{"depth": 1}, WithKeelOffset(1.9))
	require.NoError(t, err)
	out, err := gen.Generate(time.Now())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"IIDPT", "20.0", "-1.9", ""}, fields(t, out[1]))
	assert.Equal(t, []string{"IIDBK", "59.4", "f", "18.1", "M", "9.9", "F"}, fields(t, out[2]))
}

func TestNewSynchronized_RejectsBadRates(t *testing.T) {
	_, err := NewSynchronized(&countingState{}, nil, map[string]float64{"sonar": 1})
	assert.ErrorContains(t, err, `unknown sentence category "sonar"`)
	_, err = NewSynchronized(&countingState{}, nil, map[string]float64{"gps": 0})
	assert.ErrorContains(t, err, "category gps")
}

func TestCrossParameterConsistency(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	good := vessel.State{}
	good.Position.UpdatedAt = now
	good.Motion = vessel.MotionSection{SpeedKts: 6, UpdatedAt: now}
	good.Wind = vessel.WindSection{TrueSpeedKts: 12, ApparentSpeedKts: 15}
	assert.Equal(t, 1.0, CrossParameterConsistency(good))

	stale := good
	stale.Position.UpdatedAt = now.Add(-5 * time.Second)
	assert.InDelta(t, 1-penaltyStale, CrossParameterConsistency(stale), 1e-9)

	calm := good
	calm.Wind.ApparentSpeedKts = 0
	assert.InDelta(t, 1-penaltyWind, CrossParameterConsistency(calm), 1e-9)

	reversing := good
	reversing.Motion.SpeedKts = 0
	reversing.Motion.AccelKtsPerSec = -0.5
	assert.InDelta(t, 1-penaltyMotion, CrossParameterConsistency(reversing), 1e-9)

	both := calm
	both.Motion.SpeedKts = -1
	assert.InDelta(t, 1-penaltyWind-penaltyMotion, CrossParameterConsistency(both), 1e-9)
}

func TestRun_StopsOnErrorAndCancel(t *testing.T) {
	src := newFakeSource()
	delete(src.scalars, "depth")
	sched, err := NewScheduler(src, map[string]float64{"depth": 1})
	require.NoError(t, err)
	err = Run(context.Background(), sched, func(string) {}, zerolog.Nop())
	require.Error(t, err)

	sched, err = NewScheduler(newFakeSource(), map[string]float64{"depth": 20})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Millisecond)
	defer cancel()
	var mu sync.Mutex
	var got []string
	require.NoError(t, Run(ctx, sched, func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}, zerolog.Nop()))
	assert.GreaterOrEqual(t, len(got), 2)
}
