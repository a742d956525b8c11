package vessel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nmea-bridge/internal/dynamics"
	"nmea-bridge/internal/profile"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCoordinator(t *testing.T, name string) (*Coordinator, *fakeClock) {
	t.Helper()
	m, err := profile.NewManager("")
	require.NoError(t, err)
	p, err := m.Load(name)
	require.NoError(t, err)
	clk := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(dynamics.New(p), WithClock(clk.now), WithSmoothing(time.Second)), clk
}

func TestCoordinator_RegularUpdatesAreCoherent(t *testing.T) {
	c, clk := newTestCoordinator(t, "powerboat-28")
	env := Environment{DepthM: 12, WaterTempC: 18}
	var st State
	for i := 0; i < 20; i++ {
		clk.advance(100 * time.Millisecond)
		st = c.Update(100*time.Millisecond, Target{HeadingDeg: 180, ThrottlePct: 60}, env)
	}
	assert.Equal(t, uint64(20), st.Metadata.UpdateCount)
	assert.InDelta(t, 1.0, st.Metadata.CoherenceScore, 1e-9)
	assert.True(t, st.Metadata.TemporalCoherence)
	assert.Equal(t, clk.t, st.Metadata.LastUpdate)
	assert.Equal(t, clk.t, st.Motion.UpdatedAt)
	assert.Equal(t, st, c.Snapshot())
}

func TestCoordinator_IrregularUpdatesLoseCoherence(t *testing.T) {
	c, clk := newTestCoordinator(t, "powerboat-28")
	gaps := []time.Duration{10, 400, 20, 900, 15, 600, 30, 800}
	var st State
	for _, g := range gaps {
		d := g * time.Millisecond
		clk.advance(d)
		st = c.Update(d, Target{HeadingDeg: 180, ThrottlePct: 60}, Environment{})
	}
	assert.Less(t, st.Metadata.CoherenceScore, coherentScore)
	assert.False(t, st.Metadata.TemporalCoherence)
}

func TestCoordinator_TooFewSamplesNotCoherent(t *testing.T) {
	c, clk := newTestCoordinator(t, "powerboat-28")
	clk.advance(time.Second)
	st := c.Update(time.Second, Target{HeadingDeg: 180}, Environment{})
	assert.False(t, st.Metadata.TemporalCoherence)
	assert.Equal(t, 1.0, st.Metadata.CoherenceScore)
}

func TestCoordinator_SmoothsTargetChanges(t *testing.T) {
	c, clk := newTestCoordinator(t, "powerboat-28")
	env := Environment{DepthM: 10}
	clk.advance(100 * time.Millisecond)
	c.Update(100*time.Millisecond, Target{HeadingDeg: 180, ThrottlePct: 20}, env)

	clk.advance(100 * time.Millisecond)
	st := c.Update(100*time.Millisecond, Target{HeadingDeg: 180, ThrottlePct: 80}, Environment{DepthM: 30})
	assert.Greater(t, st.Control.ThrottlePct, 20.0)
	assert.Less(t, st.Control.ThrottlePct, 80.0)
	assert.Greater(t, st.Environment.DepthM, 10.0)
	assert.Less(t, st.Environment.DepthM, 30.0)
	assert.Equal(t, 180.0, st.Control.TargetHeadingDeg)
}

func TestCoordinator_RudderFollowsTurn(t *testing.T) {
	c, clk := newTestCoordinator(t, "powerboat-28")
	var st State
	for i := 0; i < 10; i++ {
		clk.advance(100 * time.Millisecond)
		st = c.Update(100*time.Millisecond, Target{HeadingDeg: 270, ThrottlePct: 60}, Environment{})
	}
	assert.Greater(t, st.Motion.TurnRateDPS, 0.0)
	assert.Greater(t, st.Control.RudderDeg, 0.0)
	assert.LessOrEqual(t, st.Control.RudderDeg, maxRudderDeg)
}

func TestCoordinator_Reset(t *testing.T) {
	c, clk := newTestCoordinator(t, "sailboat-35")
	initial := c.Snapshot()
	for i := 0; i < 5; i++ {
		clk.advance(time.Second)
		c.Update(time.Second, Target{HeadingDeg: 90}, Environment{Environment: dynamics.Environment{TrueWindSpeedKts: 12, TrueWindDirDeg: 0}})
	}
	require.NotEqual(t, initial.Position, c.Snapshot().Position)

	c.Reset()
	st := c.Snapshot()
	assert.Equal(t, uint64(0), st.Metadata.UpdateCount)
	assert.Equal(t, initial.Position.Lat, st.Position.Lat)
	assert.Equal(t, initial.Position.Lon, st.Position.Lon)
	assert.Equal(t, initial.Motion.HeadingDeg, st.Motion.HeadingDeg)
	assert.Equal(t, 1.0, c.CoherenceScore())
}

func TestCoherence(t *testing.T) {
	assert.Equal(t, 1.0, coherence(nil))
	assert.Equal(t, 1.0, coherence([]float64{0.1, 0.1, 0.1}))
	// gaps 1 and 3: mean 2, stddev 1, cv 0.5
	assert.InDelta(t, 1/1.5, coherence([]float64{1, 3}), 1e-9)
}
