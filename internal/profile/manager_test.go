package profile

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinProfilesLoad(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	names, err := m.AvailableProfiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"powerboat-28", "sailboat-35"}, names)

	sail, err := m.Load("sailboat-35")
	require.NoError(t, err)
	assert.Equal(t, Sailboat, sail.Type)
	require.NotNil(t, sail.Polar)
	// 1.34 * sqrt(9.1 m in feet)
	assert.InDelta(t, 7.32, sail.Derived.HullSpeedKts, 0.01)
	assert.Equal(t, sail.Derived.HullSpeedKts, sail.Derived.MaxSpeedKts)
	assert.InDelta(t, 2400.0/6800.0, sail.Derived.BallastRatio, 1e-9)
	assert.Greater(t, sail.Derived.DisplacementLengthRatio, 100.0)

	power, err := m.Load("powerboat-28")
	require.NoError(t, err)
	assert.Nil(t, power.Polar)
	assert.Equal(t, 34.0, power.Derived.MaxSpeedKts)
	assert.InDelta(t, 350/4.2, power.Derived.PowerToWeight, 1e-9)
}

func TestLoad_ReturnsCachedInstance(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	a, err := m.Load("sailboat-35")
	require.NoError(t, err)
	b, err := m.Load("sailboat-35")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestLoad_MissingProfileListsAvailable(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	_, err = m.Load("catamaran")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), `"catamaran"`)
	assert.Contains(t, err.Error(), "powerboat-28, sailboat-35")
}

func TestLoad_ValidationNamesField(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		field string
	}{
		{
			name: "SailboatWithoutPolar",
			doc: `
name: s
type: sailboat
dimensions: {length_m: 10, beam_m: 3, draft_m: 1.5, displacement_kg: 5000, ballast_kg: 1500}
physics: {momentum_factor: 1, max_turn_rate_dps: 6}
`,
			field: "performance.polar_diagram",
		},
		{
			name: "SailboatUnknownPolar",
			doc: `
name: s
type: sailboat
dimensions: {length_m: 10, beam_m: 3, draft_m: 1.5, displacement_kg: 5000, ballast_kg: 1500}
performance: {polar_diagram: nope}
physics: {momentum_factor: 1, max_turn_rate_dps: 6}
`,
			field: "performance.polar_diagram",
		},
		{
			name: "PowerboatWithoutCruise",
			doc: `
name: p
type: powerboat
dimensions: {length_m: 8, beam_m: 2.5, draft_m: 0.8, displacement_kg: 3000}
physics: {momentum_factor: 1, max_turn_rate_dps: 12}
`,
			field: "performance.cruise_speed_kts",
		},
		{
			name: "LengthOutOfRange",
			doc: `
name: p
type: powerboat
dimensions: {length_m: 500, beam_m: 2.5, draft_m: 0.8, displacement_kg: 3000}
performance: {cruise_speed_kts: 20}
physics: {momentum_factor: 1, max_turn_rate_dps: 12}
`,
			field: "dimensions.length_m",
		},
		{
			name: "UnknownType",
			doc: `
name: p
type: submarine
dimensions: {length_m: 8, beam_m: 2.5, draft_m: 0.8, displacement_kg: 3000}
physics: {momentum_factor: 1, max_turn_rate_dps: 12}
`,
			field: "type",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := fstest.MapFS{"custom.yaml": {Data: []byte(tc.doc)}}
			m, err := NewManagerFS(src, Builtin())
			require.NoError(t, err)

			_, err = m.Load("custom")
			require.Error(t, err)
			var fe *FieldError
			require.True(t, errors.As(err, &fe), "err=%v", err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestApplyOverrides_DoesNotMutateCached(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	base, err := m.Load("powerboat-28")
	require.NoError(t, err)

	out, err := m.ApplyOverrides(base, map[string]any{
		"performance": map[string]any{"max_speed_kts": 40},
		"defaults":    map[string]any{"heading_deg": 270},
	})
	require.NoError(t, err)
	assert.NotSame(t, base, out)

	assert.Equal(t, 40.0, out.Derived.MaxSpeedKts)
	assert.Equal(t, 270.0, out.Defaults.HeadingDeg)
	// Untouched siblings survive the merge.
	assert.Equal(t, 24.0, out.Performance.CruiseSpeedKts)
	assert.Len(t, out.Performance.ThrottleCurve, 5)

	again, err := m.Load("powerboat-28")
	require.NoError(t, err)
	assert.Same(t, base, again)
	assert.Equal(t, 34.0, base.Derived.MaxSpeedKts)
	assert.Equal(t, 180.0, base.Defaults.HeadingDeg)

	out.Performance.ThrottleCurve[0].SpeedKts = 99
	assert.Equal(t, 0.0, base.Performance.ThrottleCurve[0].SpeedKts)
}

func TestApplyOverrides_Revalidates(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	base, err := m.Load("sailboat-35")
	require.NoError(t, err)

	_, err = m.ApplyOverrides(base, map[string]any{"physics": map[string]any{"momentum_factor": -1}})
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "physics.momentum_factor", fe.Field)
}

func TestApplyOverrides_RejectsUnknownKeys(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	base, err := m.Load("sailboat-35")
	require.NoError(t, err)

	_, err = m.ApplyOverrides(base, map[string]any{"physics": map[string]any{"max_turn_rat": 9}})
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "overrides", fe.Field)
	assert.Contains(t, fe.Reason, "max_turn_rat")

	out, err := m.ApplyOverrides(base, map[string]any{"physics": map[string]any{"max_turn_rate_dps": 9}})
	require.NoError(t, err)
	assert.Equal(t, 9.0, out.Physics.MaxTurnRateDPS)
}

func TestPolar_BoatSpeedInterpolates(t *testing.T) {
	p := &Polar{
		TWS:   []float64{0, 10},
		TWA:   []float64{0, 90, 180},
		Speed: [][]float64{{0, 0}, {0, 6}, {0, 4}},
	}
	require.NoError(t, p.validate())

	assert.InDelta(t, 6, p.BoatSpeed(90, 10), 1e-9)
	assert.InDelta(t, 3, p.BoatSpeed(90, 5), 1e-9)
	assert.InDelta(t, 5, p.BoatSpeed(135, 10), 1e-9)
	// Port and starboard are symmetric; wind beyond the table clamps.
	assert.InDelta(t, 6, p.BoatSpeed(-90, 25), 1e-9)
	assert.InDelta(t, 6, p.BoatSpeed(270, 10), 1e-9)
	assert.Equal(t, 6.0, p.MaxSpeed())
}

func TestThrottleSpeed(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	p, err := m.Load("powerboat-28")
	require.NoError(t, err)

	assert.Equal(t, 0.0, p.ThrottleSpeedKts(0))
	assert.InDelta(t, 11, p.ThrottleSpeedKts(35), 1e-9)
	assert.Equal(t, 34.0, p.ThrottleSpeedKts(150))
}
