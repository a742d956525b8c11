package profile

import (
	"errors"
	"fmt"
	"math"
)

// FieldError names the profile field that failed validation.
type FieldError struct {
	Profile string
	Field   string
	Reason  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("vessel profile %q: %s %s", e.Profile, e.Field, e.Reason)
}

type validator struct {
	profile string
	errs    []error
}

func (v *validator) fail(field, format string, args ...any) {
	v.errs = append(v.errs, &FieldError{Profile: v.profile, Field: field, Reason: fmt.Sprintf(format, args...)})
}

func (v *validator) rangeCheck(field string, val, min, max float64) {
	if math.IsNaN(val) || math.IsInf(val, 0) || val < min || val > max {
		v.fail(field, "must be between %g and %g (got %g)", min, max, val)
	}
}

func (v *validator) positive(field string, val, max float64) {
	if math.IsNaN(val) || val <= 0 || val > max {
		v.fail(field, "must be > 0 and <= %g (got %g)", max, val)
	}
}

// validate checks required fields, type-specific requirements and numeric
// ranges. All problems are returned joined; each is a *FieldError.
func validate(p *Profile) error {
	v := &validator{profile: p.Name}
	if p.Name == "" {
		v.profile = "(unnamed)"
		v.fail("name", "is required")
	}

	switch p.Type {
	case Sailboat, Powerboat:
	case "":
		v.fail("type", "is required")
	default:
		v.fail("type", "must be %q or %q (got %q)", Sailboat, Powerboat, p.Type)
	}

	d := p.Dimensions
	v.rangeCheck("dimensions.length_m", d.LengthM, 2, 100)
	if d.WaterlineM != 0 {
		v.rangeCheck("dimensions.waterline_m", d.WaterlineM, 1, math.Max(d.LengthM, 1))
	}
	v.positive("dimensions.beam_m", d.BeamM, math.Max(d.LengthM, 0.1))
	v.rangeCheck("dimensions.draft_m", d.DraftM, 0, 10)
	v.positive("dimensions.displacement_kg", d.DisplacementKg, 5e6)

	perf := p.Performance
	switch p.Type {
	case Sailboat:
		if perf.PolarDiagram == "" {
			v.fail("performance.polar_diagram", "is required for sailboats")
		}
		if d.BallastKg < 0 || (d.DisplacementKg > 0 && d.BallastKg >= d.DisplacementKg) {
			v.fail("dimensions.ballast_kg", "must be >= 0 and below displacement_kg (got %g)", d.BallastKg)
		}
	case Powerboat:
		if perf.CruiseSpeedKts == 0 {
			v.fail("performance.cruise_speed_kts", "is required for powerboats")
		} else {
			v.positive("performance.cruise_speed_kts", perf.CruiseSpeedKts, 80)
		}
		if perf.MaxSpeedKts != 0 && perf.MaxSpeedKts < perf.CruiseSpeedKts {
			v.fail("performance.max_speed_kts", "must be >= cruise_speed_kts (got %g)", perf.MaxSpeedKts)
		}
		if perf.EngineHP < 0 {
			v.fail("performance.engine_hp", "must be >= 0 (got %g)", perf.EngineHP)
		}
		for i, pt := range perf.ThrottleCurve {
			field := fmt.Sprintf("performance.throttle_curve[%d]", i)
			if pt.ThrottlePct < 0 || pt.ThrottlePct > 100 {
				v.fail(field+".throttle_pct", "must be between 0 and 100 (got %g)", pt.ThrottlePct)
			}
			if pt.SpeedKts < 0 || pt.SpeedKts > 80 {
				v.fail(field+".speed_kts", "must be between 0 and 80 (got %g)", pt.SpeedKts)
			}
			if i > 0 && pt.ThrottlePct <= perf.ThrottleCurve[i-1].ThrottlePct {
				v.fail(field+".throttle_pct", "must be strictly increasing")
			}
		}
	}

	v.positive("physics.momentum_factor", p.Physics.MomentumFactor, 10)
	v.positive("physics.max_turn_rate_dps", p.Physics.MaxTurnRateDPS, 60)
	v.rangeCheck("physics.drag_coefficient", p.Physics.DragCoefficient, 0, 2)

	def := p.Defaults
	if def.HeadingDeg < 0 || def.HeadingDeg >= 360 {
		v.fail("defaults.heading_deg", "must be within [0, 360) (got %g)", def.HeadingDeg)
	}
	v.rangeCheck("defaults.speed_kts", def.SpeedKts, 0, 80)
	v.rangeCheck("defaults.latitude", def.Latitude, -90, 90)
	v.rangeCheck("defaults.longitude", def.Longitude, -180, 180)
	v.rangeCheck("defaults.throttle_pct", def.ThrottlePct, 0, 100)

	return errors.Join(v.errs...)
}
