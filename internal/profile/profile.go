// Package profile loads, validates and caches vessel profiles: the physical
// dimensions, performance envelope and physics coefficients that bound the
// dynamics engine.
package profile

import "math"

type Type string

const (
	Sailboat  Type = "sailboat"
	Powerboat Type = "powerboat"
)

const (
	metersToFeet = 3.28084
	kgPerLongTon = 1016.047
	// hullSpeedK is the speed/length ratio of a displacement hull (knots, feet).
	hullSpeedK = 1.34
)

// Profile is a named vessel parameter set.
//
// YAML schema (JSON is accepted too):
//
//	name: Cruiser 35
//	type: sailboat            # or powerboat
//	category: cruiser
//	dimensions:
//	  length_m: 10.7
//	  waterline_m: 9.1
//	  beam_m: 3.5
//	  draft_m: 1.8
//	  displacement_kg: 6800
//	  ballast_kg: 2400
//	performance:
//	  polar_diagram: cruiser-35  # sailboats; resolved under polars/
//	  cruise_speed_kts: 22       # powerboats
//	physics:
//	  momentum_factor: 1.0
//	  max_turn_rate_dps: 6
//	defaults:
//	  heading_deg: 90
//	  latitude: 41.35
//	  longitude: -71.9
type Profile struct {
	Name        string      `yaml:"name"`
	Type        Type        `yaml:"type"`
	Category    string      `yaml:"category"`
	Dimensions  Dimensions  `yaml:"dimensions"`
	Performance Performance `yaml:"performance"`
	Physics     Physics     `yaml:"physics"`
	Defaults    Defaults    `yaml:"defaults"`

	// Polar is the resolved polar_diagram of a sailboat.
	Polar   *Polar  `yaml:"-"`
	Derived Derived `yaml:"-"`
}

type Dimensions struct {
	LengthM        float64 `yaml:"length_m"`
	WaterlineM     float64 `yaml:"waterline_m"`
	BeamM          float64 `yaml:"beam_m"`
	DraftM         float64 `yaml:"draft_m"`
	DisplacementKg float64 `yaml:"displacement_kg"`
	BallastKg      float64 `yaml:"ballast_kg"`
}

type Performance struct {
	PolarDiagram   string          `yaml:"polar_diagram"`
	CruiseSpeedKts float64         `yaml:"cruise_speed_kts"`
	MaxSpeedKts    float64         `yaml:"max_speed_kts"`
	EngineHP       float64         `yaml:"engine_hp"`
	MaxRPM         float64         `yaml:"max_rpm"`
	ThrottleCurve  []ThrottlePoint `yaml:"throttle_curve"`
}

// ThrottlePoint maps a throttle setting to a steady-state speed.
type ThrottlePoint struct {
	ThrottlePct float64 `yaml:"throttle_pct"`
	SpeedKts    float64 `yaml:"speed_kts"`
}

type Physics struct {
	// MomentumFactor scales inertia: >1 accelerates and decelerates slower.
	MomentumFactor float64 `yaml:"momentum_factor"`
	MaxTurnRateDPS float64 `yaml:"max_turn_rate_dps"`
	// DragCoefficient adds deceleration proportional to speed when coasting.
	DragCoefficient float64 `yaml:"drag_coefficient"`
}

type Defaults struct {
	HeadingDeg  float64 `yaml:"heading_deg"`
	SpeedKts    float64 `yaml:"speed_kts"`
	Latitude    float64 `yaml:"latitude"`
	Longitude   float64 `yaml:"longitude"`
	ThrottlePct float64 `yaml:"throttle_pct"`
}

// Derived holds quantities computed from the declared fields on load.
type Derived struct {
	WaterlineM              float64 `json:"waterline_m"`
	HullSpeedKts            float64 `json:"hull_speed_kts"`
	MaxSpeedKts             float64 `json:"max_speed_kts"`
	DisplacementLengthRatio float64 `json:"displacement_length_ratio,omitempty"`
	BallastRatio            float64 `json:"ballast_ratio,omitempty"`
	PowerToWeight           float64 `json:"power_to_weight,omitempty"`
}

// HullSpeedKts returns the theoretical displacement hull speed for a
// waterline length in meters.
func HullSpeedKts(waterlineM float64) float64 {
	if waterlineM <= 0 {
		return 0
	}
	return hullSpeedK * math.Sqrt(waterlineM*metersToFeet)
}

func derive(p *Profile) Derived {
	d := Derived{WaterlineM: p.Dimensions.WaterlineM}
	if d.WaterlineM <= 0 {
		d.WaterlineM = p.Dimensions.LengthM
	}
	d.HullSpeedKts = HullSpeedKts(d.WaterlineM)

	switch p.Type {
	case Sailboat:
		lwlFt := d.WaterlineM * metersToFeet
		d.DisplacementLengthRatio = (p.Dimensions.DisplacementKg / kgPerLongTon) / math.Pow(0.01*lwlFt, 3)
		if p.Dimensions.DisplacementKg > 0 {
			d.BallastRatio = p.Dimensions.BallastKg / p.Dimensions.DisplacementKg
		}
		d.MaxSpeedKts = d.HullSpeedKts
		if p.Performance.MaxSpeedKts > 0 && p.Performance.MaxSpeedKts < d.MaxSpeedKts {
			d.MaxSpeedKts = p.Performance.MaxSpeedKts
		}
	case Powerboat:
		if p.Dimensions.DisplacementKg > 0 {
			d.PowerToWeight = p.Performance.EngineHP / (p.Dimensions.DisplacementKg / 1000)
		}
		d.MaxSpeedKts = p.Performance.CruiseSpeedKts
		if p.Performance.MaxSpeedKts > d.MaxSpeedKts {
			d.MaxSpeedKts = p.Performance.MaxSpeedKts
		}
		for _, pt := range p.Performance.ThrottleCurve {
			if pt.SpeedKts > d.MaxSpeedKts {
				d.MaxSpeedKts = pt.SpeedKts
			}
		}
	}
	return d
}

// ThrottleSpeedKts returns the steady-state speed for a throttle setting in
// percent, interpolating the throttle curve. Without a curve the speed is
// linear in throttle up to the derived maximum.
func (p *Profile) ThrottleSpeedKts(throttlePct float64) float64 {
	throttlePct = math.Max(0, math.Min(100, throttlePct))
	curve := p.Performance.ThrottleCurve
	if len(curve) == 0 {
		return p.Derived.MaxSpeedKts * throttlePct / 100
	}
	if throttlePct <= curve[0].ThrottlePct {
		return curve[0].SpeedKts
	}
	for i := 1; i < len(curve); i++ {
		a, b := curve[i-1], curve[i]
		if throttlePct <= b.ThrottlePct {
			f := (throttlePct - a.ThrottlePct) / (b.ThrottlePct - a.ThrottlePct)
			return a.SpeedKts + f*(b.SpeedKts-a.SpeedKts)
		}
	}
	return curve[len(curve)-1].SpeedKts
}
