package scenario

import (
	"fmt"
	"math"
	"time"
)

// Fix is a complete GNSS position report.
type Fix struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	SpeedKts   float64 `json:"speed_kts"`
	CourseDeg  float64 `json:"course_deg"`
	AltitudeM  float64 `json:"altitude_m"`
	Satellites int     `json:"satellites"`
}

// Value holds exactly one of a scalar, a fix or an instance collection,
// according to the stream's category.
type Value struct {
	Category  Category           `json:"-"`
	Scalar    float64            `json:"scalar,omitempty"`
	GPS       *Fix               `json:"gps,omitempty"`
	Instances map[string]float64 `json:"instances,omitempty"`
}

func ScalarValue(v float64) Value { return Value{Category: CategoryScalar, Scalar: v} }

func GPSValue(f Fix) Value { return Value{Category: CategoryGPS, GPS: &f} }

// StreamState is a stream's latest value.
type StreamState struct {
	Value     Value     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// check rejects values that do not fit the category or are not finite.
func (v Value) check(cat Category, instances []string) error {
	if v.Category != cat {
		return fmt.Errorf("produced a %s value, want %s", v.Category, cat)
	}
	switch cat {
	case CategoryScalar:
		if !finite(v.Scalar) {
			return fmt.Errorf("non-finite value %v", v.Scalar)
		}
	case CategoryGPS:
		f := v.GPS
		if f == nil {
			return fmt.Errorf("incomplete gps fix")
		}
		for name, x := range map[string]float64{
			"lat": f.Lat, "lon": f.Lon, "speed": f.SpeedKts, "course": f.CourseDeg, "altitude": f.AltitudeM,
		} {
			if !finite(x) {
				return fmt.Errorf("gps fix %s is not finite", name)
			}
		}
		if f.Lat < -90 || f.Lat > 90 || f.Lon < -180 || f.Lon > 180 {
			return fmt.Errorf("gps fix %.6f,%.6f out of range", f.Lat, f.Lon)
		}
		if f.Satellites < 0 {
			return fmt.Errorf("gps fix satellites must be >= 0")
		}
	case CategoryInstances:
		for _, id := range instances {
			x, ok := v.Instances[id]
			if !ok {
				return fmt.Errorf("instance %q has no value", id)
			}
			if !finite(x) {
				return fmt.Errorf("instance %q: non-finite value %v", id, x)
			}
		}
	}
	return nil
}

func (c Category) String() string {
	switch c {
	case CategoryScalar:
		return "scalar"
	case CategoryGPS:
		return "gps"
	case CategoryInstances:
		return "instances"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
