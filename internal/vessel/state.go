// Package vessel wraps the dynamics engine with smoothing transition
// controllers and a temporal-coherence score. Its State is the single
// source every synchronized sentence is generated from.
package vessel

import (
	"time"

	"nmea-bridge/internal/dynamics"
)

type PositionSection struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MotionSection struct {
	HeadingDeg          float64   `json:"heading_deg"`
	SpeedKts            float64   `json:"speed_kts"`
	CourseOverGroundDeg float64   `json:"cog_deg"`
	SpeedOverGroundKts  float64   `json:"sog_kts"`
	AccelKtsPerSec      float64   `json:"accel_kts_per_sec"`
	TurnRateDPS         float64   `json:"turn_rate_dps"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type WindSection struct {
	TrueSpeedKts     float64   `json:"true_speed_kts"`
	TrueDirDeg       float64   `json:"true_dir_deg"`
	TrueAngleDeg     float64   `json:"true_angle_deg"`
	ApparentSpeedKts float64   `json:"apparent_speed_kts"`
	ApparentAngleDeg float64   `json:"apparent_angle_deg"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type EnvironmentSection struct {
	DepthM          float64   `json:"depth_m"`
	WaterTempC      float64   `json:"water_temp_c"`
	WaveHeightM     float64   `json:"wave_height_m"`
	SeaState        int       `json:"sea_state"`
	CurrentSpeedKts float64   `json:"current_speed_kts"`
	CurrentDirDeg   float64   `json:"current_dir_deg"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ControlSection struct {
	TargetHeadingDeg float64   `json:"target_heading_deg"`
	ThrottlePct      float64   `json:"throttle_pct"`
	RudderDeg        float64   `json:"rudder_deg"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Metadata struct {
	UpdateCount       uint64    `json:"update_count"`
	CoherenceScore    float64   `json:"coherence_score"`
	TemporalCoherence bool      `json:"temporal_coherence"`
	LastUpdate        time.Time `json:"last_update"`
}

// State is the coordinated, per-section timestamped vessel state.
type State struct {
	Position    PositionSection    `json:"position"`
	Motion      MotionSection      `json:"motion"`
	Wind        WindSection        `json:"wind"`
	Environment EnvironmentSection `json:"environment"`
	Control     ControlSection     `json:"control"`
	Metadata    Metadata           `json:"metadata"`
}

// Target is the latest commanded state. Controllers move toward it rather
// than snapping.
type Target struct {
	HeadingDeg  float64
	ThrottlePct float64
}

// Environment extends the physics environment with sensor-only values.
type Environment struct {
	dynamics.Environment
	DepthM     float64
	WaterTempC float64
}
