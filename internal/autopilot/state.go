// Package autopilot decodes Raymarine keystroke commands carried in
// PGN 126720 and keeps the single shared autopilot state.
package autopilot

import (
	"math"
	"sync"
	"time"

	"nmea-bridge/internal/dynamics"
)

type Mode string

const (
	ModeStandby Mode = "standby"
	ModeAuto    Mode = "auto"
)

// maxRudderDeg bounds the derived rudder position; full rudder is reached
// at rudderFullErrorDeg of heading error.
const (
	maxRudderDeg       = 35.0
	rudderFullErrorDeg = 20.0
)

type State struct {
	Mode              Mode      `json:"mode"`
	Engaged           bool      `json:"engaged"`
	TargetHeadingDeg  float64   `json:"target_heading"`
	CurrentHeadingDeg float64   `json:"current_heading"`
	RudderDeg         float64   `json:"rudder_position"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Shared is the one autopilot state of a running process. It is built by
// the runtime and handed to the bridge, the sentence generators and the
// status API.
type Shared struct {
	mu  sync.RWMutex
	st  State
	now func() time.Time
}

func NewShared(headingDeg float64) *Shared {
	s := &Shared{now: time.Now}
	h := dynamics.NormalizeDeg(headingDeg)
	s.st = State{Mode: ModeStandby, TargetHeadingDeg: h, CurrentHeadingDeg: h, UpdatedAt: s.now()}
	return s
}

func (s *Shared) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// SetCurrentHeading records the measured heading and re-derives the rudder.
func (s *Shared) SetCurrentHeading(deg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.CurrentHeadingDeg = dynamics.NormalizeDeg(deg)
	s.st.RudderDeg = rudder(s.st)
	s.st.UpdatedAt = s.now()
}

// update applies fn under the lock and reports whether the state changed.
func (s *Shared) update(fn func(*State)) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.st
	fn(&s.st)
	s.st.TargetHeadingDeg = dynamics.NormalizeDeg(s.st.TargetHeadingDeg)
	s.st.RudderDeg = rudder(s.st)
	changed := s.st.Mode != before.Mode || s.st.Engaged != before.Engaged ||
		s.st.TargetHeadingDeg != before.TargetHeadingDeg
	if changed {
		s.st.UpdatedAt = s.now()
	}
	return s.st, changed
}

func rudder(st State) float64 {
	if !st.Engaged {
		return 0
	}
	errDeg := dynamics.ShortestArc(st.CurrentHeadingDeg, st.TargetHeadingDeg)
	return math.Max(-maxRudderDeg, math.Min(maxRudderDeg, errDeg/rudderFullErrorDeg*maxRudderDeg))
}
