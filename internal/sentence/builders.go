// Package sentence builds NMEA 0183 sentences from scenario streams or the
// coordinated vessel state and decides which categories are due.
package sentence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"nmea-bridge/internal/autopilot"
	"nmea-bridge/internal/dynamics"
	"nmea-bridge/internal/nmea"
	"nmea-bridge/internal/scenario"
)

// Talker ids.
const (
	Instruments = "II"
	GNSS        = "GP"
	Autopilot   = "AP"
	EngineRoom  = "ER"
	Transducer  = "YX"
)

const (
	feetPerMeter    = 3.28084
	fathomsPerMeter = 0.546807
	kmhPerKnot      = 1.852
)

// DBT is depth below transducer in feet, meters and fathoms.
func DBT(depthM float64) string {
	return nmea.Encode(Instruments, "DBT",
		nmea.Float(depthM*feetPerMeter, 1), "f",
		nmea.Float(depthM, 1), "M",
		nmea.Float(depthM*fathomsPerMeter, 1), "F")
}

// DPT is depth below transducer with the transducer offset (positive to
// the waterline, negative to the keel).
func DPT(depthM, offsetM float64) string {
	return nmea.Encode(Instruments, "DPT", nmea.Float(depthM, 1), nmea.Float(offsetM, 1), "")
}

// DBK is depth below keel.
func DBK(depthBelowKeelM float64) string {
	return nmea.Encode(Instruments, "DBK",
		nmea.Float(depthBelowKeelM*feetPerMeter, 1), "f",
		nmea.Float(depthBelowKeelM, 1), "M",
		nmea.Float(depthBelowKeelM*fathomsPerMeter, 1), "F")
}

// VTG is course and speed over ground. Magnetic course is left empty.
func VTG(talker string, cogDeg, sogKts float64) string {
	return nmea.Encode(talker, "VTG",
		nmea.Float(dynamics.NormalizeDeg(cogDeg), 1), "T", "", "M",
		nmea.Float(sogKts, 1), "N",
		nmea.Float(sogKts*kmhPerKnot, 1), "K", "A")
}

// VHW is heading and speed through water.
func VHW(headingDeg, speedKts float64) string {
	return nmea.Encode(Instruments, "VHW",
		nmea.Float(dynamics.NormalizeDeg(headingDeg), 1), "T", "", "M",
		nmea.Float(speedKts, 1), "N",
		nmea.Float(speedKts*kmhPerKnot, 1), "K")
}

// MWV is wind angle and speed; reference is "R" (relative, apparent) or
// "T" (theoretical, true). Both angles are measured from the bow.
func MWV(angleDeg float64, reference string, speedKts float64) string {
	return nmea.Encode(Instruments, "MWV",
		nmea.Float(dynamics.NormalizeDeg(angleDeg), 1), reference,
		nmea.Float(speedKts, 1), "N", "A")
}

func GGA(t time.Time, fix scenario.Fix) string {
	lat, ns := nmea.Lat(fix.Lat)
	lon, ew := nmea.Lon(fix.Lon)
	return nmea.Encode(GNSS, "GGA",
		nmea.Time(t), lat, ns, lon, ew,
		"1", fmt.Sprintf("%02d", fix.Satellites), "0.9",
		nmea.Float(fix.AltitudeM, 1), "M", "", "M", "", "")
}

func RMC(t time.Time, fix scenario.Fix) string {
	lat, ns := nmea.Lat(fix.Lat)
	lon, ew := nmea.Lon(fix.Lon)
	return nmea.Encode(GNSS, "RMC",
		nmea.Time(t), "A", lat, ns, lon, ew,
		nmea.Float(fix.SpeedKts, 1), nmea.Float(dynamics.NormalizeDeg(fix.CourseDeg), 1),
		nmea.Date(t), "", "", "A")
}

func ZDA(t time.Time) string {
	t = t.UTC()
	return nmea.Encode(GNSS, "ZDA",
		nmea.Time(t), fmt.Sprintf("%02d", t.Day()), fmt.Sprintf("%02d", int(t.Month())),
		strconv.Itoa(t.Year()), "00", "00")
}

// HDG is magnetic heading; deviation and variation are left empty.
func HDG(headingDeg float64) string {
	return nmea.Encode(Instruments, "HDG", nmea.Float(dynamics.NormalizeDeg(headingDeg), 1), "", "", "", "")
}

func HDT(headingDeg float64) string {
	return nmea.Encode(Instruments, "HDT", nmea.Float(dynamics.NormalizeDeg(headingDeg), 1), "T")
}

func MTW(tempC float64) string {
	return nmea.Encode(Instruments, "MTW", nmea.Float(tempC, 1), "C")
}

// Measurement is one XDR quadruplet.
type Measurement struct {
	// Type is the transducer type: C temperature, U voltage, V volume.
	Type  string
	Value float64
	Unit  string
	ID    string
}

func XDR(ms ...Measurement) string {
	fields := make([]string, 0, 4*len(ms))
	for _, m := range ms {
		fields = append(fields, m.Type, nmea.Float(m.Value, 1), m.Unit, m.ID)
	}
	return nmea.Encode(Transducer, "XDR", fields...)
}

// InstanceID turns a collection member into a stable XDR id such as
// TANK_FUEL.
func InstanceID(prefix, id string) string {
	return prefix + "_" + strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_", ",", "_", "*", "_").Replace(id))
}

// RPM is engine revolutions; engine numbers start at 1.
func RPM(engine int, rpm float64) string {
	return nmea.Encode(EngineRoom, "RPM", "E", strconv.Itoa(engine), nmea.Float(rpm, 0), "", "A")
}

// HTD reports heading control: steering mode H when engaged, M otherwise.
func HTD(ap autopilot.State) string {
	mode, status := "M", "V"
	if ap.Engaged {
		mode, status = "H", "A"
	}
	dir := "R"
	if ap.RudderDeg < 0 {
		dir = "L"
	}
	rudder := ap.RudderDeg
	if rudder < 0 {
		rudder = -rudder
	}
	return nmea.Encode(Autopilot, "HTD",
		"V", nmea.Float(rudder, 1), dir, mode, "N",
		"", "", "", "",
		nmea.Float(ap.TargetHeadingDeg, 1), "", "", "T",
		status, status, "A",
		nmea.Float(ap.CurrentHeadingDeg, 1))
}

// RSA is the rudder angle; negative is port.
func RSA(rudderDeg float64) string {
	return nmea.Encode(Autopilot, "RSA", nmea.Float(rudderDeg, 1), "A", "", "")
}
