package nmea

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Float renders v with prec decimals. Non-finite values render as an empty
// (null) field.
func Float(v float64, prec int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// Lat renders a latitude as ddmm.mmmm plus hemisphere.
func Lat(deg float64) (string, string) {
	hemi := "N"
	if deg < 0 {
		hemi = "S"
		deg = -deg
	}
	d, m := splitDegrees(deg)
	return fmt.Sprintf("%02d%07.4f", d, m), hemi
}

// Lon renders a longitude as dddmm.mmmm plus hemisphere.
func Lon(deg float64) (string, string) {
	hemi := "E"
	if deg < 0 {
		hemi = "W"
		deg = -deg
	}
	d, m := splitDegrees(deg)
	return fmt.Sprintf("%03d%07.4f", d, m), hemi
}

func splitDegrees(deg float64) (int, float64) {
	d := math.Floor(deg)
	m := (deg - d) * 60
	// Rounding to 4 decimals can produce 60.0000; carry into degrees.
	if math.Round(m*1e4) >= 60*1e4 {
		d++
		m = 0
	}
	return int(d), m
}

// Time renders the UTC time of day as hhmmss.ss.
func Time(t time.Time) string {
	t = t.UTC()
	cs := t.Nanosecond() / int(10*time.Millisecond)
	return fmt.Sprintf("%02d%02d%02d.%02d", t.Hour(), t.Minute(), t.Second(), cs)
}

// Date renders the UTC date as ddmmyy.
func Date(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%02d%02d%02d", t.Day(), int(t.Month()), t.Year()%100)
}

// ParseLatLon parses NMEA lat/lon in ddmm.mmmm or dddmm.mmmm plus hemisphere.
func ParseLatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two digits of the integer part are whole minutes.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}

// ParseFloat parses an optional numeric field.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
