package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"nmea-bridge/internal/nmea"
	"nmea-bridge/internal/replay"
)

type position struct {
	Lat, Lon float64
}

type recordingSummary struct {
	Sentences int
	Invalid   int
	Duration  time.Duration
	Counts    map[string]int
	// First and Last are nil when no GGA or RMC carried a usable fix.
	First, Last *position
	MaxSOGKts   float64
}

// summarizeTimeline counts sentences by talker and type and tracks the
// positions reported by GGA and RMC. Lines that fail the checksum are
// counted as invalid and skipped.
func summarizeTimeline(tl *replay.Timeline) recordingSummary {
	s := recordingSummary{Counts: map[string]int{}, Duration: tl.Duration}
	for _, e := range tl.Entries {
		s.Sentences++
		sen, err := nmea.Parse(e.Sentence)
		if err != nil {
			s.Invalid++
			continue
		}
		s.Counts[sen.Talker+sen.Type]++

		if pos, ok := fixOf(sen); ok {
			if s.First == nil {
				s.First = &pos
			}
			s.Last = &pos
		}
		if sen.Type == "RMC" && len(sen.Fields) > 7 && sen.Fields[2] == "A" {
			if sog, ok := nmea.ParseFloat(sen.Fields[7]); ok && sog > s.MaxSOGKts {
				s.MaxSOGKts = sog
			}
		}
	}
	return s
}

// fixOf extracts the position from a GGA with a non-zero fix quality or an
// RMC with status A.
func fixOf(sen nmea.Sentence) (position, bool) {
	var latIdx int
	switch sen.Type {
	case "GGA":
		if len(sen.Fields) < 7 {
			return position{}, false
		}
		if q, ok := nmea.ParseFloat(sen.Fields[6]); !ok || q == 0 {
			return position{}, false
		}
		latIdx = 2
	case "RMC":
		if len(sen.Fields) < 7 || sen.Fields[2] != "A" {
			return position{}, false
		}
		latIdx = 3
	default:
		return position{}, false
	}
	lat, ok := nmea.ParseLatLon(sen.Fields[latIdx], sen.Fields[latIdx+1])
	if !ok {
		return position{}, false
	}
	lon, ok := nmea.ParseLatLon(sen.Fields[latIdx+2], sen.Fields[latIdx+3])
	if !ok {
		return position{}, false
	}
	return position{Lat: lat, Lon: lon}, true
}

func printRecordingSummary(w io.Writer, path string) error {
	tl, err := replay.LoadTimeline(path)
	if err != nil {
		return err
	}
	s := summarizeTimeline(tl)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "sentences: %d\n", s.Sentences)
	fmt.Fprintf(w, "invalid_sentences: %d\n", s.Invalid)
	fmt.Fprintf(w, "duration: %s\n", s.Duration)
	if s.First != nil {
		fmt.Fprintf(w, "start_position: %.5f,%.5f\n", s.First.Lat, s.First.Lon)
		fmt.Fprintf(w, "end_position: %.5f,%.5f\n", s.Last.Lat, s.Last.Lon)
		fmt.Fprintf(w, "max_sog_kts: %.1f\n", s.MaxSOGKts)
	}

	keys := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "sentence_counts:\n")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d\n", k, s.Counts[k])
	}
	return nil
}
