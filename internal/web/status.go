// Package web serves the diagnostics API on the WebSocket port.
package web

import (
	"sync/atomic"
	"time"
)

// Status holds process-wide counters updated by the output loops.
type Status struct {
	runID         string
	startUnixNano int64
	sentencesSent atomic.Uint64
	lastTickNano  atomic.Int64
	mode          atomic.Value // string
	source        atomic.Value // map[string]any
}

func NewStatus(runID string) *Status {
	s := &Status{runID: runID, startUnixNano: time.Now().UTC().UnixNano()}
	s.mode.Store("")
	s.source.Store(map[string]any{})
	return s
}

// SetStatic records the data source once it is running. Empty values leave
// the previous ones in place.
func (s *Status) SetStatic(mode string, source map[string]any) {
	if mode != "" {
		s.mode.Store(mode)
	}
	if source != nil {
		s.source.Store(source)
	}
}

// MarkTick notes an output tick that produced n sentences.
func (s *Status) MarkTick(nowUTC time.Time, n int) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.lastTickNano.Store(nowUTC.UnixNano())
	if n > 0 {
		s.sentencesSent.Add(uint64(n))
	}
}

func (s *Status) SentencesSent() uint64 { return s.sentencesSent.Load() }

type StatusSnapshot struct {
	Service       string         `json:"service"`
	RunID         string         `json:"run_id"`
	NowUTC        string         `json:"now_utc"`
	UptimeSec     int64          `json:"uptime_sec"`
	Mode          string         `json:"mode"`
	SentencesSent uint64         `json:"sentences_sent_total"`
	LastTickUTC   string         `json:"last_tick_utc,omitempty"`
	Source        map[string]any `json:"source"`
	Server        ServerStats    `json:"server"`
}

// ServerStats mirrors the protocol server totals.
type ServerStats struct {
	ActiveClients int    `json:"active_clients"`
	Broadcasts    uint64 `json:"sentences_broadcast"`
	Dropped       uint64 `json:"clients_dropped"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, s.startUnixNano).UTC()
	snap := StatusSnapshot{
		Service:       "nmea-bridge",
		RunID:         s.runID,
		NowUTC:        nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:     int64(nowUTC.Sub(start).Seconds()),
		Mode:          s.mode.Load().(string),
		SentencesSent: s.sentencesSent.Load(),
		Source:        s.source.Load().(map[string]any),
	}
	if last := s.lastTickNano.Load(); last != 0 {
		snap.LastTickUTC = time.Unix(0, last).UTC().Format(time.RFC3339Nano)
	}
	return snap
}
