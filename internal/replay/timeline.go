package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// File format: JSON, gzip-compressed when the name ends in .gz.
//
//	{
//	  "messages": [
//	    {"relative_time": 0.0, "message": "$IIDBT,..."},
//	    {"relative_time": 0.5, "sentence": "$GPGGA,..."}
//	  ],
//	  "metadata": {"duration": 12.5}
//	}
//
// relative_time is seconds from the start of the recording. The payload
// key may be message, sentence, data or raw.

// Entry is one recorded sentence.
type Entry struct {
	At       time.Duration
	Sentence string
}

// Timeline is an immutable, non-decreasing sequence of entries.
type Timeline struct {
	Entries  []Entry
	Duration time.Duration
}

type fileEntry struct {
	RelativeTime *float64 `json:"relative_time"`
	Message      string   `json:"message,omitempty"`
	Sentence     string   `json:"sentence,omitempty"`
	Data         string   `json:"data,omitempty"`
	Raw          string   `json:"raw,omitempty"`
}

func (e fileEntry) payload() string {
	for _, s := range []string{e.Message, e.Sentence, e.Data, e.Raw} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

type fileMetadata struct {
	Duration  float64 `json:"duration,omitempty"`
	Recorded  string  `json:"recorded,omitempty"`
	Generator string  `json:"generator,omitempty"`
}

type file struct {
	Messages []fileEntry  `json:"messages"`
	Metadata fileMetadata `json:"metadata"`
}

func LoadTimeline(path string) (*Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("recording %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}
	tl, err := ReadTimeline(r)
	if err != nil {
		return nil, fmt.Errorf("recording %s: %w", path, err)
	}
	return tl, nil
}

// ReadTimeline decodes and validates a recording.
func ReadTimeline(r io.Reader) (*Timeline, error) {
	var doc file
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode recording: %w", err)
	}
	if len(doc.Messages) == 0 {
		return nil, errors.New("recording has no messages")
	}

	tl := &Timeline{Entries: make([]Entry, 0, len(doc.Messages))}
	var prev float64
	for i, m := range doc.Messages {
		if m.RelativeTime == nil {
			return nil, fmt.Errorf("messages[%d].relative_time is required", i)
		}
		at := *m.RelativeTime
		if at < 0 || math.IsNaN(at) || math.IsInf(at, 0) {
			return nil, fmt.Errorf("messages[%d].relative_time must be >= 0 (got %v)", i, at)
		}
		if at < prev {
			return nil, fmt.Errorf("messages must be sorted by relative_time (index %d)", i)
		}
		p := m.payload()
		if p == "" {
			return nil, fmt.Errorf("messages[%d] has no message, sentence, data or raw payload", i)
		}
		prev = at
		tl.Entries = append(tl.Entries, Entry{At: seconds(at), Sentence: p})
	}

	tl.Duration = tl.Entries[len(tl.Entries)-1].At
	if d := doc.Metadata.Duration; d > 0 {
		tl.Duration = seconds(d)
	}
	return tl, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Recorder captures broadcast sentences into a timeline file. It is safe
// for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	path    string
	start   time.Time
	entries []fileEntry
	closed  bool
}

func NewRecorder(path string, start time.Time) *Recorder {
	return &Recorder{path: path, start: start}
}

// Record appends sentence at now. Sentences are stored without their line
// terminator.
func (r *Recorder) Record(now time.Time, sentence string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recorder is closed")
	}
	d := now.Sub(r.start)
	if d < 0 {
		d = 0
	}
	at := d.Seconds()
	if n := len(r.entries); n > 0 && at < *r.entries[n-1].RelativeTime {
		at = *r.entries[n-1].RelativeTime
	}
	r.entries = append(r.entries, fileEntry{RelativeTime: &at, Message: strings.TrimRight(sentence, "\r\n")})
	return nil
}

// Len is the number of recorded sentences.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close writes the file. An empty recording writes nothing.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if len(r.entries) == 0 {
		return nil
	}

	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(r.path, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}
	doc := file{
		Messages: r.entries,
		Metadata: fileMetadata{
			Duration:  *r.entries[len(r.entries)-1].RelativeTime,
			Recorded:  r.start.UTC().Format(time.RFC3339),
			Generator: "nmea-bridge",
		},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		_ = f.Close()
		return fmt.Errorf("write recording: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			_ = f.Close()
			return fmt.Errorf("write recording: %w", err)
		}
	}
	return f.Close()
}
