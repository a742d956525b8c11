package sentence

import (
	"fmt"
	"math"
	"sort"
	"time"

	"nmea-bridge/internal/scenario"
)

// Source is the read side of the scenario engine.
type Source interface {
	Scalar(name string) (float64, bool)
	GPS() (scenario.Fix, bool)
	Instances(name string) (map[string]float64, []string, bool)
}

// category groups the sentences generated from one or more streams.
type category struct {
	name    string
	streams []string
	timing  timing
	build   func(r *reader, now time.Time) []string
}

// Scheduler emits scenario-driven sentences, each category at the rate of
// its fastest stream.
type Scheduler struct {
	src  Source
	opts options
	cats []*category
}

type options struct {
	ap          AutopilotSource
	apHz        float64
	keelOffsetM float64
}

// Option configures a Scheduler or a Synchronized generator.
type Option func(*options)

// WithAutopilot adds the autopilot category (HTD and RSA) at hz. It has no
// effect on Synchronized, which takes its autopilot source directly.
func WithAutopilot(ap AutopilotSource, hz float64) Option {
	return func(o *options) { o.ap, o.apHz = ap, hz }
}

// WithKeelOffset sets the distance in metres from the transducer down to the
// keel. DBK reports depth minus the offset and DPT carries it as a negative
// offset.
func WithKeelOffset(m float64) Option {
	return func(o *options) { o.keelOffsetM = m }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func depthSentences(depthM, keelOffsetM float64) []string {
	offset := 0.0
	if keelOffsetM != 0 {
		offset = -keelOffsetM
	}
	return []string{DBT(depthM), DPT(depthM, offset), DBK(math.Max(depthM-keelOffsetM, 0))}
}

func autopilotSentences(ap AutopilotSource) []string {
	if ap == nil {
		return nil
	}
	s := ap.Snapshot()
	return []string{HTD(s), RSA(s.RudderDeg)}
}

// scenarioCategories lists every category; the wind category needs both
// wind streams.
var scenarioCategories = []struct {
	name    string
	streams []string
	build   func(r *reader, now time.Time) []string
}{
	{"gps", []string{"gps"}, func(r *reader, now time.Time) []string {
		fix := r.gps()
		return []string{GGA(now, fix), RMC(now, fix), ZDA(now)}
	}},
	{"depth", []string{"depth"}, func(r *reader, _ time.Time) []string {
		return depthSentences(r.scalar("depth"), r.keelOffsetM)
	}},
	{"speed", []string{"speed"}, func(r *reader, _ time.Time) []string {
		h, ok := r.src.Scalar("heading")
		if !ok {
			h = math.NaN()
		}
		return []string{VHW(h, r.scalar("speed"))}
	}},
	{"sog", []string{"sog"}, func(r *reader, _ time.Time) []string {
		cog, ok := r.src.Scalar("heading")
		if fix, have := r.src.GPS(); have {
			cog, ok = fix.CourseDeg, true
		}
		if !ok {
			cog = math.NaN()
		}
		return []string{VTG(Instruments, cog, r.scalar("sog"))}
	}},
	{"heading", []string{"heading"}, func(r *reader, _ time.Time) []string {
		h := r.scalar("heading")
		return []string{HDG(h), HDT(h)}
	}},
	{"wind", []string{"wind_speed", "wind_angle"}, func(r *reader, _ time.Time) []string {
		return []string{MWV(r.scalar("wind_angle"), "R", r.scalar("wind_speed"))}
	}},
	{"water_temp", []string{"water_temp"}, func(r *reader, _ time.Time) []string {
		return []string{MTW(r.scalar("water_temp"))}
	}},
	{"air_temp", []string{"air_temp"}, func(r *reader, _ time.Time) []string {
		return []string{XDR(Measurement{Type: "C", Value: r.scalar("air_temp"), Unit: "C", ID: "AIR"})}
	}},
	{"engines", []string{"engines"}, func(r *reader, _ time.Time) []string {
		var out []string
		vals, ids := r.instances("engines")
		for i, id := range ids {
			out = append(out, RPM(i+1, vals[id]))
		}
		return out
	}},
	{"batteries", []string{"batteries"}, func(r *reader, _ time.Time) []string {
		var out []string
		vals, ids := r.instances("batteries")
		for _, id := range ids {
			out = append(out, XDR(Measurement{Type: "U", Value: vals[id], Unit: "V", ID: InstanceID("BATT", id)}))
		}
		return out
	}},
	{"tanks", []string{"tanks"}, func(r *reader, _ time.Time) []string {
		var out []string
		vals, ids := r.instances("tanks")
		for _, id := range ids {
			out = append(out, XDR(Measurement{Type: "V", Value: vals[id], Unit: "P", ID: InstanceID("TANK", id)}))
		}
		return out
	}},
}

// NewScheduler builds a category for every group whose streams all appear
// in hz, plus the autopilot category when WithAutopilot is given.
func NewScheduler(src Source, hz map[string]float64, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{src: src, opts: buildOptions(opts)}
	for _, def := range scenarioCategories {
		rate, ok := 0.0, true
		for _, stream := range def.streams {
			v, have := hz[stream]
			if !have {
				ok = false
				break
			}
			rate = math.Max(rate, v)
		}
		if !ok {
			continue
		}
		t, err := newTiming(rate)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", def.name, err)
		}
		s.cats = append(s.cats, &category{name: def.name, streams: def.streams, timing: t, build: def.build})
	}
	if s.opts.ap != nil {
		t, err := newTiming(s.opts.apHz)
		if err != nil {
			return nil, fmt.Errorf("category autopilot: %w", err)
		}
		s.cats = append(s.cats, &category{name: "autopilot", timing: t, build: func(r *reader, _ time.Time) []string {
			return autopilotSentences(r.ap)
		}})
	}
	return s, nil
}

// Categories returns the scheduled category names in order.
func (s *Scheduler) Categories() []string {
	names := make([]string, len(s.cats))
	for i, c := range s.cats {
		names[i] = c.name
	}
	sort.Strings(names)
	return names
}

// Generate regenerates only the categories whose interval has elapsed. A
// stream without a value is an error.
func (s *Scheduler) Generate(now time.Time) ([]string, error) {
	var out []string
	for _, c := range s.cats {
		if !c.timing.due(now) {
			continue
		}
		r := &reader{src: s.src, ap: s.opts.ap, keelOffsetM: s.opts.keelOffsetM}
		sentences := c.build(r, now)
		if r.err != nil {
			return nil, fmt.Errorf("category %s: %w", c.name, r.err)
		}
		c.timing.mark(now)
		out = append(out, sentences...)
	}
	return out, nil
}

// reader records the first missing stream.
type reader struct {
	src         Source
	ap          AutopilotSource
	keelOffsetM float64
	err         error
}

func (r *reader) fail(stream string) {
	if r.err == nil {
		r.err = fmt.Errorf("stream %s has no value", stream)
	}
}

func (r *reader) scalar(name string) float64 {
	v, ok := r.src.Scalar(name)
	if !ok {
		r.fail(name)
	}
	return v
}

func (r *reader) gps() scenario.Fix {
	f, ok := r.src.GPS()
	if !ok {
		r.fail("gps")
	}
	return f
}

func (r *reader) instances(name string) (map[string]float64, []string) {
	vals, ids, ok := r.src.Instances(name)
	if !ok {
		r.fail(name)
	}
	return vals, ids
}
