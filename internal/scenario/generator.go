package scenario

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"nmea-bridge/internal/dynamics"
)

// Function kinds. The set is closed; arbitrary code is only reachable
// through sandboxed expressions or registered callbacks.
const (
	KindConstant   = "constant"
	KindSine       = "sine"
	KindGaussian   = "gaussian"
	KindLinearRamp = "linear_ramp"
	KindRandomWalk = "random_walk"
	KindGPSTrack   = "gps_track"
	KindExpression = "expression"
	KindCallback   = "callback"
)

// Context is what a generator sees on each evaluation.
type Context struct {
	Stream string
	// Elapsed is seconds since the engine started.
	Elapsed float64
	// Dt is seconds since this stream (or instance) was last evaluated.
	Dt     float64
	Params map[string]any
	Deps   map[string]Value
	// Prev is the previous value; HasPrev is false on the first evaluation.
	Prev    Value
	HasPrev bool
	// Instance and Index identify the member of a multi-instance stream.
	Instance string
	Index    int
	Rand     *rand.Rand
}

// Float returns a numeric parameter, or def when it is absent.
func (c *Context) Float(name string, def float64) float64 {
	if v, ok := toFloat(c.Params[name]); ok {
		return v
	}
	return def
}

// Dep returns a scalar dependency value.
func (c *Context) Dep(name string) (float64, bool) {
	v, ok := c.Deps[name]
	if !ok || v.Category != CategoryScalar {
		return 0, false
	}
	return v.Scalar, true
}

type Generator interface {
	Generate(c *Context) (Value, error)
}

type GeneratorFunc func(c *Context) (Value, error)

func (f GeneratorFunc) Generate(c *Context) (Value, error) { return f(c) }

// Registry holds Go generators available to kind callback.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Generator
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Generator)}
}

func (r *Registry) Register(name string, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = g
}

func (r *Registry) lookup(name string) (Generator, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.funcs[name]
	return g, ok
}

// Compile builds one generator per data stream. Parameters are checked
// against the merged function and stream parameters.
func Compile(doc *Document, reg *Registry) (map[string]Generator, error) {
	out := make(map[string]Generator, len(doc.Data))
	for _, stream := range sortedKeys(doc.Data) {
		node := doc.Data[stream]
		fn := doc.Functions[node.Type]
		g, err := compileOne(stream, fn, doc.params(stream), node.DependsOn, reg)
		if err != nil {
			return nil, fmt.Errorf("data.%s (function %s): %w", stream, node.Type, err)
		}
		out[stream] = g
	}
	return out, nil
}

func compileOne(stream string, fn FunctionDef, params map[string]any, dependsOn []string, reg *Registry) (Generator, error) {
	p := paramReader{params: params}
	switch fn.Kind {
	case KindConstant:
		v := p.required("value")
		if p.err != nil {
			return nil, p.err
		}
		return GeneratorFunc(func(*Context) (Value, error) { return ScalarValue(v), nil }), nil

	case KindSine:
		base, amp := p.float("base", 0), p.float("amplitude", 1)
		period := p.float("period", 60)
		phase := p.float("phase", 0) * math.Pi / 180
		if period <= 0 {
			return nil, fmt.Errorf("period must be > 0")
		}
		if p.err != nil {
			return nil, p.err
		}
		return GeneratorFunc(func(c *Context) (Value, error) {
			return ScalarValue(base + amp*math.Sin(2*math.Pi*c.Elapsed/period+phase)), nil
		}), nil

	case KindGaussian:
		mean, sd := p.float("mean", 0), p.float("stddev", 1)
		lo, hi := p.bounds()
		if sd < 0 {
			return nil, fmt.Errorf("stddev must be >= 0")
		}
		if p.err != nil {
			return nil, p.err
		}
		return GeneratorFunc(func(c *Context) (Value, error) {
			return ScalarValue(clampRange(mean+sd*c.Rand.NormFloat64(), lo, hi)), nil
		}), nil

	case KindLinearRamp:
		start, rate := p.float("start", 0), p.float("rate", 0)
		lo, hi := p.bounds()
		wrap := p.float("wrap", 0)
		if p.err != nil {
			return nil, p.err
		}
		return GeneratorFunc(func(c *Context) (Value, error) {
			return ScalarValue(wrapOrClamp(start+rate*c.Elapsed, wrap, lo, hi)), nil
		}), nil

	case KindRandomWalk:
		start, step := p.float("start", 0), p.float("step", 1)
		lo, hi := p.bounds()
		wrap := p.float("wrap", 0)
		if step < 0 {
			return nil, fmt.Errorf("step must be >= 0")
		}
		if p.err != nil {
			return nil, p.err
		}
		return GeneratorFunc(func(c *Context) (Value, error) {
			if !c.HasPrev {
				return ScalarValue(wrapOrClamp(start, wrap, lo, hi)), nil
			}
			return ScalarValue(wrapOrClamp(c.Prev.Scalar+step*c.Rand.NormFloat64(), wrap, lo, hi)), nil
		}), nil

	case KindGPSTrack:
		return compileTrack(&p)

	case KindExpression:
		return compileExpression(fn.Expr, params, dependsOn)

	case KindCallback:
		g, ok := reg.lookup(fn.Callback)
		if !ok {
			return nil, fmt.Errorf("callback %q is not registered", fn.Callback)
		}
		return g, nil
	}
	return nil, fmt.Errorf("unknown kind %q", fn.Kind)
}

// compileTrack dead-reckons a fix from the previous one. Speed comes from
// the sog or speed dependency and course from heading when the stream
// depends on them; otherwise from speed_kts, course_deg and turn_rate_dps.
func compileTrack(p *paramReader) (Generator, error) {
	lat, lon := p.required("lat"), p.required("lon")
	speed, course := p.float("speed_kts", 0), p.float("course_deg", 0)
	turn := p.float("turn_rate_dps", 0)
	alt := p.float("altitude_m", 0)
	sats := p.float("satellites", 10)
	if p.err != nil {
		return nil, p.err
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("start position %v,%v out of range", lat, lon)
	}
	return GeneratorFunc(func(c *Context) (Value, error) {
		fix := Fix{Lat: lat, Lon: lon, AltitudeM: alt, Satellites: int(sats)}
		fix.SpeedKts = speed
		if v, ok := c.Dep("sog"); ok {
			fix.SpeedKts = v
		} else if v, ok := c.Dep("speed"); ok {
			fix.SpeedKts = v
		}
		fix.CourseDeg = dynamics.NormalizeDeg(course + turn*c.Elapsed)
		if v, ok := c.Dep("heading"); ok {
			fix.CourseDeg = dynamics.NormalizeDeg(v)
		}
		if c.HasPrev && c.Prev.GPS != nil {
			fix.Lat, fix.Lon = deadReckon(c.Prev.GPS.Lat, c.Prev.GPS.Lon, fix.SpeedKts, fix.CourseDeg, c.Dt)
		}
		return GPSValue(fix), nil
	}), nil
}

func deadReckon(lat, lon, speedKts, courseDeg, secs float64) (float64, float64) {
	nm := speedKts * secs / 3600
	rad := courseDeg * math.Pi / 180
	lat += nm * math.Cos(rad) / 60
	lat = math.Max(-89.9, math.Min(89.9, lat))
	lon += nm * math.Sin(rad) / (60 * math.Cos(lat*math.Pi/180))
	if lon >= 180 {
		lon -= 360
	} else if lon < -180 {
		lon += 360
	}
	return lat, lon
}

// paramReader collects the first parameter error.
type paramReader struct {
	params map[string]any
	err    error
}

func (p *paramReader) float(name string, def float64) float64 {
	raw, ok := p.params[name]
	if !ok {
		return def
	}
	v, ok := toFloat(raw)
	if !ok && p.err == nil {
		p.err = fmt.Errorf("parameter %s must be a number (got %v)", name, raw)
	}
	return v
}

func (p *paramReader) required(name string) float64 {
	if _, ok := p.params[name]; !ok {
		if p.err == nil {
			p.err = fmt.Errorf("parameter %s is required", name)
		}
		return 0
	}
	return p.float(name, 0)
}

func (p *paramReader) bounds() (float64, float64) {
	lo, hi := p.float("min", math.Inf(-1)), p.float("max", math.Inf(1))
	if lo > hi && p.err == nil {
		p.err = fmt.Errorf("min %v is greater than max %v", lo, hi)
	}
	return lo, hi
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func clampRange(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func wrapOrClamp(v, wrap, lo, hi float64) float64 {
	if wrap > 0 {
		v = math.Mod(v, wrap)
		if v < 0 {
			v += wrap
		}
		return v
	}
	return clampRange(v, lo, hi)
}
