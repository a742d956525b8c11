package scenario

import (
	"context"
	"fmt"
	"maps"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithSeed makes random generators reproducible.
func WithSeed(seed uint64) Option { return func(e *Engine) { e.seed = seed } }

// Engine evaluates every stream of a document at its own frequency. Each
// stream has one writer, its own goroutine; readers go through the store.
type Engine struct {
	doc   *Document
	gens  map[string]Generator
	order []string
	log   zerolog.Logger
	now   func() time.Time
	seed  uint64

	start time.Time
	rands map[string]*rand.Rand
	last  map[string]time.Time

	mu     sync.RWMutex
	values map[string]StreamState
}

func NewEngine(doc *Document, reg *Registry, opts ...Option) (*Engine, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}
	order, err := evaluationOrder(doc)
	if err != nil {
		return nil, err
	}
	gens, err := Compile(doc, reg)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		doc:    doc,
		gens:   gens,
		order:  order,
		log:    zerolog.Nop(),
		now:    time.Now,
		seed:   uint64(time.Now().UnixNano()),
		values: make(map[string]StreamState, len(doc.Data)),
		last:   make(map[string]time.Time, len(doc.Data)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rands = make(map[string]*rand.Rand, len(order))
	for i, name := range order {
		e.rands[name] = rand.New(rand.NewPCG(e.seed, uint64(i)))
	}
	e.start = e.now()
	return e, nil
}

func (e *Engine) Document() *Document { return e.doc }

// Timing returns each stream's frequency in Hz.
func (e *Engine) Timing() map[string]float64 { return maps.Clone(e.doc.Timing) }

// Seed evaluates every stream once, dependencies first, so readers never
// observe an unset stream.
func (e *Engine) Seed() error {
	for _, name := range e.order {
		if err := e.evaluate(name); err != nil {
			return err
		}
	}
	return nil
}

// Run ticks every stream at its frequency until ctx is done. The first
// evaluation error stops all streams and is returned.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range e.order {
		period := time.Duration(float64(time.Second) / e.doc.Timing[name])
		if period < time.Millisecond {
			period = time.Millisecond
		}
		g.Go(func() error {
			t := time.NewTicker(period)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					if err := e.evaluate(name); err != nil {
						e.log.Error().Err(err).Str("stream", name).Msg("stream failed")
						return err
					}
				}
			}
		})
	}
	e.log.Info().Int("streams", len(e.order)).Str("scenario", e.doc.Name).Msg("scenario running")
	return g.Wait()
}

// evaluate runs one stream's generator. Only the stream's own goroutine (or
// Seed, before Run) evaluates a given stream, so its rand is never shared.
func (e *Engine) evaluate(name string) error {
	node := e.doc.Data[name]
	cat := Streams[name]
	now := e.now()

	deps := make(map[string]Value, len(node.DependsOn))
	e.mu.RLock()
	for _, dep := range node.DependsOn {
		st, ok := e.values[dep]
		if !ok {
			e.mu.RUnlock()
			return fmt.Errorf("stream %s: dependency %s has no value", name, dep)
		}
		deps[dep] = st.Value
	}
	prev, hasPrev := e.values[name]
	last, seen := e.last[name]
	e.mu.RUnlock()
	dt := 0.0
	if seen {
		dt = now.Sub(last).Seconds()
	}

	c := &Context{
		Stream:  name,
		Elapsed: now.Sub(e.start).Seconds(),
		Dt:      dt,
		Params:  e.doc.params(name),
		Deps:    deps,
		Rand:    e.rands[name],
	}

	var val Value
	if cat == CategoryInstances {
		val = Value{Category: CategoryInstances, Instances: make(map[string]float64, len(node.Instances))}
		for i, id := range node.Instances {
			c.Instance, c.Index = id, i
			c.Prev, c.HasPrev = Value{}, false
			if hasPrev {
				if x, ok := prev.Value.Instances[id]; ok {
					c.Prev, c.HasPrev = ScalarValue(x), true
				}
			}
			v, err := e.gens[name].Generate(c)
			if err != nil {
				return fmt.Errorf("stream %s[%s]: %w", name, id, err)
			}
			if err := v.check(CategoryScalar, nil); err != nil {
				return fmt.Errorf("stream %s[%s]: %w", name, id, err)
			}
			val.Instances[id] = v.Scalar
		}
	} else {
		c.Prev, c.HasPrev = prev.Value, hasPrev
		v, err := e.gens[name].Generate(c)
		if err != nil {
			return fmt.Errorf("stream %s: %w", name, err)
		}
		val = v
	}
	if err := val.check(cat, node.Instances); err != nil {
		return fmt.Errorf("stream %s: %w", name, err)
	}

	e.mu.Lock()
	e.values[name] = StreamState{Value: val, UpdatedAt: now}
	e.last[name] = now
	e.mu.Unlock()
	return nil
}

// Scalar returns a scalar stream's latest value.
func (e *Engine) Scalar(name string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.values[name]
	if !ok || st.Value.Category != CategoryScalar {
		return 0, false
	}
	return st.Value.Scalar, true
}

func (e *Engine) GPS() (Fix, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.values["gps"]
	if !ok || st.Value.GPS == nil {
		return Fix{}, false
	}
	return *st.Value.GPS, true
}

// Instances returns a copy of a multi-instance stream's values and the ids
// in document order.
func (e *Engine) Instances(name string) (map[string]float64, []string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.values[name]
	if !ok || st.Value.Category != CategoryInstances {
		return nil, nil, false
	}
	return maps.Clone(st.Value.Instances), e.doc.Data[name].Instances, true
}

// Snapshot copies every stream's state.
func (e *Engine) Snapshot() map[string]StreamState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]StreamState, len(e.values))
	for k, st := range e.values {
		if st.Value.GPS != nil {
			fix := *st.Value.GPS
			st.Value.GPS = &fix
		}
		st.Value.Instances = maps.Clone(st.Value.Instances)
		out[k] = st
	}
	return out
}
