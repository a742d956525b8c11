package sentence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ScanInterval is how often Run asks a generator for due sentences.
const ScanInterval = 50 * time.Millisecond

// Generator returns the sentences due at now.
type Generator interface {
	Generate(now time.Time) ([]string, error)
}

// timing tracks when a category was last emitted.
type timing struct {
	interval time.Duration
	lastSent time.Time
	sent     bool
}

func newTiming(hz float64) (timing, error) {
	if !(hz > 0) {
		return timing{}, fmt.Errorf("rate must be > 0 Hz (got %v)", hz)
	}
	return timing{interval: time.Duration(float64(time.Second) / hz)}, nil
}

func (t *timing) due(now time.Time) bool {
	return !t.sent || now.Sub(t.lastSent) >= t.interval
}

// mark records an emission. Advancing by whole intervals keeps the average
// rate exact despite scan jitter; a stall longer than one interval resets
// the phase instead of bursting.
func (t *timing) mark(now time.Time) {
	if t.sent && now.Sub(t.lastSent) < 2*t.interval {
		t.lastSent = t.lastSent.Add(t.interval)
	} else {
		t.lastSent = now
	}
	t.sent = true
}

// Run scans g every ScanInterval and hands each sentence to send until ctx
// is done. A generator error is returned and ends the loop.
func Run(ctx context.Context, g Generator, send func(string), log zerolog.Logger) error {
	t := time.NewTicker(ScanInterval)
	defer t.Stop()
	emit := func(now time.Time) error {
		out, err := g.Generate(now)
		if err != nil {
			return err
		}
		for _, s := range out {
			send(s)
		}
		return nil
	}
	if err := emit(time.Now()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if err := emit(now); err != nil {
				log.Error().Err(err).Msg("sentence generation failed")
				return err
			}
		}
	}
}
