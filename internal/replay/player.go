// Package replay loads recorded NMEA timelines and plays them back, either
// to every client or independently per client.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MinGap is the shortest wait between two fired entries.
const MinGap = time.Millisecond

// Waiter blocks for d or until ctx is done.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

type realWaiter struct{}

func (realWaiter) Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Options struct {
	// Speed multiplies playback rate; 2 plays twice as fast.
	Speed float64
	Loop  bool
	// Waiter defaults to real timers.
	Waiter Waiter
}

// Play fires the first entry immediately and every following entry
// Δrelative_time/Speed after the previous one. It returns when the
// timeline ends (unless looping), when ctx is done, or when send fails.
func Play(ctx context.Context, tl *Timeline, opts Options, send func(string) error) error {
	if tl == nil || len(tl.Entries) == 0 {
		return errors.New("replay: empty timeline")
	}
	if !(opts.Speed > 0) {
		return fmt.Errorf("replay: speed must be > 0 (got %v)", opts.Speed)
	}
	w := opts.Waiter
	if w == nil {
		w = realWaiter{}
	}

	for {
		for i, e := range tl.Entries {
			if i > 0 {
				gap := time.Duration(float64(e.At-tl.Entries[i-1].At) / opts.Speed)
				if gap < MinGap {
					gap = MinGap
				}
				if err := w.Wait(ctx, gap); err != nil {
					return nil
				}
			} else if ctx.Err() != nil {
				return nil
			}
			if err := send(e.Sentence); err != nil {
				return err
			}
		}
		if !opts.Loop {
			return nil
		}
		if err := w.Wait(ctx, MinGap); err != nil {
			return nil
		}
	}
}

// Sessions runs one independent playback per client.
type Sessions struct {
	tl   *Timeline
	opts Options
	send func(id, sentence string) error
	log  zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewSessions plays tl to clients through send. Sessions stop when ctx is
// done.
func NewSessions(ctx context.Context, tl *Timeline, opts Options, send func(id, sentence string) error, log zerolog.Logger) *Sessions {
	return &Sessions{
		tl:      tl,
		opts:    opts,
		send:    send,
		log:     log,
		ctx:     ctx,
		running: make(map[string]context.CancelFunc),
	}
}

// Start begins playback for id from the first entry. A running session for
// the same id is restarted.
func (s *Sessions) Start(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[id]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.running[id] = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := Play(ctx, s.tl, s.opts, func(sentence string) error { return s.send(id, sentence) })
		if err != nil {
			s.log.Debug().Err(err).Str("client", id).Msg("playback ended")
		}
		s.mu.Lock()
		// A restart may have replaced this session's cancel func already.
		if ctx.Err() == nil {
			delete(s.running, id)
		}
		s.mu.Unlock()
		cancel()
	}()
}

// Stop cancels the session for id only.
func (s *Sessions) Stop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}
}

// Active is the number of running sessions.
func (s *Sessions) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// StopAll cancels every session and waits for them to return.
func (s *Sessions) StopAll() {
	s.mu.Lock()
	for id, cancel := range s.running {
		cancel()
		delete(s.running, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
