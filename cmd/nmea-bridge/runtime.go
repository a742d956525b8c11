package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/jasonlvhit/gocron"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nmea-bridge/internal/autopilot"
	"nmea-bridge/internal/config"
	"nmea-bridge/internal/dynamics"
	"nmea-bridge/internal/logging"
	"nmea-bridge/internal/profile"
	"nmea-bridge/internal/replay"
	"nmea-bridge/internal/scenario"
	"nmea-bridge/internal/sentence"
	"nmea-bridge/internal/server"
	"nmea-bridge/internal/vessel"
	"nmea-bridge/internal/web"
)

// runtime owns everything one process run needs. newRuntime loads every
// file the config names, so configuration errors surface before any
// listener binds.
type runtime struct {
	cfg    config.Config
	log    zerolog.Logger
	runID  string
	status *web.Status

	profiles *profile.Manager
	shared   *autopilot.Shared
	bridge   *autopilot.Bridge
	srv      *server.Manager
	recorder *replay.Recorder

	// Sources; which ones are set depends on cfg.Mode.
	engine    *scenario.Engine
	scheduler *sentence.Scheduler
	coord     *vessel.Coordinator
	sync      *sentence.Synchronized
	boat      *profile.Profile
	timeline  *replay.Timeline

	// ready is closed once the listeners are bound.
	ready chan struct{}
}

func newRuntime(cfg config.Config, log zerolog.Logger) (*runtime, error) {
	runID := uuid.NewString()
	log = log.With().Str("run_id", runID).Logger()
	r := &runtime{
		cfg:    cfg,
		log:    log,
		runID:  runID,
		status: web.NewStatus(runID),
		ready:  make(chan struct{}),
	}

	profiles, err := profile.NewManager(cfg.Physics.ProfilesDir)
	if err != nil {
		return nil, err
	}
	r.profiles = profiles

	var source map[string]any
	switch cfg.Mode {
	case config.ModeScenario:
		source, err = r.loadScenario()
	case config.ModePhysics:
		source, err = r.loadPhysics()
	case config.ModeReplay:
		source, err = r.loadReplay()
	default:
		err = fmt.Errorf("unsupported mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	r.status.SetStatic(cfg.Mode, source)

	if r.shared == nil {
		r.shared = autopilot.NewShared(0)
	}
	if cfg.Record.Path != "" {
		r.recorder = replay.NewRecorder(cfg.Record.Path, time.Now())
	}

	r.srv = server.New(server.Options{
		Bind:         cfg.Server.Bind,
		TCPPort:      cfg.Server.TCPPort,
		WSPort:       cfg.Server.WSPort,
		WriteTimeout: cfg.Server.WriteTimeout,
		ClientBuffer: cfg.Server.ClientBuffer,
		Log:          logging.Component(log, "server"),
	})
	r.bridge = autopilot.NewBridge(autopilot.BridgeMode(cfg.Autopilot.BridgeMode), r.shared, r.autopilotChanged,
		logging.Component(log, "autopilot"))
	r.srv.OnInbound(r.bridge.Handle)
	web.Mount(r.srv.Router(), web.Deps{
		Status:    r.status,
		Clients:   r.srv,
		Profiles:  r.profiles,
		Autopilot: r.shared,
	})
	return r, nil
}

func (r *runtime) loadScenario() (map[string]any, error) {
	var (
		doc *scenario.Document
		err error
	)
	if r.cfg.Scenario.Path != "" {
		doc, err = scenario.Load(r.cfg.Scenario.Path)
	} else {
		doc, err = scenario.Demo()
	}
	if err != nil {
		return nil, err
	}
	opts := []scenario.Option{scenario.WithLogger(logging.Component(r.log, "scenario"))}
	if r.cfg.Scenario.Seed != 0 {
		opts = append(opts, scenario.WithSeed(r.cfg.Scenario.Seed))
	}
	eng, err := scenario.NewEngine(doc, scenario.NewRegistry(), opts...)
	if err != nil {
		return nil, err
	}
	if err := eng.Seed(); err != nil {
		return nil, fmt.Errorf("seed scenario: %w", err)
	}
	h, _ := eng.Scalar("heading")
	r.shared = autopilot.NewShared(h)
	sched, err := sentence.NewScheduler(eng, eng.Timing(),
		sentence.WithAutopilot(r.shared, r.cfg.Autopilot.RateHz),
		sentence.WithKeelOffset(r.cfg.Scenario.KeelOffsetM))
	if err != nil {
		return nil, err
	}
	r.engine, r.scheduler = eng, sched
	return map[string]any{
		"scenario":   doc.Name,
		"path":       r.cfg.Scenario.Path,
		"categories": sched.Categories(),
	}, nil
}

func (r *runtime) loadPhysics() (map[string]any, error) {
	p, err := r.profiles.Load(r.cfg.Physics.Profile)
	if err != nil {
		return nil, err
	}
	if len(r.cfg.Physics.Overrides) > 0 {
		if p, err = r.profiles.ApplyOverrides(p, r.cfg.Physics.Overrides); err != nil {
			return nil, err
		}
	}
	r.boat = p
	r.coord = vessel.New(dynamics.New(p), vessel.WithSmoothing(r.cfg.Physics.Smoothing))
	r.shared = autopilot.NewShared(p.Defaults.HeadingDeg)

	rates := maps.Clone(sentence.DefaultRates)
	maps.Copy(rates, r.cfg.Physics.Rates)
	r.sync, err = sentence.NewSynchronized(r.coord, r.shared, rates, sentence.WithKeelOffset(p.Dimensions.DraftM))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"profile": p.Name,
		"type":    string(p.Type),
		"tick":    r.cfg.Physics.Tick.String(),
	}, nil
}

func (r *runtime) loadReplay() (map[string]any, error) {
	tl, err := replay.LoadTimeline(r.cfg.Replay.Path)
	if err != nil {
		return nil, err
	}
	r.timeline = tl
	return map[string]any{
		"path":       r.cfg.Replay.Path,
		"sentences":  len(tl.Entries),
		"duration":   tl.Duration.String(),
		"speed":      r.cfg.Replay.Speed,
		"loop":       r.cfg.Replay.Loop,
		"per_client": r.cfg.Replay.PerClient,
	}, nil
}

// Run binds the listeners and drives the configured source until ctx is
// done or the source fails.
func (r *runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sessions *replay.Sessions
	if r.timeline != nil && r.cfg.Replay.PerClient {
		sessions = replay.NewSessions(ctx, r.timeline, r.replayOptions(), r.sendTo, logging.Component(r.log, "replay"))
		r.srv.OnConnect(func(c server.ClientInfo) { sessions.Start(c.ID) })
		r.srv.OnDisconnect(sessions.Stop)
	}

	if err := r.srv.Start(ctx); err != nil {
		_ = r.srv.Close()
		return err
	}
	close(r.ready)
	stopStats := r.startStats()

	g, gctx := errgroup.WithContext(ctx)
	switch {
	case r.engine != nil:
		g.Go(func() error { return r.engine.Run(gctx) })
		g.Go(func() error {
			return sentence.Run(gctx, headingTracker{r.scheduler, r.engine, r.shared}, r.broadcast,
				logging.Component(r.log, "sentence"))
		})
	case r.coord != nil:
		g.Go(func() error { return r.runPhysics(gctx) })
		g.Go(func() error { return sentence.Run(gctx, r.sync, r.broadcast, logging.Component(r.log, "sentence")) })
	case sessions != nil:
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	default:
		g.Go(func() error {
			err := replay.Play(gctx, r.timeline, r.replayOptions(), func(s string) error {
				r.broadcast(s)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if err == nil {
				r.log.Info().Msg("replay finished")
				<-gctx.Done()
			}
			return err
		})
	}
	r.log.Info().Str("mode", r.cfg.Mode).Msg("nmea-bridge running")

	err := g.Wait()
	stopStats()
	if sessions != nil {
		sessions.StopAll()
	}
	err = errors.Join(err, r.srv.Close())
	if r.recorder != nil {
		if cerr := r.recorder.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		} else {
			r.log.Info().Int("sentences", r.recorder.Len()).Str("path", r.cfg.Record.Path).Msg("recording saved")
		}
	}
	return err
}

func (r *runtime) replayOptions() replay.Options {
	return replay.Options{Speed: r.cfg.Replay.Speed, Loop: r.cfg.Replay.Loop}
}

func (r *runtime) broadcast(s string) {
	r.srv.Broadcast(s)
	r.status.MarkTick(time.Now().UTC(), 1)
	if r.recorder != nil {
		if err := r.recorder.Record(time.Now(), s); err != nil {
			r.log.Warn().Err(err).Msg("record failed")
		}
	}
}

func (r *runtime) sendTo(id, s string) error {
	if err := r.srv.SendTo(id, s); err != nil {
		return err
	}
	r.status.MarkTick(time.Now().UTC(), 1)
	return nil
}

func (r *runtime) autopilotChanged(st autopilot.State) {
	if err := r.srv.BroadcastEvent("autopilot_status", st); err != nil {
		r.log.Warn().Err(err).Msg("autopilot status broadcast failed")
	}
}

// runPhysics advances the coordinated vessel state every tick. An engaged
// autopilot steers toward its target heading.
func (r *runtime) runPhysics(ctx context.Context) error {
	tick := r.cfg.Physics.Tick
	t := time.NewTicker(tick)
	defer t.Stop()
	env := r.environment()
	base := r.baseTarget()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			target := base
			if ap := r.shared.Snapshot(); ap.Engaged {
				target.HeadingDeg = ap.TargetHeadingDeg
			}
			st := r.coord.Update(tick, target, env)
			r.shared.SetCurrentHeading(st.Motion.HeadingDeg)
		}
	}
}

func (r *runtime) baseTarget() vessel.Target {
	p := r.boat
	t := vessel.Target{HeadingDeg: p.Defaults.HeadingDeg, ThrottlePct: p.Defaults.ThrottlePct}
	if h := r.cfg.Physics.Target.HeadingDeg; h != nil {
		t.HeadingDeg = *h
	}
	if th := r.cfg.Physics.Target.ThrottlePct; th != nil {
		t.ThrottlePct = *th
	}
	return t
}

func (r *runtime) environment() vessel.Environment {
	e := r.cfg.Physics.Environment
	return vessel.Environment{
		Environment: dynamics.Environment{
			TrueWindSpeedKts: e.TrueWindSpeedKts,
			TrueWindDirDeg:   e.TrueWindDirDeg,
			CurrentSpeedKts:  e.CurrentSpeedKts,
			CurrentDirDeg:    e.CurrentDirDeg,
			WaveHeightM:      e.WaveHeightM,
		},
		DepthM:     e.DepthM,
		WaterTempC: e.WaterTempC,
	}
}

// startStats logs client and broadcast totals every stats.interval. The
// returned func stops the job.
func (r *runtime) startStats() func() {
	every := uint64(r.cfg.Stats.Interval / time.Second)
	if every == 0 {
		return func() {}
	}
	log := logging.Component(r.log, "stats")
	s := gocron.NewScheduler()
	if err := s.Every(every).Seconds().Do(r.logStats, log); err != nil {
		log.Warn().Err(err).Msg("stats job not scheduled")
		return func() {}
	}
	stopped := s.Start()
	return func() {
		s.Clear()
		close(stopped)
	}
}

func (r *runtime) logStats(log zerolog.Logger) {
	st := r.srv.Stats()
	ev := log.Info().
		Int("clients", st.Active).
		Uint64("broadcasts", st.Broadcasts).
		Uint64("dropped", st.Dropped).
		Uint64("sentences_sent", r.status.SentencesSent())
	if r.coord != nil {
		vs := r.coord.Snapshot()
		ev = ev.Float64("coherence", vs.Metadata.CoherenceScore).
			Float64("consistency", sentence.CrossParameterConsistency(vs))
	}
	ev.Msg("stats")
}

// headingTracker feeds the scenario heading to the autopilot after every
// scan so HTD and the status API follow the simulated vessel.
type headingTracker struct {
	g      sentence.Generator
	src    *scenario.Engine
	shared *autopilot.Shared
}

func (h headingTracker) Generate(now time.Time) ([]string, error) {
	if deg, ok := h.src.Scalar("heading"); ok {
		h.shared.SetCurrentHeading(deg)
	}
	return h.g.Generate(now)
}
