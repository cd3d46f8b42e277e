package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"headingup/internal/calibration"
	"headingup/internal/config"
	"headingup/internal/fusion"
	"headingup/internal/gps"
	"headingup/internal/kv"
	"headingup/internal/notify"
	"headingup/internal/render"
	"headingup/internal/replay"
	"headingup/internal/sim"
	"headingup/internal/udp"
	"headingup/internal/waypoint"
	"headingup/internal/web"
)

// runtime owns every long-lived component of serve.
type runtime struct {
	cfg config.Config
	log zerolog.Logger

	kv     kv.Store
	hub    *render.Hub
	sink   render.Sink
	notify notify.Notifier
	store  *waypoint.Store
	offset *calibration.Offset
	runner *fusion.Runner
	// input is the runner, or a recorder in front of it.
	input   web.Fusion
	rec     *replay.Writer
	replay  []replay.Record
	gpsSvc  *gps.Service
	simSrc  *sim.Source
	udp     *udp.Broadcaster
	status  *web.Status
	handler http.Handler

	closeOnce sync.Once
	closeErr  error
}

func newRuntime(cfg config.Config, log zerolog.Logger, logs *web.LogBuffer) (*runtime, error) {
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: log, hub: render.NewHub(), status: web.NewStatus()}

	store, err := kv.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	rt.kv = store

	sinks := render.Multi{rt.hub}
	if cfg.UDP.Enable {
		b, err := udp.NewBroadcaster(cfg.UDP.Dest)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("udp broadcaster init failed: %w", err)
		}
		rt.udp = b
		sinks = append(sinks, udp.NewSink(b, log))
	}
	rt.sink = render.Guard(sinks, log)

	notifyLog := log.With().Str("component", "notify").Logger()
	rt.notify = notify.Func(func(n notify.Notification) {
		notifyLog.Info().Str("tone", string(n.Tone)).Msg(n.Text)
		rt.hub.Notify(n)
	})

	rt.store = waypoint.NewStore(waypoint.StoreConfig{
		KV:     store,
		Logger: log.With().Str("component", "waypoints").Logger(),
	})
	rt.store.OnChange(func(list []waypoint.Waypoint) {
		rt.sink.SetMarkers(render.MarkersFrom(list))
	})
	rt.sink.SetMarkers(render.MarkersFrom(rt.store.List()))

	rt.offset = calibration.New(store, log.With().Str("component", "calibration").Logger(), 0)
	initialOffset := rt.offset.Load()

	rt.runner = fusion.NewRunner(fusion.RunnerConfig{
		Engine: fusion.Config{
			MovingSpeedMS:         cfg.Fusion.MovingSpeedMS,
			MaxCompassAccuracyDeg: cfg.Fusion.MaxCompassAccuracyDeg,
			CourseHoldoff:         cfg.Fusion.CourseHoldoff,
			OffsetDeg:             initialOffset,
		},
		FrameInterval: cfg.Fusion.FrameInterval,
		Notifier:      rt.notify,
		OnReading:     rt.sink.SetBearing,
		Logger:        log.With().Str("component", "fusion").Logger(),
	})
	rt.input = rt.runner
	if cfg.Record.Enable {
		w, err := replay.CreateWriter(cfg.Record.Path, nil)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("record: %w", err)
		}
		rt.rec = w
		rt.input = &recorder{Fusion: rt.runner, w: w, log: log.With().Str("component", "record").Logger()}
	}

	var sources []string
	if cfg.GPS.Enable {
		rt.gpsSvc = gps.New(gps.Config{
			Enable:   true,
			Source:   cfg.GPS.Source,
			GPSDAddr: cfg.GPS.GPSDAddr,
			Device:   cfg.GPS.Device,
			Baud:     cfg.GPS.Baud,
			OnFix:    rt.forwardFix,
			Notifier: rt.notify,
			Logger:   log,
		})
		sources = append(sources, "gps:"+cfg.GPS.Source)
	}

	var simInfo map[string]any
	if cfg.Sim.Enable {
		model, info, err := simModel(cfg.Sim)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.simSrc = sim.NewSource(sim.SourceConfig{
			Model:         model,
			OnOrientation: rt.forwardOrientation,
			OnFix:         rt.forwardFix,
			Logger:        log.With().Str("component", "sim").Logger(),
		})
		simInfo = info
		sources = append(sources, "sim")
	}
	if cfg.Replay.Enable {
		recs, err := replay.Load(cfg.Replay.Path)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("load replay: %w", err)
		}
		rt.replay = recs
		sources = append(sources, "replay")
	}
	sources = append(sources, "browser")

	rt.status.SetStatic(web.StaticInfo{
		Listen:         cfg.Listen,
		StorageBackend: cfg.Storage.Backend,
		Sources:        sources,
		UDPDest:        cfg.UDP.Dest,
		Sim:            simInfo,
	})

	deps := web.Deps{
		Status:    rt.status,
		Fusion:    rt.input,
		Waypoints: rt.store,
		Offset:    rt.offset,
		Hub:       rt.hub,
		Sink:      rt.sink,
		Notifier:  rt.notify,
		Logs:      logs,
		FlyToZoom: cfg.Map.FlyToZoom,
		Logger:    log,
	}
	// Avoid a typed-nil interface when GPS is off.
	if rt.gpsSvc != nil {
		deps.GPS = rt.gpsSvc
	}
	rt.handler = web.Handler(deps)
	return rt, nil
}

func simModel(sc config.SimConfig) (sim.Model, map[string]any, error) {
	if sc.ScenarioPath != "" {
		script, err := sim.LoadScenarioScript(sc.ScenarioPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load scenario: %w", err)
		}
		s, err := sim.NewScenario(script)
		if err != nil {
			return nil, nil, fmt.Errorf("scenario: %w", err)
		}
		return s, map[string]any{"scenario": sc.ScenarioPath, "duration": s.Duration().String()}, nil
	}
	w := sim.Walk{
		CenterLatDeg:     sc.CenterLatDeg,
		CenterLonDeg:     sc.CenterLonDeg,
		RadiusM:          sc.RadiusM,
		Period:           sc.Period,
		PauseFraction:    sc.PauseFraction,
		CompassJitterDeg: sc.CompassJitterDeg,
	}
	return w, map[string]any{
		"center_lat_deg": sc.CenterLatDeg,
		"center_lon_deg": sc.CenterLonDeg,
		"radius_m":       sc.RadiusM,
		"period":         sc.Period.String(),
	}, nil
}

func (rt *runtime) forwardFix(f fusion.Fix) {
	if err := rt.input.Fix(context.Background(), f); err != nil {
		rt.log.Debug().Err(err).Msg("fix dropped")
	}
}

func (rt *runtime) forwardOrientation(ev fusion.OrientationEvent) {
	if err := rt.input.Orientation(context.Background(), ev); err != nil {
		rt.log.Debug().Err(err).Msg("orientation dropped")
	}
}

func (rt *runtime) playReplay(ctx context.Context) error {
	c := rt.cfg.Replay
	rt.log.Info().Str("path", c.Path).Float64("speed", c.Speed).Bool("loop", c.Loop).Int("records", len(rt.replay)).Msg("replay started")
	err := replay.Play(ctx, rt.replay, c.Speed, c.Loop, nil, func(r replay.Record) error {
		switch {
		case r.Orientation != nil:
			rt.forwardOrientation(*r.Orientation)
		case r.Fix != nil:
			rt.forwardFix(*r.Fix)
		}
		return nil
	})
	if err == nil && ctx.Err() == nil {
		rt.log.Info().Msg("replay finished")
	}
	return err
}

// recorder writes every sensor input to the session log before forwarding.
type recorder struct {
	web.Fusion
	w   *replay.Writer
	log zerolog.Logger
}

func (r *recorder) Orientation(ctx context.Context, ev fusion.OrientationEvent) error {
	if err := r.w.WriteOrientation(ev); err != nil {
		r.log.Warn().Err(err).Msg("record orientation")
	}
	return r.Fusion.Orientation(ctx, ev)
}

func (r *recorder) Fix(ctx context.Context, f fusion.Fix) error {
	if err := r.w.WriteFix(f); err != nil {
		r.log.Warn().Err(err).Msg("record fix")
	}
	return r.Fusion.Fix(ctx, f)
}

// Run serves until ctx is done or a component fails.
func (rt *runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				rt.log.Error().Err(err).Str("component", name).Msg("stopped")
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
				cancel()
			}
		}()
	}

	run("fusion", rt.runner.Run)
	if rt.gpsSvc != nil {
		if err := rt.gpsSvc.Start(ctx); err != nil {
			// Already logged and notified; fusion keeps running on other sources.
			rt.log.Warn().Err(err).Msg("gps start failed")
		}
	}
	if rt.simSrc != nil {
		run("sim", rt.simSrc.Run)
	}
	if len(rt.replay) > 0 {
		run("replay", rt.playReplay)
	}
	run("web", func(ctx context.Context) error {
		return web.Serve(ctx, rt.cfg.Listen, rt.handler)
	})

	<-ctx.Done()
	wg.Wait()
	return errs
}

// Close stops every component and flushes pending saves. It is safe to call
// more than once.
func (rt *runtime) Close() error {
	rt.closeOnce.Do(func() {
		var err error
		if rt.gpsSvc != nil {
			rt.gpsSvc.Close()
		}
		if rt.runner != nil {
			rt.runner.Close()
		}
		if rt.offset != nil {
			err = multierr.Append(err, rt.offset.Flush())
		}
		if rt.udp != nil {
			err = multierr.Append(err, rt.udp.Close())
		}
		if rt.rec != nil {
			err = multierr.Append(err, rt.rec.Close())
		}
		if rt.kv != nil {
			err = multierr.Append(err, rt.kv.Close())
		}
		rt.closeErr = err
	})
	return rt.closeErr
}
