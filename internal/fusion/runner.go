package fusion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"headingup/internal/notify"
)

const DefaultFrameInterval = 16 * time.Millisecond

var ErrStopped = errors.New("fusion: runner stopped")

type RunnerConfig struct {
	Engine        Config
	FrameInterval time.Duration
	Clock         clock.Clock
	Notifier      notify.Notifier
	// OnReading runs on the runner goroutine after each applied frame.
	OnReading func(Reading)
	Logger    zerolog.Logger
}

// Runner owns an Engine on a single goroutine. Every input is a message and
// the frame ticker is the display-frame boundary.
type Runner struct {
	cfg RunnerConfig
	eng *Engine

	in       chan func(*Engine)
	stopCh   chan struct{}
	stopOnce sync.Once

	// tracking gates fixes before they are queued, so a fix that races with
	// SetTracking(false) is dropped.
	tracking atomic.Bool

	mu   sync.RWMutex
	snap Snapshot
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	r := &Runner{
		cfg:    cfg,
		eng:    NewEngine(cfg.Engine, cfg.Clock, cfg.Notifier),
		in:     make(chan func(*Engine), 256),
		stopCh: make(chan struct{}),
	}
	r.tracking.Store(true)
	r.snap = r.eng.Snapshot()
	return r
}

// Run processes inputs and frames until ctx is done or Close is called.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil {
		return errors.New("fusion: runner is nil")
	}
	ticker := r.cfg.Clock.Ticker(r.cfg.FrameInterval)
	defer ticker.Stop()

	log := r.cfg.Logger
	log.Debug().Dur("frame_interval", r.cfg.FrameInterval).Msg("fusion runner started")
	defer log.Debug().Msg("fusion runner stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.stopCh:
			return nil
		case fn := <-r.in:
			fn(r.eng)
			r.publish()
		case <-ticker.C:
			rd, ok := r.eng.Frame()
			if !ok {
				continue
			}
			r.publish()
			if r.cfg.OnReading != nil {
				r.cfg.OnReading(rd)
			}
		}
	}
}

func (r *Runner) Close() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Runner) publish() {
	s := r.eng.Snapshot()
	r.mu.Lock()
	r.snap = s
	r.mu.Unlock()
}

func (r *Runner) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

func (r *Runner) submit(ctx context.Context, fn func(*Engine)) error {
	if r == nil {
		return ErrStopped
	}
	select {
	case <-r.stopCh:
		return ErrStopped
	default:
	}
	select {
	case r.in <- fn:
		return nil
	case <-r.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) Orientation(ctx context.Context, ev OrientationEvent) error {
	return r.submit(ctx, func(e *Engine) { e.HandleOrientation(ev) })
}

// Fix queues a geolocation fix. It is dropped while tracking is off.
func (r *Runner) Fix(ctx context.Context, f Fix) error {
	if !r.Tracking() {
		return nil
	}
	return r.submit(ctx, func(e *Engine) { e.HandleFix(f) })
}

func (r *Runner) Reset(ctx context.Context, reason ResetReason) error {
	return r.submit(ctx, func(e *Engine) { e.RequestReset(reason) })
}

func (r *Runner) SetOffset(ctx context.Context, deg float64) error {
	return r.submit(ctx, func(e *Engine) { e.SetOffset(deg) })
}

func (r *Runner) SetScreenAngle(ctx context.Context, deg float64) error {
	return r.submit(ctx, func(e *Engine) { e.SetScreenAngle(deg) })
}

// SetTracking flips the tracking flag immediately and then in the engine.
func (r *Runner) SetTracking(ctx context.Context, on bool) error {
	if r == nil {
		return ErrStopped
	}
	r.tracking.Store(on)
	return r.submit(ctx, func(e *Engine) { e.SetTracking(on) })
}

func (r *Runner) Tracking() bool {
	if r == nil {
		return false
	}
	return r.tracking.Load()
}
