// Package sim produces deterministic compass and GPS input for demos and
// tests, either from a built-in walking circuit or from a YAML script.
package sim

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"headingup/internal/fusion"
)

// State is the simulated device at one instant. Nil pointers mean the sensor
// has nothing to report.
type State struct {
	LatDeg             float64
	LonDeg             float64
	SpeedMS            float64
	CourseDeg          *float64
	CompassDeg         *float64
	CompassAccuracyDeg *float64
}

func (s State) Fix() fusion.Fix {
	return fusion.Fix{Coords: fusion.FixCoords{
		Latitude:  s.LatDeg,
		Longitude: s.LonDeg,
		Heading:   s.CourseDeg,
		Speed:     fusion.Float(s.SpeedMS),
		Accuracy:  fusion.Float(5),
	}}
}

// Orientation returns the compass event, if the state carries one.
func (s State) Orientation() (fusion.OrientationEvent, bool) {
	if s.CompassDeg == nil {
		return fusion.OrientationEvent{}, false
	}
	return fusion.OrientationEvent{
		WebkitCompassHeading:  s.CompassDeg,
		WebkitCompassAccuracy: s.CompassAccuracyDeg,
	}, true
}

// Model maps elapsed time to a State.
type Model interface {
	StateAt(elapsed time.Duration) State
}

type SourceConfig struct {
	Model Model
	Clock clock.Clock

	// CompassInterval is the orientation event rate; fixes are emitted every
	// FixInterval on the same ticker.
	CompassInterval time.Duration
	FixInterval     time.Duration

	OnOrientation func(fusion.OrientationEvent)
	OnFix         func(fusion.Fix)
	Logger        zerolog.Logger
}

// Source plays a Model in real (or mocked) time.
type Source struct {
	cfg SourceConfig
}

func NewSource(cfg SourceConfig) *Source {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.CompassInterval <= 0 {
		cfg.CompassInterval = 100 * time.Millisecond
	}
	if cfg.FixInterval <= 0 {
		cfg.FixInterval = time.Second
	}
	if cfg.Model == nil {
		cfg.Model = Walk{}
	}
	return &Source{cfg: cfg}
}

// Run emits events until ctx is done. The first tick emits both a compass
// event and a fix.
func (s *Source) Run(ctx context.Context) error {
	clk := s.cfg.Clock
	start := clk.Now()
	ticker := clk.Ticker(s.cfg.CompassInterval)
	defer ticker.Stop()

	s.cfg.Logger.Info().
		Dur("compass_interval", s.cfg.CompassInterval).
		Dur("fix_interval", s.cfg.FixInterval).
		Msg("sim source started")

	var lastFix time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			st := s.cfg.Model.StateAt(now.Sub(start))
			if ev, ok := st.Orientation(); ok && s.cfg.OnOrientation != nil {
				s.cfg.OnOrientation(ev)
			}
			if lastFix.IsZero() || now.Sub(lastFix) >= s.cfg.FixInterval {
				lastFix = now
				if s.cfg.OnFix != nil {
					s.cfg.OnFix(st.Fix())
				}
			}
		}
	}
}
