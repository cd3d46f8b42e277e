// Package fusion turns compass and GPS-course samples into one stabilized
// bearing for a heading-up map.
//
// Engine holds all fusion state explicitly and is driven by its caller: sensor
// samples land in a single pending slot and Frame applies at most one of them.
// Engine is not safe for concurrent use; Runner serializes access to one.
package fusion

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"headingup/internal/angle"
	"headingup/internal/calibration"
	"headingup/internal/coords"
	"headingup/internal/notify"
)

const (
	DefaultMovingSpeedMS         = 1.2
	DefaultMaxCompassAccuracyDeg = 60
	DefaultAlignedToleranceDeg   = 2

	smoothingWindowMS = 190.0
	minCoefficient    = 0.07
	maxCoefficient    = 0.28
)

const (
	MsgUsingCompass = "Using compass heading."
	MsgUsingCourse  = "Using GPS course (moving)."
)

// ResetReason selects how many extra frames a reset is repeated for.
type ResetReason string

const (
	ResetScreen       ResetReason = "screen"
	ResetVisible      ResetReason = "visible"
	ResetOffset       ResetReason = "offset"
	ResetSinkAttached ResetReason = "sink_attached"
)

func (r ResetReason) deferFrames() int {
	switch r {
	case ResetScreen:
		return 2
	case ResetVisible, ResetOffset, ResetSinkAttached:
		return 1
	default:
		return 0
	}
}

type Config struct {
	MovingSpeedMS         float64
	MaxCompassAccuracyDeg float64
	AlignedToleranceDeg   float64
	// CourseHoldoff suppresses the compass source notification for this long
	// after the last course sample. Zero disables it.
	CourseHoldoff time.Duration
	// OffsetDeg is the restored calibration offset. It is clamped and takes
	// effect without a reset, so no reading exists until a sample arrives.
	OffsetDeg int
}

func (c *Config) applyDefaults() {
	if c.MovingSpeedMS <= 0 {
		c.MovingSpeedMS = DefaultMovingSpeedMS
	}
	if c.MaxCompassAccuracyDeg <= 0 {
		c.MaxCompassAccuracyDeg = DefaultMaxCompassAccuracyDeg
	}
	if c.AlignedToleranceDeg <= 0 {
		c.AlignedToleranceDeg = DefaultAlignedToleranceDeg
	}
	if c.CourseHoldoff < 0 {
		c.CourseHoldoff = 0
	}
}

// Reading is the engine output after one applied sample.
// Valid is false until the first sample or reset; such a reading must not be
// shown as north.
type Reading struct {
	Valid   bool      `json:"valid"`
	Degrees float64   `json:"degrees"`
	Rounded int       `json:"rounded"`
	Aligned bool      `json:"aligned"`
	Source  Source    `json:"source,omitempty"`
	At      time.Time `json:"at"`
}

type pendingSample struct {
	raw   float64
	reset bool
}

type Engine struct {
	cfg      Config
	clk      clock.Clock
	notifier notify.Notifier

	smoothed    float64
	hasSmoothed bool
	lastApplied time.Time

	active       Source
	lastCourseAt time.Time

	offsetDeg int
	screenDeg float64
	tracking  bool

	lastRaw  float64
	hasRaw   bool
	location *coords.Point

	pending  *pendingSample
	deferred []int

	reading Reading

	accepted uint64
	applied  uint64
	dropped  uint64
	resets   uint64
}

// NewEngine returns an engine with tracking enabled and no samples.
// A nil clk uses the wall clock; a nil notifier discards notifications.
func NewEngine(cfg Config, clk clock.Clock, n notify.Notifier) *Engine {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	if n == nil {
		n = notify.Discard
	}
	return &Engine{
		cfg:       cfg,
		clk:       clk,
		notifier:  n,
		tracking:  true,
		offsetDeg: calibration.Clamp(float64(cfg.OffsetDeg)),
	}
}

// HandleOrientation offers a compass event. It reports whether a sample was
// accepted into the pending slot.
func (e *Engine) HandleOrientation(ev OrientationEvent) bool {
	h, ok := ExtractHeading(ev)
	if !ok || !compassAccuracyOK(ev, e.cfg.MaxCompassAccuracyDeg) {
		return false
	}
	e.switchSource(SourceCompass)
	e.accept(h)
	return true
}

// HandleFix offers a geolocation fix. The position is always recorded; a
// course sample is accepted only while moving. Fixes are ignored while
// tracking is off.
func (e *Engine) HandleFix(f Fix) bool {
	if !e.tracking {
		return false
	}
	p := coords.Point{Lat: f.Coords.Latitude, Lon: f.Coords.Longitude}
	if p.Valid() {
		e.location = &p
	}
	course, ok := CourseSample(f, e.cfg.MovingSpeedMS)
	if !ok {
		return false
	}
	e.lastCourseAt = e.clk.Now()
	e.switchSource(SourceCourse)
	e.accept(course)
	return true
}

func (e *Engine) switchSource(src Source) {
	if e.active == src {
		return
	}
	if src == SourceCompass && e.active == SourceCourse && e.cfg.CourseHoldoff > 0 &&
		e.clk.Now().Sub(e.lastCourseAt) < e.cfg.CourseHoldoff {
		return
	}
	e.active = src
	msg := MsgUsingCompass
	if src == SourceCourse {
		msg = MsgUsingCourse
	}
	e.notifier.Notify(notify.New(msg, notify.ToneOK))
}

func (e *Engine) accept(raw float64) {
	e.lastRaw = raw
	e.hasRaw = true
	e.accepted++
	e.schedule(raw, false)
}

func (e *Engine) schedule(raw float64, reset bool) {
	if e.pending != nil {
		e.dropped++
		reset = reset || e.pending.reset
	}
	e.pending = &pendingSample{raw: raw, reset: reset}
}

// RequestReset re-applies the last raw sample (0 if none) without blending on
// the next frame, and again after the reason's deferred frame count.
// A newly attached sink before any accepted sample is left alone so it sees
// an invalid reading rather than a fabricated north.
func (e *Engine) RequestReset(reason ResetReason) {
	if reason == ResetSinkAttached && !e.hasRaw {
		return
	}
	e.resets++
	e.scheduleReset()
	if n := reason.deferFrames(); n > 0 {
		e.deferred = append(e.deferred, n)
	}
}

func (e *Engine) scheduleReset() {
	raw := 0.0
	if e.hasRaw {
		raw = e.lastRaw
	}
	e.schedule(raw, true)
}

// SetOffset stores the clamped calibration offset and resets on change.
func (e *Engine) SetOffset(deg float64) int {
	v := calibration.Clamp(deg)
	if v != e.offsetDeg {
		e.offsetDeg = v
		e.RequestReset(ResetOffset)
	}
	return v
}

// SetScreenAngle records the current screen rotation and resets on change.
func (e *Engine) SetScreenAngle(deg float64) {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		deg = 0
	}
	if deg != e.screenDeg {
		e.screenDeg = deg
		e.RequestReset(ResetScreen)
	}
}

// SetTracking turns course tracking on or off. Off makes later fixes no-ops.
func (e *Engine) SetTracking(on bool) { e.tracking = on }

func (e *Engine) Tracking() bool { return e.tracking }

// Frame is one display-frame boundary. It applies the pending sample, if any,
// and advances deferred resets. ok is false when nothing was applied.
func (e *Engine) Frame() (r Reading, ok bool) {
	if e.pending != nil {
		p := *e.pending
		e.pending = nil
		r = e.apply(p.raw, p.reset)
		ok = true
	}

	if len(e.deferred) > 0 {
		kept := e.deferred[:0]
		fire := false
		for _, n := range e.deferred {
			n--
			if n <= 0 {
				fire = true
				continue
			}
			kept = append(kept, n)
		}
		e.deferred = kept
		if fire {
			e.scheduleReset()
		}
	}
	return r, ok
}

// Correct applies offset and screen compensation to a raw heading.
func Correct(raw float64, offsetDeg int, screenDeg float64) float64 {
	return angle.Wrap(raw + float64(offsetDeg) - screenDeg)
}

// Coefficient is the blend factor for a sample arriving elapsed after the
// previous one.
func Coefficient(elapsed time.Duration) float64 {
	ms := math.Max(1, float64(elapsed)/float64(time.Millisecond))
	return angle.Clamp(ms/smoothingWindowMS, minCoefficient, maxCoefficient)
}

func (e *Engine) apply(raw float64, reset bool) Reading {
	corrected := Correct(raw, e.offsetDeg, e.screenDeg)
	now := e.clk.Now()
	if reset || !e.hasSmoothed {
		e.smoothed = corrected
		e.hasSmoothed = true
	} else {
		k := Coefficient(now.Sub(e.lastApplied))
		e.smoothed = angle.Wrap(e.smoothed + angle.Delta(e.smoothed, corrected)*k)
	}
	e.lastApplied = now
	e.applied++

	e.reading = Reading{
		Valid:   true,
		Degrees: e.smoothed,
		Rounded: Round(e.smoothed),
		Aligned: angle.Aligned(e.smoothed, e.cfg.AlignedToleranceDeg),
		Source:  e.active,
		At:      now,
	}
	return e.reading
}

// Round returns deg rounded to a whole degree in [0,359].
func Round(deg float64) int {
	return int(math.Round(angle.Wrap(deg))) % 360
}

// Reading returns the last output; Valid is false before the first frame
// that applied a sample.
func (e *Engine) Reading() Reading { return e.reading }

func (e *Engine) Location() (coords.Point, bool) {
	if e.location == nil {
		return coords.Point{}, false
	}
	return *e.location, true
}

type Snapshot struct {
	Reading        Reading       `json:"reading"`
	ActiveSource   Source        `json:"active_source,omitempty"`
	OffsetDeg      int           `json:"offset_deg"`
	ScreenAngleDeg float64       `json:"screen_angle_deg"`
	Tracking       bool          `json:"tracking"`
	Pending        bool          `json:"pending"`
	Accepted       uint64        `json:"accepted"`
	Applied        uint64        `json:"applied"`
	Dropped        uint64        `json:"dropped"`
	Resets         uint64        `json:"resets"`
	LastLocation   *coords.Point `json:"last_location,omitempty"`
}

func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		Reading:        e.reading,
		ActiveSource:   e.active,
		OffsetDeg:      e.offsetDeg,
		ScreenAngleDeg: e.screenDeg,
		Tracking:       e.tracking,
		Pending:        e.pending != nil,
		Accepted:       e.accepted,
		Applied:        e.applied,
		Dropped:        e.dropped,
		Resets:         e.resets,
	}
	if e.location != nil {
		loc := *e.location
		s.LastLocation = &loc
	}
	return s
}
