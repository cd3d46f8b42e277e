package fusion

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"headingup/internal/notify"
)

type recorder struct{ got []notify.Notification }

func (r *recorder) Notify(n notify.Notification) { r.got = append(r.got, n) }

func (r *recorder) texts() []string {
	out := make([]string, 0, len(r.got))
	for _, n := range r.got {
		out = append(out, n.Text)
	}
	return out
}

func newTestEngine(cfg Config) (*Engine, *clock.Mock, *recorder) {
	clk := clock.NewMock()
	rec := &recorder{}
	return NewEngine(cfg, clk, rec), clk, rec
}

func compass(deg float64) OrientationEvent {
	return OrientationEvent{WebkitCompassHeading: Float(deg)}
}

func moving(course, speed float64) Fix {
	return Fix{Coords: FixCoords{
		Latitude:  34.1,
		Longitude: -118.5,
		Heading:   Float(course),
		Speed:     Float(speed),
	}}
}

func TestEngine_UnknownBeforeFirstSample(t *testing.T) {
	e, _, _ := newTestEngine(Config{})
	_, ok := e.Frame()
	assert.False(t, ok)
	assert.False(t, e.Reading().Valid)
	assert.False(t, e.Snapshot().Reading.Valid)
}

func TestEngine_FirstSampleIsExact(t *testing.T) {
	e, _, _ := newTestEngine(Config{})
	require.True(t, e.HandleOrientation(compass(123.4)))
	r, ok := e.Frame()
	require.True(t, ok)
	assert.True(t, r.Valid)
	assert.Equal(t, 123.4, r.Degrees)
	assert.Equal(t, 123, r.Rounded)
	assert.Equal(t, SourceCompass, r.Source)
}

func TestCoefficient_Clamps(t *testing.T) {
	assert.Equal(t, 0.07, Coefficient(0))
	assert.Equal(t, 0.07, Coefficient(time.Millisecond))
	assert.Equal(t, 0.07, Coefficient(-time.Second))
	assert.InDelta(t, 0.1, Coefficient(19*time.Millisecond), 1e-12)
	assert.InDelta(t, 0.28, Coefficient(190*time.Millisecond), 1e-12)
	assert.Equal(t, 0.28, Coefficient(5*time.Second))
}

func TestEngine_SmoothingBlendsShortestWay(t *testing.T) {
	e, clk, _ := newTestEngine(Config{})
	e.HandleOrientation(compass(0))
	e.Frame()

	clk.Add(time.Millisecond)
	e.HandleOrientation(compass(100))
	r, _ := e.Frame()
	assert.InDelta(t, 7, r.Degrees, 1e-9)

	clk.Add(time.Second)
	e.HandleOrientation(compass(100))
	r, _ = e.Frame()
	assert.InDelta(t, 7+93*0.28, r.Degrees, 1e-9)

	// Crossing north goes through 0, not around.
	e2, clk2, _ := newTestEngine(Config{})
	e2.HandleOrientation(compass(350))
	e2.Frame()
	clk2.Add(time.Second)
	e2.HandleOrientation(compass(10))
	r, _ = e2.Frame()
	assert.InDelta(t, 350+20*0.28, r.Degrees, 1e-9)
}

func TestEngine_LastWinsPerFrame(t *testing.T) {
	e, _, _ := newTestEngine(Config{})
	for _, d := range []float64{10, 20, 30} {
		require.True(t, e.HandleOrientation(compass(d)))
	}
	r, ok := e.Frame()
	require.True(t, ok)
	assert.Equal(t, 30.0, r.Degrees)

	_, ok = e.Frame()
	assert.False(t, ok, "coalesced samples must not be replayed")

	s := e.Snapshot()
	assert.Equal(t, uint64(3), s.Accepted)
	assert.Equal(t, uint64(1), s.Applied)
	assert.Equal(t, uint64(2), s.Dropped)
}

func TestEngine_CourseNeedsMovement(t *testing.T) {
	e, _, rec := newTestEngine(Config{})

	assert.False(t, e.HandleFix(moving(90, 0.5)))
	_, ok := e.Frame()
	assert.False(t, ok)
	loc, has := e.Location()
	require.True(t, has, "position is recorded even when stationary")
	assert.Equal(t, 34.1, loc.Lat)

	assert.True(t, e.HandleFix(moving(90, 2.0)))
	r, ok := e.Frame()
	require.True(t, ok)
	assert.Equal(t, 90.0, r.Degrees)
	assert.Equal(t, SourceCourse, r.Source)
	assert.Equal(t, []string{MsgUsingCourse}, rec.texts())
	assert.Equal(t, notify.ToneOK, rec.got[0].Tone)

	noCourse := moving(0, 5)
	noCourse.Coords.Heading = nil
	assert.False(t, e.HandleFix(noCourse))
	nan := moving(math.NaN(), 5)
	assert.False(t, e.HandleFix(nan))
}

func TestEngine_SourceChangeNotifiesOnce(t *testing.T) {
	e, _, rec := newTestEngine(Config{})
	e.HandleOrientation(compass(1))
	e.HandleOrientation(compass(2))
	e.HandleFix(moving(3, 2))
	e.HandleFix(moving(4, 2))
	e.HandleOrientation(compass(5))
	assert.Equal(t, []string{MsgUsingCompass, MsgUsingCourse, MsgUsingCompass}, rec.texts())
}

func TestEngine_CourseHoldoff(t *testing.T) {
	e, clk, rec := newTestEngine(Config{CourseHoldoff: 5 * time.Second})
	e.HandleFix(moving(90, 3))
	require.True(t, e.HandleOrientation(compass(95)))
	assert.Equal(t, []string{MsgUsingCourse}, rec.texts())

	r, _ := e.Frame()
	assert.Equal(t, 95.0, r.Degrees, "holdoff never blocks the sample itself")
	assert.Equal(t, SourceCourse, e.Snapshot().ActiveSource)

	clk.Add(6 * time.Second)
	e.HandleOrientation(compass(96))
	assert.Equal(t, []string{MsgUsingCourse, MsgUsingCompass}, rec.texts())
}

func TestEngine_CompassAcceptance(t *testing.T) {
	e, _, _ := newTestEngine(Config{})
	assert.False(t, e.HandleOrientation(OrientationEvent{}))
	assert.False(t, e.HandleOrientation(OrientationEvent{Alpha: Float(math.Inf(1))}))
	assert.False(t, e.HandleOrientation(OrientationEvent{
		WebkitCompassHeading: Float(10), WebkitCompassAccuracy: Float(61),
	}))
	assert.True(t, e.HandleOrientation(OrientationEvent{
		WebkitCompassHeading: Float(10), WebkitCompassAccuracy: Float(60),
	}))

	e.HandleOrientation(OrientationEvent{Alpha: Float(90)})
	r, _ := e.Frame()
	assert.Equal(t, 270.0, r.Degrees)
}

func TestExtractHeading_PrefersCompassHeading(t *testing.T) {
	h, ok := ExtractHeading(OrientationEvent{Alpha: Float(90), WebkitCompassHeading: Float(370)})
	require.True(t, ok)
	assert.Equal(t, 10.0, h)

	h, ok = ExtractHeading(OrientationEvent{Alpha: Float(-30), WebkitCompassHeading: Float(math.NaN())})
	require.True(t, ok)
	assert.Equal(t, 30.0, h)
}

func TestEngine_ResetWithoutSample(t *testing.T) {
	e, _, _ := newTestEngine(Config{})
	assert.Equal(t, 5, e.SetOffset(5))
	e.SetScreenAngle(90)
	r, ok := e.Frame()
	require.True(t, ok)
	assert.True(t, r.Valid)
	assert.Equal(t, 275.0, r.Degrees)
}

func TestEngine_SinkAttachedBeforeSampleStaysUnknown(t *testing.T) {
	e, _, _ := newTestEngine(Config{})
	e.RequestReset(ResetSinkAttached)
	_, ok := e.Frame()
	assert.False(t, ok)
	_, ok = e.Frame()
	assert.False(t, ok)
	assert.False(t, e.Reading().Valid)
	assert.Equal(t, uint64(0), e.Snapshot().Resets)

	e.HandleOrientation(compass(42))
	e.Frame()
	e.RequestReset(ResetSinkAttached)
	r, ok := e.Frame()
	require.True(t, ok)
	assert.Equal(t, 42.0, r.Degrees)
}

func TestEngine_RestoredOffsetDoesNotInventHeading(t *testing.T) {
	e, _, _ := newTestEngine(Config{OffsetDeg: 400})
	_, ok := e.Frame()
	assert.False(t, ok)
	assert.False(t, e.Reading().Valid)
	assert.Equal(t, 45, e.Snapshot().OffsetDeg)

	e.HandleOrientation(compass(10))
	r, _ := e.Frame()
	assert.Equal(t, 55.0, r.Degrees)
}

func TestEngine_ResetsAreNotCountedAsAccepted(t *testing.T) {
	e, _, _ := newTestEngine(Config{})
	e.HandleOrientation(compass(10))
	e.Frame()
	e.RequestReset(ResetScreen)
	for i := 0; i < 4; i++ {
		e.Frame()
	}
	s := e.Snapshot()
	assert.Equal(t, uint64(1), s.Accepted)
	assert.Equal(t, uint64(1), s.Resets)
	assert.Equal(t, uint64(3), s.Applied)
}

func TestEngine_ResetSkipsBlending(t *testing.T) {
	e, clk, _ := newTestEngine(Config{})
	e.HandleOrientation(compass(0))
	e.Frame()

	clk.Add(time.Second)
	e.RequestReset(ResetVisible)
	e.HandleOrientation(compass(180))
	r, _ := e.Frame()
	assert.Equal(t, 180.0, r.Degrees, "reset in the same frame stays in effect")
}

func TestEngine_DeferredResetFrames(t *testing.T) {
	cases := []struct {
		reason ResetReason
		want   []bool
	}{
		{ResetScreen, []bool{true, false, true, false}},
		{ResetVisible, []bool{true, true, false, false}},
		{ResetOffset, []bool{true, true, false, false}},
	}
	for _, tc := range cases {
		t.Run(string(tc.reason), func(t *testing.T) {
			e, _, _ := newTestEngine(Config{})
			e.HandleOrientation(compass(42))
			e.Frame()

			e.RequestReset(tc.reason)
			var got []bool
			for range tc.want {
				r, ok := e.Frame()
				got = append(got, ok)
				if ok {
					assert.Equal(t, 42.0, r.Degrees)
				}
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEngine_DeferredResetUsesLatestRaw(t *testing.T) {
	e, _, _ := newTestEngine(Config{})
	e.HandleOrientation(compass(10))
	e.SetScreenAngle(90)
	e.Frame() // reset applied: 10 - 90

	e.HandleOrientation(compass(20))
	e.Frame() // blended; the deferred reset is queued at the end of this frame
	r, ok := e.Frame()
	require.True(t, ok)
	assert.Equal(t, 290.0, r.Degrees)
}

func TestEngine_SetOffsetClampsAndIgnoresNoChange(t *testing.T) {
	e, _, _ := newTestEngine(Config{})
	assert.Equal(t, 45, e.SetOffset(80))
	assert.Equal(t, uint64(1), e.Snapshot().Resets)
	e.SetOffset(45.2)
	assert.Equal(t, uint64(1), e.Snapshot().Resets)
	assert.Equal(t, 45, e.Snapshot().OffsetDeg)
}

func TestEngine_TrackingOffIgnoresFixes(t *testing.T) {
	e, _, rec := newTestEngine(Config{})
	e.SetTracking(false)
	assert.False(t, e.HandleFix(moving(90, 5)))
	_, has := e.Location()
	assert.False(t, has)
	assert.Empty(t, rec.got)

	e.SetTracking(true)
	assert.True(t, e.HandleFix(moving(90, 5)))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0, Round(359.6))
	assert.Equal(t, 359, Round(359.4))
	assert.Equal(t, 0, Round(0.4))
	assert.Equal(t, 180, Round(-180))
}

func TestEngine_AlignedWithTrueUp(t *testing.T) {
	e, _, _ := newTestEngine(Config{})
	e.HandleOrientation(compass(358.5))
	r, _ := e.Frame()
	assert.True(t, r.Aligned)

	e.RequestReset(ResetOffset)
	e.HandleOrientation(compass(3))
	r, _ = e.Frame()
	assert.False(t, r.Aligned)
}
