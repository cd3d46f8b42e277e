package sim

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	geo "github.com/kellydunn/golang-geo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"headingup/internal/fusion"
)

func TestWalk_StaysNearCentre(t *testing.T) {
	w := Walk{CenterLatDeg: 45, CenterLonDeg: -122, RadiusM: 200, Period: time.Minute, PauseFraction: 0.25}
	centre := geo.NewPoint(45, -122)
	for i := 0; i < 120; i++ {
		st := w.StateAt(time.Duration(i) * 500 * time.Millisecond)
		for _, v := range []float64{st.LatDeg, st.LonDeg, st.SpeedMS} {
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "non-finite state at %d: %+v", i, st)
		}
		d := centre.GreatCircleDistance(geo.NewPoint(st.LatDeg, st.LonDeg)) * 1000
		require.LessOrEqual(t, d, 201.0, "distance exceeds radius at %d", i)
		require.NotNil(t, st.CompassDeg)
		require.GreaterOrEqual(t, *st.CompassDeg, 0.0)
		require.Less(t, *st.CompassDeg, 360.0)
	}
}

func TestWalk_PausesAtEndOfLap(t *testing.T) {
	w := Walk{CenterLatDeg: 1, CenterLonDeg: 2, RadiusM: 100, Period: 100 * time.Second, PauseFraction: 0.2}

	moving := w.StateAt(10 * time.Second)
	require.NotNil(t, moving.CourseDeg)
	assert.GreaterOrEqual(t, moving.SpeedMS, fusion.DefaultMovingSpeedMS)
	_, ok := fusion.CourseSample(moving.Fix(), fusion.DefaultMovingSpeedMS)
	assert.True(t, ok, "moving fix must be a course sample")

	paused := w.StateAt(90 * time.Second)
	assert.Zero(t, paused.SpeedMS)
	assert.Nil(t, paused.CourseDeg)
	_, ok = paused.Orientation()
	assert.True(t, ok, "compass keeps reporting while paused")
}

func TestWalk_Deterministic(t *testing.T) {
	w := Walk{CenterLatDeg: 1, CenterLonDeg: 2}
	assert.Equal(t, w.StateAt(1234*time.Millisecond), w.StateAt(1234*time.Millisecond))
}

func TestScenario_ParseAndInterpolateAngleWrap(t *testing.T) {
	src := []byte(`
version: 1
keyframes:
  - t: 0s
    lat_deg: 0
    lon_deg: 0
    speed_ms: 1
    course_deg: 350
    compass_deg: 340
  - t: 10s
    lat_deg: 10
    lon_deg: 20
    speed_ms: 3
    course_deg: 10
`)
	script, err := ParseScenarioScriptYAML(src)
	require.NoError(t, err)
	scn, err := NewScenario(script)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, scn.Duration())

	st := scn.StateAt(5 * time.Second)
	require.NotNil(t, st.CourseDeg)
	assert.Equal(t, 0.0, *st.CourseDeg, "course interpolates across north")
	assert.Equal(t, 5.0, st.LatDeg)
	assert.Equal(t, 10.0, st.LonDeg)
	assert.Equal(t, 2.0, st.SpeedMS)
	require.NotNil(t, st.CompassDeg)
	assert.Equal(t, 340.0, *st.CompassDeg, "compass holds without an end value")

	end := scn.StateAt(time.Hour)
	assert.Equal(t, 10.0, end.LatDeg, "non-looping scenario clamps")
	assert.Nil(t, end.CompassDeg)
}

func TestScenario_Validation(t *testing.T) {
	cases := []ScenarioScript{
		{Version: 2, Keyframes: []ScenarioKeyframe{{}}},
		{},
		{Keyframes: []ScenarioKeyframe{{T: time.Second}, {T: 0}}},
		{Keyframes: []ScenarioKeyframe{{LatDeg: 91}}},
		{Keyframes: []ScenarioKeyframe{{SpeedMS: -1}}},
		{Loop: true, Keyframes: []ScenarioKeyframe{{}}},
	}
	for i, c := range cases {
		_, err := NewScenario(c)
		assert.Error(t, err, "case %d", i)
	}
}

func TestSource_EmitsOnTicks(t *testing.T) {
	clk := clock.NewMock()
	var mu sync.Mutex
	var orients, fixes int
	src := NewSource(SourceConfig{
		Model:           Walk{CenterLatDeg: 1, CenterLonDeg: 1},
		Clock:           clk,
		CompassInterval: 100 * time.Millisecond,
		FixInterval:     time.Second,
		OnOrientation:   func(fusion.OrientationEvent) { mu.Lock(); orients++; mu.Unlock() },
		OnFix:           func(fusion.Fix) { mu.Lock(); fixes++; mu.Unlock() },
		Logger:          zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = src.Run(ctx); close(done) }()

	require.Eventually(t, func() bool {
		clk.Add(100 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		return orients >= 20
	}, 2*time.Second, time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, fixes, 2)
	assert.LessOrEqual(t, fixes, orients)
}

func TestBundledScenarioParses(t *testing.T) {
	script, err := LoadScenarioScript("../../configs/scenarios/stop-and-turn.yaml")
	require.NoError(t, err)
	sc, err := NewScenario(script)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, sc.Duration())

	moving := sc.StateAt(15 * time.Second)
	assert.GreaterOrEqual(t, moving.SpeedMS, fusion.DefaultMovingSpeedMS)
	assert.NotNil(t, moving.CourseDeg)
}
