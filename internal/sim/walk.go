package sim

import (
	"math"
	"time"

	geo "github.com/kellydunn/golang-geo"

	"headingup/internal/angle"
)

// Walk is a deterministic figure-eight circuit around a centre point with a
// stop at the end of every lap, so both course and compass arbitration get
// exercised.
type Walk struct {
	CenterLatDeg float64
	CenterLonDeg float64
	RadiusM      float64
	Period       time.Duration
	// PauseFraction of each Period is spent standing still.
	PauseFraction float64
	// CompassJitterDeg is the amplitude of simulated compass noise.
	CompassJitterDeg float64
}

func (w Walk) withDefaults() Walk {
	if w.RadiusM <= 0 {
		w.RadiusM = 150
	}
	if w.Period <= 0 {
		w.Period = 4 * time.Minute
	}
	if w.PauseFraction < 0 || w.PauseFraction >= 1 {
		w.PauseFraction = 0
	}
	if w.CompassJitterDeg < 0 {
		w.CompassJitterDeg = 0
	}
	return w
}

func (w Walk) StateAt(elapsed time.Duration) State {
	w = w.withDefaults()
	if elapsed < 0 {
		elapsed = 0
	}
	phase := float64(elapsed%w.Period) / float64(w.Period)
	moveFrac := 1 - w.PauseFraction
	moveSec := w.Period.Seconds() * moveFrac

	u := 1.0
	moving := phase < moveFrac
	if moving {
		u = phase / moveFrac
	}

	// x = cos(2πu), y = 0.5*sin(4πu), scaled by RadiusM.
	t := 2 * math.Pi * u
	east := w.RadiusM * math.Cos(t)
	north := w.RadiusM * 0.5 * math.Sin(2*t)

	origin := geo.NewPoint(w.CenterLatDeg, w.CenterLonDeg)
	pos := origin
	if d := math.Hypot(east, north); d > 0 {
		bearing := math.Atan2(east, north) * 180 / math.Pi
		pos = origin.PointAtDistanceAndBearing(d/1000, bearing)
	}

	vEast := -w.RadiusM * math.Sin(t) * 2 * math.Pi / moveSec
	vNorth := w.RadiusM * math.Cos(2*t) * 2 * math.Pi / moveSec
	course := angle.Wrap(math.Atan2(vEast, vNorth) * 180 / math.Pi)

	st := State{
		LatDeg:             pos.Lat(),
		LonDeg:             pos.Lng(),
		CompassAccuracyDeg: floatPtr(10),
	}
	jitter := w.CompassJitterDeg * math.Sin(2*math.Pi*phase*40)
	if moving {
		st.SpeedMS = math.Hypot(vEast, vNorth)
		st.CourseDeg = floatPtr(course)
	}
	st.CompassDeg = floatPtr(angle.Wrap(course + jitter))
	return st
}

func floatPtr(v float64) *float64 { return &v }
