package fusion

import (
	"math"

	"headingup/internal/angle"
)

type Source string

const (
	SourceNone    Source = ""
	SourceCompass Source = "compass"
	SourceCourse  Source = "course"
)

// OrientationEvent is a device-orientation reading. Absent or non-finite
// fields carry no information.
type OrientationEvent struct {
	Alpha                 *float64 `json:"alpha,omitempty"`
	WebkitCompassHeading  *float64 `json:"webkitCompassHeading,omitempty"`
	WebkitCompassAccuracy *float64 `json:"webkitCompassAccuracy,omitempty"`
}

// Fix is one geolocation update. Speed is m/s; Heading is the course over
// ground in degrees from true north.
type Fix struct {
	Coords FixCoords `json:"coords"`
}

type FixCoords struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Float returns a pointer to v, for building events.
func Float(v float64) *float64 { return &v }

func finite(p *float64) (float64, bool) {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0, false
	}
	return *p, true
}

// ExtractHeading derives a heading from ev. The platform compass heading is
// preferred; otherwise alpha (counter-clockwise) is converted to clockwise.
func ExtractHeading(ev OrientationEvent) (float64, bool) {
	if h, ok := finite(ev.WebkitCompassHeading); ok {
		return angle.Wrap(h), true
	}
	if a, ok := finite(ev.Alpha); ok {
		return angle.Wrap(360 - a), true
	}
	return 0, false
}

// compassAccuracyOK reports whether ev's accuracy, when present, is within max.
func compassAccuracyOK(ev OrientationEvent, max float64) bool {
	if ev.WebkitCompassAccuracy == nil {
		return true
	}
	return *ev.WebkitCompassAccuracy <= max
}

// CourseSample returns the course carried by f when the receiver is moving
// at or above minSpeed and reports a finite heading.
func CourseSample(f Fix, minSpeed float64) (float64, bool) {
	speed, ok := finite(f.Coords.Speed)
	if !ok || speed < minSpeed {
		return 0, false
	}
	course, ok := finite(f.Coords.Heading)
	if !ok {
		return 0, false
	}
	return angle.Wrap(course), true
}
