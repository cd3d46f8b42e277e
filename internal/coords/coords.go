// Package coords interprets free-form, human-entered coordinate text.
//
// Two notations are accepted:
//
//	signed:   "34.1234, -118.5432"     (latitude first)
//	cardinal: "34.1234 N, 118.5432 W"  (hemisphere letter before or after)
//
// Input that is out of range or ambiguous is rejected, never clamped.
package coords

import (
	"errors"
	"fmt"
	"math"
)

// Point is a validated geographic position in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether p is finite and inside the latitude/longitude ranges.
func (p Point) Valid() bool {
	return isLat(p.Lat) && isLon(p.Lon)
}

var (
	ErrEmpty            = errors.New("empty input")
	ErrMalformed        = errors.New("malformed coordinates")
	ErrLatitudeRange    = errors.New("latitude out of range")
	ErrLongitudeRange   = errors.New("longitude out of range")
	ErrMissingLatitude  = errors.New("missing latitude")
	ErrMissingLongitude = errors.New("missing longitude")
	ErrAmbiguous        = errors.New("ambiguous coordinates")
)

// ParseError is returned by Parse for every rejected input.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("coords: %v: %q", e.Err, e.Input)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Hint is the user-facing example shown when parsing fails.
const Hint = `Enter coordinates like "34.1234, -118.5432" or "34.1234 N, 118.5432 W"`

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func isLat(v float64) bool { return isFinite(v) && v >= -90 && v <= 90 }

func isLon(v float64) bool { return isFinite(v) && v >= -180 && v <= 180 }

// Format renders p as "34.1234 N, 118.5432 W".
func Format(p Point) string {
	ns, ew := "N", "E"
	if p.Lat < 0 {
		ns = "S"
	}
	if p.Lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%.4f %s, %.4f %s", math.Abs(p.Lat), ns, math.Abs(p.Lon), ew)
}
