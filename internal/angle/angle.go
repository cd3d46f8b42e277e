// Package angle holds the small amount of circular arithmetic shared by the
// fusion engine and the render sinks. All values are degrees.
package angle

import "math"

// Wrap folds deg into [0,360). Negative inputs are handled.
func Wrap(deg float64) float64 {
	w := math.Mod(deg, 360)
	if w < 0 {
		w += 360
	}
	// -1e-15 + 360 rounds to 360.
	if w >= 360 {
		return 0
	}
	return w
}

// Delta returns the shortest signed rotation from -> to, in (-180,180].
func Delta(from, to float64) float64 {
	d := Wrap(to-from+180) - 180
	if d <= -180 {
		return 180
	}
	return d
}

// Aligned reports whether bearing is within tol degrees of true-up.
func Aligned(bearing, tol float64) bool {
	return math.Abs(Delta(0, bearing)) <= tol
}

// Clamp limits v to [lo,hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
