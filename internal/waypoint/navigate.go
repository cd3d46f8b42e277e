package waypoint

import (
	geo "github.com/kellydunn/golang-geo"

	"headingup/internal/angle"
	"headingup/internal/coords"
)

// Leg is the great-circle path from the current position to one waypoint.
type Leg struct {
	ID          string  `json:"id"`
	DistanceM   float64 `json:"distance_m"`
	BearingDeg  float64 `json:"bearing_deg"`
	Description string  `json:"description"`
}

// Navigate returns one Leg per waypoint, in list order.
func Navigate(from coords.Point, wps []Waypoint) []Leg {
	if !from.Valid() || len(wps) == 0 {
		return nil
	}
	origin := geo.NewPoint(from.Lat, from.Lon)
	out := make([]Leg, 0, len(wps))
	for _, w := range wps {
		dst := geo.NewPoint(w.Coords.Lat, w.Coords.Lon)
		out = append(out, Leg{
			ID:          w.ID,
			DistanceM:   origin.GreatCircleDistance(dst) * 1000,
			BearingDeg:  angle.Wrap(origin.BearingTo(dst)),
			Description: coords.Format(w.Coords),
		})
	}
	return out
}
