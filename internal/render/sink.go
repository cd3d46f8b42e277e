// Package render is the boundary between the fusion engine and whatever
// draws the map: browser clients, UDP listeners, or nothing at all.
package render

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"headingup/internal/fusion"
	"headingup/internal/waypoint"
)

// Marker is the drawable form of a waypoint.
type Marker struct {
	ID   string  `json:"id"`
	Name string  `json:"name,omitempty"`
	Lon  float64 `json:"lon"`
	Lat  float64 `json:"lat"`
}

// Sink receives display updates. Implementations must tolerate any call
// order; SetMarkers always carries the complete set.
type Sink interface {
	SetBearing(fusion.Reading)
	SetMarkers([]Marker)
	FlyTo(lon, lat, zoom float64)
}

// MarkersFrom converts the store's list to markers, keeping order.
func MarkersFrom(wps []waypoint.Waypoint) []Marker {
	out := make([]Marker, 0, len(wps))
	for _, w := range wps {
		out = append(out, Marker{ID: w.ID, Name: w.Name, Lon: w.Coords.Lon, Lat: w.Coords.Lat})
	}
	return out
}

// Headless discards everything.
type Headless struct{}

func (Headless) SetBearing(fusion.Reading)    {}
func (Headless) SetMarkers([]Marker)          {}
func (Headless) FlyTo(lon, lat, zoom float64) {}

type guarded struct {
	sink   Sink
	log    zerolog.Logger
	failed atomic.Bool
}

// Guard wraps s so a nil sink or a panicking one never reaches the caller.
// After the first panic the sink is treated as headless.
func Guard(s Sink, log zerolog.Logger) Sink {
	if s == nil {
		return Headless{}
	}
	return &guarded{sink: s, log: log}
}

func (g *guarded) call(op string, fn func()) {
	if g.failed.Load() {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			g.failed.Store(true)
			g.log.Error().Str("op", op).Interface("panic", rec).Msg("render sink failed; continuing headless")
		}
	}()
	fn()
}

func (g *guarded) SetBearing(r fusion.Reading) {
	g.call("set_bearing", func() { g.sink.SetBearing(r) })
}

func (g *guarded) SetMarkers(m []Marker) {
	g.call("set_markers", func() { g.sink.SetMarkers(m) })
}

func (g *guarded) FlyTo(lon, lat, zoom float64) {
	g.call("fly_to", func() { g.sink.FlyTo(lon, lat, zoom) })
}

// Multi forwards every call to each sink in order.
type Multi []Sink

func (m Multi) SetBearing(r fusion.Reading) {
	for _, s := range m {
		s.SetBearing(r)
	}
}

func (m Multi) SetMarkers(mk []Marker) {
	for _, s := range m {
		s.SetMarkers(mk)
	}
}

func (m Multi) FlyTo(lon, lat, zoom float64) {
	for _, s := range m {
		s.FlyTo(lon, lat, zoom)
	}
}
