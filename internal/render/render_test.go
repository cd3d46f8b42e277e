package render

import (
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"headingup/internal/coords"
	"headingup/internal/fusion"
	"headingup/internal/notify"
	"headingup/internal/waypoint"
)

type panicky struct{ calls int }

func (p *panicky) SetBearing(fusion.Reading) { p.calls++; panic("map gone") }
func (p *panicky) SetMarkers([]Marker)       { p.calls++ }
func (p *panicky) FlyTo(_, _, _ float64)     { p.calls++ }

func TestGuard_NilIsHeadless(t *testing.T) {
	s := Guard(nil, zerolog.Nop())
	assert.NotPanics(t, func() {
		s.SetBearing(fusion.Reading{Valid: true})
		s.SetMarkers(nil)
		s.FlyTo(1, 2, 18)
	})
}

func TestGuard_PanicDegradesToHeadless(t *testing.T) {
	p := &panicky{}
	s := Guard(p, zerolog.Nop())
	assert.NotPanics(t, func() { s.SetBearing(fusion.Reading{}) })
	s.SetMarkers(nil)
	s.FlyTo(0, 0, 1)
	assert.Equal(t, 1, p.calls)
}

func TestReconcile(t *testing.T) {
	a := Marker{ID: "a", Lon: 1, Lat: 1}
	b := Marker{ID: "b", Lon: 2, Lat: 2}
	c := Marker{ID: "c", Lon: 3, Lat: 3}
	cur := map[string]Marker{"a": a, "b": b}

	added, removed := Reconcile(cur, []Marker{a, c})
	assert.Equal(t, []Marker{c}, added)
	assert.Equal(t, []string{"b"}, removed)

	moved := Marker{ID: "a", Lon: 9, Lat: 9}
	added, removed = Reconcile(cur, []Marker{moved, b})
	assert.Equal(t, []Marker{moved}, added)
	assert.Empty(t, removed)

	added, removed = Reconcile(cur, nil)
	assert.Empty(t, added)
	sort.Strings(removed)
	assert.Equal(t, []string{"a", "b"}, removed)
}

func TestMarkersFrom(t *testing.T) {
	m := MarkersFrom([]waypoint.Waypoint{{ID: "wp_1", Name: "Home", Coords: coords.Point{Lat: 34, Lon: -118}}})
	assert.Equal(t, []Marker{{ID: "wp_1", Name: "Home", Lon: -118, Lat: 34}}, m)
}

func TestHub_FanOutAndReplay(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(8)

	ev := <-ch
	require.Equal(t, EventBearing, ev.Type, "a new subscriber learns the heading is unknown")
	assert.False(t, ev.Bearing.Valid)

	h.SetMarkers([]Marker{{ID: "a", Lon: 1, Lat: 2}})
	h.SetBearing(fusion.Reading{Valid: true, Degrees: 12, Rounded: 12})
	h.FlyTo(1, 2, 18)
	h.Notify(notify.New("Waypoint added.", notify.ToneOK))

	var types []string
	for i := 0; i < 4; i++ {
		ev := <-ch
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{EventMarkers, EventBearing, EventFlyTo, EventNotify}, types)

	// Late subscriber gets markers then bearing.
	_, late := h.Subscribe(8)
	ev = <-late
	require.Equal(t, EventMarkers, ev.Type)
	assert.Equal(t, "a", ev.Markers.All[0].ID)
	ev = <-late
	require.Equal(t, EventBearing, ev.Type)
	assert.Equal(t, 12.0, ev.Bearing.Degrees)

	h.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 1, h.Subscribers())

	n, ok := h.LastNotice()
	require.True(t, ok)
	assert.Equal(t, int64(4500), n.DurationMS)
}

func TestHub_MarkerDiffs(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe(8)
	<-ch // unknown bearing

	h.SetMarkers([]Marker{{ID: "a"}, {ID: "b"}})
	ev := <-ch
	assert.Len(t, ev.Markers.Added, 2)

	h.SetMarkers([]Marker{{ID: "a"}, {ID: "b"}})
	h.SetMarkers([]Marker{{ID: "b"}})
	ev = <-ch
	assert.Empty(t, ev.Markers.Added)
	assert.Equal(t, []string{"a"}, ev.Markers.Removed)
	assert.Equal(t, []Marker{{ID: "b"}}, h.Markers())
	assert.Empty(t, ch, "unchanged marker set must not broadcast")
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe(1)
	for i := 0; i < 10; i++ {
		h.SetBearing(fusion.Reading{Valid: true, Degrees: float64(i)})
	}
	assert.Len(t, ch, 1)
	r, ok := h.Bearing()
	require.True(t, ok)
	assert.Equal(t, 9.0, r.Degrees)
}

func TestMulti(t *testing.T) {
	h1, h2 := NewHub(), NewHub()
	var s Sink = Multi{h1, Headless{}, h2}
	s.SetBearing(fusion.Reading{Valid: true, Degrees: 5})
	_, ok1 := h1.Bearing()
	_, ok2 := h2.Bearing()
	assert.True(t, ok1)
	assert.True(t, ok2)
}
