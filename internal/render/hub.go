package render

import (
	"sync"

	"headingup/internal/fusion"
	"headingup/internal/notify"
)

const (
	EventBearing = "bearing"
	EventMarkers = "markers"
	EventFlyTo   = "fly_to"
	EventNotify  = "notify"
)

type MarkerUpdate struct {
	Added   []Marker `json:"added"`
	Removed []string `json:"removed"`
	All     []Marker `json:"all"`
}

type FlyTo struct {
	Lon  float64 `json:"lon"`
	Lat  float64 `json:"lat"`
	Zoom float64 `json:"zoom"`
}

type Notice struct {
	Text       string      `json:"text"`
	Tone       notify.Tone `json:"tone"`
	DurationMS int64       `json:"duration_ms"`
}

// Event is one message to a subscriber. Exactly one payload is set.
type Event struct {
	Type    string          `json:"type"`
	Bearing *fusion.Reading `json:"bearing,omitempty"`
	Markers *MarkerUpdate   `json:"markers,omitempty"`
	FlyTo   *FlyTo          `json:"fly_to,omitempty"`
	Notify  *Notice         `json:"notify,omitempty"`
}

// Reconcile compares the current handles with the next complete marker set.
// A marker whose position or name changed is reported as added again.
func Reconcile(cur map[string]Marker, next []Marker) (added []Marker, removed []string) {
	seen := make(map[string]struct{}, len(next))
	for _, m := range next {
		seen[m.ID] = struct{}{}
		if old, ok := cur[m.ID]; !ok || old != m {
			added = append(added, m)
		}
	}
	for id := range cur {
		if _, ok := seen[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}

// Hub fans display updates out to subscribers. It keeps the latest bearing
// and marker set so a new subscriber starts in sync. Slow subscribers miss
// events rather than blocking the publisher; every markers event carries the
// full set so the next one resynchronizes them.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	bearing *fusion.Reading
	markers map[string]Marker
	order   []Marker
	notice  *Notice
}

func NewHub() *Hub {
	return &Hub{
		subs:    make(map[int]chan Event),
		markers: make(map[string]Marker),
	}
}

// Subscribe returns a channel that first receives the current markers and
// bearing.
func (h *Hub) Subscribe(buffer int) (int, <-chan Event) {
	if h == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	var replay []Event
	if len(h.order) > 0 {
		all := append([]Marker(nil), h.order...)
		replay = append(replay, Event{Type: EventMarkers, Markers: &MarkerUpdate{Added: all, All: all}})
	}
	// Without a published reading the subscriber is told explicitly that
	// the heading is unknown.
	b := fusion.Reading{}
	if h.bearing != nil {
		b = *h.bearing
	}
	replay = append(replay, Event{Type: EventBearing, Bearing: &b})
	// Replay under the lock so no broadcast can overtake it.
	for _, ev := range replay {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	if h == nil {
		return
	}
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// broadcastLocked must be called with h.mu held.
func (h *Hub) broadcastLocked(ev Event) {
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) SetBearing(r fusion.Reading) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bearing = &r
	b := r
	h.broadcastLocked(Event{Type: EventBearing, Bearing: &b})
}

// Bearing returns the last published reading.
func (h *Hub) Bearing() (fusion.Reading, bool) {
	if h == nil {
		return fusion.Reading{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.bearing == nil {
		return fusion.Reading{}, false
	}
	return *h.bearing, true
}

func (h *Hub) SetMarkers(next []Marker) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	added, removed := Reconcile(h.markers, next)
	if len(added) == 0 && len(removed) == 0 && len(next) == len(h.order) {
		return
	}
	h.markers = make(map[string]Marker, len(next))
	for _, m := range next {
		h.markers[m.ID] = m
	}
	h.order = append([]Marker(nil), next...)
	all := append([]Marker(nil), next...)
	h.broadcastLocked(Event{Type: EventMarkers, Markers: &MarkerUpdate{Added: added, Removed: removed, All: all}})
}

// Markers returns the current marker set in order.
func (h *Hub) Markers() []Marker {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Marker(nil), h.order...)
}

func (h *Hub) FlyTo(lon, lat, zoom float64) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(Event{Type: EventFlyTo, FlyTo: &FlyTo{Lon: lon, Lat: lat, Zoom: zoom}})
}

// Notify implements notify.Notifier.
func (h *Hub) Notify(n notify.Notification) {
	if h == nil {
		return
	}
	nt := Notice{Text: n.Text, Tone: n.Tone, DurationMS: n.DurationMS()}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notice = &nt
	h.broadcastLocked(Event{Type: EventNotify, Notify: &nt})
}

// LastNotice returns the most recent notification, for status pages.
func (h *Hub) LastNotice() (Notice, bool) {
	if h == nil {
		return Notice{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.notice == nil {
		return Notice{}, false
	}
	return *h.notice, true
}
