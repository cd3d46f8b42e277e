package web

import (
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"headingup/internal/coords"
	"headingup/internal/fusion"
	"headingup/internal/notify"
	"headingup/internal/waypoint"
)

// MsgWaypointAdded is shown after a successful add.
const MsgWaypointAdded = "Waypoint added."

type api struct {
	d Deps
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	snap := a.d.Status.Snapshot(time.Now().UTC())
	if a.d.Fusion != nil {
		snap.Fusion = a.d.Fusion.Snapshot()
	}
	if a.d.GPS != nil {
		g := a.d.GPS.Snapshot()
		snap.GPS = &g
	}
	if a.d.Waypoints != nil {
		snap.Waypoints = a.d.Waypoints.Len()
	}
	snap.WSClients = a.d.Hub.Subscribers()
	if n, ok := a.d.Hub.LastNotice(); ok {
		snap.Notice = &n
	}
	writeJSON(w, http.StatusOK, snap)
}

type waypointsResponse struct {
	Waypoints []waypoint.Waypoint `json:"waypoints"`
	From      *coords.Point       `json:"from,omitempty"`
	Legs      []waypoint.Leg      `json:"legs,omitempty"`
}

type addWaypointIn struct {
	Name   *string `json:"name"`
	Coords *string `json:"coords"`
}

var addWaypointSchema = objectSchema{
	allowed:  []string{"name", "coords"},
	required: []string{"coords"},
	nullable: []string{"name"},
}

func (a *api) waypoints(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if a.d.Waypoints == nil {
		writeError(w, http.StatusServiceUnavailable, "waypoints unavailable")
		return
	}

	if r.Method == http.MethodGet {
		resp := waypointsResponse{Waypoints: a.d.Waypoints.List()}
		if a.d.Fusion != nil {
			if loc := a.d.Fusion.Snapshot().LastLocation; loc != nil {
				resp.From = loc
				resp.Legs = waypoint.Navigate(*loc, resp.Waypoints)
			}
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		a.bodyError(w, err)
		return
	}
	var in addWaypointIn
	if err := decodeStrict(body, addWaypointSchema, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := coords.Parse(*in.Coords)
	if err != nil {
		a.d.Notifier.Notify(notify.New(coords.Hint, notify.ToneError))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Hint: coords.Hint})
		return
	}
	name := ""
	if in.Name != nil {
		name = *in.Name
	}
	wp, err := a.d.Waypoints.Add(name, p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.d.Notifier.Notify(notify.New(MsgWaypointAdded, notify.ToneOK))
	writeJSON(w, http.StatusCreated, wp)
}

func (a *api) waypoint(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	if a.d.Waypoints == nil {
		writeError(w, http.StatusServiceUnavailable, "waypoints unavailable")
		return
	}
	id := r.PathValue("id")
	if r.Method == http.MethodDelete {
		// Removing an unknown id is a no-op.
		a.d.Waypoints.Remove(id)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	wp, ok := a.d.Waypoints.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "waypoint not found")
		return
	}
	writeJSON(w, http.StatusOK, wp)
}

func (a *api) fly(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	if a.d.Waypoints == nil {
		writeError(w, http.StatusServiceUnavailable, "waypoints unavailable")
		return
	}
	wp, ok := a.d.Waypoints.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "waypoint not found")
		return
	}
	a.d.Sink.FlyTo(wp.Coords.Lon, wp.Coords.Lat, a.d.FlyToZoom)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "lon": wp.Coords.Lon, "lat": wp.Coords.Lat, "zoom": a.d.FlyToZoom})
}

type parseResponse struct {
	OK        bool          `json:"ok"`
	Coords    *coords.Point `json:"coords,omitempty"`
	Formatted string        `json:"formatted,omitempty"`
	Error     string        `json:"error,omitempty"`
	Hint      string        `json:"hint,omitempty"`
}

// parse previews coords.Parse without storing anything. A rejected input is
// still a 200; only a missing query is a client error.
func (a *api) parse(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	q, ok := r.URL.Query()["q"]
	if !ok {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	p, err := coords.Parse(strings.Join(q, " "))
	if err != nil {
		writeJSON(w, http.StatusOK, parseResponse{Error: err.Error(), Hint: coords.Hint})
		return
	}
	writeJSON(w, http.StatusOK, parseResponse{OK: true, Coords: &p, Formatted: coords.Format(p)})
}

type offsetPayload struct {
	OffsetDeg *float64 `json:"offset_deg"`
}

type offsetResponse struct {
	OffsetDeg int `json:"offset_deg"`
	Min       int `json:"min"`
	Max       int `json:"max"`
}

func (a *api) offset(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if a.d.Offset == nil {
		writeError(w, http.StatusServiceUnavailable, "calibration unavailable")
		return
	}
	if r.Method == http.MethodPost {
		body, err := readBody(w, r)
		if err != nil {
			a.bodyError(w, err)
			return
		}
		var in offsetPayload
		schema := objectSchema{allowed: []string{"offset_deg"}, required: []string{"offset_deg"}}
		if err := decodeStrict(body, schema, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		v := a.d.Offset.Set(*in.OffsetDeg)
		if a.d.Fusion != nil {
			if err := a.d.Fusion.SetOffset(r.Context(), float64(v)); err != nil {
				a.fusionError(w, err)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, offsetResponse{
		OffsetDeg: a.d.Offset.Value(),
		Min:       -45,
		Max:       45,
	})
}

func (a *api) orientation(w http.ResponseWriter, r *http.Request) {
	var ev fusion.OrientationEvent
	if !a.sensorBody(w, r, &ev) {
		return
	}
	a.submit(w, a.d.Fusion.Orientation(r.Context(), ev))
}

func (a *api) fix(w http.ResponseWriter, r *http.Request) {
	var f fusion.Fix
	if !a.sensorBody(w, r, &f) {
		return
	}
	a.submit(w, a.d.Fusion.Fix(r.Context(), f))
}

type screenPayload struct {
	AngleDeg *float64 `json:"angle_deg"`
}

func (a *api) screen(w http.ResponseWriter, r *http.Request) {
	var in screenPayload
	if !a.sensorBody(w, r, &in) {
		return
	}
	if in.AngleDeg == nil || math.IsNaN(*in.AngleDeg) || math.IsInf(*in.AngleDeg, 0) {
		writeError(w, http.StatusBadRequest, "angle_deg must be a finite number")
		return
	}
	a.submit(w, a.d.Fusion.SetScreenAngle(r.Context(), *in.AngleDeg))
}

func (a *api) visible(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	if a.d.Fusion == nil {
		writeError(w, http.StatusServiceUnavailable, "fusion unavailable")
		return
	}
	a.submit(w, a.d.Fusion.Reset(r.Context(), fusion.ResetVisible))
}

type trackingPayload struct {
	Enable *bool `json:"enable"`
}

func (a *api) tracking(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if a.d.Fusion == nil {
		writeError(w, http.StatusServiceUnavailable, "fusion unavailable")
		return
	}
	if r.Method == http.MethodPost {
		body, err := readBody(w, r)
		if err != nil {
			a.bodyError(w, err)
			return
		}
		var in trackingPayload
		schema := objectSchema{allowed: []string{"enable"}, required: []string{"enable"}}
		if err := decodeStrict(body, schema, &in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.d.Fusion.SetTracking(r.Context(), *in.Enable); err != nil {
			a.fusionError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enable": a.d.Fusion.Tracking()})
}

func (a *api) sensorBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if !allowMethods(w, r, http.MethodPost) {
		return false
	}
	if a.d.Fusion == nil {
		writeError(w, http.StatusServiceUnavailable, "fusion unavailable")
		return false
	}
	body, err := readBody(w, r)
	if err != nil {
		a.bodyError(w, err)
		return false
	}
	if err := decodeLenient(body, out); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (a *api) submit(w http.ResponseWriter, err error) {
	if err != nil {
		a.fusionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) fusionError(w http.ResponseWriter, err error) {
	if errors.Is(err, fusion.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeError(w, http.StatusRequestTimeout, err.Error())
}

func (a *api) bodyError(w http.ResponseWriter, err error) {
	if errors.Is(err, errUnsupportedMediaType) {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}
