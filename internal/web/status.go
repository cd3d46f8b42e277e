package web

import (
	"sync/atomic"
	"time"

	"headingup/internal/fusion"
	"headingup/internal/gps"
	"headingup/internal/render"
)

type Status struct {
	startUnixNano int64
	static        atomic.Value // StaticInfo
}

// StaticInfo is fixed at startup.
type StaticInfo struct {
	Listen         string   `json:"listen,omitempty"`
	StorageBackend string   `json:"storage_backend,omitempty"`
	Sources        []string `json:"sources,omitempty"`
	UDPDest        string   `json:"udp_dest,omitempty"`
	Sim            any      `json:"sim,omitempty"`
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.static.Store(StaticInfo{})
	return s
}

func (s *Status) SetStatic(info StaticInfo) {
	s.static.Store(info)
}

type StatusSnapshot struct {
	Service   string          `json:"service"`
	NowUTC    string          `json:"now_utc"`
	UptimeSec int64           `json:"uptime_sec"`
	Static    StaticInfo      `json:"static"`
	Fusion    fusion.Snapshot `json:"fusion"`
	GPS       *gps.Snapshot   `json:"gps,omitempty"`
	Waypoints int             `json:"waypoints"`
	WSClients int             `json:"ws_clients"`
	Notice    *render.Notice  `json:"last_notice,omitempty"`
}

// Snapshot fills the static part; the handler adds live component state.
func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	return StatusSnapshot{
		Service:   "headingup",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Static:    s.static.Load().(StaticInfo),
	}
}
