package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"time"

	"headingup/internal/angle"
	"headingup/internal/fusion"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// dialGPSD connects to gpsd over TCP.
func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	if ctx == nil {
		return d.Dial("tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(w io.Writer) error {
	// scaled=true yields SI units (m/s, meters) and degrees.
	_, err := w.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Class string `json:"class"`
	Mode  *int   `json:"mode"`
	Time  string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	SpeedMS *float64 `json:"speed"`
	Track   *float64 `json:"track"`

	// Estimated position errors (meters) when available.
	Epx *float64 `json:"epx"`
	Epy *float64 `json:"epy"`
	Eph *float64 `json:"eph"`
}

type gpsdSat struct {
	Used bool `json:"used"`
}

type gpsdSKY struct {
	Class      string    `json:"class"`
	HDOP       *float64  `json:"hdop"`
	Satellites []gpsdSat `json:"satellites"`
}

type gpsdState struct {
	addr string

	latDeg float64
	lonDeg float64

	speedMS   *float64
	courseDeg *float64
	hAccM     *float64

	mode     int
	modeOK   bool
	satsUsed int
	satsOK   bool
	hdop     float64
	hdopOK   bool

	lastFix time.Time
	valid   bool
}

func newGPSDState(addr string) *gpsdState {
	return &gpsdState{addr: addr}
}

func (s *gpsdState) snapshot() Snapshot {
	out := Snapshot{
		Enabled:   true,
		Valid:     s.valid,
		Device:    "gpsd",
		Source:    SourceGPSD,
		GPSDAddr:  strings.TrimSpace(s.addr),
		LatDeg:    s.latDeg,
		LonDeg:    s.lonDeg,
		SpeedMS:   s.speedMS,
		CourseDeg: s.courseDeg,
		HorizAccM: s.hAccM,
	}
	if s.modeOK {
		v := s.mode
		out.FixMode = &v
	}
	if s.satsOK {
		v := s.satsUsed
		out.Satellites = &v
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// applyLine folds one gpsd report into the state and returns a fix for each
// TPV that carries a 2D or 3D position.
func (s *gpsdState) applyLine(nowUTC time.Time, line string) (fusion.Fix, bool, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return fusion.Fix{}, false, fmt.Errorf("gpsd json parse failed: %w", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return fusion.Fix{}, false, fmt.Errorf("gpsd tpv parse failed: %w", err)
		}
		f, ok := s.applyTPV(nowUTC, tpv)
		return f, ok, nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return fusion.Fix{}, false, fmt.Errorf("gpsd sky parse failed: %w", err)
		}
		s.applySKY(sky)
		return fusion.Fix{}, false, nil
	default:
		// Ignore other gpsd messages (e.g. VERSION/DEVICES/WATCH).
		return fusion.Fix{}, false, nil
	}
}

func (s *gpsdState) applyTPV(nowUTC time.Time, tpv gpsdTPV) (fusion.Fix, bool) {
	if tpv.Mode != nil {
		s.mode = *tpv.Mode
		s.modeOK = true
	}

	// Speed, track and accuracy describe this report only.
	s.speedMS = tpv.SpeedMS
	s.courseDeg = nil
	if tpv.Track != nil {
		v := angle.Wrap(*tpv.Track)
		s.courseDeg = &v
	}
	s.hAccM = nil
	if tpv.Eph != nil {
		v := *tpv.Eph
		s.hAccM = &v
	} else if tpv.Epx != nil && tpv.Epy != nil {
		v := math.Sqrt((*tpv.Epx)*(*tpv.Epx) + (*tpv.Epy)*(*tpv.Epy))
		s.hAccM = &v
	}

	// Consider it a fix when mode indicates one and lat/lon are present.
	if !s.modeOK || s.mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		return fusion.Fix{}, false
	}
	s.latDeg = *tpv.Lat
	s.lonDeg = *tpv.Lon

	fixTime := nowUTC
	if strings.TrimSpace(tpv.Time) != "" {
		if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
			fixTime = t.UTC()
		}
	}
	s.valid = true
	s.lastFix = fixTime

	return fusion.Fix{Coords: fusion.FixCoords{
		Latitude:  s.latDeg,
		Longitude: s.lonDeg,
		Heading:   s.courseDeg,
		Speed:     s.speedMS,
		Accuracy:  s.hAccM,
	}}, true
}

func (s *gpsdState) applySKY(sky gpsdSKY) {
	if sky.HDOP != nil {
		s.hdop = *sky.HDOP
		s.hdopOK = true
	}
	if len(sky.Satellites) > 0 {
		used := 0
		for _, sat := range sky.Satellites {
			if sat.Used {
				used++
			}
		}
		s.satsUsed = used
		s.satsOK = true
	}
}
