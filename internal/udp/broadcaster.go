// Package udp sends bearing frames to a UDP listener (a second display, a
// logger, or an instrument panel) as one JSON datagram per reading.
package udp

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog"

	"headingup/internal/fusion"
	"headingup/internal/render"
)

type udpConn interface {
	io.Writer
	io.Closer
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

type Broadcaster struct {
	dest string
	conn udpConn
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Broadcaster{
		dest: dest,
		conn: conn,
	}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

// Sink adapts a Broadcaster to render.Sink. Only bearings are sent; marker
// and camera updates have no meaning for a datagram listener.
type Sink struct {
	b   *Broadcaster
	log zerolog.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewSink(b *Broadcaster, log zerolog.Logger) *Sink {
	return &Sink{b: b, log: log.With().Str("component", "udp").Str("dest", b.Dest()).Logger()}
}

func (s *Sink) SetBearing(r fusion.Reading) {
	payload, err := json.Marshal(render.Event{Type: render.EventBearing, Bearing: &r})
	if err != nil {
		s.log.Warn().Err(err).Msg("encode bearing")
		return
	}
	if err := s.b.Send(payload); err != nil {
		// Listeners come and go; log the first failure of each run only.
		if s.failed.Add(1) == 1 {
			s.log.Warn().Err(err).Msg("udp send failed")
		}
		return
	}
	if s.failed.Load() > 0 {
		s.log.Info().Uint64("failures", s.failed.Swap(0)).Msg("udp send recovered")
	}
	s.sent.Add(1)
}

func (s *Sink) SetMarkers([]render.Marker) {}

func (s *Sink) FlyTo(lon, lat, zoom float64) {}

// Sent reports how many datagrams were written.
func (s *Sink) Sent() uint64 { return s.sent.Load() }
