package gps

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"headingup/internal/fusion"
	"headingup/internal/notify"
)

func TestGPSDState_TPVProducesFix(t *testing.T) {
	now := time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC)
	st := newGPSDState("127.0.0.1:2947")

	line := `{"class":"TPV","mode":3,"time":"2025-12-22T12:00:00.000Z","lat":45.5,"lon":-122.9,"altMSL":100.0,"speed":2.5,"track":370.0,"eph":4.2}`
	fix, ok, err := st.applyLine(now, line)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 45.5, fix.Coords.Latitude, 1e-9)
	assert.InDelta(t, -122.9, fix.Coords.Longitude, 1e-9)

	course, moving := fusion.CourseSample(fix, fusion.DefaultMovingSpeedMS)
	assert.True(t, moving)
	assert.InDelta(t, 10, course, 1e-9)
	require.NotNil(t, fix.Coords.Accuracy)
	assert.Equal(t, 4.2, *fix.Coords.Accuracy)

	snap := st.snapshot()
	assert.True(t, snap.Valid)
	require.NotNil(t, snap.FixMode)
	assert.Equal(t, 3, *snap.FixMode)
	assert.Equal(t, "2025-12-22T12:00:00Z", snap.LastFixUTC)
}

func TestGPSDState_NoFixWithoutMode(t *testing.T) {
	st := newGPSDState("")
	_, ok, err := st.applyLine(time.Now().UTC(), `{"class":"TPV","mode":1,"lat":1,"lon":2}`)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = st.applyLine(time.Now().UTC(), `{not json`)
	assert.Error(t, err)
}

func TestGPSDState_SKYUpdatesSatsAndHDOP(t *testing.T) {
	st := newGPSDState("127.0.0.1:2947")
	line := `{"class":"SKY","hdop":0.9,"satellites":[{"used":true},{"used":false},{"used":true}]}`
	_, ok, err := st.applyLine(time.Now().UTC(), line)
	require.NoError(t, err)
	assert.False(t, ok, "SKY is not a fix")

	snap := st.snapshot()
	require.NotNil(t, snap.Satellites)
	assert.Equal(t, 2, *snap.Satellites)
	require.NotNil(t, snap.HDOP)
	assert.InDelta(t, 0.9, *snap.HDOP, 1e-9)
}

func TestService_GPSDEndToEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		watch, _ := r.ReadString('\n')
		if !strings.HasPrefix(watch, "?WATCH=") {
			return
		}
		_, _ = conn.Write([]byte(`{"class":"VERSION"}` + "\n"))
		_, _ = conn.Write([]byte(`{"class":"TPV","mode":2,"lat":34.1,"lon":-118.5,"speed":3,"track":45}` + "\n"))
		time.Sleep(200 * time.Millisecond)
	}()

	fixes := make(chan fusion.Fix, 4)
	s := New(Config{
		Enable:   true,
		Source:   "gpsd",
		GPSDAddr: ln.Addr().String(),
		Logger:   zerolog.Nop(),
		OnFix:    func(f fusion.Fix) { fixes <- f },
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	select {
	case f := <-fixes:
		require.NotNil(t, f.Coords.Heading)
		assert.Equal(t, 45.0, *f.Coords.Heading)
	case <-time.After(3 * time.Second):
		t.Fatal("no fix from gpsd")
	}
}

func TestService_GPSDDialFailureNotifiesOnce(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_ = ln.Close()

	notes := make(chan notify.Notification, 8)
	s := New(Config{
		Enable:   true,
		Source:   "gpsd",
		GPSDAddr: addr,
		Logger:   zerolog.Nop(),
		Notifier: notify.Func(func(n notify.Notification) { notes <- n }),
	})
	require.NoError(t, s.Start(context.Background()))

	select {
	case n := <-notes:
		assert.Equal(t, notify.ToneError, n.Tone)
		assert.Equal(t, MsgUnavailable, n.Text)
	case <-time.After(3 * time.Second):
		t.Fatal("expected notification")
	}
	time.Sleep(600 * time.Millisecond)
	s.Close()
	assert.Empty(t, notes, "reconnect attempts must not repeat the notification")
	assert.Contains(t, s.Snapshot().LastError, "gpsd dial failed")
}
