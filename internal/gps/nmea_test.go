package gps

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"headingup/internal/fusion"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

const rmcMunich = "GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"

func TestParseNMEASentence_ChecksumOK(t *testing.T) {
	s, err := parseNMEASentence(nmeaLine(rmcMunich))
	require.NoError(t, err)
	assert.Equal(t, "RMC", s.Type)
}

func TestParseNMEASentence_ChecksumMismatch(t *testing.T) {
	good := nmeaLine(rmcMunich)
	_, err := parseNMEASentence(good[:len(good)-2] + "00")
	assert.Error(t, err)
}

func TestNMEAState_RMCProducesFix(t *testing.T) {
	var st nmeaState
	s, err := parseNMEASentence(nmeaLine(rmcMunich))
	require.NoError(t, err)

	fix, ok := st.apply(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), s)
	require.True(t, ok)
	assert.InDelta(t, 48.1173, fix.Coords.Latitude, 1e-4)
	assert.InDelta(t, 11.516667, fix.Coords.Longitude, 1e-4)
	require.NotNil(t, fix.Coords.Speed)
	assert.InDelta(t, 22.4*knotsToMS, *fix.Coords.Speed, 1e-9)
	require.NotNil(t, fix.Coords.Heading)
	assert.Equal(t, 84.4, *fix.Coords.Heading)

	snap := st.snapshot()
	assert.True(t, snap.Valid)
	assert.NotEmpty(t, snap.LastFixUTC)
}

func TestNMEAState_RMCWithoutCourse(t *testing.T) {
	var st nmeaState
	first, _ := parseNMEASentence(nmeaLine(rmcMunich))
	st.apply(time.Now().UTC(), first)

	still, _ := parseNMEASentence(nmeaLine("GPRMC,123520,A,4807.038,N,01131.000,E,000.0,,230394,003.1,W"))
	fix, ok := st.apply(time.Now().UTC(), still)
	require.True(t, ok)
	assert.Nil(t, fix.Coords.Heading, "course must not carry over")
	_, moving := fusion.CourseSample(fix, fusion.DefaultMovingSpeedMS)
	assert.False(t, moving, "stationary fix must not be a course sample")
}

func TestNMEAState_VoidRMCIgnored(t *testing.T) {
	var st nmeaState
	s, _ := parseNMEASentence(nmeaLine("GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	_, ok := st.apply(time.Now().UTC(), s)
	assert.False(t, ok, "void RMC must not produce a fix")
}

func TestNMEAState_GGAParsesQualitySatsHDOP(t *testing.T) {
	var st nmeaState
	s, err := parseNMEASentence(nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"))
	require.NoError(t, err)
	_, ok := st.apply(time.Now().UTC(), s)
	assert.False(t, ok, "GGA carries no course")

	snap := st.snapshot()
	require.NotNil(t, snap.FixQuality)
	assert.Equal(t, 1, *snap.FixQuality)
	require.NotNil(t, snap.Satellites)
	assert.Equal(t, 8, *snap.Satellites)
	require.NotNil(t, snap.HDOP)
	assert.InDelta(t, 0.9, *snap.HDOP, 1e-6)
	assert.True(t, snap.Valid)
}

func TestService_ReadNMEADeliversFixes(t *testing.T) {
	var got []fusion.Fix
	s := New(Config{Enable: true, Logger: zerolog.Nop(), OnFix: func(f fusion.Fix) { got = append(got, f) }})
	input := strings.Join([]string{
		"garbage",
		nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"),
		nmeaLine(rmcMunich),
		"$GPRMC,bad*00",
		nmeaLine("GPRMC,123520,A,4807.040,N,01131.000,E,022.4,085.0,230394,003.1,W"),
	}, "\r\n")

	s.readNMEA(context.Background(), strings.NewReader(input), &nmeaState{device: "test"})

	assert.Len(t, got, 2)
	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Fixes)
	assert.Contains(t, snap.LastError, "EOF")
}

func TestService_NoFixesAfterClose(t *testing.T) {
	calls := 0
	s := New(Config{Enable: true, Logger: zerolog.Nop(), OnFix: func(fusion.Fix) { calls++ }})
	s.Close()
	s.readNMEA(context.Background(), strings.NewReader(nmeaLine(rmcMunich)), &nmeaState{})
	assert.Zero(t, calls, "stale fix delivered")
}
