package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"headingup/internal/fusion"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	fs.slept = append(fs.slept, d)
	return nil
}

func orient(deg float64) Record {
	return Record{Kind: KindOrientation, Orientation: &fusion.OrientationEvent{WebkitCompassHeading: fusion.Float(deg)}}
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0,orientation,{"webkitCompassHeading":90}
10,fix,{"coords":{"latitude":1,"longitude":2,"speed":3}}
`)

	recs, err := NewReader(in).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.True(t, recs[0].isStart(), "expected START marker, got %+v", recs[0])

	assert.Equal(t, KindOrientation, recs[1].Kind)
	require.NotNil(t, recs[1].Orientation)
	assert.Equal(t, 90.0, *recs[1].Orientation.WebkitCompassHeading)

	assert.Equal(t, 10*time.Nanosecond, recs[2].At)
	require.NotNil(t, recs[2].Fix)
	assert.Equal(t, 1.0, recs[2].Fix.Coords.Latitude)
	assert.Equal(t, 3.0, *recs[2].Fix.Coords.Speed)
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	cases := []string{
		"not-a-valid-line\n",
		"x,fix,{}\n",
		"-1,fix,{}\n",
		"0,gyro,{}\n",
		"0,fix,{not json}\n",
	}
	for _, in := range cases {
		_, err := NewReader(strings.NewReader(in)).ReadAll()
		assert.Error(t, err, "input %q", in)
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	fs := &fakeSleeper{}

	a, b, c := orient(1), orient(2), orient(3)
	a.At = 1 * time.Second
	b.At = 1*time.Second + 100*time.Nanosecond
	c.At = 2*time.Second + 50*time.Nanosecond
	recs := []Record{{At: 1 * time.Second}, a, b, {At: 2 * time.Second}, c}

	var got []float64
	err := Play(context.Background(), recs, 1.0, false, fs, func(r Record) error {
		got = append(got, *r.Orientation.WebkitCompassHeading)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got)
	assert.Equal(t, []time.Duration{100 * time.Nanosecond}, fs.slept, "a START marker resets the timeline")
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	second := orient(2)
	second.At = 100 * time.Nanosecond
	recs := []Record{orient(1), second}

	require.NoError(t, Play(context.Background(), recs, 2.0, false, fs, func(Record) error { return nil }))
	assert.Equal(t, []time.Duration{50 * time.Nanosecond}, fs.slept)
}

func TestPlay_InvalidInput(t *testing.T) {
	ctx := context.Background()
	noop := func(Record) error { return nil }
	assert.Error(t, Play(ctx, []Record{orient(1)}, 0, false, nil, noop), "speed must be positive")
	assert.Error(t, Play(ctx, []Record{{}}, 1, false, nil, noop), "START alone has no records")
}

func TestPlay_LoopStopsOnCancelAndCallbackError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	err := Play(ctx, []Record{orient(1)}, 1, true, &fakeSleeper{}, func(Record) error {
		n++
		if n == 5 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	boom := errors.New("boom")
	err = Play(context.Background(), []Record{orient(1)}, 1, true, &fakeSleeper{}, func(Record) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWriter_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	mock := clock.NewMock()

	w, err := CreateWriter(path, mock)
	require.NoError(t, err)
	mock.Add(20 * time.Nanosecond)
	require.NoError(t, w.WriteOrientation(fusion.OrientationEvent{Alpha: fusion.Float(10)}))
	mock.Add(time.Second)
	require.NoError(t, w.WriteFix(fusion.Fix{Coords: fusion.FixCoords{Latitude: 1, Longitude: 2}}))
	require.NoError(t, w.Close())
	assert.Error(t, w.WriteFix(fusion.Fix{}), "writes after Close fail")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "START\n20,orientation,{\"alpha\":10}\n1000000020,fix,{\"coords\":{\"latitude\":1,\"longitude\":2}}\n"
	assert.Equal(t, want, string(b))

	recs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, time.Second+20*time.Nanosecond, recs[2].At)
}

func TestClockSleeper_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ClockSleeper{Clock: clock.NewMock()}.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
