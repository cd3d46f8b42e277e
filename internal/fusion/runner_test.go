package fusion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readings struct {
	mu  sync.Mutex
	got []Reading
}

func (r *readings) add(rd Reading) {
	r.mu.Lock()
	r.got = append(r.got, rd)
	r.mu.Unlock()
}

func (r *readings) last() (Reading, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) == 0 {
		return Reading{}, 0
	}
	return r.got[len(r.got)-1], len(r.got)
}

func startRunner(t *testing.T) (*Runner, *clock.Mock, *readings) {
	t.Helper()
	clk := clock.NewMock()
	out := &readings{}
	r := NewRunner(RunnerConfig{Clock: clk, OnReading: out.add, Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return r, clk, out
}

func TestRunner_AppliesOnFrame(t *testing.T) {
	r, clk, out := startRunner(t)
	ctx := context.Background()

	require.NoError(t, r.Orientation(ctx, compass(77)))
	require.Eventually(t, func() bool { return r.Snapshot().Accepted == 1 }, time.Second, time.Millisecond)
	assert.True(t, r.Snapshot().Pending)

	require.Eventually(t, func() bool {
		clk.Add(DefaultFrameInterval)
		_, n := out.last()
		return n > 0
	}, time.Second, time.Millisecond)

	rd, n := out.last()
	assert.Equal(t, 1, n)
	assert.Equal(t, 77.0, rd.Degrees)
	assert.True(t, r.Snapshot().Reading.Valid)
}

func TestRunner_TrackingGuard(t *testing.T) {
	r, _, _ := startRunner(t)
	ctx := context.Background()

	require.NoError(t, r.SetTracking(ctx, false))
	assert.False(t, r.Tracking())
	require.NoError(t, r.Fix(ctx, moving(90, 5)))
	require.NoError(t, r.SetOffset(ctx, 3))

	require.Eventually(t, func() bool { return r.Snapshot().OffsetDeg == 3 }, time.Second, time.Millisecond)
	s := r.Snapshot()
	assert.False(t, s.Tracking)
	assert.Nil(t, s.LastLocation)
}

func TestRunner_SubmitAfterClose(t *testing.T) {
	r := NewRunner(RunnerConfig{Clock: clock.NewMock()})
	r.Close()
	assert.ErrorIs(t, r.Orientation(context.Background(), compass(1)), ErrStopped)
	assert.NoError(t, r.Run(context.Background()))
}
