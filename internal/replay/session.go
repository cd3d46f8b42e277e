// Package replay records sensor sessions and plays them back into the
// fusion runner with their recorded timing.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"headingup/internal/fusion"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<kind>,<json>
//   where t_ns is nanoseconds since START, kind is "orientation" or "fix",
//   and json is the event as the HTTP and websocket APIs accept it.

const (
	KindOrientation = "orientation"
	KindFix         = "fix"
)

// Record is one log line. A START marker has an empty Kind.
type Record struct {
	At          time.Duration
	Kind        string
	Orientation *fusion.OrientationEvent
	Fix         *fusion.Fix
}

func (r Record) isStart() bool { return r.Kind == "" }

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}

		parts := strings.SplitN(line, ",", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("line %d: invalid replay line (want t_ns,kind,json): %q", lineNo, line)
		}
		tsNs, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid replay timestamp: %w", lineNo, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("line %d: invalid replay timestamp (negative): %d", lineNo, tsNs)
		}

		rec := Record{At: time.Duration(tsNs), Kind: strings.TrimSpace(parts[1])}
		payload := []byte(strings.TrimSpace(parts[2]))
		switch rec.Kind {
		case KindOrientation:
			var ev fusion.OrientationEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				return nil, fmt.Errorf("line %d: invalid orientation payload: %w", lineNo, err)
			}
			rec.Orientation = &ev
		case KindFix:
			var f fusion.Fix
			if err := json.Unmarshal(payload, &f); err != nil {
				return nil, fmt.Errorf("line %d: invalid fix payload: %w", lineNo, err)
			}
			rec.Fix = &f
		default:
			return nil, fmt.Errorf("line %d: unknown record kind %q", lineNo, rec.Kind)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Writer appends events to a session log. It is safe for concurrent use;
// sources write from their own goroutines.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	clk    clock.Clock
	start  time.Time
	closed bool
}

func CreateWriter(path string, clk clock.Clock) (*Writer, error) {
	if clk == nil {
		clk = clock.New()
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, clk: clk, start: clk.Now()}, nil
}

func (ww *Writer) WriteOrientation(ev fusion.OrientationEvent) error {
	return ww.write(KindOrientation, ev)
}

func (ww *Writer) WriteFix(f fusion.Fix) error {
	return ww.write(KindFix, f)
}

func (ww *Writer) write(kind string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	d := ww.clk.Since(ww.start)
	if d < 0 {
		d = 0
	}
	_, err = fmt.Fprintf(ww.w, "%d,%s,%s\n", d.Nanoseconds(), kind, b)
	return err
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ClockSleeper waits on a clock so tests can drive playback with a mock.
type ClockSleeper struct {
	Clock clock.Clock
}

func (s ClockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Play replays records with their relative timing, calling cb for every
// event. START markers reset the origin.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
// Play returns nil when ctx is cancelled.
func Play(ctx context.Context, records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(Record) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = ClockSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	events := 0
	for _, r := range records {
		if !r.isStart() {
			events++
		}
	}
	if events == 0 {
		return errors.New("no records")
	}

	for {
		var origin time.Duration
		var lastAt time.Duration
		var haveLast bool

		for _, r := range records {
			if ctx.Err() != nil {
				return nil
			}
			if r.isStart() {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return nil
					}
				}
			}

			if err := cb(r); err != nil {
				return err
			}

			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}
