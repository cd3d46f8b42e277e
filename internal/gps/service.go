package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"headingup/internal/fusion"
	"headingup/internal/notify"
)

const (
	SourceNMEA = "nmea"
	SourceGPSD = "gpsd"

	// MsgUnavailable is shown when the receiver cannot be opened or reached.
	MsgUnavailable = "Unable to access GPS right now."
)

// Config controls the GPS reader.
//
// Device may be empty to auto-detect /dev/ttyACM* and /dev/ttyUSB*.
// Baud must be a supported rate by the platform implementation.
type Config struct {
	Enable bool

	// Source selects how GPS is ingested: "nmea" (direct serial) or "gpsd".
	// When empty, defaults to "nmea".
	Source string

	// GPSDAddr is host:port for gpsd when Source=="gpsd".
	GPSDAddr string

	// Device is the serial device path for Source=="nmea".
	Device string
	Baud   int

	// OnFix receives each fix. It is not called after Close returns.
	OnFix    func(fusion.Fix)
	Notifier notify.Notifier
	Logger   zerolog.Logger
}

type Snapshot struct {
	Enabled bool `json:"enabled"`
	Valid   bool `json:"valid"`

	Source   string `json:"source,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`

	Device string `json:"device,omitempty"`
	Baud   int    `json:"baud,omitempty"`

	LatDeg     float64  `json:"lat_deg,omitempty"`
	LonDeg     float64  `json:"lon_deg,omitempty"`
	SpeedMS    *float64 `json:"speed_ms,omitempty"`
	CourseDeg  *float64 `json:"course_deg,omitempty"`
	FixQuality *int     `json:"fix_quality,omitempty"`
	FixMode    *int     `json:"fix_mode,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
	HorizAccM  *float64 `json:"horiz_acc_m,omitempty"`
	Fixes      uint64   `json:"fixes"`

	LastFixUTC string `json:"last_fix_utc,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

type Service struct {
	cfg Config
	log zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last    atomic.Value // Snapshot
	stopped atomic.Bool
	fixes   atomic.Uint64

	mu     sync.Mutex
	closer io.Closer
}

func New(cfg Config) *Service {
	s := &Service{cfg: cfg, log: cfg.Logger.With().Str("component", "gps").Logger()}
	if s.cfg.Notifier == nil {
		s.cfg.Notifier = notify.Discard
	}
	s.last.Store(Snapshot{Enabled: cfg.Enable, Source: normalizeSource(cfg.Source), GPSDAddr: strings.TrimSpace(cfg.GPSDAddr), Device: cfg.Device, Baud: cfg.Baud})
	return s
}

func normalizeSource(src string) string {
	src = strings.ToLower(strings.TrimSpace(src))
	if src == "" {
		return SourceNMEA
	}
	return src
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	s.stopped.Store(false)

	switch normalizeSource(s.cfg.Source) {
	case SourceGPSD:
		return s.startGPSDLocked(ctx)
	case SourceNMEA:
		return s.startNMEALocked(ctx)
	default:
		return fmt.Errorf("gps: unknown source %q", s.cfg.Source)
	}
}

// deliver hands a fix to OnFix unless the service has been stopped.
func (s *Service) deliver(f fusion.Fix) {
	if s.stopped.Load() || s.cfg.OnFix == nil {
		return
	}
	s.fixes.Add(1)
	s.cfg.OnFix(f)
}

func (s *Service) publish(snap Snapshot) {
	snap.Fixes = s.fixes.Load()
	s.last.Store(snap)
}

func (s *Service) startNMEALocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			s.failLocked("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
			return fmt.Errorf("gps auto-detect failed")
		}
	}

	baud := s.cfg.Baud
	if baud == 0 {
		baud = 9600
	}

	f, err := openSerial(device, baud)
	if err != nil {
		s.failLocked(fmt.Sprintf("gps open failed device=%s baud=%d: %v", device, baud, err))
		return err
	}
	// Keep the file reference for Close().
	s.closer = f

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = f.Close()
		}()

		s.log.Info().Str("device", device).Int("baud", baud).Msg("gps enabled")
		st := nmeaState{device: device, baud: baud}
		s.readNMEA(childCtx, f, &st)
	}()

	s.publish(Snapshot{Enabled: true, Valid: false, Source: SourceNMEA, Device: device, Baud: baud})
	return nil
}

// readNMEA consumes sentences until r ends or ctx is done. Serial failures are
// not retried.
func (s *Service) readNMEA(ctx context.Context, r io.Reader, st *nmeaState) {
	reader := bufio.NewScanner(r)
	// NMEA sentences are typically < 82 chars, but allow some headroom.
	reader.Buffer(make([]byte, 0, 256), 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !reader.Scan() {
			err := reader.Err()
			if err == nil {
				err = io.EOF
			}
			s.setError(fmt.Sprintf("gps read stopped: %v", err))
			return
		}

		line := strings.TrimSpace(reader.Text())
		// Some receivers include non-NMEA chatter; filter quickly.
		if line == "" || !strings.HasPrefix(line, "$") {
			continue
		}

		sent, perr := parseNMEASentence(line)
		if perr != nil {
			// Avoid spamming on bad noise; just keep the last error.
			s.setError(perr.Error())
			continue
		}

		fix, ok := st.apply(time.Now().UTC(), sent)
		s.publish(st.snapshot())
		if ok {
			s.deliver(fix)
		}
	}
}

func (s *Service) startGPSDLocked(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.GPSDAddr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.log.Info().Str("addr", addr).Msg("gps enabled source=gpsd")
		st := newGPSDState(addr)
		backoff := 250 * time.Millisecond
		maxBackoff := 10 * time.Second
		announced := false

		for {
			select {
			case <-childCtx.Done():
				return
			default:
			}

			conn, err := dialGPSD(childCtx, addr)
			if err != nil {
				msg := fmt.Sprintf("gpsd dial failed addr=%s: %v", addr, err)
				if !announced {
					s.fail(msg)
					announced = true
				} else {
					s.setError(msg)
				}
				t := backoff
				if t > maxBackoff {
					t = maxBackoff
				}
				select {
				case <-childCtx.Done():
					return
				case <-time.After(t):
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				continue
			}

			// Reset backoff after a successful connection.
			backoff = 250 * time.Millisecond
			announced = false

			s.mu.Lock()
			// Swap the closer so Close() can interrupt an active connection.
			s.closer = conn
			s.mu.Unlock()

			// Unblock a pending read when the service stops.
			stop := context.AfterFunc(childCtx, func() { _ = conn.Close() })
			s.readGPSD(childCtx, conn, st)
			stop()
			_ = conn.Close()
			// Loop and reconnect.
		}
	}()

	s.publish(Snapshot{Enabled: true, Valid: false, Source: SourceGPSD, GPSDAddr: addr, Device: "gpsd"})
	return nil
}

func (s *Service) readGPSD(ctx context.Context, conn io.ReadWriter, st *gpsdState) {
	// Start watching JSON reports.
	if err := gpsdWatch(conn); err != nil {
		s.setError(fmt.Sprintf("gpsd watch failed: %v", err))
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			s.setError(fmt.Sprintf("gpsd read stopped: %v", err))
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fix, ok, perr := st.applyLine(time.Now().UTC(), line)
		if perr != nil {
			s.setError(perr.Error())
			continue
		}
		s.publish(st.snapshot())
		if ok {
			s.deliver(fix)
		}
	}
}

// Close stops the reader. Fixes already in flight are dropped.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopped.Store(true)
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	return v.(Snapshot)
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.Snapshot()
	cur.LastError = msg
	// Do not force Valid=false here; transient parse issues shouldn't flip validity.
	s.last.Store(cur)
}

// fail records msg, logs it and tells the user once.
func (s *Service) fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(msg)
}

func (s *Service) failLocked(msg string) {
	s.setErrorLocked(msg)
	s.log.Warn().Msg(msg)
	s.cfg.Notifier.Notify(notify.New(MsgUnavailable, notify.ToneError))
}

func autoDetectDevice() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
