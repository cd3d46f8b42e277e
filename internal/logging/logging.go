// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures New.
type Options struct {
	Level string
	// Console receives coloured human-readable output. Nil means os.Stderr.
	Console io.Writer
	NoColor bool
	// Extra writers receive each event as one line of zerolog JSON, e.g. the
	// in-memory buffer served by /api/logs.
	Extra []io.Writer
}

// ParseLevel maps a config level name to a zerolog level. Unknown or empty
// names map to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func New(opts Options) zerolog.Logger {
	out := opts.Console
	if out == nil {
		out = os.Stderr
	}
	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: opts.NoColor},
	}
	for _, w := range opts.Extra {
		if w == nil {
			continue
		}
		writers = append(writers, w)
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger()
}

// Sampled returns a logger that lets a short burst through and then one line
// in every n, for noisy per-event warnings such as malformed sensor input.
func Sampled(log zerolog.Logger, n uint32) zerolog.Logger {
	if n == 0 {
		n = 100
	}
	return log.With().Bool("sampled", true).Logger().Sample(&zerolog.BurstSampler{
		Burst:       5,
		Period:      10 * time.Second,
		NextSampler: &zerolog.BasicSampler{N: n},
	})
}
