package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry is one decoded zerolog event.
type LogEntry struct {
	Time      string         `json:"time,omitempty"`
	Level     string         `json:"level,omitempty"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// String renders the entry the way the console writer does, roughly.
func (e LogEntry) String() string {
	var sb strings.Builder
	if e.Time != "" {
		sb.WriteString(e.Time)
		sb.WriteByte(' ')
	}
	if e.Level != "" {
		sb.WriteString(strings.ToUpper(e.Level))
		sb.WriteByte(' ')
	}
	if e.Component != "" {
		fmt.Fprintf(&sb, "[%s] ", e.Component)
	}
	sb.WriteString(e.Message)
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Fields[k])
	}
	return sb.String()
}

func (e LogEntry) matches(f logFilter) bool {
	if f.minLevel != zerolog.NoLevel {
		lvl, err := zerolog.ParseLevel(e.Level)
		if err != nil || lvl == zerolog.NoLevel || lvl < f.minLevel {
			return false
		}
	}
	if f.component != "" && !strings.EqualFold(e.Component, f.component) {
		return false
	}
	if f.q != "" && !strings.Contains(strings.ToLower(e.String()), f.q) {
		return false
	}
	return true
}

// decodeLogLine turns one line written by the process logger into an entry.
// Lines that are not zerolog JSON are kept verbatim as the message.
func decodeLogLine(line []byte) LogEntry {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return LogEntry{Message: string(line)}
	}
	e := LogEntry{}
	take := func(key string) string {
		v, ok := raw[key]
		if !ok {
			return ""
		}
		delete(raw, key)
		s, _ := v.(string)
		return s
	}
	e.Time = take(zerolog.TimestampFieldName)
	e.Level = take(zerolog.LevelFieldName)
	e.Component = take("component")
	e.Message = take(zerolog.MessageFieldName)
	if len(raw) > 0 {
		e.Fields = raw
	}
	return e
}

// LogBuffer keeps the most recent events of the process logger for
// /api/logs. It is an io.Writer fed with zerolog JSON lines.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	entries []LogEntry
	partial []byte
	dropped uint64
}

func NewLogBuffer(maxEntries int) *LogBuffer {
	if maxEntries <= 0 {
		maxEntries = 2000
	}
	return &LogBuffer{max: maxEntries}
}

// Write implements io.Writer. A trailing fragment without a newline is held
// until the rest of the line arrives.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := append(b.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(data[:i], "\r")
		data = data[i+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		b.appendLocked(decodeLogLine(line))
	}
	b.partial = append([]byte(nil), data...)
	return len(p), nil
}

func (b *LogBuffer) appendLocked(e LogEntry) {
	b.entries = append(b.entries, e)
	if over := len(b.entries) - b.max; over > 0 {
		b.entries = append([]LogEntry(nil), b.entries[over:]...)
		b.dropped += uint64(over)
	}
}

type logFilter struct {
	minLevel  zerolog.Level
	component string
	q         string
}

// collect returns up to tail of the newest entries that pass f, oldest first.
func (b *LogBuffer) collect(tail int, f logFilter) (out []LogEntry, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.entries) - 1; i >= 0 && len(out) < tail; i-- {
		if b.entries[i].matches(f) {
			out = append(out, b.entries[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, b.dropped
}

// Snapshot returns up to tail of the newest entries, oldest first.
func (b *LogBuffer) Snapshot(tail int) ([]LogEntry, uint64) {
	if tail <= 0 {
		tail = 200
	}
	return b.collect(tail, logFilter{minLevel: zerolog.NoLevel})
}

type LogsResponse struct {
	NowUTC  string     `json:"now_utc"`
	Dropped uint64     `json:"dropped"`
	Entries []LogEntry `json:"entries"`
}

// Handler serves recent entries. Query parameters: tail (1..5000), level
// (minimum severity), component (exact), q (substring of the rendered line),
// format=text.
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		query := r.URL.Query()

		tail := 200
		if s := strings.TrimSpace(query.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				writeError(w, http.StatusBadRequest, "tail must be an integer in [1,5000]")
				return
			}
			tail = v
		}

		f := logFilter{
			minLevel:  zerolog.NoLevel,
			component: strings.TrimSpace(query.Get("component")),
			q:         strings.ToLower(strings.TrimSpace(query.Get("q"))),
		}
		if s := strings.TrimSpace(query.Get("level")); s != "" {
			lvl, err := zerolog.ParseLevel(strings.ToLower(s))
			if err != nil || lvl == zerolog.NoLevel {
				writeError(w, http.StatusBadRequest, "level must be one of debug, info, warn, error")
				return
			}
			f.minLevel = lvl
		}

		entries, dropped := b.collect(tail, f)
		if entries == nil {
			entries = []LogEntry{}
		}

		if strings.EqualFold(query.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, e := range entries {
				_, _ = fmt.Fprintln(w, e.String())
			}
			return
		}

		writeJSON(w, http.StatusOK, LogsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Dropped: dropped,
			Entries: entries,
		})
	})
}
