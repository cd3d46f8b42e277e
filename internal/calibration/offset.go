// Package calibration persists the user's heading offset.
package calibration

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"

	"headingup/internal/kv"
)

const (
	Key = "heading_offset_deg_v1"

	MinDeg = -45
	MaxDeg = 45

	DefaultSaveDelay = 180 * time.Millisecond
)

// Clamp rounds deg to the nearest integer and limits it to [MinDeg,MaxDeg].
// Non-finite input becomes 0.
func Clamp(deg float64) int {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	r := int(math.Round(deg))
	if r < MinDeg {
		return MinDeg
	}
	if r > MaxDeg {
		return MaxDeg
	}
	return r
}

// Offset holds the current value in memory and writes it back after a
// quiet period, so a slider drag produces one save.
type Offset struct {
	kv  kv.Store
	log zerolog.Logger

	debounced func(func())

	mu    sync.Mutex
	value int
	dirty bool
}

func New(store kv.Store, log zerolog.Logger, saveDelay time.Duration) *Offset {
	if saveDelay <= 0 {
		saveDelay = DefaultSaveDelay
	}
	return &Offset{
		kv:        store,
		log:       log,
		debounced: debounce.New(saveDelay),
	}
}

// Load reads the persisted value. Missing or corrupt data yields 0.
func (o *Offset) Load() int {
	if o == nil {
		return 0
	}
	v := 0
	if o.kv != nil {
		raw, err := o.kv.Get(Key)
		switch {
		case err == nil:
			f, perr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if perr != nil {
				o.log.Warn().Str("raw", raw).Msg("heading offset unparsable; using 0")
			} else {
				v = Clamp(f)
			}
		case !errors.Is(err, kv.ErrNotFound):
			o.log.Warn().Err(err).Msg("heading offset load failed")
		}
	}
	o.mu.Lock()
	o.value = v
	o.dirty = false
	o.mu.Unlock()
	return v
}

func (o *Offset) Value() int {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Set clamps deg, applies it immediately and schedules a save.
// It returns the stored value.
func (o *Offset) Set(deg float64) int {
	if o == nil {
		return 0
	}
	v := Clamp(deg)
	o.mu.Lock()
	o.value = v
	o.dirty = true
	o.mu.Unlock()
	o.debounced(func() { _ = o.save() })
	return v
}

// Flush writes a pending value now.
func (o *Offset) Flush() error {
	if o == nil {
		return nil
	}
	return o.save()
}

func (o *Offset) save() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.dirty || o.kv == nil {
		return nil
	}
	if err := o.kv.Set(Key, strconv.Itoa(o.value)); err != nil {
		o.log.Warn().Err(err).Int("offset_deg", o.value).Msg("heading offset not saved")
		return err
	}
	o.dirty = false
	return nil
}
