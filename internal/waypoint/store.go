// Package waypoint owns the canonical list of user-saved locations.
package waypoint

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"headingup/internal/coords"
	"headingup/internal/kv"
)

// Key is the persistence key for the full waypoint list.
const Key = "waypoints_v1"

// DefaultName is used when a waypoint is added with a blank name.
const DefaultName = "Untitled"

var ErrInvalidCoords = errors.New("waypoint: coordinates out of range")

type Waypoint struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Coords coords.Point `json:"coords"`
}

type StoreConfig struct {
	// KV is where the list is persisted. Nil keeps the list in memory only.
	KV     kv.Store
	Logger zerolog.Logger
	// OnPersistError receives failures that are otherwise only logged.
	OnPersistError func(error)
	// NewID overrides id generation (tests).
	NewID func() string
}

// Store is safe for concurrent use. Persistence failures never surface to
// callers; the in-memory list stays authoritative.
type Store struct {
	mu sync.Mutex

	cfg  StoreConfig
	list []Waypoint
	subs []func([]Waypoint)
}

// NewStore loads the persisted list. A missing or corrupt blob yields an
// empty list, and entries with out-of-range coordinates are dropped.
func NewStore(cfg StoreConfig) *Store {
	if cfg.NewID == nil {
		cfg.NewID = NewID
	}
	s := &Store{cfg: cfg}
	s.list = s.load()
	return s
}

// NewID returns "wp_" followed by 13 base36 characters.
func NewID() string {
	u := uuid.New()
	n := binary.BigEndian.Uint64(u[:8])
	id := strconv.FormatUint(n, 36)
	if len(id) < 13 {
		id = strings.Repeat("0", 13-len(id)) + id
	}
	return "wp_" + id
}

func (s *Store) load() []Waypoint {
	if s.cfg.KV == nil {
		return nil
	}
	log := s.cfg.Logger
	raw, err := s.cfg.KV.Get(Key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			log.Warn().Err(err).Msg("waypoints load failed")
		}
		return nil
	}
	var in []Waypoint
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		log.Warn().Err(err).Msg("waypoints blob unparsable; starting empty")
		return nil
	}
	out := make([]Waypoint, 0, len(in))
	for _, w := range in {
		if w.ID == "" || !w.Coords.Valid() {
			log.Debug().Str("id", w.ID).Msg("dropping invalid waypoint")
			continue
		}
		if strings.TrimSpace(w.Name) == "" {
			w.Name = DefaultName
		}
		out = append(out, w)
	}
	return out
}

// List returns a copy in insertion order.
func (s *Store) List() []Waypoint {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []Waypoint {
	out := make([]Waypoint, len(s.list))
	copy(out, s.list)
	return out
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

func (s *Store) Get(id string) (Waypoint, bool) {
	if s == nil {
		return Waypoint{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.list {
		if w.ID == id {
			return w, true
		}
	}
	return Waypoint{}, false
}

// Add appends a new waypoint and persists the list.
func (s *Store) Add(name string, p coords.Point) (Waypoint, error) {
	if s == nil {
		return Waypoint{}, errors.New("waypoint: nil store")
	}
	if !p.Valid() {
		return Waypoint{}, ErrInvalidCoords
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}

	s.mu.Lock()
	w := Waypoint{ID: s.uniqueIDLocked(), Name: name, Coords: p}
	s.list = append(s.list, w)
	snap := s.snapshotLocked()
	s.persistLocked(snap)
	subs := append([]func([]Waypoint){}, s.subs...)
	s.mu.Unlock()

	notify(subs, snap)
	return w, nil
}

func (s *Store) uniqueIDLocked() string {
	for {
		id := s.cfg.NewID()
		taken := false
		for _, w := range s.list {
			if w.ID == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
	}
}

// Remove deletes id. An unknown id is a no-op and does not persist.
func (s *Store) Remove(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	idx := -1
	for i, w := range s.list {
		if w.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.list = append(s.list[:idx:idx], s.list[idx+1:]...)
	snap := s.snapshotLocked()
	s.persistLocked(snap)
	subs := append([]func([]Waypoint){}, s.subs...)
	s.mu.Unlock()

	notify(subs, snap)
}

// OnChange registers fn to run after every mutation with the new list.
func (s *Store) OnChange(fn func([]Waypoint)) {
	if s == nil || fn == nil {
		return
	}
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func notify(subs []func([]Waypoint), list []Waypoint) {
	for _, fn := range subs {
		fn(list)
	}
}

func (s *Store) persistLocked(list []Waypoint) {
	if s.cfg.KV == nil {
		return
	}
	b, err := json.Marshal(list)
	if err == nil {
		err = s.cfg.KV.Set(Key, string(b))
	}
	if err != nil {
		err = fmt.Errorf("persist waypoints: %w", err)
		s.cfg.Logger.Warn().Err(err).Int("count", len(list)).Msg("waypoints not saved")
		if s.cfg.OnPersistError != nil {
			s.cfg.OnPersistError(err)
		}
	}
}
