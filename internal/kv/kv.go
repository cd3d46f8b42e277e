// Package kv is the durable key-value layer behind waypoints and calibration.
// Values are opaque strings; every Set is a full overwrite of the key.
package kv

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get for a key that was never written.
var ErrNotFound = errors.New("kv: key not found")

// Store is implemented by every backend.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Close() error
}

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open returns the backend named by backend. path is ignored for memory.
func Open(backend, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendFile:
		return OpenFile(path)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendMemory, "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", backend)
	}
}
