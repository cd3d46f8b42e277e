package kv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// File stores all keys as one YAML mapping. Writes replace the whole file
// through a temp file and rename so a crash never leaves it half written.
type File struct {
	path string

	mu sync.Mutex
	m  map[string]string
}

// OpenFile loads path if it exists. A missing or unparsable file starts empty;
// the next Set overwrites it.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("kv: file path is required")
	}
	f := &File{path: path, m: make(map[string]string)}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("kv: read %s: %w", path, err)
	}
	var m map[string]string
	if err := yaml.Unmarshal(b, &m); err == nil && m != nil {
		f.m = m
	}
	return f, nil
}

func (f *File) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]string, len(f.m)+1)
	for k, v := range f.m {
		next[k] = v
	}
	next[key] = value
	if err := f.write(next); err != nil {
		return err
	}
	f.m = next
	return nil
}

func (f *File) Close() error { return nil }

func (f *File) write(m map[string]string) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("kv: marshal: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("kv: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, f.path)
}
