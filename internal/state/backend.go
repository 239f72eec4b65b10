package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bundleup/bundleup/internal/utils"
)

// Backend is a flat string key-value persistence primitive. No multi-key
// transaction is available: every Put/Delete is an independent
// last-writer-wins write, which is exactly the consistency model the
// guard layers are designed to survive.
type Backend interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Delete(keys ...string) error
}

// FileBackend persists the key set as one JSON document, rewritten
// atomically on every mutation. Reads always go back to disk; there is no
// in-memory cache to go stale across a process restart.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", f.path, err)
	}
	m := map[string]string{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode state file %s: %w", f.path, err)
	}
	return m, nil
}

func (f *FileBackend) Get(key string) (string, bool, error) {
	m, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (f *FileBackend) Put(key, value string) error {
	m, err := f.load()
	if err != nil {
		return err
	}
	m[key] = value
	return f.write(m)
}

func (f *FileBackend) Delete(keys ...string) error {
	m, err := f.load()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(m, k)
	}
	return f.write(m)
}

func (f *FileBackend) write(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory for %s: %w", f.path, err)
	}
	return utils.WriteJSONAtomic(f.path, m)
}

// MemoryBackend is the in-process test double. It records the ordered
// write sequence so tests can assert exactly what was persisted and when,
// and PutHook lets a test fail a write mid-sequence to simulate a crash
// between the two store writes.
type MemoryBackend struct {
	mu      sync.Mutex
	data    map[string]string
	Writes  []string
	PutHook func(key, value string) error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: map[string]string{}}
}

func (m *MemoryBackend) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryBackend) Put(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutHook != nil {
		if err := m.PutHook(key, value); err != nil {
			return err
		}
	}
	m.data[key] = value
	m.Writes = append(m.Writes, "put "+key+"="+value)
	return nil
}

func (m *MemoryBackend) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
		m.Writes = append(m.Writes, "delete "+k)
	}
	return nil
}

// Snapshot returns a copy of the current contents.
func (m *MemoryBackend) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}
