package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONFileSink is a minimal demonstration Sink: it keeps the current
// device set in a single JSON file, recovering it at startup the way
// doublezero's internal/netlink/db.go recovers provisioning state across
// restarts. It exists to prove the Sink contract is implementable outside
// the core, not as the production persistence layer (spec §1: the real
// store is SQLite-backed and lives outside this module).
type JSONFileSink struct {
	mu    sync.Mutex
	path  string
	state map[string]DeviceRecord // keyed by MAC
}

// NewJSONFileSink opens (or creates) the state file at path, recovering
// any previously-saved devices.
func NewJSONFileSink(path string) (*JSONFileSink, error) {
	s := &JSONFileSink{path: path, state: make(map[string]DeviceRecord)}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create state dir: %w", err)
	}

	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("persistence: read state file: %w", err)
		}
		var devices []DeviceRecord
		if err := json.Unmarshal(raw, &devices); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal state file: %w", err)
		}
		for _, d := range devices {
			s.state[d.MAC] = d
		}
		return s, nil
	}
	if err == nil || os.IsNotExist(err) {
		if err := s.flushLocked(); err != nil {
			return nil, fmt.Errorf("persistence: create state file: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("persistence: stat state file: %w", err)
}

func (s *JSONFileSink) flushLocked() error {
	devices := make([]DeviceRecord, 0, len(s.state))
	for _, d := range s.state {
		devices = append(devices, d)
	}
	raw, err := json.Marshal(devices)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}

func (s *JSONFileSink) SaveDevice(_ context.Context, d DeviceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[d.MAC] = d
	_ = s.flushLocked()
}

func (s *JSONFileSink) DeleteDevice(_ context.Context, d DeviceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, d.MAC)
	_ = s.flushLocked()
}

// SaveConnection is a no-op: spec §9 notes the in-memory graph treats
// (src, dst, proto) as the key via merge-on-insert, while "the persisted
// table may hold historical rows" — a real relational sink would append
// here, but this demonstration sink only tracks devices.
func (s *JSONFileSink) SaveConnection(context.Context, ConnectionRecord) {}

func (s *JSONFileSink) LoadDevices(context.Context) ([]DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeviceRecord, 0, len(s.state))
	for _, d := range s.state {
		out = append(out, d)
	}
	return out, nil
}
