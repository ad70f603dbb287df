package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// DefaultRingSize is the number of alerts a ring channel keeps.
const DefaultRingSize = 100

// Ring persists the most recent alerts as a JSON array, newest first.
type Ring struct {
	mu   sync.Mutex
	path string
	max  int
}

// NewRing creates a ring channel backed by path.
func NewRing(path string, max int) (*Ring, error) {
	if path == "" {
		return nil, fmt.Errorf("ring path required")
	}
	if max <= 0 {
		max = DefaultRingSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ring directory: %w", err)
	}
	return &Ring{path: path, max: max}, nil
}

// Name returns the channel identifier.
func (r *Ring) Name() string { return "ring" }

// Send prepends alert and rewrites the file, dropping the oldest entries
// beyond the ring size.
func (r *Ring) Send(_ context.Context, alert types.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	alerts, err := r.readLocked()
	if err != nil {
		return err
	}
	alerts = append([]types.Alert{alert}, alerts...)
	if len(alerts) > r.max {
		alerts = alerts[:r.max]
	}

	data, err := json.MarshalIndent(alerts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling ring: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing ring: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replacing ring: %w", err)
	}
	return nil
}

// Alerts returns the persisted alerts, newest first.
func (r *Ring) Alerts() ([]types.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked()
}

func (r *Ring) readLocked() ([]types.Alert, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ring: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var alerts []types.Alert
	if err := json.Unmarshal(data, &alerts); err != nil {
		return nil, fmt.Errorf("decoding ring: %w", err)
	}
	return alerts, nil
}
