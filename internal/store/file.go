package store

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

type fileState struct {
	Alerts       []types.Alert       `json:"alerts"`
	Suppressions []types.Suppression `json:"suppressions"`
}

// File persists state as a single JSON document, rewritten atomically on
// every change.
type File struct {
	path string
	mu   sync.Mutex
	mem  *Memory
}

// NewFile opens or creates the state file at path.
func NewFile(path string, max int) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	f := &File{path: path, mem: NewMemory(max)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	if len(data) == 0 {
		return f, nil
	}
	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding state file: %w", err)
	}
	ctx := context.Background()
	for _, a := range st.Alerts {
		_ = f.mem.SaveAlert(ctx, a)
	}
	for _, s := range st.Suppressions {
		_ = f.mem.SaveSuppression(ctx, s)
	}
	return f, nil
}

// SaveAlert inserts or replaces an alert and rewrites the file.
func (f *File) SaveAlert(ctx context.Context, alert types.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.mem.SaveAlert(ctx, alert)
	return f.flushLocked(ctx)
}

// ListAlerts returns alerts newest first.
func (f *File) ListAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	return f.mem.ListAlerts(ctx, limit)
}

// DeleteAlert removes an alert and rewrites the file.
func (f *File) DeleteAlert(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.DeleteAlert(ctx, id); err != nil {
		return err
	}
	return f.flushLocked(ctx)
}

// SaveSuppression installs a suppression and rewrites the file.
func (f *File) SaveSuppression(ctx context.Context, s types.Suppression) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.mem.SaveSuppression(ctx, s)
	return f.flushLocked(ctx)
}

// ListSuppressions returns suppressions sorted by key.
func (f *File) ListSuppressions(ctx context.Context) ([]types.Suppression, error) {
	return f.mem.ListSuppressions(ctx)
}

// DeleteSuppression removes a suppression and rewrites the file.
func (f *File) DeleteSuppression(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.DeleteSuppression(ctx, key); err != nil {
		return err
	}
	return f.flushLocked(ctx)
}

// Ping checks the state directory is still reachable.
func (f *File) Ping(context.Context) error {
	if _, err := os.Stat(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("file store unavailable: %w", err)
	}
	return nil
}

// Close is a no-op; every change is already on disk.
func (f *File) Close() error { return nil }

func (f *File) flushLocked(ctx context.Context) error {
	alerts, _ := f.mem.ListAlerts(ctx, 0)
	sups, _ := f.mem.ListSuppressions(ctx)
	data, err := json.MarshalIndent(fileState{Alerts: alerts, Suppressions: sups}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing state: %w", err)
	}
	return nil
}
