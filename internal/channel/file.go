package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// File appends alerts as JSON lines to a file.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile creates a file channel.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("file path required")
	}
	// Ensure the file is writable
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening alert file: %w", err)
	}
	_ = f.Close()

	return &File{path: path}, nil
}

// Name returns the channel identifier.
func (c *File) Name() string { return "file" }

// Send appends the alert as a JSON line.
func (c *File) Send(_ context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(append(data, '\n'))
	return err
}
