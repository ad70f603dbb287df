package channel

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Console writes alerts to the terminal with color.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console channel writing to w, or stdout when w is nil.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{out: w}
}

// Name returns the channel identifier.
func (c *Console) Name() string { return "console" }

// Send writes an alert line with color-coded severity.
func (c *Console) Send(_ context.Context, alert types.Alert) error {
	var prefix string
	switch alert.Severity {
	case types.SeverityCritical:
		prefix = color.New(color.FgRed, color.Bold).Sprint("[CRITICAL]")
	case types.SeverityHigh:
		prefix = color.RedString("[HIGH]")
	case types.SeverityMedium:
		prefix = color.YellowString("[MEDIUM]")
	default:
		prefix = color.CyanString("[LOW]")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s [%s] %s: %s\n", prefix, alert.Category, alert.Title, alert.Message)
	return err
}
