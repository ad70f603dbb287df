package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tripwire/internal/config"
)

const starterConfig = `# tripwire configuration
metrics:
  retention: 24h
  subscriptionInterval: 5s

tracker:
  maxErrors: 1000
  patternThreshold: 5
  patternWindow: 5m

engine:
  interval: 5s
  defaultSuppression: 5m
  escalationDelay: 10m
  defaultRules: true
  defaultChannels: [console]

channels:
  - name: console
    type: console
  - name: log
    type: log
    minSeverity: high

rules:
  - name: queue_backlog
    description: Work queue is falling behind
    condition:
      type: threshold
      metric: queue.depth
      operator: ">"
      threshold: 1000
    severity: high
    category: performance
    channels: [console, log]
    suppression: 10m

store:
  type: file
  path: ./tripwire-alerts.json

server:
  addr: ":3000"

logging:
  level: info
  format: text
`

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter tripwire.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd.OutOrStdout(), dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing tripwire.yaml")
	return cmd
}

func runInit(w io.Writer, dir string, force bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, config.FileName)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", path, err)
		}
	}

	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	_, _ = color.New(color.FgGreen).Fprintf(w, "Wrote %s\n", path)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintf(w, "  tripwire validate --config-dir %s\n", dir)
	fmt.Fprintf(w, "  tripwire serve --config-dir %s\n", dir)
	return nil
}
