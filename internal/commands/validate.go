package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dwsmith1983/tripwire/internal/engine"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate tripwire.yaml and list the rules it defines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runValidate(cmd.OutOrStdout(), cfg)
		},
	}
}

func runValidate(w io.Writer, cfg *types.ProjectConfig) error {
	eng := engine.New(engine.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if cfg.Engine.DefaultRules {
		if err := eng.RegisterDefaultRules(); err != nil {
			return err
		}
	}
	if err := eng.ImportConfig(cfg.Rules); err != nil {
		return err
	}

	bold := color.New(color.Bold)
	_, _ = color.New(color.FgGreen).Fprintln(w, "Configuration is valid")
	fmt.Fprintln(w)

	_, _ = bold.Fprintln(w, "Channels:")
	for _, c := range channelConfigs(cfg) {
		minSev := c.MinSeverity
		if minSev == "" {
			minSev = types.SeverityLow
		}
		fmt.Fprintf(w, "  %-20s %-15s min=%s\n", c.Name, c.Type, minSev)
	}
	fmt.Fprintln(w)

	rules := eng.Rules()
	if len(rules) == 0 {
		fmt.Fprintln(w, "No rules defined.")
		return nil
	}
	_, _ = bold.Fprintln(w, "Rules:")
	for _, r := range rules {
		state := color.GreenString("enabled")
		if !r.Enabled {
			state = color.YellowString("disabled")
		}
		fmt.Fprintf(w, "  %-25s %-10s %-15s %-14s %s\n", r.Name, severityString(r.Severity), r.Condition, r.Category, state)
	}
	return nil
}

func severityString(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return color.RedString(string(s))
	case types.SeverityHigh:
		return color.MagentaString(string(s))
	case types.SeverityMedium:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}
