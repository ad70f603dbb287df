package commands

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag and environment keys. Environment variables use the TRIPWIRE_
// prefix with dashes mapped to underscores, e.g. TRIPWIRE_API_KEY.
const (
	keyConfigDir = "config-dir"
	keyAddr      = "addr"
	keyAPIKey    = "api-key"
	keyLogLevel  = "log-level"
	keyLogFormat = "log-format"
)

// NewRootCmd creates the tripwire root command with all subcommands.
func NewRootCmd(version string) *cobra.Command {
	v := newViper()

	root := &cobra.Command{
		Use:   "tripwire",
		Short: "In-process metrics, error tracking and alerting",
		Long: `Tripwire records metrics, fingerprints errors into patterns and
evaluates alert rules against both, delivering alerts to configured
channels with suppression and escalation.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String(keyConfigDir, ".", "directory containing tripwire.yaml")
	flags.String(keyLogLevel, "", "override logging.level (debug, info, warn, error)")
	flags.String(keyLogFormat, "", "override logging.format (text, json)")
	_ = v.BindPFlags(flags)

	root.AddCommand(
		NewInitCmd(),
		NewServeCmd(v),
		NewValidateCmd(v),
		NewStatusCmd(v),
		NewVersionCmd(version),
	)
	return root
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TRIPWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}
