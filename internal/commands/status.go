package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

const keyServer = "server"

// NewStatusCmd creates the status command.
func NewStatusCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the alert dashboard of a running tripwire server",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return v.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			dash, err := fetchDashboard(ctx, http.DefaultClient, v.GetString(keyServer), v.GetString(keyAPIKey))
			if err != nil {
				return err
			}
			printDashboard(cmd.OutOrStdout(), dash)
			return nil
		},
	}
	cmd.Flags().String(keyServer, "http://localhost"+DefaultAddr, "base URL of the tripwire server")
	cmd.Flags().String(keyAPIKey, "", "API key sent as X-API-Key")
	return cmd
}

func fetchDashboard(ctx context.Context, client *http.Client, baseURL, apiKey string) (*types.Dashboard, error) {
	url := strings.TrimRight(baseURL, "/") + "/api/alerts/dashboard"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting %s: %w", baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("dashboard request failed (%d): %s", resp.StatusCode, body.Error)
	}

	var dash types.Dashboard
	if err := json.NewDecoder(resp.Body).Decode(&dash); err != nil {
		return nil, fmt.Errorf("decoding dashboard: %w", err)
	}
	return &dash, nil
}

func printDashboard(w io.Writer, d *types.Dashboard) {
	bold := color.New(color.Bold)

	_, _ = bold.Fprint(w, "Health: ")
	fmt.Fprintln(w, healthString(d.Health))
	fmt.Fprintf(w, "  Alerts: %d total, %d active, %d critical, %d acknowledged, %d resolved\n",
		d.Summary.Total, d.Summary.Active, d.Summary.Critical, d.Summary.Acknowledged, d.Summary.Resolved)
	fmt.Fprintln(w)

	if len(d.RecentAlerts) > 0 {
		_, _ = bold.Fprintln(w, "Recent Alerts:")
		for _, a := range d.RecentAlerts {
			fmt.Fprintf(w, "  %s  %-10s %-13s %s\n",
				a.CreatedAt.Format(time.RFC3339), severityString(a.Severity), a.Status, a.Title)
		}
		fmt.Fprintln(w)
	}

	if len(d.Suppressions) > 0 {
		_, _ = bold.Fprintln(w, "Suppressions:")
		for _, s := range d.Suppressions {
			fmt.Fprintf(w, "  %-30s until %s\n", s.Key, s.Until.Format(time.RFC3339))
		}
		fmt.Fprintln(w)
	}

	if len(d.Channels) > 0 {
		_, _ = bold.Fprintln(w, "Channels:")
		for name, st := range d.Channels {
			fmt.Fprintf(w, "  %-20s sent=%d failed=%d\n", name, st.Sent, st.Failed)
		}
		fmt.Fprintln(w)
	}
}

func healthString(h types.HealthStatus) string {
	switch h {
	case types.HealthHealthy:
		return color.GreenString("HEALTHY")
	case types.HealthWarning:
		return color.YellowString("WARNING")
	case types.HealthDegraded:
		return color.MagentaString("DEGRADED")
	case types.HealthCritical:
		return color.RedString("CRITICAL")
	default:
		return strings.ToUpper(string(h))
	}
}
