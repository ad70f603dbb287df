package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tripwire/internal/config"
	"github.com/dwsmith1983/tripwire/pkg/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("v0.0.0-test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     types.LoggingConfig
		wantErr bool
	}{
		{"defaults", types.LoggingConfig{}, false},
		{"json debug", types.LoggingConfig{Level: "debug", Format: "json"}, false},
		{"upper case level", types.LoggingConfig{Level: "WARN"}, false},
		{"bad level", types.LoggingConfig{Level: "loud"}, true},
		{"bad format", types.LoggingConfig{Format: "xml"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := newLogger(tt.cfg, &buf)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			l.Error("boom", "k", "v")
			assert.Contains(t, buf.String(), "boom")
		})
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(types.LoggingConfig{Format: "json"}, &buf)
	require.NoError(t, err)
	l.Info("engine started", "rules", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "engine started", rec["msg"])
	assert.Equal(t, float64(3), rec["rules"])
}

func TestDefaultChannels(t *testing.T) {
	cfg := &types.ProjectConfig{}
	assert.Equal(t, []string{"log"}, defaultChannels(cfg))

	cfg.Channels = []types.ChannelConfig{{Name: "a", Type: types.ChannelConsole}, {Name: "b", Type: types.ChannelLog}}
	assert.Equal(t, []string{"a", "b"}, defaultChannels(cfg))

	cfg.Engine.DefaultChannels = []string{"b"}
	assert.Equal(t, []string{"b"}, defaultChannels(cfg))
}

func TestBuildChannels(t *testing.T) {
	chans, err := buildChannels(context.Background(), &types.ProjectConfig{}, nil)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, "log", chans[0].Name())

	_, err = buildChannels(context.Background(), &types.ProjectConfig{
		Channels: []types.ChannelConfig{{Name: "hook", Type: types.ChannelWebhook}},
	}, nil)
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	t.Setenv("TRIPWIRE_API_KEY", "from-env")
	t.Setenv("TRIPWIRE_LOG_LEVEL", "debug")

	cfg := &types.ProjectConfig{}
	applyOverrides(cfg, newViper())

	require.NotNil(t, cfg.Server)
	assert.Equal(t, "from-env", cfg.Server.APIKey)
	assert.Empty(t, cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, DefaultAddr, serverAddr(cfg))
}

func TestApplyOverrides_NoneSet(t *testing.T) {
	cfg := &types.ProjectConfig{}
	applyOverrides(cfg, newViper())
	assert.Nil(t, cfg.Server)
}

func TestInitThenValidate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")

	out, err := execute(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, config.FileName)

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Engine.DefaultRules)
	assert.Len(t, cfg.Rules, 1)

	_, err = execute(t, "init", dir)
	assert.ErrorContains(t, err, "already exists")
	_, err = execute(t, "init", "--force", dir)
	assert.NoError(t, err)

	out, err = execute(t, "validate", "--config-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "queue_backlog")
	assert.Contains(t, out, "high_error_rate")
	assert.Contains(t, out, "console")
}

func TestValidate_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	bad := "rules:\n  - name: r\n    condition:\n      type: threshold\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(bad), 0o644))

	_, err := execute(t, "validate", "--config-dir", dir)
	assert.ErrorContains(t, err, "requires a metric")
}

func TestStatus(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/alerts/dashboard", r.URL.Path)
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		_ = json.NewEncoder(w).Encode(types.Dashboard{
			Health:  types.HealthCritical,
			Summary: types.AlertSummary{Total: 1, Active: 1, Critical: 1},
			RecentAlerts: []types.Alert{{
				ID: "alert_1", Title: "Alert: db_down", Severity: types.SeverityCritical,
				Status: types.AlertActive, CreatedAt: created,
			}},
			Channels: map[string]types.ChannelStats{"console": {Sent: 4}},
		})
	}))
	t.Cleanup(srv.Close)

	out, err := execute(t, "status", "--server", srv.URL, "--api-key", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "CRITICAL")
	assert.Contains(t, out, "Alert: db_down")
	assert.Contains(t, out, "sent=4")

	_, err = execute(t, "status", "--server", srv.URL)
	assert.ErrorContains(t, err, "unauthorized")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tripwire v0.0.0-test")
}
