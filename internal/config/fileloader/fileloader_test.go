package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanwarden/scanwarden/internal/config"
)

const validConfig = `
orchestrator:
  max_concurrent_scans: 3
  scan_timeout: 1h
  cancel_grace_period: 15s
  report_base_url: https://reports.internal

engine:
  base_url: http://zap:8080
  api_key: changeme
  http_timeout: 30s

dispatch:
  max_attempts: 3
  initial_backoff: 1s
  max_backoff: 30s

channels:
  - id: security-email
    type: email
    email:
      host: mail.internal
      port: 587
      from: scanwarden@internal
      recipients: [security@internal]
  - id: ops-chat
    type: chat_webhook
    chat_webhook:
      webhook_url: https://hooks.example.com/T000/B000
  - id: tracker
    type: issue_tracker
    issue_tracker:
      token: ghp_x
      owner: acme
      repo: shopfront
  - id: audit
    type: webhook
    webhook:
      url: https://audit.internal/hooks/scan
      headers:
        Authorization: Bearer x

applications:
  shopfront:
    target: https://shopfront.internal
    scan_type: full
    thresholds:
      critical: 0
      high: 5
      medium: 20
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	loader := NewFileLoader(writeConfig(t, validConfig))

	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Orchestrator.MaxConcurrentScans)
	assert.Equal(t, time.Hour, cfg.Orchestrator.ScanTimeout)
	assert.Equal(t, "http://zap:8080", cfg.Engine.BaseURL)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	require.Len(t, cfg.Channels, 4)
	assert.Equal(t, config.ChannelTypeEmail, cfg.Channels[0].Type)
	require.NotNil(t, cfg.Channels[0].Email)
	assert.Equal(t, []string{"security@internal"}, cfg.Channels[0].Email.Recipients)

	app, ok := cfg.Applications["shopfront"]
	require.True(t, ok)
	assert.Equal(t, "https://shopfront.internal", app.Target)
	require.NotNil(t, app.Thresholds.Critical)
	assert.Equal(t, 0, *app.Thresholds.Critical)
	require.NotNil(t, app.Thresholds.High)
	assert.Equal(t, 5, *app.Thresholds.High)
	assert.Nil(t, app.Thresholds.Low, "unset threshold stays unlimited")
}

func TestLoadMissingFile(t *testing.T) {
	loader := NewFileLoader(filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := loader.Load(context.Background())
	require.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantErr  string
	}{
		{
			"missing engine url",
			"orchestrator: {max_concurrent_scans: 1}",
			"engine.base_url",
		},
		{
			"channel missing block",
			"engine: {base_url: http://zap:8080}\nchannels:\n  - id: a\n    type: email",
			"email block",
		},
		{
			"duplicate channel ids",
			"engine: {base_url: http://zap:8080}\nchannels:\n  - id: a\n    type: webhook\n    webhook: {url: http://x}\n  - id: a\n    type: webhook\n    webhook: {url: http://y}",
			"duplicate channel id",
		},
		{
			"unknown channel type",
			"engine: {base_url: http://zap:8080}\nchannels:\n  - id: a\n    type: pager",
			"unknown type",
		},
		{
			"application without target",
			"engine: {base_url: http://zap:8080}\napplications:\n  app: {scan_type: full}",
			"target is required",
		},
		{
			"negative threshold",
			"engine: {base_url: http://zap:8080}\napplications:\n  app:\n    target: http://x\n    thresholds: {high: -1}",
			"must be >= 0",
		},
		{
			"malformed yaml",
			"engine: [",
			"failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewFileLoader(writeConfig(t, tt.contents))
			_, err := loader.Load(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
