// File: internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "widgetprobe", cfg.Logger().ServiceName)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser().NavigationTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Run().Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Run().PollInterval)
	assert.Equal(t, []string{"error"}, cfg.Collector().AlwaysKeepLevels)
	assert.Equal(t, 64*1024, cfg.Collector().MaxBodyBytes)
	assert.Equal(t, []string{"json", "text"}, cfg.Artifacts().Formats)
	assert.Empty(t, cfg.Store().URL)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"negative run timeout", func(c *Config) { c.RunCfg.Timeout = -time.Second }, "run.timeout must not be negative"},
		{"zero poll interval", func(c *Config) { c.RunCfg.PollInterval = 0 }, "run.poll_interval must be a positive duration"},
		{"zero body limit", func(c *Config) { c.CollectorCfg.MaxBodyBytes = 0 }, "collector.max_body_bytes"},
		{"unknown format", func(c *Config) { c.ArtifactsCfg.Formats = []string{"html"} }, `unknown format "html"`},
		{"pushgateway without job", func(c *Config) {
			c.MetricsCfg.PushgatewayURL = "http://localhost:9091"
			c.MetricsCfg.Job = ""
		}, "metrics.job is required"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

// -- Viper Loading Tests --

func TestNewConfigFromViper_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widgetprobe.yaml")
	content := []byte(`
logger:
  level: debug
run:
  timeout: 45s
collector:
  patterns: ["/api/"]
artifacts:
  formats: [json, junit]
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("WIDGETPROBE_RUN_RESOLVE_TIMEOUT", "750ms")
	t.Setenv("WIDGETPROBE_STORE_URL", "postgres://probe@localhost/probe")

	v := viper.New()
	SetDefaults(v)
	require.NoError(t, ConfigureViper(v, path))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, 45*time.Second, cfg.Run().Timeout)
	assert.Equal(t, 750*time.Millisecond, cfg.Run().ResolveTimeout)
	assert.Equal(t, []string{"/api/"}, cfg.Collector().Patterns)
	assert.Equal(t, []string{"json", "junit"}, cfg.Artifacts().Formats)
	assert.Equal(t, "postgres://probe@localhost/probe", cfg.Store().URL)
	// Untouched keys keep their defaults.
	assert.True(t, cfg.Collector().CaptureBodies)
}

func TestConfigureViper_MissingExplicitFile(t *testing.T) {
	v := viper.New()
	err := ConfigureViper(v, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNewConfigFromViper_Invalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("artifacts.formats", []string{"pdf"})

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetBrowserHeadless(false)
	iface.SetRunTimeout(time.Minute)
	iface.SetArtifactsDir("/tmp/probe")
	iface.SetArtifactsFormats([]string{"junit"})

	assert.False(t, iface.Browser().Headless)
	assert.Equal(t, time.Minute, iface.Run().Timeout)
	assert.Equal(t, "/tmp/probe", iface.Artifacts().Dir)
	assert.Equal(t, []string{"junit"}, iface.Artifacts().Formats)
}
