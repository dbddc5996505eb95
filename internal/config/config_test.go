// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "formcourier", cfg.Logger.ServiceName)
	assert.Equal(t, 2*time.Minute, cfg.Engine.SessionDeadline)
	assert.Equal(t, 3, cfg.Cache.InvalidateAfter)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.ReResolveCooldown)
	assert.Equal(t, 5*time.Second, cfg.Browser.PageCloseTimeout)
	assert.Equal(t, 10*time.Second, cfg.Browser.ProcessCloseTimeout)
	assert.Contains(t, cfg.Resolver.FallbackPaths, "/contact-us/")
	assert.Contains(t, cfg.Resolver.FallbackPaths, "/contactus.aspx")

	require.NoError(t, cfg.Validate())
}

func TestConfigOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("engine.session_deadline", "90s")
	v.Set("cache.invalidate_after", 5)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Engine.SessionDeadline)
	assert.Equal(t, 5, cfg.Cache.InvalidateAfter)
}

func TestValidateRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero session deadline", func(c *Config) { c.Engine.SessionDeadline = 0 }},
		{"zero queue size", func(c *Config) { c.Engine.QueueSize = 0 }},
		{"zero invalidate threshold", func(c *Config) { c.Cache.InvalidateAfter = 0 }},
		{"negative cooldown", func(c *Config) { c.Cache.ReResolveCooldown = -time.Hour }},
		{"empty fallback paths", func(c *Config) { c.Resolver.FallbackPaths = nil }},
		{"zero poll interval", func(c *Config) { c.Challenge.PollInterval = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateClampsChallengeWindow(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.Challenge.MaxWait = 500 * time.Millisecond
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Second, cfg.Challenge.MaxWait, "window floor is 2s")

	cfg.Challenge.MaxWait = time.Minute
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Challenge.MaxWait, "window ceiling is 5s")
}
