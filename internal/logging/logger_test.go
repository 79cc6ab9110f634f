package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/mirroragent/internal/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())

	t.Run("nil config uses defaults", func(t *testing.T) {
		l, err := NewLogger(nil, nil)
		require.NoError(t, err)
		assert.True(t, l.Enabled(zapcore.InfoLevel))
		assert.False(t, l.Enabled(zapcore.DebugLevel))
	})

	t.Run("otel only without provider fails", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Output = OutputConfig{OTEL: true}
		_, err := NewLogger(cfg, nil)
		assert.Error(t, err)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad format", func(c *Config) { c.Format = "xml" }},
		{"no outputs", func(c *Config) { c.Output = OutputConfig{} }},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }},
		{"empty field", func(c *Config) { c.Fields = map[string]string{"env": ""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, NewDefaultConfig().Validate())
}

func TestLoggerContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRequestID(WithSiteID(context.Background(), "acme_ro"), "req-1")

	tl.Info(ctx, "route decided", zap.String("decision", "FAQ_RESPONSE"))
	tl.Trace(ctx, "raw hit")

	tl.AssertLogged(t, zapcore.InfoLevel, "route decided")
	tl.AssertLogged(t, TraceLevel, "raw hit")
	tl.AssertField(t, "route decided", "site.id", "acme_ro")
	tl.AssertField(t, "route decided", "request.id", "req-1")
	tl.AssertField(t, "route decided", "decision", "FAQ_RESPONSE")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "route decided")
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "degraded")
	tl.AssertLogged(t, zapcore.WarnLevel, "degraded")
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.True(t, cfg.Output.Stdout)

	_, err = FromAppConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = FromAppConfig(config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}
