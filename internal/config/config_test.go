package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.83, cfg.Router.FAQThreshold)
	assert.Equal(t, 0.70, cfg.Router.PagesThreshold)
	assert.Equal(t, 0.30, cfg.Router.EscalationThreshold)
	assert.Equal(t, 100, cfg.Curator.MaxFAQSize)
	assert.Equal(t, 0.3, cfg.Saga.SuccessThreshold)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold ordering", func(c *Config) { c.Router.PagesThreshold = 0.9 }, "router thresholds"},
		{"saga threshold zero", func(c *Config) { c.Saga.SuccessThreshold = 0 }, "saga.success_threshold"},
		{"saga threshold above one", func(c *Config) { c.Saga.SuccessThreshold = 1.5 }, "saga.success_threshold"},
		{"postgres without dsn", func(c *Config) { c.Store.Provider = "postgres" }, "store.dsn"},
		{"unknown vector provider", func(c *Config) { c.VectorStore.Provider = "pinecone" }, "vectorstore.provider"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.http_port"},
		{"temporal without queue", func(c *Config) { c.Temporal.Enabled = true; c.Temporal.TaskQueue = "" }, "temporal.host_port"},
		{"dedup out of range", func(c *Config) { c.Curator.DedupThreshold = 1.2 }, "curator.dedup_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Router, cfg.Router)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9190, cfg.Server.Port)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8088
router:
  faq_threshold: 0.9
curator:
  interval: 30m
saga:
  success_threshold: 0.5
store:
  provider: postgres
  dsn: postgres://u:p@localhost/mirror
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 0.9, cfg.Router.FAQThreshold)
	assert.Equal(t, 0.70, cfg.Router.PagesThreshold, "unset keys keep defaults")
	assert.Equal(t, 30*time.Minute, cfg.Curator.Interval.Duration())
	assert.Equal(t, 0.5, cfg.Saga.SuccessThreshold)
	assert.Equal(t, "postgres://u:p@localhost/mirror", cfg.Store.DSN.Value())
	assert.Equal(t, "[REDACTED]", cfg.Store.DSN.String())
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "router:\n  faq_threshold: 0.9\n", 0600)
	t.Setenv("MIRROR_ROUTER_FAQ_THRESHOLD", "0.88")
	t.Setenv("MIRROR_SAGA_SUCCESS_THRESHOLD", "0.6")
	t.Setenv("MIRROR_SERVER_HTTP_PORT", "7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.88, cfg.Router.FAQThreshold)
	assert.Equal(t, 0.6, cfg.Saga.SuccessThreshold)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	path := writeConfig(t, "server:\n  http_port: 8088\n", 0644)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	big := make([]byte, maxConfigFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	path := writeConfig(t, string(big), 0600)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoad_InvalidValuesFailValidation(t *testing.T) {
	path := writeConfig(t, "saga:\n  success_threshold: 2\n", 0600)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "router.faq_threshold", envKey("MIRROR_ROUTER_FAQ_THRESHOLD"))
	assert.Equal(t, "server.http_port", envKey("MIRROR_SERVER_HTTP_PORT"))
	assert.Equal(t, "debug", envKey("MIRROR_DEBUG"))
}

func TestDuration_RejectsNegative(t *testing.T) {
	var d Duration
	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.NoError(t, d.UnmarshalText([]byte("5s")))
	assert.Equal(t, 5*time.Second, d.Duration())
}

func TestSecret_NeverPrints(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hunter2")
	assert.Empty(t, Secret("").String())
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "router:\n  faq_threshold: 0.85\n", 0600)

	var got atomic.Value
	w, err := NewWatcher(path, func(c *Config) { got.Store(c.Router.FAQThreshold) }, zap.NewNop())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("router:\n  faq_threshold: 0.95\n"), 0600))

	require.Eventually(t, func() bool {
		v, ok := got.Load().(float64)
		return ok && v == 0.95
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatcher_RequiresCallback(t *testing.T) {
	_, err := NewWatcher("/tmp/x.yaml", nil, nil)
	require.Error(t, err)
}
