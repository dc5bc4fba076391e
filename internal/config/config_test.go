package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "none", cfg.Events.Backend)
	assert.Equal(t, time.Hour, cfg.Sweep.Interval)

	p := cfg.Policy()
	assert.Equal(t, 3*time.Hour, p.ValidityWindow)
	assert.Equal(t, 10, p.DefaultCodeLength)
	assert.Equal(t, 5*time.Second, p.StoreTimeout)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", loc.String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CARDGATE_STORE_DRIVER", "MEMORY")
	t.Setenv("CARDGATE_CARD_VALIDITY_WINDOW", "90m")
	t.Setenv("CARDGATE_EVENTS_BACKEND", "redis")
	t.Setenv("CARDGATE_ADMIN_TOKEN", "tok")
	t.Setenv("CARDGATE_DISPLAY_TIMEZONE", "UTC")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "redis", cfg.Events.Backend)
	assert.Equal(t, "tok", cfg.Admin.Token)
	assert.Equal(t, 90*time.Minute, cfg.Policy().ValidityWindow)
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CARDGATE_HTTP_ADDR=:9999\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CARDGATE_HTTP_ADDR") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"CARDGATE_STORE_DRIVER", "sqlite"},
		{"CARDGATE_EVENTS_BACKEND", "kafka"},
		{"CARDGATE_CARD_CODE_LENGTH", "3"},
		{"CARDGATE_CARD_VALIDITY_WINDOW", "0s"},
		{"CARDGATE_DISPLAY_TIMEZONE", "Mars/Olympus"},
		{"CARDGATE_LOG_LEVEL", "loud"},
		{"CARDGATE_SWEEP_INTERVAL", "notaduration"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "warn", Format: "json"}}
	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "component", "test")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
