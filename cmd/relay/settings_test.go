package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay/pkg/archive"
	"github.com/tokmz/relay/pkg/logger"
)

const sampleYAML = `
app:
  name: relay-staging
  environment: staging
auth:
  secret: from-file
  ttl: 24h
ws:
  allowed_origins: ["https://chat.example.com"]
  heartbeat_interval: 10s
  heartbeat_timeout: 30s
archive:
  drivers: [memory, redis]
  redis:
    addrs: ["redis:6379"]
log:
  level: debug
  format: console
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSettingsFromFile(t *testing.T) {
	cfg := newConfigLoader(writeConfig(t, sampleYAML), nil)
	require.NoError(t, cfg.Load())
	defer cfg.Close()

	s, err := loadSettings(cfg)
	require.NoError(t, err)

	assert.Equal(t, "relay-staging", s.App.Name)
	assert.Equal(t, "relay-staging", s.Gateway.AppName)
	assert.Equal(t, "staging", s.Gateway.Environment)
	assert.Equal(t, "staging", s.Tracing.Environment)
	assert.Equal(t, 24*time.Hour, s.Auth.TTL)
	assert.Equal(t, []string{"https://chat.example.com"}, s.WS.AllowedOrigins)
	assert.Equal(t, 10*time.Second, s.WS.HeartbeatInterval)
	assert.Equal(t, []archive.Driver{archive.DriverMemory, archive.DriverRedis}, s.Archive.Drivers)
	assert.Equal(t, []string{"redis:6379"}, s.Archive.Redis.Addrs)
	assert.Equal(t, "relay:room:", s.Archive.Redis.KeyPrefix)

	// 未出现在文件中的 key 使用默认值
	assert.Equal(t, ":4000", s.Server.Addr)
	assert.Equal(t, 10*time.Second, s.Shutdown)
	assert.Equal(t, 64*1024, int(s.WS.MaxMessageSize))
}

func TestLoadSettingsEnvOverride(t *testing.T) {
	t.Setenv("RELAY_AUTH_SECRET", "from-env")
	t.Setenv("RELAY_SERVER_ADDR", ":9000")
	t.Setenv("RELAY_AUTH_DEV_TOKENS", "true")

	cfg := newConfigLoader("", nil)
	require.NoError(t, cfg.Load())
	defer cfg.Close()

	s, err := loadSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.Auth.Secret)
	assert.Equal(t, ":9000", s.Server.Addr)
	assert.True(t, s.Auth.DevTokens)
	assert.Equal(t, "relay", s.Gateway.AppName)
}

func TestLoadSettingsErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing secret", body: "app:\n  name: relay\n"},
		{name: "invalid tracing exporter", body: "auth:\n  secret: x\ntracing:\n  enabled: true\n  exporter: carrier-pigeon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newConfigLoader(writeConfig(t, tt.body), nil)
			require.NoError(t, cfg.Load())
			defer cfg.Close()

			_, err := loadSettings(cfg)
			assert.Error(t, err)
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	cfg := newConfigLoader(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, cfg.Load())
}

func TestLoggerConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      LogSettings
		want    logger.Level
		wantErr bool
	}{
		{name: "defaults", in: LogSettings{Level: "info", Format: "json"}, want: logger.InfoLevel},
		{name: "debug console", in: LogSettings{Level: "debug", Format: "console", Sampling: true}, want: logger.DebugLevel},
		{name: "bad level", in: LogSettings{Level: "loud", Format: "json"}, wantErr: true},
		{name: "bad format", in: LogSettings{Level: "info", Format: "xml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.in.loggerConfig()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Level)
			assert.Equal(t, tt.in.Sampling, c.Sampling != nil)
		})
	}
}
