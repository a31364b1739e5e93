package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay/pkg/errors"
)

const testYAML = `
server:
  addr: ":4000"
  shutdown_timeout: 5s
ws:
  allowed_origins:
    - http://localhost:5173
    - http://localhost:3000
auth:
  secret: dev-secret
  dev_tokens: true
`

func writeTestConfig(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "relay.yaml", testYAML)

	tests := []struct {
		name string
		opts []Option
	}{
		{name: "config file", opts: []Option{WithConfigFile(cfgPath)}},
		{name: "name and paths", opts: []Option{WithConfigName("relay"), WithConfigType("yaml"), WithConfigPaths(dir)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.opts...)
			require.NoError(t, c.Load())

			assert.Equal(t, ":4000", c.GetString("server.addr"))
			assert.Equal(t, 5*time.Second, c.GetDuration("server.shutdown_timeout"))
			assert.True(t, c.GetBool("auth.dev_tokens"))
			assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, c.GetStringSlice("ws.allowed_origins"))
			assert.Equal(t, cfgPath, c.ConfigFileUsed())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	err := New(WithConfigFile(missing)).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))

	c := New(
		WithConfigFile(missing),
		WithOptional(true),
		WithDefaults(map[string]any{"server.addr": ":4000"}),
	)
	require.NoError(t, c.Load())
	assert.Equal(t, ":4000", c.GetString("server.addr"))
}

func TestLoadInvalidFile(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "bad.yaml", "server: [addr")

	err := New(WithConfigFile(cfgPath)).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigReadFailed))
}

func TestGenericGet(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "relay.yaml", testYAML)
	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	assert.Equal(t, "dev-secret", Get[string](c, "auth.secret"))
	assert.True(t, Get[bool](c, "auth.dev_tokens"))
	assert.Equal(t, 0, Get[int](c, "auth.secret"))
	assert.Equal(t, "", Get[string](c, "missing"))
}

func TestSetAndIsSet(t *testing.T) {
	c := New()
	assert.False(t, c.IsSet("archive.buffer"))

	c.Set("archive.buffer", 256)
	assert.True(t, c.IsSet("archive.buffer"))
	assert.Equal(t, 256, c.GetInt("archive.buffer"))
}

func TestDefaultsAndEnv(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "relay.yaml", testYAML)
	t.Setenv("RELAY_AUTH_SECRET", "from-env")

	c := New(
		WithConfigFile(cfgPath),
		WithDefaults(map[string]any{
			"auth.secret":    "default-secret",
			"archive.buffer": 1024,
		}),
		WithEnvPrefix("RELAY"),
		WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
	)
	require.NoError(t, c.Load())

	assert.Equal(t, "from-env", c.GetString("auth.secret"))
	assert.Equal(t, 1024, c.GetInt("archive.buffer"))
	assert.Equal(t, ":4000", c.GetString("server.addr"))
}

func TestUnmarshal(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "relay.yaml", testYAML)
	c := New(WithConfigFile(cfgPath))
	require.NoError(t, c.Load())

	var cfg struct {
		Server struct {
			Addr            string        `mapstructure:"addr"`
			ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		} `mapstructure:"server"`
		WS struct {
			AllowedOrigins []string `mapstructure:"allowed_origins"`
		} `mapstructure:"ws"`
	}
	require.NoError(t, c.Unmarshal(&cfg))
	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Len(t, cfg.WS.AllowedOrigins, 2)

	var auth struct {
		Secret    string `mapstructure:"secret"`
		DevTokens bool   `mapstructure:"dev_tokens"`
	}
	require.NoError(t, c.UnmarshalKey("auth", &auth))
	assert.Equal(t, "dev-secret", auth.Secret)
	assert.True(t, auth.DevTokens)
}

func TestDumpYAML(t *testing.T) {
	c := New(WithOptional(true), WithDefaults(map[string]any{"server.addr": ":4000"}))
	require.NoError(t, c.Load())

	out, err := c.DumpYAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "server:")
	assert.Contains(t, string(out), "addr:")
	assert.Contains(t, string(out), ":4000")
}

func TestWatch(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir(), "relay.yaml", testYAML)

	changed := make(chan struct{}, 1)
	c := New(
		WithConfigFile(cfgPath),
		WithAutoWatch(true),
		WithOnChange(func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		}),
	)
	require.NoError(t, c.Load())
	assert.True(t, c.IsWatching())

	require.NoError(t, os.WriteFile(cfgPath, []byte(strings.Replace(testYAML, ":4000", ":5000", 1)), 0644))

	select {
	case <-changed:
		assert.Eventually(t, func() bool {
			return c.GetString("server.addr") == ":5000"
		}, 2*time.Second, 20*time.Millisecond)
	case <-time.After(3 * time.Second):
		t.Fatal("config change not observed")
	}

	c.Close()
	assert.False(t, c.IsWatching())
}
