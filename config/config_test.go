package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:1025", cfg.ListenAddr)
	assert.Equal(t, 1000, cfg.MaxConnections)
	assert.Equal(t, 10, cfg.MaxSessionPlayers)
	assert.Equal(t, "delimiter", cfg.Framing)
	assert.Zero(t, cfg.IdleTimeout)
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, 16384, cfg.SlabUnitSize())
	assert.Equal(t, 1000*8192*2, cfg.SlabBytes())
}

func TestDecodeYAML(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.DecodeYAML([]byte(`
listen_addr: 127.0.0.1:4000
max_connections: 8
framing: length
write_timeout: 250ms
store: redis
redis_db: 2
log_console: false
`)))

	assert.Equal(t, "127.0.0.1:4000", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.MaxConnections)
	assert.Equal(t, "length", cfg.Framing)
	assert.Equal(t, 250*time.Millisecond, cfg.WriteTimeout)
	assert.Equal(t, BackendRedis, cfg.Store)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.False(t, cfg.LogConsole)
	assert.Equal(t, 8192, cfg.BufferSize, "absent keys keep their defaults")

	t.Run("unknown key", func(t *testing.T) {
		assert.Error(t, Default().DecodeYAML([]byte("listen_port: 1")))
	})

	t.Run("empty document", func(t *testing.T) {
		assert.NoError(t, Default().DecodeYAML([]byte("  \n")))
	})
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envOf(map[string]string{
		"GEMCARRY_LISTEN_ADDR":     ":2000",
		"GEMCARRY_MAX_CONNECTIONS": " 50 ",
		"GEMCARRY_IDLE_TIMEOUT":    "30s",
		"GEMCARRY_LOG_CONSOLE":     "false",
		"GEMCARRY_MAIL":            "ses",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":2000", cfg.ListenAddr)
	assert.Equal(t, 50, cfg.MaxConnections)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.False(t, cfg.LogConsole)
	assert.Equal(t, MailSES, cfg.Mail)

	t.Run("bad values are all reported", func(t *testing.T) {
		err := Default().ApplyEnv(envOf(map[string]string{
			"GEMCARRY_BUFFER_SIZE":   "big",
			"GEMCARRY_WRITE_TIMEOUT": "soon",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GEMCARRY_BUFFER_SIZE")
		assert.Contains(t, err.Error(), "GEMCARRY_WRITE_TIMEOUT")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"max connections", func(c *Config) { c.MaxConnections = 0 }, "max_connections"},
		{"buffer size", func(c *Config) { c.BufferSize = -1 }, "buffer_size"},
		{"framing", func(c *Config) { c.Framing = "json" }, "framing"},
		{"compression", func(c *Config) { c.CompressionLevel = 11 }, "compression_level"},
		{"session players", func(c *Config) { c.MaxSessionPlayers = 0 }, "max_session_players"},
		{"log level", func(c *Config) { c.LogLevel = "chatty" }, "log_level"},
		{"store", func(c *Config) { c.Store = "dynamo" }, "store"},
		{"redis addr", func(c *Config) { c.Cache = BackendRedis; c.RedisAddr = "" }, "redis_addr"},
		{"mail", func(c *Config) { c.Mail = "smtp" }, "mail"},
		{"ses from", func(c *Config) { c.Mail = MailSES; c.MailFrom = "" }, "mail_from"},
		{"auth timeout", func(c *Config) { c.AuthTimeout = 0 }, "auth_timeout"},
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

	t.Run("errors are joined", func(t *testing.T) {
		cfg := Default()
		cfg.MaxConnections = 0
		cfg.BufferSize = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_connections")
		assert.Contains(t, err.Error(), "buffer_size")
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gemcarry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_connections: 12\nbuffer_size: 1024\n"), 0o644))
	t.Setenv("GEMCARRY_MAX_CONNECTIONS", "20")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.MaxConnections, "environment overrides the file")
	assert.Equal(t, 1024, cfg.BufferSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("max_connections: 0\n"), 0o644))
	t.Setenv("GEMCARRY_MAX_CONNECTIONS", "0")
	_, err = Load(path)
	assert.ErrorContains(t, err, "max_connections")
}
