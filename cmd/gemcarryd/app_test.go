package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/gemcarry/auth"
	"github.com/cyberinferno/gemcarry/config"
	"github.com/cyberinferno/gemcarry/gameclient"
	"github.com/cyberinferno/gemcarry/logger"
	"github.com/cyberinferno/gemcarry/message"
	"github.com/cyberinferno/gemcarry/metrics"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MaxConnections = 4
	cfg.BufferSize = 1024
	cfg.AdminAddr = ""
	cfg.HashRounds = 1000
	return cfg
}

func startApp(t *testing.T, cfg *config.Config, log logger.Logger) *app {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	a, err := newApp(ctx, cfg, log)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()
	require.Eventually(t, a.server.Running, 2*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("serve did not return")
		}
		a.close()
	})
	return a
}

func TestRootCmd_FlagsOverrideConfig(t *testing.T) {
	var got *config.Config
	var gotConsole bool
	cmd := newRootCmd(func(_ context.Context, cfg *config.Config, console bool) error {
		got = cfg
		gotConsole = console
		return nil
	})

	cmd.SetArgs([]string{
		"--listen", "127.0.0.1:7000",
		"--max-connections", "16",
		"--buffer-size", "2048",
		"--log-level", "debug",
		"--admin", "",
		"--console=false",
	})
	require.NoError(t, cmd.Execute())

	require.NotNil(t, got)
	assert.Equal(t, "127.0.0.1:7000", got.ListenAddr)
	assert.Equal(t, 16, got.MaxConnections)
	assert.Equal(t, 2048, got.BufferSize)
	assert.Equal(t, "debug", got.LogLevel)
	assert.Empty(t, got.AdminAddr)
	assert.False(t, gotConsole)
}

func TestRootCmd_InvalidFlag(t *testing.T) {
	cmd := newRootCmd(func(context.Context, *config.Config, bool) error {
		t.Fatal("run must not be reached")
		return nil
	})
	cmd.SetArgs([]string{"--max-connections", "0"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_connections")
}

func TestApp_ServesGameAndConsole(t *testing.T) {
	var logs syncBuffer
	log := logger.NewZerologLogger(zerolog.New(&logs), serviceName, zerolog.InfoLevel)
	cfg := testConfig()
	a := startApp(t, cfg, log)

	client := gameclient.New(gameclient.DefaultConfig(a.server.Addr().String()), a.codec)
	msgs := make(chan message.Message, 8)
	client.OnMessage(func(e gameclient.MessageEvent) { msgs <- e.Message })
	require.NoError(t, client.Connect())
	defer client.Close()

	select {
	case m := <-msgs:
		assert.IsType(t, &message.SessionJoined{}, m)
	case <-time.After(2 * time.Second):
		t.Fatal("no SessionJoined")
	}

	var out bytes.Buffer
	assert.False(t, a.execute(context.Background(), "status", &out))
	assert.Contains(t, out.String(), "connected=1")
	assert.Contains(t, out.String(), "sessions=1")

	out.Reset()
	assert.False(t, a.execute(context.Background(), "sessions", &out))
	assert.Contains(t, out.String(), `"players": 1`)

	out.Reset()
	assert.False(t, a.execute(context.Background(), "bogus", &out))
	assert.Contains(t, out.String(), "unknown command")

	out.Reset()
	assert.False(t, a.execute(context.Background(), "   ", &out))
	assert.Empty(t, out.String())

	assert.True(t, a.execute(context.Background(), "QUIT", &out))
}

func TestApp_VerifyCommand(t *testing.T) {
	var logs syncBuffer
	log := logger.NewZerologLogger(zerolog.New(&logs), serviceName, zerolog.InfoLevel)
	cfg := testConfig()
	a := startApp(t, cfg, log)

	var out bytes.Buffer
	a.execute(context.Background(), "verify", &out)
	assert.Contains(t, out.String(), "usage")

	out.Reset()
	a.execute(context.Background(), "verify !!!", &out)
	assert.Contains(t, out.String(), "error")

	require.Equal(t, auth.Success, a.accounts.CreateUser(context.Background(), "alice@example.com", "pw1"))

	var link string
	require.Eventually(t, func() bool {
		for _, line := range strings.Split(logs.String(), "\n") {
			var entry map[string]any
			if json.Unmarshal([]byte(line), &entry) != nil {
				continue
			}
			if l, ok := entry["link"].(string); ok {
				link = l
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	code := strings.TrimPrefix(link, cfg.VerificationURL)
	out.Reset()
	a.execute(context.Background(), "verify "+code, &out)
	assert.Equal(t, "alice@example.com: success\n", out.String())

	out.Reset()
	a.execute(context.Background(), "verify "+code, &out)
	assert.Equal(t, "alice@example.com: invalid_credentials\n", out.String())
}

func TestAdminState(t *testing.T) {
	a := startApp(t, testConfig(), logger.NewNopLogger())
	src := adminState{server: a.server, sessions: a.sessions}

	h := src.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, int64(0), h.Connected)
	assert.Equal(t, 4, h.PoolSize)
	assert.Equal(t, 4, h.PoolFree)

	srv := httptest.NewServer(metrics.NewAdminRouter(a.registry, src))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got metrics.Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "ok", got.Status)

	resp2, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig()
	cfg.LogDir = t.TempDir()
	l, err := newLogger(cfg)
	require.NoError(t, err)
	assert.NoError(t, l.Close())

	cfg.LogDir = ""
	cfg.LogConsole = true
	l, err = newLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, l)

	cfg.LogLevel = "loud"
	_, err = newLogger(cfg)
	assert.Error(t, err)
}
