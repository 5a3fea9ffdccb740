package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client_config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, 500*time.Millisecond, c.Matchmaking.PollInterval())
	assert.Equal(t, 10, c.Matchmaking.PollAttempts)
	assert.Equal(t, 800*time.Millisecond, c.Session.DisplayDelay())
	assert.Equal(t, 15*time.Second, c.Server.PingInterval())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"host": "nakama.example", "port": 443, "use_ssl": true, "format": "protobuf"},
		"matchmaking": {"poll_attempts": 4},
		"session": {"optimistic_moves": true}
	}`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nakama.example", c.Server.Host)
	assert.Equal(t, 443, c.Server.Port)
	assert.True(t, c.Server.UseSSL)
	assert.Equal(t, "protobuf", c.Server.Format)
	assert.Equal(t, "defaultkey", c.Server.ServerKey, "unset fields keep defaults")
	assert.Equal(t, 4, c.Matchmaking.PollAttempts)
	assert.Equal(t, 500, c.Matchmaking.PollIntervalMillis)
	assert.True(t, c.Session.OptimisticMoves)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"server": {"host": "from-file"}}`)
	t.Setenv("TICTACTOE_HOST", "from-env")
	t.Setenv("TICTACTOE_PORT", "7351")
	t.Setenv("TICTACTOE_OPTIMISTIC_MOVES", "true")
	t.Setenv("TICTACTOE_STORE_BACKEND", "redis")
	t.Setenv("TICTACTOE_REDIS_URL", "redis://localhost:6379/0")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.Server.Host)
	assert.Equal(t, 7351, c.Server.Port)
	assert.True(t, c.Session.OptimisticMoves)
	assert.Equal(t, StoreRedis, c.Matchmaking.StoreBackend)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		env  map[string]string
	}{
		{name: "missing explicit file", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.json") }},
		{name: "bad json", path: func(t *testing.T) string { return writeConfig(t, `{`) }},
		{name: "bad port env", path: func(*testing.T) string { return "" }, env: map[string]string{"TICTACTOE_PORT": "seventy"}},
		{name: "bad bool env", path: func(*testing.T) string { return "" }, env: map[string]string{"TICTACTOE_USE_SSL": "maybe"}},
		{name: "redis without url", path: func(*testing.T) string { return "" }, env: map[string]string{"TICTACTOE_STORE_BACKEND": "redis"}},
		{name: "unknown backend", path: func(*testing.T) string { return "" }, env: map[string]string{"TICTACTOE_STORE_BACKEND": "etcd"}},
		{name: "bad format", path: func(t *testing.T) string { return writeConfig(t, `{"server":{"format":"xml"}}`) }},
		{name: "single player", path: func(t *testing.T) string { return writeConfig(t, `{"matchmaking":{"min_count":1}}`) }},
		{name: "zero attempts", path: func(t *testing.T) string { return writeConfig(t, `{"matchmaking":{"poll_attempts":0}}`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.path(t))
			assert.Error(t, err)
		})
	}
}
