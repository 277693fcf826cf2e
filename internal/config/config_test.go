package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 54*time.Second, cfg.Server.PingPeriod)
	assert.Equal(t, "http://localhost:3000", cfg.Client.ServerURL)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Client.ICEServers)
	assert.Equal(t, "lexical", cfg.Client.InitiatorPolicy)
	assert.False(t, cfg.Client.Trickle)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	body := `
mode: debug
server:
  port: 9000
  join_rate_limit: 2
client:
  server_url: https://relay.example
  trickle: true
  initiator_policy: arrival
  ice_servers:
    - stun:a.example:3478
redis:
  enabled: true
  addr: redis:6379
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Server.JoinRateLimit)
	assert.Equal(t, 10*time.Second, cfg.Server.JoinRateInterval)
	assert.Equal(t, "https://relay.example", cfg.Client.ServerURL)
	assert.True(t, cfg.Client.Trickle)
	assert.Equal(t, "arrival", cfg.Client.InitiatorPolicy)
	assert.Equal(t, []string{"stun:a.example:3478"}, cfg.Client.ICEServers)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("MESH_CLIENT_SERVER_URL", "http://env.example:4000")
	t.Setenv("MESH_SERVER_PORT", "4100")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://env.example:4000", cfg.Client.ServerURL)
	assert.Equal(t, 4100, cfg.Server.Port)
}
