package extend

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extend.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
addresses = [" 10.0.0.1:9099 ", "10.0.0.2:9099", ""]
cluster_name = "prod"
service_name = "ExtendTcpProxyService"
identity = "batch-7"
request_timeout = "10s"
handshake_timeout = "2s"
max_frame_size = 1048576
disable_redirect = true

[pool]
max_size = 8
max_conn_lifetime = "1h"
max_conn_idle_time = "5m"
health_check_interval = "30s"
ping_timeout = "1s"
dial_timeout = "3s"

[circuit_breaker]
max_requests = 2
interval = "1m"
timeout = "20s"
`)

	cfg, addrs, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.1:9099", "10.0.0.2:9099"}, addrs)
	assert.Equal(t, "prod", cfg.Messaging.ClusterName)
	assert.Equal(t, "ExtendTcpProxyService", cfg.Messaging.ServiceName)
	assert.Equal(t, "batch-7", cfg.Identity)
	assert.Equal(t, 10*time.Second, cfg.Messaging.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.Messaging.HandshakeTimeout)
	assert.Equal(t, 1<<20, cfg.Messaging.MaxFrameSize)
	assert.True(t, cfg.Messaging.DisableRedirect)

	assert.EqualValues(t, 8, cfg.MaxSize)
	assert.Equal(t, time.Hour, cfg.MaxConnLifetime)
	assert.Equal(t, 5*time.Minute, cfg.MaxConnIdleTime)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, time.Second, cfg.PingTimeout)
	require.NotNil(t, cfg.Dialer)
	assert.Equal(t, 3*time.Second, cfg.Dialer.Timeout)

	require.NotNil(t, cfg.NewCircuitBreaker)
	cb := cfg.NewCircuitBreaker("10.0.0.1:9099")
	assert.Equal(t, "10.0.0.1:9099", cb.Name())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, addrs, err := LoadConfig(writeConfig(t, `addresses = ["127.0.0.1:9099"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:9099"}, addrs)
	assert.Zero(t, cfg.Messaging.RequestTimeout)
	assert.Zero(t, cfg.MaxSize)
	assert.Nil(t, cfg.Dialer)
	assert.Nil(t, cfg.NewCircuitBreaker)
	assert.False(t, cfg.DisableCircuitBreaker)

	cfg, err = cfg.withDefaults()
	require.NoError(t, err)
	assert.EqualValues(t, DefaultMaxSize, cfg.MaxSize)
	assert.NotEmpty(t, cfg.Identity)
	assert.NotNil(t, cfg.NewCircuitBreaker)
	assert.NotNil(t, cfg.Messaging.POF)
	assert.NotNil(t, cfg.Messaging.Logger)
}

func TestLoadConfigDisabledBreaker(t *testing.T) {
	cfg, _, err := LoadConfig(writeConfig(t, `
addresses = ["127.0.0.1:9099"]

[circuit_breaker]
disabled = true
`))
	require.NoError(t, err)
	assert.True(t, cfg.DisableCircuitBreaker)

	cfg, err = cfg.withDefaults()
	require.NoError(t, err)
	assert.Nil(t, cfg.NewCircuitBreaker)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"no addresses", `cluster_name = "x"`, "no addresses"},
		{"bad duration", "addresses = [\"a:1\"]\nrequest_timeout = \"soon\"", "parse request_timeout"},
		{"negative duration", "addresses = [\"a:1\"]\n[pool]\nmax_conn_lifetime = \"-1s\"", "negative pool.max_conn_lifetime"},
		{"negative pool size", "addresses = [\"a:1\"]\n[pool]\nmax_size = -1", "invalid pool.max_size"},
		{"unknown key", "addresses = [\"a:1\"]\ntimeout = \"1s\"", "unknown config key"},
		{"syntax", "addresses = [", "load config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	_, _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadConfigNegativeRequestTimeout(t *testing.T) {
	cfg, _, err := LoadConfig(writeConfig(t, "addresses = [\"a:1\"]\nrequest_timeout = \"-1s\""))
	require.NoError(t, err)
	assert.Equal(t, -time.Second, cfg.Messaging.RequestTimeout, "no timeout")
}
