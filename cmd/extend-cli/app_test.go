package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/pior/extend/internal/testutils"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.RunContext(context.Background(), append([]string{"extend-cli", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestPing(t *testing.T) {
	a := testutils.StartAcceptor(t)

	out, err := run(t, "--address", a.Addr(), "ping", "--count", "2", "--interval", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "connected to "+a.Addr())
	assert.Contains(t, out, "ping 1: pong")
	assert.Contains(t, out, "ping 2: pong")
	assert.Equal(t, 2, a.Pings())
}

func TestPingUnsupported(t *testing.T) {
	a := testutils.StartAcceptor(t, testutils.WithMessagingVersion(2))

	_, err := run(t, "--address", a.Addr(), "ping")
	assert.ErrorContains(t, err, "ping")
}

func TestInfo(t *testing.T) {
	a := testutils.StartAcceptor(t)

	out, err := run(t, "--address", a.Addr(), "--cluster", "prod", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "peer:        "+a.ID().String())
	assert.Contains(t, out, "protocol:    MessagingProtocol v3")
	assert.Contains(t, out, "attempts:    1")

	require.Len(t, a.Handshakes(), 1)
	assert.Equal(t, "prod", a.Handshakes()[0].ClusterName)
}

func TestInfoFromConfigFile(t *testing.T) {
	a := testutils.StartAcceptor(t)
	path := filepath.Join(t.TempDir(), "extend.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
addresses = ["`+a.Addr()+`"]
service_name = "ExtendTcpProxyService"
`), 0o600))

	_, err := run(t, "--config", path, "info")
	require.NoError(t, err)
	require.Len(t, a.Handshakes(), 1)
	assert.Equal(t, "ExtendTcpProxyService", a.Handshakes()[0].ServiceName)
}

func TestNoAddress(t *testing.T) {
	_, err := run(t, "info")
	assert.ErrorContains(t, err, "no proxy address")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := run(t, "--log-level", "loud", "info")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestPartition(t *testing.T) {
	out, err := run(t, "partition", "--partitions", "7", "alpha", "beta")
	require.NoError(t, err)
	assert.Contains(t, out, "alpha\t")
	assert.Contains(t, out, "beta\t")
	assert.Contains(t, out, "PartitionSet{")

	_, err = run(t, "partition")
	assert.Error(t, err)
}
