package extend_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pior/extend"
	"github.com/pior/extend/internal/testutils"
	"github.com/pior/extend/messaging"
)

// deadAddr returns a loopback address nobody listens on.
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newClient(t *testing.T, addrs extend.AddressProvider, cfg extend.Config) *extend.Client {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	if cfg.Identity == "" {
		cfg.Identity = "test-client"
	}
	client, err := extend.NewClient(addrs, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func connect(t *testing.T, client *extend.Client) (*messaging.Connection, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := client.Connect(ctx)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close(false, nil, 0) })
	}
	return conn, err
}

type recordingProvider struct {
	extend.StaticAddresses

	mu       sync.Mutex
	accepted []string
	rejected []string
}

func (p *recordingProvider) Accept(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted = append(p.accepted, addr)
}

func (p *recordingProvider) Reject(addr string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = append(p.rejected, addr)
}

func TestNewClientNoAddresses(t *testing.T) {
	_, err := extend.NewClient(extend.StaticAddresses{}, extend.Config{})
	assert.ErrorIs(t, err, extend.ErrNoAddresses)

	_, err = extend.NewClient(extend.NewStaticAddresses("a:1"), extend.Config{MaxSize: -1})
	assert.Error(t, err)
}

func TestClientConnect(t *testing.T) {
	a := testutils.StartAcceptor(t)
	client := newClient(t, extend.NewStaticAddresses(a.Addr()), extend.Config{
		Messaging: messaging.Config{ClusterName: "test-cluster"},
	})

	conn, err := connect(t, client)
	require.NoError(t, err)
	assert.True(t, conn.IsOpen())
	assert.Equal(t, a.ID(), conn.PeerID())

	require.Len(t, a.Handshakes(), 1)
	assert.Equal(t, "test-cluster", a.Handshakes()[0].ClusterName)
	assert.True(t, a.Handshakes()[0].Redirect)

	stats := client.Stats()
	assert.EqualValues(t, 1, stats.Connects)
	assert.EqualValues(t, 1, stats.Attempts)
	assert.Zero(t, stats.ConnectFailures)

	require.Len(t, client.BreakerStats(), 1)
	assert.Equal(t, a.Addr(), client.BreakerStats()[0].Addr)
	assert.Equal(t, gobreaker.StateClosed, client.BreakerStats()[0].State)
}

func TestClientFailsOver(t *testing.T) {
	a := testutils.StartAcceptor(t)
	dead := deadAddr(t)
	provider := &recordingProvider{StaticAddresses: extend.NewStaticAddresses(dead, a.Addr())}
	client := newClient(t, provider, extend.Config{})

	conn, err := connect(t, client)
	require.NoError(t, err)
	assert.Equal(t, a.ID(), conn.PeerID())

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Equal(t, []string{a.Addr()}, provider.accepted)
	assert.Subset(t, []string{dead}, provider.rejected)
}

func TestClientExhausted(t *testing.T) {
	dead1, dead2 := deadAddr(t), deadAddr(t)
	client := newClient(t, extend.NewStaticAddresses(dead1, dead2), extend.Config{})

	conn, err := connect(t, client)
	assert.Nil(t, conn)
	require.ErrorIs(t, err, extend.ErrConnectionExhausted)

	var exhausted *extend.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	assert.ElementsMatch(t, []string{dead1, dead2}, []string{exhausted.Attempts[0].Addr, exhausted.Attempts[1].Addr})
	assert.Contains(t, err.Error(), dead1)

	stats := client.Stats()
	assert.EqualValues(t, 1, stats.ConnectFailures)
	assert.EqualValues(t, 2, stats.Attempts)
	assert.Zero(t, stats.Connects)
}

func TestClientFollowsRedirect(t *testing.T) {
	target := testutils.StartAcceptor(t)
	proxy := testutils.StartAcceptor(t, testutils.WithRedirect(deadAddr(t), target.Addr()))
	client := newClient(t, extend.NewStaticAddresses(proxy.Addr()), extend.Config{})

	conn, err := connect(t, client)
	require.NoError(t, err)
	assert.Equal(t, target.ID(), conn.PeerID())

	require.Len(t, target.Handshakes(), 1)
	assert.False(t, target.Handshakes()[0].Redirect, "redirected connects do not accept another redirect")

	stats := client.Stats()
	assert.EqualValues(t, 1, stats.Redirects)
	assert.EqualValues(t, 3, stats.Attempts)
	assert.EqualValues(t, 1, stats.Connects)

	// redirects do not count against the proxy's breaker
	for _, b := range client.BreakerStats() {
		if b.Addr == proxy.Addr() {
			assert.Zero(t, b.Counts.TotalFailures)
		}
	}
}

func TestClientRedirectExhausted(t *testing.T) {
	dead := deadAddr(t)
	proxy := testutils.StartAcceptor(t, testutils.WithRedirect(dead))
	client := newClient(t, extend.NewStaticAddresses(proxy.Addr()), extend.Config{})

	_, err := connect(t, client)
	var exhausted *extend.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 1)
	assert.Equal(t, dead, exhausted.Attempts[0].Addr)
	assert.EqualValues(t, 1, client.Stats().Redirects)
}

func TestClientHandshakeRejected(t *testing.T) {
	a := testutils.StartAcceptor(t, testutils.WithReject("unauthorized"))
	client := newClient(t, extend.NewStaticAddresses(a.Addr()), extend.Config{})

	_, err := connect(t, client)
	require.ErrorIs(t, err, extend.ErrConnectionExhausted)
	var handshake *messaging.HandshakeError
	assert.ErrorAs(t, err, &handshake)
	var remote *messaging.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "unauthorized", remote.Message)
}

func TestClientCircuitBreakerOpens(t *testing.T) {
	dead := deadAddr(t)
	client := newClient(t, extend.NewStaticAddresses(dead), extend.Config{
		NewCircuitBreaker: extend.NewCircuitBreakerConfig(1, 0, time.Minute),
	})

	for range 3 {
		_, err := connect(t, client)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	_, err := connect(t, client)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, err, extend.ErrConnectionExhausted)

	stats := client.Stats()
	assert.EqualValues(t, 1, stats.BreakerRejections)
	assert.EqualValues(t, 4, stats.ConnectFailures)

	breakers := client.BreakerStats()
	require.Len(t, breakers, 1)
	assert.Equal(t, gobreaker.StateOpen, breakers[0].State)
}

func TestClientWithoutCircuitBreaker(t *testing.T) {
	client := newClient(t, extend.NewStaticAddresses(deadAddr(t)), extend.Config{DisableCircuitBreaker: true})

	for range 5 {
		_, err := connect(t, client)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	assert.Empty(t, client.BreakerStats())
}

func TestClientPool(t *testing.T) {
	a := testutils.StartAcceptor(t)
	client := newClient(t, extend.NewStaticAddresses(a.Addr()), extend.Config{MaxSize: 2})
	ctx := context.Background()

	c1, err := client.Acquire(ctx)
	require.NoError(t, err)
	c2, err := client.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, c1.Connection(), c2.Connection())

	stats := client.PoolStats()
	assert.EqualValues(t, 2, stats.TotalConns)
	assert.EqualValues(t, 2, stats.ActiveConns)
	assert.EqualValues(t, 2, stats.CreatedConns)

	// a full pool makes Acquire wait
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = client.Acquire(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c1.Release()
	c2.Release()

	err = client.Do(ctx, func(conn *messaging.Connection) error {
		assert.True(t, conn.IsOpen())
		return nil
	})
	require.NoError(t, err)

	c3, err := client.Acquire(ctx)
	require.NoError(t, err)
	defer c3.Release()
	assert.EqualValues(t, 2, client.PoolStats().CreatedConns, "idle connections are reused")
}

func TestClientReplacesClosedConnections(t *testing.T) {
	a := testutils.StartAcceptor(t)
	client := newClient(t, extend.NewStaticAddresses(a.Addr()), extend.Config{MaxSize: 1})
	ctx := context.Background()

	c1, err := client.Acquire(ctx)
	require.NoError(t, err)
	first := c1.Connection()
	require.NoError(t, first.Close(false, nil, 0))
	c1.Release()

	c2, err := client.Acquire(ctx)
	require.NoError(t, err)
	defer c2.Release()
	assert.NotSame(t, first, c2.Connection())
	assert.True(t, c2.Connection().IsOpen())

	require.Eventually(t, func() bool { return client.PoolStats().DestroyedConns == 1 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 2, client.PoolStats().CreatedConns)
}

func TestClientPing(t *testing.T) {
	a := testutils.StartAcceptor(t)
	client := newClient(t, extend.NewStaticAddresses(a.Addr()), extend.Config{})

	require.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, 1, a.Pings())
	assert.EqualValues(t, 1, client.Stats().Pings)
	assert.Zero(t, client.Stats().PingFailures)
}

func TestClientPingOldProxy(t *testing.T) {
	a := testutils.StartAcceptor(t, testutils.WithMessagingVersion(2))
	client := newClient(t, extend.NewStaticAddresses(a.Addr()), extend.Config{})

	assert.NoError(t, client.Ping(context.Background()))
	assert.Zero(t, a.Pings())
}

func TestClientHealthCheck(t *testing.T) {
	a := testutils.StartAcceptor(t)
	client := newClient(t, extend.NewStaticAddresses(a.Addr()), extend.Config{
		HealthCheckInterval: 20 * time.Millisecond,
	})

	conn, err := client.Acquire(context.Background())
	require.NoError(t, err)
	conn.Release()

	require.Eventually(t, func() bool { return a.Pings() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, client.PoolStats().TotalConns)

	// a connection dropped by the proxy is evicted
	a.Peers()[0].Close()
	require.Eventually(t, func() bool { return client.PoolStats().TotalConns == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, client.Stats().Evictions)
}

func TestClientHealthCheckEvictsIdleConnections(t *testing.T) {
	a := testutils.StartAcceptor(t)
	client := newClient(t, extend.NewStaticAddresses(a.Addr()), extend.Config{
		HealthCheckInterval: 20 * time.Millisecond,
		MaxConnIdleTime:     50 * time.Millisecond,
	})

	conn, err := client.Acquire(context.Background())
	require.NoError(t, err)
	conn.Release()

	require.Eventually(t, func() bool { return client.PoolStats().TotalConns == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, client.Stats().Evictions)
	require.Eventually(t, func() bool {
		_, notified := a.Peers()[0].Notice()
		return notified
	}, time.Second, 5*time.Millisecond)
}

func TestClientClose(t *testing.T) {
	a := testutils.StartAcceptor(t)
	client, err := extend.NewClient(extend.NewStaticAddresses(a.Addr()), extend.Config{
		Logger:              zaptest.NewLogger(t),
		HealthCheckInterval: time.Hour,
	})
	require.NoError(t, err)

	conn, err := client.Acquire(context.Background())
	require.NoError(t, err)
	conn.Release()

	client.Close()
	client.Close()

	_, err = client.Acquire(context.Background())
	assert.ErrorIs(t, err, extend.ErrClientClosed)

	require.Eventually(t, func() bool {
		_, notified := a.Peers()[0].Notice()
		return notified
	}, time.Second, 5*time.Millisecond)
}
