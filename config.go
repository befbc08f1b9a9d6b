package extend

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/pior/extend/messaging"
)

const (
	DefaultMaxSize     = 4
	DefaultDialTimeout = 5 * time.Second
	DefaultPingTimeout = 5 * time.Second
)

// Config holds configuration for the Extend client and its connection pool.
type Config struct {
	// Messaging configures every Connection the client opens. Its Logger
	// defaults to Logger and its POF context to NewPOFContext.
	Messaging messaging.Config

	// MaxSize is the maximum number of connections in the pool.
	// Zero means DefaultMaxSize.
	MaxSize int32

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can be idle before being closed.
	// Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often idle connections are pinged.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// PingTimeout bounds a single health check ping.
	PingTimeout time.Duration

	// Dialer is the net.Dialer used to create new connections.
	// If nil, a net.Dialer with DefaultDialTimeout is used.
	Dialer *net.Dialer

	// Identity names this client. Clients with different identities start
	// connecting at different addresses of the AddressProvider.
	// Defaults to the host name and process id.
	Identity string

	// NewCircuitBreaker creates the circuit breaker guarding connection
	// attempts to an address. Called once per address. It may return nil
	// to leave an address unguarded.
	// If nil, DefaultCircuitBreaker is used.
	NewCircuitBreaker func(addr string) *gobreaker.CircuitBreaker[*messaging.Connection]

	// DisableCircuitBreaker turns circuit breakers off.
	DisableCircuitBreaker bool

	Logger *zap.Logger
}

func (c Config) withDefaults() (Config, error) {
	if c.MaxSize == 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.MaxSize < 0 {
		return c, errors.Errorf("extend: invalid pool size %d", c.MaxSize)
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.Dialer == nil {
		c.Dialer = newDialer(DefaultDialTimeout)
	}
	if c.Identity == "" {
		host, _ := os.Hostname()
		c.Identity = fmt.Sprintf("%s/%d", host, os.Getpid())
	}
	if c.NewCircuitBreaker == nil && !c.DisableCircuitBreaker {
		c.NewCircuitBreaker = DefaultCircuitBreaker
	}
	if c.DisableCircuitBreaker {
		c.NewCircuitBreaker = nil
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Messaging.Logger == nil {
		c.Messaging.Logger = c.Logger
	}
	if c.Messaging.POF == nil {
		ctx, err := NewPOFContext()
		if err != nil {
			return c, err
		}
		c.Messaging.POF = ctx
	}
	return c, nil
}

func newDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
}
