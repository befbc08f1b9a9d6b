package extend

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/puddle/v2"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/pior/extend/messaging"
)

// Client connects to an Extend proxy chosen from an AddressProvider and
// keeps a pool of open Connections to it.
type Client struct {
	cfg       Config
	addresses AddressProvider
	log       *zap.Logger

	pool *puddle.Pool[*messaging.Connection]

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*messaging.Connection]

	stats clientStatsCollector

	stopHealthCheck chan struct{}
	healthCheckDone chan struct{}
	closeOnce       sync.Once
}

// NewClient creates a new client. No connection is opened until one is
// acquired.
// For a single proxy, use: NewClient(NewStaticAddresses("host:port"), config)
func NewClient(addresses AddressProvider, config Config) (*Client, error) {
	if addresses == nil || len(addresses.Addresses()) == 0 {
		return nil, ErrNoAddresses
	}
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:             cfg,
		addresses:       addresses,
		log:             cfg.Logger,
		breakers:        make(map[string]*gobreaker.CircuitBreaker[*messaging.Connection]),
		stopHealthCheck: make(chan struct{}),
		healthCheckDone: make(chan struct{}),
	}

	c.pool, err = puddle.NewPool(&puddle.Config[*messaging.Connection]{
		Constructor: func(ctx context.Context) (*messaging.Connection, error) {
			conn, err := c.Connect(ctx)
			if err == nil {
				c.stats.createdConns.Add(1)
			}
			return conn, err
		},
		Destructor: func(conn *messaging.Connection) {
			c.stats.destroyedConns.Add(1)
			_ = conn.Close(true, nil, c.cfg.PingTimeout)
		},
		MaxSize: cfg.MaxSize,
	})
	if err != nil {
		return nil, errors.Wrap(err, "extend: create pool")
	}

	if cfg.HealthCheckInterval > 0 {
		go c.healthCheckLoop()
	} else {
		close(c.healthCheckDone)
	}
	return c, nil
}

// Connect opens a Connection that is not part of the pool. The caller
// closes it.
//
// Addresses are tried in the order of the AddressProvider, starting at a
// position derived from Config.Identity and wrapping around. A proxy may
// redirect the client to other addresses; these are tried right away and
// may not redirect again. Each address is guarded by its circuit breaker.
// When every attempt fails the error is an *ExhaustedError.
func (c *Client) Connect(ctx context.Context) (*messaging.Connection, error) {
	addrs := c.addresses.Addresses()
	if len(addrs) == 0 {
		c.stats.connectFailures.Add(1)
		return nil, ErrNoAddresses
	}

	exhausted := &ExhaustedError{}
	for _, addr := range candidates(c.cfg.Identity, addrs) {
		conn, err := c.attempt(ctx, addr, true)
		if err == nil {
			return conn, nil
		}

		var redirect *messaging.RedirectError
		if !errors.As(err, &redirect) {
			exhausted.add(addr, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		c.stats.redirects.Add(1)
		c.log.Warn("redirected", zap.String("address", addr), zap.Strings("targets", redirect.Addresses))
		for _, target := range redirect.Addresses {
			conn, err := c.attempt(ctx, target, false)
			if err == nil {
				return conn, nil
			}
			exhausted.add(target, err)
			if ctx.Err() != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	c.stats.connectFailures.Add(1)
	c.log.Error("could not connect", zap.Error(exhausted))
	return nil, exhausted
}

// attempt connects to addr through its circuit breaker.
func (c *Client) attempt(ctx context.Context, addr string, allowRedirect bool) (*messaging.Connection, error) {
	c.stats.attempts.Add(1)

	cb := c.breaker(addr)
	if cb == nil {
		conn, err := c.open(ctx, addr, allowRedirect)
		return c.report(addr, conn, err)
	}

	before := cb.State()
	conn, err := cb.Execute(func() (*messaging.Connection, error) {
		return c.open(ctx, addr, allowRedirect)
	})
	if after := cb.State(); after != before {
		c.log.Warn("circuit breaker state changed", zap.String("address", addr),
			zap.Stringer("from", before), zap.Stringer("to", after))
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.stats.breakerRejections.Add(1)
		return nil, err
	}
	return c.report(addr, conn, err)
}

func (c *Client) open(ctx context.Context, addr string, allowRedirect bool) (*messaging.Connection, error) {
	netConn, err := c.cfg.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "extend: dial")
	}

	mcfg := c.cfg.Messaging
	mcfg.DisableRedirect = mcfg.DisableRedirect || !allowRedirect
	conn, err := messaging.Open(ctx, netConn, mcfg)
	if err != nil {
		return nil, err
	}
	c.stats.connects.Add(1)
	return conn, nil
}

// report tells an AddressReporter the outcome of an attempt. A redirect
// is neither.
func (c *Client) report(addr string, conn *messaging.Connection, err error) (*messaging.Connection, error) {
	reporter, ok := c.addresses.(AddressReporter)
	if !ok {
		return conn, err
	}
	var redirect *messaging.RedirectError
	switch {
	case err == nil:
		reporter.Accept(addr)
	case !errors.As(err, &redirect):
		reporter.Reject(addr, err)
	}
	return conn, err
}

// breaker returns the circuit breaker of addr, creating it on first use.
func (c *Client) breaker(addr string) *gobreaker.CircuitBreaker[*messaging.Connection] {
	if c.cfg.NewCircuitBreaker == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cb, exists := c.breakers[addr]
	if !exists {
		cb = c.cfg.NewCircuitBreaker(addr)
		c.breakers[addr] = cb
	}
	return cb
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// PoolStats returns a snapshot of pool statistics by converting puddle's stats to our format.
func (c *Client) PoolStats() PoolStats {
	s := c.pool.Stat()
	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedConns:      c.stats.createdConns.Load(),
		DestroyedConns:    c.stats.destroyedConns.Load(),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}

// BreakerStats returns the state of every circuit breaker, sorted by address.
func (c *Client) BreakerStats() []BreakerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make([]BreakerStats, 0, len(c.breakers))
	for addr, cb := range c.breakers {
		if cb == nil {
			continue
		}
		stats = append(stats, BreakerStats{Addr: addr, State: cb.State(), Counts: cb.Counts()})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Addr < stats[j].Addr })
	return stats
}

// Close stops the health checks and closes every pooled connection,
// notifying the proxies. It blocks until acquired connections are
// released.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stopHealthCheck)
		<-c.healthCheckDone
		c.pool.Close()
	})
}
