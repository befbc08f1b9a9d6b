package extend

import (
	"context"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pior/extend/messaging"
)

// Conn is a Connection acquired from the client pool. Call Release when
// done with it, or Destroy if it must not be reused.
type Conn struct {
	res *puddle.Resource[*messaging.Connection]
}

func (c *Conn) Connection() *messaging.Connection {
	return c.res.Value()
}

// Release returns the connection to the pool, or destroys it if it closed
// in the meantime.
func (c *Conn) Release() {
	if !c.res.Value().IsOpen() {
		c.res.Destroy()
		return
	}
	c.res.Release()
}

// Destroy closes the connection and removes it from the pool.
func (c *Conn) Destroy() {
	c.res.Destroy()
}

// Acquire returns an open pooled connection, connecting if none is idle
// and the pool is not full.
func (c *Client) Acquire(ctx context.Context) (*Conn, error) {
	for {
		res, err := c.pool.Acquire(ctx)
		if err != nil {
			if errors.Is(err, puddle.ErrClosedPool) {
				return nil, ErrClientClosed
			}
			return nil, err
		}
		if res.Value().IsOpen() {
			return &Conn{res: res}, nil
		}
		res.Destroy()
	}
}

// Do runs fn with a pooled connection. The connection goes back to the
// pool afterwards unless it closed while fn ran.
func (c *Client) Do(ctx context.Context, fn func(conn *messaging.Connection) error) error {
	conn, err := c.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(conn.Connection())
}

// Ping pings the proxy over a pooled connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.Do(ctx, func(conn *messaging.Connection) error {
		return c.ping(ctx, conn)
	})
}

func (c *Client) ping(ctx context.Context, conn *messaging.Connection) error {
	c.stats.pings.Add(1)
	err := conn.Ping(ctx)
	if err != nil && !errors.Is(err, messaging.ErrPingUnsupported) {
		c.stats.pingFailures.Add(1)
		return err
	}
	return nil
}

// healthCheckLoop periodically checks idle connections for health and lifecycle limits.
func (c *Client) healthCheckLoop() {
	defer close(c.healthCheckDone)

	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkIdleConnections()
		}
	}
}

// checkIdleConnections destroys idle connections that are closed, stale
// or do not answer a ping.
func (c *Client) checkIdleConnections() {
	now := time.Now()

	for _, res := range c.pool.AcquireAllIdle() {
		conn := res.Value()

		reason := ""
		switch {
		case !conn.IsOpen():
			reason = "closed"
		case c.cfg.MaxConnLifetime > 0 && now.Sub(res.CreationTime()) > c.cfg.MaxConnLifetime:
			reason = "lifetime exceeded"
		case c.cfg.MaxConnIdleTime > 0 && res.IdleDuration() > c.cfg.MaxConnIdleTime:
			reason = "idle time exceeded"
		}
		if reason != "" {
			c.stats.evictions.Add(1)
			c.log.Debug("evicting connection", zap.Stringer("connection", conn.ID()), zap.String("reason", reason))
			res.Destroy()
			continue
		}

		if err := c.healthCheck(conn); err != nil {
			c.stats.evictions.Add(1)
			c.log.Warn("health check failed", zap.Stringer("connection", conn.ID()), zap.Error(err))
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}

func (c *Client) healthCheck(conn *messaging.Connection) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PingTimeout)
	defer cancel()
	return c.ping(ctx, conn)
}
