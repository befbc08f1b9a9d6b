package extend

import (
	"sync/atomic"
)

// PoolStats contains statistics about the connection pool.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
//   - Histogram: AcquireWaitDuration (use AcquireWaitCount and AcquireWaitTimeNs to calculate)
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedConns      uint64 // Total connections created
	DestroyedConns    uint64 // Total connections destroyed
	AcquireErrors     uint64 // Canceled acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Total connections in pool (active + idle)
	IdleConns   int32 // Idle connections available
	ActiveConns int32 // Connections currently in use
}

// ClientStats contains statistics about connection management.
type ClientStats struct {
	Connects          uint64 // Connections opened
	ConnectFailures   uint64 // Connects that exhausted every address
	Attempts          uint64 // Connection attempts, one per address tried
	Redirects         uint64 // Redirects received
	BreakerRejections uint64 // Attempts skipped by an open circuit breaker
	Pings             uint64 // Health check pings sent
	PingFailures      uint64 // Health check pings that failed
	Evictions         uint64 // Idle connections closed by the health check
}

type clientStatsCollector struct {
	connects          atomic.Uint64
	connectFailures   atomic.Uint64
	attempts          atomic.Uint64
	redirects         atomic.Uint64
	breakerRejections atomic.Uint64
	pings             atomic.Uint64
	pingFailures      atomic.Uint64
	evictions         atomic.Uint64

	createdConns   atomic.Uint64
	destroyedConns atomic.Uint64
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Connects:          c.connects.Load(),
		ConnectFailures:   c.connectFailures.Load(),
		Attempts:          c.attempts.Load(),
		Redirects:         c.redirects.Load(),
		BreakerRejections: c.breakerRejections.Load(),
		Pings:             c.pings.Load(),
		PingFailures:      c.pingFailures.Load(),
		Evictions:         c.evictions.Load(),
	}
}
