// Package coarsetime is a clock that is read far more often than it needs
// to be precise, such as the activity stamp taken for every frame.
// A background goroutine refreshes it every 50ms.
package coarsetime

import (
	"sync/atomic"
	"time"
)

// Resolution is the refresh interval of the clock.
const Resolution = 50 * time.Millisecond

var nanos atomic.Int64

func init() {
	nanos.Store(time.Now().UnixNano())

	tick := time.NewTicker(Resolution)
	go func() {
		for t := range tick.C {
			nanos.Store(t.UnixNano())
		}
	}()
}

// Now returns the current coarse time.
func Now() time.Time {
	return time.Unix(0, nanos.Load())
}

// UnixNano returns Now as nanoseconds since the Unix epoch.
func UnixNano() int64 {
	return nanos.Load()
}

// Since returns the coarse time elapsed since t.
func Since(t time.Time) time.Duration {
	return time.Duration(nanos.Load() - t.UnixNano())
}
