// Package bufpool recycles the writers outbound frames are encoded into.
package bufpool

import (
	"sync"

	"github.com/pior/extend/wire"
)

// Pool is a pool of wire writers. Writers that grew beyond maxRetained
// bytes are left to the garbage collector instead of being pooled.
type Pool struct {
	pool        sync.Pool
	maxRetained int
}

func New(initialSize, maxRetained int) *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() any {
				return wire.NewWriter(initialSize)
			},
		},
		maxRetained: maxRetained,
	}
}

// Get returns an empty writer.
func (p *Pool) Get() *wire.Writer {
	return p.pool.Get().(*wire.Writer)
}

func (p *Pool) Put(w *wire.Writer) {
	if w == nil || (p.maxRetained > 0 && w.Cap() > p.maxRetained) {
		return
	}
	w.Reset()
	p.pool.Put(w)
}
