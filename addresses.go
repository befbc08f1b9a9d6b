package extend

import (
	"github.com/pior/extend/internal/hashing"
)

// AddressProvider supplies the proxy addresses the client connects to, in
// order of preference. It is consulted on every connection attempt.
type AddressProvider interface {
	Addresses() []string
}

// AddressReporter is implemented by AddressProviders that want to learn
// the outcome of connection attempts.
type AddressReporter interface {
	Accept(addr string)
	Reject(addr string, err error)
}

// StaticAddresses is a fixed list of addresses.
type StaticAddresses []string

func NewStaticAddresses(addrs ...string) StaticAddresses {
	if len(addrs) == 0 {
		panic("NewStaticAddresses requires at least one address")
	}
	return StaticAddresses(addrs)
}

func (s StaticAddresses) Addresses() []string { return s }

// AddressProviderFunc adapts a function to AddressProvider.
type AddressProviderFunc func() []string

func (f AddressProviderFunc) Addresses() []string { return f() }

// candidates returns addrs rotated to start at the position picked for
// identity, so that clients spread over the proxies while each client
// keeps a stable order.
func candidates(identity string, addrs []string) []string {
	if len(addrs) <= 1 {
		return addrs
	}
	start := hashing.String(identity, len(addrs))
	out := make([]string, 0, len(addrs))
	out = append(out, addrs[start:]...)
	return append(out, addrs[:start]...)
}
