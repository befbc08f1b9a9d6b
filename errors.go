package extend

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrConnectionExhausted is wrapped by the *ExhaustedError returned
	// when no address accepted a connection.
	ErrConnectionExhausted = errors.New("extend: could not connect to any address")

	ErrNoAddresses  = errors.New("extend: no addresses")
	ErrClientClosed = errors.New("extend: client closed")
)

// AttemptError is the failure of connecting to one address.
type AttemptError struct {
	Addr string
	Err  error
}

func (e *AttemptError) Error() string { return e.Addr + ": " + e.Err.Error() }
func (e *AttemptError) Unwrap() error { return e.Err }

// ExhaustedError lists every connection attempt of a failed connect,
// redirected attempts included.
//
// Common causes:
//   - every proxy is down or unreachable
//   - every circuit breaker is open
//   - the handshake was rejected (see messaging.HandshakeError)
type ExhaustedError struct {
	Attempts []*AttemptError
}

func (e *ExhaustedError) add(addr string, err error) {
	e.Attempts = append(e.Attempts, &AttemptError{Addr: addr, Err: err})
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrConnectionExhausted.Error()
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return ErrConnectionExhausted.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap exposes ErrConnectionExhausted and the error of every attempt.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	errs = append(errs, ErrConnectionExhausted)
	for _, a := range e.Attempts {
		errs = append(errs, a)
	}
	return errs
}
