package messaging

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownMessageType is returned when a factory has no message for a
	// type id.
	ErrUnknownMessageType = errors.New("messaging: unknown message type")

	// ErrUnsupportedVersion is returned when a protocol cannot speak a version.
	ErrUnsupportedVersion = errors.New("messaging: unsupported protocol version")

	// ErrFrameTooLarge is returned when a frame exceeds the configured maximum.
	ErrFrameTooLarge = errors.New("messaging: frame too large")

	// ErrPingUnsupported is returned by Ping when the peer negotiated a
	// MessagingProtocol version without ping messages.
	ErrPingUnsupported = errors.New("messaging: peer does not support ping")

	// ErrRequestIDUsed is returned by Send for a request carrying an id the
	// channel already used. Request ids are never reused on a channel.
	ErrRequestIDUsed = errors.New("messaging: request id already used")
)

// Error types surfaced to callers of Request and Open.
// They tell a caller whether the failure came from the transport, in which
// case the request may be retried on another connection, or from the peer
// rejecting the request itself.

// HandshakeError is returned by Open when the peer refuses the connection or
// negotiation fails.
//
// Common causes:
//   - No mutually supported version of a requested protocol
//   - Authentication rejected by the peer
//   - Handshake timeout
//
// Transient: no
type HandshakeError struct {
	Message string
	Err     error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return "messaging: handshake failed: " + e.Message + ": " + e.Err.Error()
	}
	return "messaging: handshake failed: " + e.Message
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// RedirectError is returned by Open when the peer asks the client to
// connect to one of Addresses instead.
type RedirectError struct {
	Addresses []string
}

func (e *RedirectError) Error() string {
	return "messaging: redirected to " + strings.Join(e.Addresses, ", ")
}

// RequestTimeoutError means no response arrived in time. The peer may still
// process the request; a late response is dropped.
//
// Transient: yes
type RequestTimeoutError struct {
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	if e.Timeout <= 0 {
		return "messaging: request timed out"
	}
	return fmt.Sprintf("messaging: request timed out after %s", e.Timeout)
}

func (e *RequestTimeoutError) Transient() bool { return true }

// ConnectionClosedError fails every request pending on a connection when it
// closes. Cause is what closed it; nil after a local Close without cause.
//
// Transient: yes
type ConnectionClosedError struct {
	Cause error
}

func (e *ConnectionClosedError) Error() string {
	if e.Cause != nil {
		return "messaging: connection closed: " + e.Cause.Error()
	}
	return "messaging: connection closed"
}

func (e *ConnectionClosedError) Unwrap() error { return e.Cause }

func (e *ConnectionClosedError) Transient() bool { return true }

// ChannelClosedError fails requests pending on a channel closed on its own,
// while its connection stays open.
//
// Transient: yes
type ChannelClosedError struct {
	ChannelID int32
	Cause     error
}

func (e *ChannelClosedError) Error() string {
	msg := fmt.Sprintf("messaging: channel %d closed", e.ChannelID)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ChannelClosedError) Unwrap() error { return e.Cause }

func (e *ChannelClosedError) Transient() bool { return true }

// RequestError is returned for every failed request. It carries where the
// request went and wraps the cause, one of the types above or a
// *RemoteError.
type RequestError struct {
	ChannelID int32
	RequestID int64
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("messaging: request %d on channel %d: %v", e.RequestID, e.ChannelID, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// TransientError is implemented by errors that report whether a retry on a
// fresh connection could succeed.
type TransientError interface {
	error
	Transient() bool
}

// IsTransient reports whether err is a transport failure rather than a
// rejection by the peer.
//
// Returns true for:
//   - RequestTimeoutError
//   - ConnectionClosedError
//   - ChannelClosedError
//
// Returns false for:
//   - RemoteError
//   - nil
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return false
	}
	var e TransientError
	if errors.As(err, &e) {
		return e.Transient()
	}
	return false
}
