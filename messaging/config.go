package messaging

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pior/extend/pof"
)

const (
	DefaultRequestTimeout    = 30 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultMaxFrameSize      = 16 << 20
	DefaultInboundQueueSize  = 256
	DefaultOutboundQueueSize = 256

	// closeFlushTimeout bounds the wait for NotifyConnectionClosed to be
	// written when Close is given no timeout.
	closeFlushTimeout = 5 * time.Second
)

// Config holds the settings of a Connection.
type Config struct {
	// RequestTimeout applies to requests whose context has no deadline.
	// Zero means DefaultRequestTimeout; negative means no timeout.
	RequestTimeout time.Duration

	// HandshakeTimeout bounds the exchange performed by Open.
	HandshakeTimeout time.Duration

	// MaxFrameSize is the largest frame accepted from or sent to the peer,
	// in bytes. A larger inbound frame closes the connection.
	MaxFrameSize int

	InboundQueueSize  int
	OutboundQueueSize int

	// POF serializes the values carried by messages. It must have the
	// types of RegisterTypes registered. If nil, a context with only those
	// types is used.
	POF *pof.Context

	// Logger receives connection lifecycle events. If nil, logging is off.
	Logger *zap.Logger

	ClusterName string
	ServiceName string

	// Subject authenticates the connection; its token is sent in the
	// handshake.
	Subject *Subject

	// Protocols are negotiated in addition to MessagingProtocol. Channels
	// can only be opened for these.
	Protocols []*Protocol

	// DisableRedirect tells the peer this client does not follow
	// redirects.
	DisableRedirect bool
}

func (c Config) withDefaults() (Config, error) {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.InboundQueueSize <= 0 {
		c.InboundQueueSize = DefaultInboundQueueSize
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = DefaultOutboundQueueSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.POF == nil {
		c.POF = pof.NewContext()
		if err := RegisterTypes(c.POF); err != nil {
			return c, err
		}
	}

	seen := map[string]bool{MessagingProtocolName: true}
	for _, p := range c.Protocols {
		if p == nil {
			return c, errors.New("messaging: nil protocol")
		}
		if seen[p.Name()] {
			return c, errors.Errorf("messaging: protocol %s listed twice", p.Name())
		}
		seen[p.Name()] = true
	}
	return c, nil
}
