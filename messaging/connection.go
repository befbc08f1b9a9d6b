package messaging

import (
	"bufio"
	"context"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pior/extend/internal/coarsetime"
	"github.com/pior/extend/wire"
)

type connState int32

const (
	stateOpen connState = iota
	stateClosing
	stateClosed
)

type outFrame struct {
	buf     *wire.Writer
	flushed chan struct{} // closed once written, if set
}

// Connection is one transport session with a peer, multiplexing Channels.
//
// Three goroutines serve it: the reader turns frames into EncodedMessages
// on the inbound queue, the dispatcher decodes them and hands them to their
// channel, and the writer drains the outbound queue in order.
type Connection struct {
	cfg       Config
	log       *zap.Logger
	netConn   net.Conn
	codec     *Codec
	protocols map[string]*Protocol
	channel0  *Channel
	stats     statsCollector
	activity  atomic.Int64

	// set during the handshake
	id     UUID
	peerID UUID

	mu        sync.RWMutex
	state     connState
	closeErr  error
	channels  map[int32]*Channel
	factories map[string]*MessageFactory

	inbound     chan Message
	outbound    chan outFrame
	cancel      context.CancelFunc
	stopping    <-chan struct{}
	done        chan struct{}
	stopped     chan struct{} // closed once the daemons returned
	dispatching atomic.Bool
}

// Open performs the handshake over netConn and returns the open
// connection. On failure netConn is closed. A peer redirecting the client
// yields a *RedirectError.
func Open(ctx context.Context, netConn net.Conn, cfg Config) (*Connection, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}

	c := newConnection(netConn, cfg)
	c.start()

	if err := c.handshake(ctx); err != nil {
		_ = c.Close(false, err, 0)
		return nil, err
	}

	c.log.Info("connection opened", zap.Stringer("connection", c.ID()), zap.Stringer("peer", c.PeerID()))
	return c, nil
}

func newConnection(netConn net.Conn, cfg Config) *Connection {
	mp := NewMessagingProtocol()
	c := &Connection{
		cfg:       cfg,
		log:       cfg.Logger.With(zap.String("remote", addrString(netConn.RemoteAddr()))),
		netConn:   netConn,
		codec:     NewCodec(cfg.POF, cfg.MaxFrameSize),
		protocols: map[string]*Protocol{mp.Name(): mp},
		channels:  make(map[int32]*Channel),
		factories: make(map[string]*MessageFactory),
		inbound:   make(chan Message, cfg.InboundQueueSize),
		outbound:  make(chan outFrame, cfg.OutboundQueueSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, p := range cfg.Protocols {
		c.protocols[p.Name()] = p
	}
	c.activity.Store(coarsetime.UnixNano())

	// Channel 0 speaks the newest messaging version until the handshake
	// settles on one.
	f, _ := mp.MessageFactory(mp.CurrentVersion())
	c.channel0 = newChannel(c, 0, f, nil, cfg.Subject)
	c.channel0.state = ChannelOpen
	c.channels[0] = c.channel0
	return c
}

func (c *Connection) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	g, ctx := errgroup.WithContext(ctx)
	c.stopping = ctx.Done()
	g.Go(func() error { return c.readLoop(ctx) })
	g.Go(func() error { return c.dispatchLoop(ctx) })
	g.Go(func() error { return c.writeLoop(ctx) })

	go func() {
		_ = g.Wait()
		close(c.stopped)
	}()
}

func (c *Connection) handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	var local *net.TCPAddr
	if addr, ok := c.netConn.LocalAddr().(*net.TCPAddr); ok {
		local = addr
	}
	req := &OpenConnectionRequest{
		ClientID:      NewUUID(local),
		ClusterName:   c.cfg.ClusterName,
		ServiceName:   c.cfg.ServiceName,
		IdentityToken: c.cfg.Subject.token(),
		Redirect:      !c.cfg.DisableRedirect,
		Protocols:     make(map[string]VersionRange, len(c.protocols)),
	}
	for name, p := range c.protocols {
		req.Protocols[name] = VersionRange{Supported: p.SupportedVersion(), Current: p.CurrentVersion()}
	}

	resp, err := c.channel0.Request(ctx, req)
	if err != nil {
		var handshakeErr *HandshakeError
		if errors.As(err, &handshakeErr) {
			return handshakeErr
		}
		var remote *RemoteError
		if errors.As(err, &remote) {
			return &HandshakeError{Message: "rejected by peer", Err: remote}
		}
		return &HandshakeError{Message: "no valid response", Err: err}
	}

	open, ok := resp.(*OpenConnectionResponse)
	if !ok {
		return &HandshakeError{Message: "no valid response", Err: unexpectedResponse(resp, req)}
	}
	if open.Redirect {
		if len(open.Addresses) == 0 {
			return &HandshakeError{Message: "redirect without addresses"}
		}
		return &RedirectError{Addresses: open.Addresses}
	}
	return nil
}

// negotiate applies the versions chosen by the peer. It runs on the
// dispatcher before Open is released.
func (c *Connection) negotiate(resp *OpenConnectionResponse, req *OpenConnectionRequest) error {
	if resp.Redirect {
		return nil
	}

	factories := make(map[string]*MessageFactory, len(req.Protocols))
	for name := range req.Protocols {
		v, ok := resp.Versions[name]
		if !ok {
			return &HandshakeError{Message: "peer did not negotiate " + name}
		}
		f, err := c.protocols[name].MessageFactory(v)
		if err != nil {
			return &HandshakeError{Message: "peer chose an unsupported version", Err: err}
		}
		factories[name] = f
	}

	c.mu.Lock()
	c.factories = factories
	c.id = resp.ConnectionID
	c.peerID = resp.PeerID
	c.mu.Unlock()

	c.channel0.setFactory(factories[MessagingProtocolName])
	return nil
}

func (c *Connection) ID() UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Connection) PeerID() UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerID
}

func (c *Connection) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }
func (c *Connection) LocalAddr() net.Addr  { return c.netConn.LocalAddr() }
func (c *Connection) Stats() Stats         { return c.stats.snapshot() }

// LastActivity returns when a frame was last read or written.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.activity.Load())
}

func (c *Connection) touch() {
	c.activity.Store(coarsetime.UnixNano())
}

// Channel returns the open channel with id, or nil.
func (c *Connection) Channel(id int32) *Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[id]
}

// Channels returns the open channels ordered by id.
func (c *Connection) Channels() []*Channel {
	c.mu.RLock()
	out := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Channel) int { return int(a.id) - int(b.id) })
	return out
}

// MessageFactory returns the factory negotiated for protocol.
func (c *Connection) MessageFactory(protocol string) (*MessageFactory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[protocol]
	return f, ok
}

func (c *Connection) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateOpen
}

// Err returns the cause the connection was closed with.
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeErr
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) closedError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &ConnectionClosedError{Cause: c.closeErr}
}

// OpenChannel asks the peer for a new channel speaking protocol, bound on
// the peer side to the receiver named receiverName. Messages the peer
// sends on it go to receiver.
func (c *Connection) OpenChannel(ctx context.Context, protocol, receiverName string, receiver Receiver, subject *Subject) (*Channel, error) {
	if _, ok := c.MessageFactory(protocol); !ok {
		return nil, errors.Errorf("messaging: protocol %s was not negotiated", protocol)
	}
	req := &OpenChannelRequest{
		Protocol:      protocol,
		ReceiverName:  receiverName,
		IdentityToken: subject.token(),
		receiver:      receiver,
		subject:       subject,
	}
	resp, err := c.channel0.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.channel == nil {
		return nil, &RequestError{RequestID: req.RequestID(), Err: unexpectedResponse(resp, req)}
	}
	return req.channel, nil
}

// AcceptChannel binds to a channel the peer created and announced with uri.
func (c *Connection) AcceptChannel(ctx context.Context, uri string, receiver Receiver, subject *Subject) (*Channel, error) {
	id, protocol, err := ParseChannelURI(uri)
	if err != nil {
		return nil, err
	}
	if _, ok := c.MessageFactory(protocol); !ok {
		return nil, errors.Errorf("messaging: protocol %s was not negotiated", protocol)
	}
	req := &AcceptChannelRequest{
		ChannelID:     id,
		Protocol:      protocol,
		IdentityToken: subject.token(),
		receiver:      receiver,
		subject:       subject,
	}
	resp, err := c.channel0.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.channel == nil {
		return nil, &RequestError{RequestID: req.RequestID(), Err: unexpectedResponse(resp, req)}
	}
	return req.channel, nil
}

// createChannel registers a new channel in the Opening state. The response
// hook that created it promotes it with opened.
func (c *Connection) createChannel(id int32, protocol string, receiver Receiver, subject *Subject) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		return nil, &ConnectionClosedError{Cause: c.closeErr}
	}
	if id <= 0 {
		return nil, errors.Errorf("messaging: invalid channel id %d", id)
	}
	if _, exists := c.channels[id]; exists {
		return nil, errors.Errorf("messaging: channel %d already open", id)
	}
	f, ok := c.factories[protocol]
	if !ok {
		return nil, errors.Errorf("messaging: protocol %s was not negotiated", protocol)
	}

	ch := newChannel(c, id, f, receiver, subject)
	c.channels[id] = ch
	c.log.Debug("channel created", zap.Int32("channel", id), zap.String("protocol", protocol))
	return ch, nil
}

func (c *Connection) removeChannel(ch *Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels[ch.id] == ch {
		delete(c.channels, ch.id)
	}
}

// Ping sends a ping on channel 0 and waits for the answer.
func (c *Connection) Ping(ctx context.Context) error {
	if c.channel0.MessageFactory().Version() < 3 {
		return ErrPingUnsupported
	}
	_, err := c.channel0.Request(ctx, &PingRequest{})
	return err
}

// Close closes every channel, failing their pending requests with a
// *ConnectionClosedError carrying cause, then the transport. With notify
// the peer is told first, waiting at most timeout for the notice to be
// written. Close is idempotent.
//
// Close returns once the reader, dispatcher and writer have stopped, unless
// it is called from a message handler running on the dispatcher.
func (c *Connection) Close(notify bool, cause error, timeout time.Duration) error {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosing
	c.closeErr = cause
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	if notify {
		c.notifyClosed(cause, timeout)
	}

	closed := &ConnectionClosedError{Cause: cause}
	for _, ch := range channels {
		ch.close(false, closed)
	}

	c.cancel()
	err := c.netConn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
	close(c.done)

	if !c.dispatching.Load() {
		<-c.stopped
	}

	if cause != nil {
		c.log.Warn("connection closed", zap.Error(cause))
	} else {
		c.log.Info("connection closed")
	}
	return err
}

func (c *Connection) notifyClosed(cause error, timeout time.Duration) {
	msg := &NotifyConnectionClosed{}
	if cause != nil {
		msg.Cause = cause.Error()
	}
	buf, err := c.codec.Encode(0, msg)
	if err != nil {
		c.log.Debug("could not encode close notification", zap.Error(err))
		return
	}
	if timeout <= 0 {
		timeout = closeFlushTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	flushed := make(chan struct{})
	select {
	case c.outbound <- outFrame{buf: buf, flushed: flushed}:
	case <-c.stopping:
		return
	case <-timer.C:
		return
	}
	select {
	case <-flushed:
	case <-c.stopping:
	case <-timer.C:
	}
}

// send encodes msg and queues it for the writer.
func (c *Connection) send(channelID int32, msg Message) error {
	if !c.IsOpen() {
		return c.closedError()
	}
	buf, err := c.codec.Encode(channelID, msg)
	if err != nil {
		return err
	}
	select {
	case c.outbound <- outFrame{buf: buf}:
		return nil
	case <-c.done:
	case <-c.stopping:
	}
	c.codec.Release(buf)
	return c.closedError()
}

// fail queues a CloseConnection behind the frames already read.
func (c *Connection) fail(ctx context.Context, cause error) {
	select {
	case c.inbound <- &CloseConnection{Cause: cause}:
	case <-ctx.Done():
	}
}

func (c *Connection) readLoop(ctx context.Context) error {
	r := bufio.NewReaderSize(c.netConn, 64<<10)
	for {
		frame, err := c.codec.ReadFrame(r)
		if err != nil {
			if ctx.Err() == nil {
				c.fail(ctx, errors.Wrap(err, "messaging: read"))
			}
			return nil
		}
		c.touch()
		c.stats.recordReceived(wire.PackedLen(int64(len(frame))) + len(frame))

		select {
		case c.inbound <- &EncodedMessage{Frame: frame}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.inbound:
			c.dispatching.Store(true)
			switch m := msg.(type) {
			case *EncodedMessage:
				c.dispatch(m.Frame)
			case *CloseConnection:
				_ = c.Close(m.Notify, m.Cause, 0)
				c.dispatching.Store(false)
				return nil
			}
			c.dispatching.Store(false)
		}
	}
}

func (c *Connection) dispatch(frame []byte) {
	channelID, typeID, body, err := c.codec.DecodeHeader(frame)
	if err != nil {
		c.stats.decodeErrors.Add(1)
		c.log.Error("dropping frame with invalid header", zap.Error(err))
		return
	}

	ch := c.Channel(channelID)
	if ch == nil {
		c.log.Warn("dropping message for unknown channel", zap.Int32("channel", channelID), zap.Int32("type", typeID))
		return
	}

	msg, err := ch.MessageFactory().CreateMessage(typeID)
	if err != nil {
		c.stats.decodeErrors.Add(1)
		c.log.Error("dropping message of unknown type", zap.Int32("channel", channelID), zap.Error(err))
		return
	}
	if err := c.codec.DecodeBody(body, msg); err != nil {
		c.stats.decodeErrors.Add(1)
		c.log.Error("dropping undecodable message", zap.Int32("channel", channelID), zap.Error(err))
		if resp, ok := msg.(Response); ok && resp.RequestID() != 0 {
			ch.failPending(resp.RequestID(), err)
		}
		return
	}
	ch.receive(msg)
}

func (c *Connection) writeLoop(ctx context.Context) error {
	w := bufio.NewWriterSize(c.netConn, 32<<10)
	var failed bool
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-c.outbound:
			if !failed {
				if err := c.write(w, f); err != nil {
					failed = true
					c.fail(ctx, errors.Wrap(err, "messaging: write"))
				}
			}
			c.codec.Release(f.buf)
			if f.flushed != nil {
				close(f.flushed)
			}
		}
	}
}

func (c *Connection) write(w *bufio.Writer, f outFrame) error {
	if _, err := w.Write(f.buf.Bytes()); err != nil {
		return err
	}
	c.stats.recordSent(f.buf.Len())
	c.touch()
	if len(c.outbound) == 0 || f.flushed != nil {
		return w.Flush()
	}
	return nil
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
