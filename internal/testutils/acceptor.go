package testutils

import (
	"bufio"
	"net"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/pior/extend/messaging"
	"github.com/pior/extend/pof"
)

// Handler is called for every message the acceptor does not handle itself:
// all messages on channels other than 0 and responses on channel 0.
type Handler func(p *Peer, channelID int32, msg messaging.Message)

// Acceptor is the server side of Extend for tests. It listens on a
// loopback port, answers handshakes, opens and accepts channels, answers
// pings, and passes everything else to its Handler.
type Acceptor struct {
	ln        net.Listener
	pof       *pof.Context
	protocols map[string]*messaging.Protocol
	id        messaging.UUID

	redirect         []string
	reject           string
	messagingVersion int32
	firstChannelID   int32
	handler          Handler

	mu         sync.Mutex
	peers      []*Peer
	handshakes []*messaging.OpenConnectionRequest
	pings      int
	closed     bool
	wg         sync.WaitGroup
}

type AcceptorOption func(*Acceptor)

// WithRedirect makes every handshake answer with a redirect to addrs.
func WithRedirect(addrs ...string) AcceptorOption {
	return func(a *Acceptor) { a.redirect = addrs }
}

// WithReject makes every handshake fail with message.
func WithReject(message string) AcceptorOption {
	return func(a *Acceptor) { a.reject = message }
}

// WithMessagingVersion caps the MessagingProtocol version the acceptor
// speaks.
func WithMessagingVersion(v int32) AcceptorOption {
	return func(a *Acceptor) { a.messagingVersion = v }
}

// WithFirstChannelID sets the id of the first channel opened per peer.
func WithFirstChannelID(id int32) AcceptorOption {
	return func(a *Acceptor) { a.firstChannelID = id }
}

func WithHandler(h Handler) AcceptorOption {
	return func(a *Acceptor) { a.handler = h }
}

// WithProtocols replaces the protocols the acceptor speaks besides
// MessagingProtocol. The default is EchoProtocol.
func WithProtocols(protocols ...*messaging.Protocol) AcceptorOption {
	return func(a *Acceptor) {
		a.protocols = map[string]*messaging.Protocol{messaging.MessagingProtocolName: a.protocols[messaging.MessagingProtocolName]}
		for _, p := range protocols {
			a.protocols[p.Name()] = p
		}
	}
}

// StartAcceptor starts an acceptor that is closed when the test ends.
func StartAcceptor(t testing.TB, opts ...AcceptorOption) *Acceptor {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx := pof.NewContext()
	require.NoError(t, messaging.RegisterTypes(ctx))

	mp := messaging.NewMessagingProtocol()
	echo := NewEchoProtocol()
	a := &Acceptor{
		ln:  ln,
		pof: ctx,
		protocols: map[string]*messaging.Protocol{
			mp.Name():   mp,
			echo.Name(): echo,
		},
		id:               messaging.NewUUID(ln.Addr().(*net.TCPAddr)),
		messagingVersion: messaging.MessagingProtocolVersion,
		firstChannelID:   1,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.wg.Add(1)
	go a.serve()
	t.Cleanup(a.Close)
	return a
}

func (a *Acceptor) Addr() string { return a.ln.Addr().String() }

// ID is the peer id the acceptor announces.
func (a *Acceptor) ID() messaging.UUID { return a.id }

func (a *Acceptor) Peers() []*Peer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Peer(nil), a.peers...)
}

// Handshakes returns the OpenConnectionRequests received so far.
func (a *Acceptor) Handshakes() []*messaging.OpenConnectionRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*messaging.OpenConnectionRequest(nil), a.handshakes...)
}

// Pings returns the number of pings answered.
func (a *Acceptor) Pings() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pings
}

// Close stops listening and drops every peer connection.
func (a *Acceptor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	peers := a.peers
	a.mu.Unlock()

	_ = a.ln.Close()
	for _, p := range peers {
		p.Close()
	}
	a.wg.Wait()
}

func (a *Acceptor) serve() {
	defer a.wg.Done()
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return
		}

		p := &Peer{
			acceptor: a,
			conn:     conn,
			codec:    messaging.NewCodec(a.pof, messaging.DefaultMaxFrameSize),
			channels: make(map[int32]*messaging.MessageFactory),
			offered:  make(map[int32]string),
			next:     a.firstChannelID,
		}
		f, _ := a.protocols[messaging.MessagingProtocolName].MessageFactory(a.messagingVersion)
		p.channels[0] = f

		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			_ = conn.Close()
			return
		}
		a.peers = append(a.peers, p)
		a.mu.Unlock()

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			p.serve()
		}()
	}
}

// Peer is the acceptor side of one connection.
type Peer struct {
	acceptor *Acceptor
	conn     net.Conn
	codec    *messaging.Codec

	writeMu sync.Mutex

	mu       sync.Mutex
	channels map[int32]*messaging.MessageFactory
	offered  map[int32]string
	next     int32
	lastID   int64
	closed   []int32
	notice   *string
}

// Send writes msg on channelID.
func (p *Peer) Send(channelID int32, msg messaging.Message) error {
	frame, err := p.codec.Encode(channelID, msg)
	if err != nil {
		return err
	}
	defer p.codec.Release(frame)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err = p.conn.Write(frame.Bytes())
	return err
}

// SendRaw writes b as is.
func (p *Peer) SendRaw(b []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := p.conn.Write(b)
	return err
}

// Ping sends a ping request to the client.
func (p *Peer) Ping() error {
	p.mu.Lock()
	p.lastID++
	id := p.lastID
	p.mu.Unlock()

	req := &messaging.PingRequest{}
	req.SetRequestID(id)
	return p.Send(0, req)
}

// OfferChannel reserves a channel for protocol that the client can accept
// with the returned URI.
func (p *Peer) OfferChannel(protocol string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.offered[id] = protocol
	return messaging.ChannelURI(id, protocol)
}

// Channels returns the ids of the open channels, 0 included.
func (p *Peer) Channels() map[int32]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int32]string, len(p.channels))
	for id, f := range p.channels {
		out[id] = f.Protocol().Name()
	}
	return out
}

// ClosedChannels returns the ids of channels the client closed.
func (p *Peer) ClosedChannels() []int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int32(nil), p.closed...)
}

// Notice returns the cause sent by the client when it closed the
// connection with notice.
func (p *Peer) Notice() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notice == nil {
		return "", false
	}
	return *p.notice, true
}

// Close drops the connection without notice.
func (p *Peer) Close() {
	_ = p.conn.Close()
}

// CloseWithNotice tells the client the connection is closing, then drops it.
func (p *Peer) CloseWithNotice(cause string) {
	_ = p.Send(0, &messaging.NotifyConnectionClosed{Cause: cause})
	p.Close()
}

func (p *Peer) serve() {
	defer p.Close()

	r := bufio.NewReader(p.conn)
	for {
		frame, err := p.codec.ReadFrame(r)
		if err != nil {
			return
		}
		channelID, typeID, body, err := p.codec.DecodeHeader(frame)
		if err != nil {
			return
		}

		p.mu.Lock()
		factory := p.channels[channelID]
		p.mu.Unlock()
		if factory == nil {
			continue
		}

		msg, err := factory.CreateMessage(typeID)
		if err != nil {
			return
		}
		if err := p.codec.DecodeBody(body, msg); err != nil {
			return
		}

		if channelID == 0 {
			if done := p.lifecycle(msg); done {
				return
			}
			continue
		}
		p.handle(channelID, msg)
	}
}

func (p *Peer) handle(channelID int32, msg messaging.Message) {
	if h := p.acceptor.handler; h != nil {
		h(p, channelID, msg)
		return
	}
	if req, ok := msg.(*EchoRequest); ok {
		_ = Echo(p, channelID, req)
	}
}

// lifecycle handles a channel 0 message and reports whether the
// connection is over.
func (p *Peer) lifecycle(msg messaging.Message) bool {
	a := p.acceptor
	switch m := msg.(type) {
	case *messaging.OpenConnectionRequest:
		a.mu.Lock()
		a.handshakes = append(a.handshakes, m)
		a.mu.Unlock()
		_ = p.Send(0, p.openConnection(m))

	case *messaging.OpenChannelRequest:
		resp := &messaging.OpenChannelResponse{}
		resp.SetRequestID(m.RequestID())
		f, err := p.factory(m.Protocol)
		if err != nil {
			resp.Fail(err)
		} else {
			p.mu.Lock()
			id := p.next
			p.next++
			p.channels[id] = f
			p.mu.Unlock()
			resp.SetResult(id)
		}
		_ = p.Send(0, resp)

	case *messaging.AcceptChannelRequest:
		resp := &messaging.AcceptChannelResponse{}
		resp.SetRequestID(m.RequestID())
		p.mu.Lock()
		protocol, ok := p.offered[m.ChannelID]
		delete(p.offered, m.ChannelID)
		p.mu.Unlock()
		f, err := p.factory(protocol)
		switch {
		case !ok || protocol != m.Protocol:
			resp.Fail(errors.Errorf("channel %d was not offered for %s", m.ChannelID, m.Protocol))
		case err != nil:
			resp.Fail(err)
		default:
			p.mu.Lock()
			p.channels[m.ChannelID] = f
			p.mu.Unlock()
		}
		_ = p.Send(0, resp)

	case *messaging.NotifyChannelClosed:
		p.mu.Lock()
		delete(p.channels, m.ChannelID)
		p.closed = append(p.closed, m.ChannelID)
		p.mu.Unlock()

	case *messaging.NotifyConnectionClosed:
		p.mu.Lock()
		p.notice = &m.Cause
		p.mu.Unlock()
		return true

	case *messaging.PingRequest:
		a.mu.Lock()
		a.pings++
		a.mu.Unlock()
		resp := &messaging.PingResponse{}
		resp.SetRequestID(m.RequestID())
		_ = p.Send(0, resp)

	default:
		if a.handler != nil {
			a.handler(p, 0, msg)
		}
	}
	return false
}

func (p *Peer) openConnection(req *messaging.OpenConnectionRequest) *messaging.OpenConnectionResponse {
	a := p.acceptor
	resp := &messaging.OpenConnectionResponse{}
	resp.SetRequestID(req.RequestID())

	if a.reject != "" {
		resp.Fail(&messaging.RemoteError{Name: "SecurityException", Message: a.reject})
		return resp
	}
	if len(a.redirect) > 0 {
		resp.Redirect = true
		resp.Addresses = a.redirect
		return resp
	}

	resp.ConnectionID = messaging.NewUUID(nil)
	resp.PeerID = a.id
	resp.Versions = make(map[string]int32, len(req.Protocols))
	for name, r := range req.Protocols {
		proto, ok := a.protocols[name]
		if !ok {
			resp.Fail(errors.Errorf("unknown protocol %s", name))
			return resp
		}
		current := proto.CurrentVersion()
		if name == messaging.MessagingProtocolName {
			current = a.messagingVersion
		}
		v := min(current, r.Current)
		if v < max(proto.SupportedVersion(), r.Supported) {
			resp.Fail(errors.Errorf("no common version of %s", name))
			return resp
		}
		resp.Versions[name] = v
	}

	f, _ := a.protocols[messaging.MessagingProtocolName].MessageFactory(resp.Versions[messaging.MessagingProtocolName])
	p.mu.Lock()
	p.channels[0] = f
	p.mu.Unlock()
	return resp
}

func (p *Peer) factory(protocol string) (*messaging.MessageFactory, error) {
	proto, ok := p.acceptor.protocols[protocol]
	if !ok {
		return nil, errors.Errorf("unknown protocol %s", protocol)
	}
	return proto.MessageFactory(proto.CurrentVersion())
}
