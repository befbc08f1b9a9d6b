package messaging

import (
	"github.com/pkg/errors"

	"github.com/pior/extend/pof"
	"github.com/pior/extend/wire"
)

// MessagingProtocol is spoken on channel 0 of every connection.
const (
	MessagingProtocolName      = "MessagingProtocol"
	MessagingProtocolVersion   = 3
	MessagingProtocolSupported = 2
)

// Message type ids of MessagingProtocol. Negative ids never leave the
// process.
const (
	TypeCloseConnection        int32 = -2
	TypeEncodedMessage         int32 = -1
	TypeOpenConnectionResponse int32 = 0
	TypeOpenConnectionRequest  int32 = 1
	TypeOpenChannelRequest     int32 = 2
	TypeOpenChannelResponse    int32 = 3
	TypeAcceptChannelRequest   int32 = 4
	TypeAcceptChannelResponse  int32 = 5
	TypeNotifyConnectionClosed int32 = 6
	TypeNotifyChannelClosed    int32 = 7
	TypePingRequest            int32 = 8
	TypePingResponse           int32 = 9
)

// NewMessagingProtocol returns the channel 0 protocol.
func NewMessagingProtocol() *Protocol {
	return MustProtocol(MessagingProtocolName, MessagingProtocolVersion, MessagingProtocolSupported,
		MessageType{ID: TypeCloseConnection, Name: "CloseConnection", New: func() Message { return new(CloseConnection) }},
		MessageType{ID: TypeEncodedMessage, Name: "EncodedMessage", New: func() Message { return new(EncodedMessage) }},
		MessageType{ID: TypeOpenConnectionResponse, Name: "OpenConnectionResponse", New: func() Message { return new(OpenConnectionResponse) }},
		MessageType{ID: TypeOpenConnectionRequest, Name: "OpenConnectionRequest", New: func() Message { return new(OpenConnectionRequest) }},
		MessageType{ID: TypeOpenChannelRequest, Name: "OpenChannelRequest", New: func() Message { return new(OpenChannelRequest) }},
		MessageType{ID: TypeOpenChannelResponse, Name: "OpenChannelResponse", New: func() Message { return new(OpenChannelResponse) }},
		MessageType{ID: TypeAcceptChannelRequest, Name: "AcceptChannelRequest", New: func() Message { return new(AcceptChannelRequest) }},
		MessageType{ID: TypeAcceptChannelResponse, Name: "AcceptChannelResponse", New: func() Message { return new(AcceptChannelResponse) }},
		MessageType{ID: TypeNotifyConnectionClosed, Name: "NotifyConnectionClosed", New: func() Message { return new(NotifyConnectionClosed) }},
		MessageType{ID: TypeNotifyChannelClosed, Name: "NotifyChannelClosed", New: func() Message { return new(NotifyChannelClosed) }},
		MessageType{ID: TypePingRequest, Name: "PingRequest", Since: 3, New: func() Message { return new(PingRequest) }},
		MessageType{ID: TypePingResponse, Name: "PingResponse", Since: 3, New: func() Message { return new(PingResponse) }},
	)
}

var errInternalMessage = errors.New("messaging: internal message cannot be serialized")

// EncodedMessage is a frame read off the transport and not yet decoded.
type EncodedMessage struct {
	Frame []byte
}

func (m *EncodedMessage) TypeID() int32                   { return TypeEncodedMessage }
func (m *EncodedMessage) ReadExternal(*pof.Reader) error  { return errInternalMessage }
func (m *EncodedMessage) WriteExternal(*pof.Writer) error { return errInternalMessage }

// CloseConnection asks the dispatcher to close the connection once the
// frames queued before it have been dispatched.
type CloseConnection struct {
	Notify bool
	Cause  error
}

func (m *CloseConnection) TypeID() int32                   { return TypeCloseConnection }
func (m *CloseConnection) ReadExternal(*pof.Reader) error  { return errInternalMessage }
func (m *CloseConnection) WriteExternal(*pof.Writer) error { return errInternalMessage }

// VersionRange is the range of versions of a protocol a process speaks.
type VersionRange struct {
	Supported int32
	Current   int32
}

// OpenConnectionRequest starts the handshake.
type OpenConnectionRequest struct {
	RequestBase
	ClientID      UUID
	ClusterName   string
	ServiceName   string
	IdentityToken []byte
	Redirect      bool // the client follows redirects
	Protocols     map[string]VersionRange
}

func (m *OpenConnectionRequest) TypeID() int32 { return TypeOpenConnectionRequest }

func (m *OpenConnectionRequest) ReadExternal(in *pof.Reader) error {
	if err := m.ReadRequest(in); err != nil {
		return err
	}
	id, err := in.ReadBytes(FirstProperty)
	if err != nil {
		return err
	}
	if m.ClientID, err = ParseUUID(id); err != nil {
		return err
	}
	if m.ClusterName, err = in.ReadString(FirstProperty + 1); err != nil {
		return err
	}
	if m.ServiceName, err = in.ReadString(FirstProperty + 2); err != nil {
		return err
	}
	if m.IdentityToken, err = in.ReadBytes(FirstProperty + 3); err != nil {
		return err
	}
	if m.Redirect, err = in.ReadBool(FirstProperty + 4); err != nil {
		return err
	}
	protocols, err := in.ReadStringMap(FirstProperty + 5)
	if err != nil {
		return err
	}
	m.Protocols = make(map[string]VersionRange, len(protocols))
	for name, v := range protocols {
		r, ok := v.([]int32)
		if !ok || len(r) != 2 {
			return errors.Errorf("messaging: malformed version range for %s", name)
		}
		m.Protocols[name] = VersionRange{Supported: r[0], Current: r[1]}
	}
	return nil
}

func (m *OpenConnectionRequest) WriteExternal(out *pof.Writer) error {
	if err := m.WriteRequest(out); err != nil {
		return err
	}
	if err := out.WriteBytes(FirstProperty, m.ClientID.Bytes()); err != nil {
		return err
	}
	if err := out.WriteString(FirstProperty+1, m.ClusterName); err != nil {
		return err
	}
	if err := out.WriteString(FirstProperty+2, m.ServiceName); err != nil {
		return err
	}
	if err := out.WriteBytes(FirstProperty+3, m.IdentityToken); err != nil {
		return err
	}
	if err := out.WriteBool(FirstProperty+4, m.Redirect); err != nil {
		return err
	}
	protocols := make(map[string]any, len(m.Protocols))
	for name, r := range m.Protocols {
		protocols[name] = []int32{r.Supported, r.Current}
	}
	return out.WriteStringMap(FirstProperty+5, protocols)
}

// OpenConnectionResponse completes the handshake. It carries type id 0 in
// every version so that a peer can recognize clients of any age.
type OpenConnectionResponse struct {
	ResponseBase
	ConnectionID UUID
	PeerID       UUID
	Versions     map[string]int32 // negotiated version per protocol
	Redirect     bool
	Addresses    []string // candidates to reconnect to when Redirect is set
}

func (m *OpenConnectionResponse) TypeID() int32 { return TypeOpenConnectionResponse }

func (m *OpenConnectionResponse) ReadExternal(in *pof.Reader) error {
	if err := m.ReadResponse(in); err != nil {
		return err
	}
	for i, dst := range []*UUID{&m.ConnectionID, &m.PeerID} {
		b, err := in.ReadBytes(FirstProperty + int32(i))
		if err != nil {
			return err
		}
		if b == nil {
			continue
		}
		if *dst, err = ParseUUID(b); err != nil {
			return err
		}
	}
	versions, err := in.ReadStringMap(FirstProperty + 2)
	if err != nil {
		return err
	}
	m.Versions = make(map[string]int32, len(versions))
	for name, v := range versions {
		if m.Versions[name], err = pof.AsInt32(v); err != nil {
			return errors.Wrapf(err, "messaging: version of %s", name)
		}
	}
	if m.Redirect, err = in.ReadBool(FirstProperty + 3); err != nil {
		return err
	}
	m.Addresses, err = in.ReadStringArray(FirstProperty + 4)
	return err
}

func (m *OpenConnectionResponse) WriteExternal(out *pof.Writer) error {
	if err := m.WriteResponse(out); err != nil {
		return err
	}
	if !m.ConnectionID.IsZero() {
		if err := out.WriteBytes(FirstProperty, m.ConnectionID.Bytes()); err != nil {
			return err
		}
	}
	if !m.PeerID.IsZero() {
		if err := out.WriteBytes(FirstProperty+1, m.PeerID.Bytes()); err != nil {
			return err
		}
	}
	versions := make(map[string]any, len(m.Versions))
	for name, v := range m.Versions {
		versions[name] = v
	}
	if err := out.WriteStringMap(FirstProperty+2, versions); err != nil {
		return err
	}
	if err := out.WriteBool(FirstProperty+3, m.Redirect); err != nil {
		return err
	}
	return out.WriteStringArray(FirstProperty+4, m.Addresses)
}

func (m *OpenConnectionResponse) onResponse(ch *Channel, req Request) error {
	if m.failure {
		return nil
	}
	open, ok := req.(*OpenConnectionRequest)
	if !ok {
		return unexpectedResponse(m, req)
	}
	return ch.conn.negotiate(m, open)
}

// unexpectedResponse reports a peer answering req with a response of the
// wrong type.
func unexpectedResponse(resp Response, req Request) error {
	return wire.Corruptf(-1, "response type %d does not answer request type %d", resp.TypeID(), req.TypeID())
}

// OpenChannelRequest asks the peer to create a channel speaking Protocol
// and bound to its receiver named ReceiverName.
type OpenChannelRequest struct {
	RequestBase
	Protocol      string
	ReceiverName  string
	IdentityToken []byte

	receiver Receiver
	subject  *Subject
	channel  *Channel
}

func (m *OpenChannelRequest) TypeID() int32 { return TypeOpenChannelRequest }

func (m *OpenChannelRequest) ReadExternal(in *pof.Reader) error {
	if err := m.ReadRequest(in); err != nil {
		return err
	}
	var err error
	if m.Protocol, err = in.ReadString(FirstProperty); err != nil {
		return err
	}
	if m.ReceiverName, err = in.ReadString(FirstProperty + 1); err != nil {
		return err
	}
	m.IdentityToken, err = in.ReadBytes(FirstProperty + 2)
	return err
}

func (m *OpenChannelRequest) WriteExternal(out *pof.Writer) error {
	if err := m.WriteRequest(out); err != nil {
		return err
	}
	if err := out.WriteString(FirstProperty, m.Protocol); err != nil {
		return err
	}
	if err := out.WriteString(FirstProperty+1, m.ReceiverName); err != nil {
		return err
	}
	return out.WriteBytes(FirstProperty+2, m.IdentityToken)
}

// OpenChannelResponse carries the id of the new channel as its result.
type OpenChannelResponse struct {
	ResponseBase
}

func (m *OpenChannelResponse) TypeID() int32 { return TypeOpenChannelResponse }

func (m *OpenChannelResponse) onResponse(ch *Channel, req Request) error {
	if m.failure {
		return nil
	}
	open, ok := req.(*OpenChannelRequest)
	if !ok {
		return unexpectedResponse(m, req)
	}
	id, err := pof.AsInt32(m.result)
	if err != nil {
		return errors.Wrap(err, "messaging: open channel response")
	}
	if open.channel, err = ch.conn.createChannel(id, open.Protocol, open.receiver, open.subject); err != nil {
		return err
	}
	open.channel.opened()
	return nil
}

// AcceptChannelRequest accepts a channel the peer created and announced
// through a channel URI.
type AcceptChannelRequest struct {
	RequestBase
	ChannelID     int32
	Protocol      string
	IdentityToken []byte

	receiver Receiver
	subject  *Subject
	channel  *Channel
}

func (m *AcceptChannelRequest) TypeID() int32 { return TypeAcceptChannelRequest }

func (m *AcceptChannelRequest) ReadExternal(in *pof.Reader) error {
	if err := m.ReadRequest(in); err != nil {
		return err
	}
	var err error
	if m.ChannelID, err = in.ReadInt32(FirstProperty); err != nil {
		return err
	}
	if m.Protocol, err = in.ReadString(FirstProperty + 1); err != nil {
		return err
	}
	m.IdentityToken, err = in.ReadBytes(FirstProperty + 2)
	return err
}

func (m *AcceptChannelRequest) WriteExternal(out *pof.Writer) error {
	if err := m.WriteRequest(out); err != nil {
		return err
	}
	if err := out.WriteInt32(FirstProperty, m.ChannelID); err != nil {
		return err
	}
	if err := out.WriteString(FirstProperty+1, m.Protocol); err != nil {
		return err
	}
	return out.WriteBytes(FirstProperty+2, m.IdentityToken)
}

type AcceptChannelResponse struct {
	ResponseBase
}

func (m *AcceptChannelResponse) TypeID() int32 { return TypeAcceptChannelResponse }

func (m *AcceptChannelResponse) onResponse(ch *Channel, req Request) error {
	if m.failure {
		return nil
	}
	accept, ok := req.(*AcceptChannelRequest)
	if !ok {
		return unexpectedResponse(m, req)
	}
	var err error
	if accept.channel, err = ch.conn.createChannel(accept.ChannelID, accept.Protocol, accept.receiver, accept.subject); err != nil {
		return err
	}
	accept.channel.opened()
	return nil
}

// NotifyConnectionClosed tells the other side the connection is going away.
type NotifyConnectionClosed struct {
	Cause string
}

func (m *NotifyConnectionClosed) TypeID() int32 { return TypeNotifyConnectionClosed }

func (m *NotifyConnectionClosed) ReadExternal(in *pof.Reader) error {
	var err error
	m.Cause, err = in.ReadString(0)
	return err
}

func (m *NotifyConnectionClosed) WriteExternal(out *pof.Writer) error {
	return out.WriteString(0, m.Cause)
}

func (m *NotifyConnectionClosed) Run(ch *Channel) error {
	var cause error = errPeerClosed
	if m.Cause != "" {
		cause = errors.Wrap(errPeerClosed, m.Cause)
	}
	return ch.conn.Close(false, cause, 0)
}

// NotifyChannelClosed tells the other side one channel is going away.
type NotifyChannelClosed struct {
	ChannelID int32
	Cause     string
}

func (m *NotifyChannelClosed) TypeID() int32 { return TypeNotifyChannelClosed }

func (m *NotifyChannelClosed) ReadExternal(in *pof.Reader) error {
	var err error
	if m.ChannelID, err = in.ReadInt32(0); err != nil {
		return err
	}
	m.Cause, err = in.ReadString(1)
	return err
}

func (m *NotifyChannelClosed) WriteExternal(out *pof.Writer) error {
	if err := out.WriteInt32(0, m.ChannelID); err != nil {
		return err
	}
	return out.WriteString(1, m.Cause)
}

func (m *NotifyChannelClosed) Run(ch *Channel) error {
	target := ch.conn.Channel(m.ChannelID)
	if target == nil || m.ChannelID == 0 {
		return nil
	}
	var cause error = errPeerClosed
	if m.Cause != "" {
		cause = errors.Wrap(errPeerClosed, m.Cause)
	}
	target.close(false, &ChannelClosedError{ChannelID: m.ChannelID, Cause: cause})
	return nil
}

type PingRequest struct {
	RequestBase
}

func (m *PingRequest) TypeID() int32 { return TypePingRequest }

func (m *PingRequest) ReadExternal(in *pof.Reader) error   { return m.ReadRequest(in) }
func (m *PingRequest) WriteExternal(out *pof.Writer) error { return m.WriteRequest(out) }

// Run answers a ping from the peer.
func (m *PingRequest) Run(ch *Channel) error {
	resp := &PingResponse{}
	resp.SetRequestID(m.id)
	_, err := ch.Send(resp)
	return err
}

type PingResponse struct {
	ResponseBase
}

func (m *PingResponse) TypeID() int32 { return TypePingResponse }

var errPeerClosed = errors.New("messaging: closed by peer")

// responseHook is implemented by responses that change connection state.
// It runs on the dispatcher before the waiting caller is released, so
// frames following the response already see the change.
type responseHook interface {
	onResponse(ch *Channel, req Request) error
}
