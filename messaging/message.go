package messaging

import (
	"github.com/pior/extend/pof"
)

// Message is a unit exchanged on a Channel. Its type id is only meaningful
// within the protocol version negotiated for that channel.
type Message interface {
	pof.PortableObject
	TypeID() int32
}

// Request is a Message answered by exactly one Response.
type Request interface {
	Message
	RequestID() int64
	SetRequestID(id int64)
}

// Response answers the Request with the same request id.
type Response interface {
	Message
	RequestID() int64
	SetRequestID(id int64)
	IsFailure() bool
	SetFailure(failure bool)
	Result() any
	SetResult(v any)
}

// Runnable is implemented by messages that handle themselves when they
// arrive on a channel without a Receiver.
type Runnable interface {
	Run(ch *Channel) error
}

// Receiver consumes the requests and messages arriving on a channel.
// OnMessage runs on the connection's dispatcher and must not block on a
// response from the same connection.
type Receiver interface {
	Name() string
	OnMessage(ch *Channel, msg Message) error
}

// ChannelCloseListener is an optional Receiver extension notified when the
// channel closes.
type ChannelCloseListener interface {
	OnChannelClosed(ch *Channel, cause error)
}

// Subject identifies the principal a channel acts for. Token is sent to the
// peer when the channel is opened or accepted.
type Subject struct {
	Name  string
	Token []byte
}

func (s *Subject) token() []byte {
	if s == nil {
		return nil
	}
	return s.Token
}

// Property indices of RequestBase and ResponseBase. Embedding types number
// their own properties from FirstProperty.
const (
	propRequestID = 0
	propFailure   = 1
	propResult    = 2

	FirstProperty = 10
)

// RequestBase carries the request id. Embed it in request types and call
// ReadRequest and WriteRequest first from ReadExternal and WriteExternal.
type RequestBase struct {
	id int64
}

func (r *RequestBase) RequestID() int64      { return r.id }
func (r *RequestBase) SetRequestID(id int64) { r.id = id }

func (r *RequestBase) ReadRequest(in *pof.Reader) error {
	var err error
	r.id, err = in.ReadInt64(propRequestID)
	return err
}

func (r *RequestBase) WriteRequest(out *pof.Writer) error {
	return out.WriteInt64(propRequestID, r.id)
}

// ResponseBase implements Response apart from TypeID. Types embedding it
// and adding properties call ReadResponse and WriteResponse first.
type ResponseBase struct {
	id      int64
	failure bool
	result  any
}

func (r *ResponseBase) RequestID() int64        { return r.id }
func (r *ResponseBase) SetRequestID(id int64)   { r.id = id }
func (r *ResponseBase) IsFailure() bool         { return r.failure }
func (r *ResponseBase) SetFailure(failure bool) { r.failure = failure }
func (r *ResponseBase) Result() any             { return r.result }
func (r *ResponseBase) SetResult(v any)         { r.result = v }

// Fail marks the response failed with err as its result.
func (r *ResponseBase) Fail(err error) {
	r.failure = true
	if remote, ok := err.(*RemoteError); ok {
		r.result = remote
		return
	}
	r.result = &RemoteError{Message: err.Error()}
}

func (r *ResponseBase) ReadResponse(in *pof.Reader) error {
	var err error
	if r.id, err = in.ReadInt64(propRequestID); err != nil {
		return err
	}
	if r.failure, err = in.ReadBool(propFailure); err != nil {
		return err
	}
	r.result, err = in.ReadObject(propResult)
	return err
}

func (r *ResponseBase) WriteResponse(out *pof.Writer) error {
	if err := out.WriteInt64(propRequestID, r.id); err != nil {
		return err
	}
	if err := out.WriteBool(propFailure, r.failure); err != nil {
		return err
	}
	if r.result == nil {
		return nil
	}
	return out.WriteObject(propResult, r.result)
}

func (r *ResponseBase) ReadExternal(in *pof.Reader) error   { return r.ReadResponse(in) }
func (r *ResponseBase) WriteExternal(out *pof.Writer) error { return r.WriteResponse(out) }
