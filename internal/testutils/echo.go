package testutils

import (
	"github.com/pior/extend/messaging"
	"github.com/pior/extend/pof"
)

// EchoProtocol is a small protocol for exercising channels.
const (
	EchoProtocolName = "EchoProtocol"

	TypeEchoResponse int32 = 0
	TypeEchoRequest  int32 = 1
	TypeEchoEvent    int32 = 2
)

// Payloads with a special meaning to the default echo handler.
const (
	PayloadFail   = "fail"   // answered with a failure response
	PayloadIgnore = "ignore" // never answered
)

func NewEchoProtocol() *messaging.Protocol {
	return messaging.MustProtocol(EchoProtocolName, 1, 1,
		messaging.MessageType{ID: TypeEchoResponse, Name: "EchoResponse", New: func() messaging.Message { return new(EchoResponse) }},
		messaging.MessageType{ID: TypeEchoRequest, Name: "EchoRequest", New: func() messaging.Message { return new(EchoRequest) }},
		messaging.MessageType{ID: TypeEchoEvent, Name: "EchoEvent", New: func() messaging.Message { return new(EchoEvent) }},
	)
}

// EchoRequest asks the peer to send Payload back as the result.
type EchoRequest struct {
	messaging.RequestBase
	Payload any
}

func (m *EchoRequest) TypeID() int32 { return TypeEchoRequest }

func (m *EchoRequest) ReadExternal(in *pof.Reader) error {
	if err := m.ReadRequest(in); err != nil {
		return err
	}
	var err error
	m.Payload, err = in.ReadObject(messaging.FirstProperty)
	return err
}

func (m *EchoRequest) WriteExternal(out *pof.Writer) error {
	if err := m.WriteRequest(out); err != nil {
		return err
	}
	return out.WriteObject(messaging.FirstProperty, m.Payload)
}

type EchoResponse struct {
	messaging.ResponseBase
}

func (m *EchoResponse) TypeID() int32 { return TypeEchoResponse }

// EchoEvent is a one-way message.
type EchoEvent struct {
	Payload string
}

func (m *EchoEvent) TypeID() int32 { return TypeEchoEvent }

func (m *EchoEvent) ReadExternal(in *pof.Reader) error {
	var err error
	m.Payload, err = in.ReadString(0)
	return err
}

func (m *EchoEvent) WriteExternal(out *pof.Writer) error {
	return out.WriteString(0, m.Payload)
}

// Echo answers an EchoRequest the way the default handler does.
func Echo(p *Peer, channelID int32, req *EchoRequest) error {
	resp := &EchoResponse{}
	resp.SetRequestID(req.RequestID())
	switch req.Payload {
	case PayloadIgnore:
		return nil
	case PayloadFail:
		resp.Fail(&messaging.RemoteError{Name: "EchoFailure", Message: "failure requested"})
	default:
		resp.SetResult(req.Payload)
	}
	return p.Send(channelID, resp)
}
