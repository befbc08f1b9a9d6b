package messaging

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/extend/pof"
	"github.com/pior/extend/wire"
)

func newTestCodec(t *testing.T, maxFrameSize int) *Codec {
	t.Helper()
	ctx := pof.NewContext()
	require.NoError(t, RegisterTypes(ctx))
	return NewCodec(ctx, maxFrameSize)
}

func roundTrip(t *testing.T, c *Codec, channelID int32, msg Message) (int32, Message) {
	t.Helper()
	frame, err := c.Encode(channelID, msg)
	require.NoError(t, err)
	defer c.Release(frame)

	data, err := c.ReadFrame(bufio.NewReader(bytes.NewReader(frame.Bytes())))
	require.NoError(t, err)

	gotChannel, typeID, body, err := c.DecodeHeader(data)
	require.NoError(t, err)
	require.Equal(t, msg.TypeID(), typeID)

	f, err := NewMessagingProtocol().MessageFactory(3)
	require.NoError(t, err)
	got, err := f.CreateMessage(typeID)
	require.NoError(t, err)
	require.NoError(t, c.DecodeBody(body, got))
	return gotChannel, got
}

func TestOpenConnectionRequestFrame(t *testing.T) {
	c := newTestCodec(t, 0)

	req := &OpenConnectionRequest{
		ClientID:      NewUUID(nil),
		ClusterName:   "cluster",
		ServiceName:   "ExtendTcpProxyService",
		IdentityToken: []byte{1, 2, 3},
		Redirect:      true,
		Protocols: map[string]VersionRange{
			MessagingProtocolName:  {Supported: 2, Current: 3},
			"CacheServiceProtocol": {Supported: 1, Current: 1},
		},
	}
	req.SetRequestID(1)

	channelID, msg := roundTrip(t, c, 0, req)
	assert.EqualValues(t, 0, channelID)
	assert.Equal(t, req, msg)
}

func TestOpenConnectionResponseFrame(t *testing.T) {
	c := newTestCodec(t, 0)

	resp := &OpenConnectionResponse{
		ConnectionID: NewUUID(nil),
		PeerID:       NewUUID(nil),
		Versions:     map[string]int32{MessagingProtocolName: 3, "CacheServiceProtocol": 1},
		Addresses:    []string{"10.0.0.1:9099"},
	}
	resp.SetRequestID(7)

	_, msg := roundTrip(t, c, 0, resp)
	got := msg.(*OpenConnectionResponse)
	assert.EqualValues(t, 7, got.RequestID())
	assert.False(t, got.IsFailure())
	assert.Equal(t, resp.ConnectionID, got.ConnectionID)
	assert.Equal(t, resp.PeerID, got.PeerID)
	assert.Equal(t, resp.Versions, got.Versions)
	assert.Equal(t, resp.Addresses, got.Addresses)
}

func TestFailureResponseFrame(t *testing.T) {
	c := newTestCodec(t, 0)

	resp := &OpenChannelResponse{}
	resp.SetRequestID(3)
	resp.Fail(&RemoteError{
		Name:       "IllegalArgument",
		Message:    "unknown receiver",
		StackTrace: []string{"a", "b"},
		Cause:      &RemoteError{Message: "root"},
	})

	_, msg := roundTrip(t, c, 0, resp)
	got := msg.(*OpenChannelResponse)
	require.True(t, got.IsFailure())
	remote, ok := got.Result().(*RemoteError)
	require.True(t, ok)
	assert.Equal(t, "IllegalArgument", remote.Name)
	assert.Equal(t, []string{"a", "b"}, remote.StackTrace)
	require.NotNil(t, remote.Cause)
	assert.Equal(t, "root", remote.Cause.Message)
}

func TestLifecycleFrames(t *testing.T) {
	c := newTestCodec(t, 0)

	accept := &AcceptChannelRequest{ChannelID: 9, Protocol: "NamedCacheProtocol", IdentityToken: []byte("token")}
	accept.SetRequestID(11)
	_, msg := roundTrip(t, c, 0, accept)
	assert.Equal(t, accept, msg)

	open := &OpenChannelRequest{Protocol: "CacheServiceProtocol", ReceiverName: "CacheServiceProxy"}
	open.SetRequestID(12)
	_, msg = roundTrip(t, c, 0, open)
	assert.Equal(t, open, msg)

	notify := &NotifyChannelClosed{ChannelID: 4, Cause: "gone"}
	_, msg = roundTrip(t, c, 0, notify)
	assert.Equal(t, notify, msg)

	closed := &NotifyConnectionClosed{Cause: "shutdown"}
	_, msg = roundTrip(t, c, 0, closed)
	assert.Equal(t, closed, msg)

	ping := &PingRequest{}
	ping.SetRequestID(99)
	_, msg = roundTrip(t, c, 0, ping)
	assert.Equal(t, ping, msg)
}

func TestEncodeRejectsLargeFrames(t *testing.T) {
	c := newTestCodec(t, 16)

	req := &OpenChannelRequest{Protocol: "a protocol name longer than sixteen bytes"}
	_, err := c.Encode(0, req)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEncodeRejectsInternalMessages(t *testing.T) {
	c := newTestCodec(t, 0)
	_, err := c.Encode(0, &EncodedMessage{})
	assert.Error(t, err)
}

func TestReadFrame(t *testing.T) {
	c := newTestCodec(t, 100)

	read := func(b []byte) ([]byte, error) {
		return c.ReadFrame(bufio.NewReader(bytes.NewReader(b)))
	}

	got, err := read([]byte{3, 'a', 'b', 'c', 1})
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	_, err = read(nil)
	assert.ErrorIs(t, err, io.EOF)

	_, err = read([]byte{3, 'a'})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = read(wire.AppendPackedInt32(nil, 101))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = read(wire.AppendPackedInt32(nil, -5))
	assert.True(t, wire.IsCorruption(err))
}

func TestDecodeHeaderRejectsNegativeChannel(t *testing.T) {
	c := newTestCodec(t, 0)

	frame := wire.AppendPackedInt32(nil, -1)
	frame = wire.AppendPackedInt32(frame, 0)
	_, _, _, err := c.DecodeHeader(frame)
	assert.True(t, wire.IsCorruption(err))

	_, _, _, err = c.DecodeHeader(nil)
	assert.Error(t, err)
}

func TestDecodeBodyRejectsTrailingBytes(t *testing.T) {
	c := newTestCodec(t, 0)

	frame, err := c.Encode(0, &NotifyConnectionClosed{Cause: "x"})
	require.NoError(t, err)
	data := append(bytes.Clone(frame.Bytes()[1:]), 0x00)
	c.Release(frame)

	_, _, body, err := c.DecodeHeader(data)
	require.NoError(t, err)
	assert.True(t, wire.IsCorruption(c.DecodeBody(body, &NotifyConnectionClosed{})))
}

// FuzzDecodeFrame checks that no frame content makes decoding panic.
// Run with: go test -fuzz='^FuzzDecodeFrame$' -fuzztime=60s ./messaging
func FuzzDecodeFrame(f *testing.F) {
	ctx := pof.NewContext()
	if err := RegisterTypes(ctx); err != nil {
		f.Fatal(err)
	}
	c := NewCodec(ctx, 1<<16)

	seeds := []Message{
		&NotifyConnectionClosed{Cause: "bye"},
		&NotifyChannelClosed{ChannelID: 3},
		&OpenChannelRequest{Protocol: "p", ReceiverName: "r"},
		&OpenConnectionResponse{Versions: map[string]int32{"p": 1}, Addresses: []string{"h:1"}},
	}
	for _, m := range seeds {
		frame, err := c.Encode(0, m)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(bytes.Clone(frame.Bytes()))
		c.Release(frame)
	}
	f.Add([]byte{})
	f.Add([]byte{0x80})
	f.Add([]byte{5, 0, 0, 0x7f, 0x7f, 0x7f})

	factory, err := NewMessagingProtocol().MessageFactory(3)
	if err != nil {
		f.Fatal(err)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		frame, err := c.ReadFrame(bufio.NewReader(bytes.NewReader(data)))
		if err != nil {
			return
		}
		_, typeID, body, err := c.DecodeHeader(frame)
		if err != nil {
			return
		}
		msg, err := factory.CreateMessage(typeID)
		if err != nil || typeID < 0 {
			return
		}
		_ = c.DecodeBody(body, msg)
	})
}
