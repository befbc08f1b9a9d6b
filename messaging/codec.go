package messaging

import (
	"bufio"
	"io"

	"github.com/pkg/errors"

	"github.com/pior/extend/internal/bufpool"
	"github.com/pior/extend/pof"
	"github.com/pior/extend/wire"
)

// Codec converts between messages and frames. A frame is a packed int32
// byte count followed by the channel id, the message type id and the POF
// body of the message.
type Codec struct {
	pof          *pof.Context
	maxFrameSize int
	buffers      *bufpool.Pool
}

func NewCodec(ctx *pof.Context, maxFrameSize int) *Codec {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{
		pof:          ctx,
		maxFrameSize: maxFrameSize,
		buffers:      bufpool.New(512, 1<<20),
	}
}

// Encode returns a writer holding the complete frame of msg. Pass it to
// Release once written.
func (c *Codec) Encode(channelID int32, msg Message) (*wire.Writer, error) {
	body := c.buffers.Get()
	defer c.buffers.Put(body)

	body.WritePackedInt32(channelID)
	body.WritePackedInt32(msg.TypeID())
	if err := c.pof.WriteUserType(body, msg.TypeID(), msg); err != nil {
		return nil, errors.Wrapf(err, "messaging: encode message type %d", msg.TypeID())
	}
	if body.Len() > c.maxFrameSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes, limit %d", body.Len(), c.maxFrameSize)
	}

	frame := c.buffers.Get()
	frame.WritePackedInt32(int32(body.Len()))
	_, _ = frame.Write(body.Bytes())
	return frame, nil
}

func (c *Codec) Release(frame *wire.Writer) {
	c.buffers.Put(frame)
}

// ReadFrame reads the next frame and returns its content without the
// length prefix.
func (c *Codec) ReadFrame(r *bufio.Reader) ([]byte, error) {
	n, err := wire.ReadPackedInt32From(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, wire.Corruptf(0, "negative frame length %d", n)
	}
	if int(n) > c.maxFrameSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes, limit %d", n, c.maxFrameSize)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// DecodeHeader splits a frame into its channel id, message type id and body.
func (c *Codec) DecodeHeader(frame []byte) (channelID, typeID int32, body *wire.Reader, err error) {
	body = wire.NewReader(frame)
	if channelID, err = body.ReadPackedInt32(); err != nil {
		return 0, 0, nil, err
	}
	if typeID, err = body.ReadPackedInt32(); err != nil {
		return 0, 0, nil, err
	}
	if channelID < 0 {
		return 0, 0, nil, wire.Corruptf(0, "negative channel id %d", channelID)
	}
	return channelID, typeID, body, nil
}

// DecodeBody populates msg from the rest of a frame.
func (c *Codec) DecodeBody(body *wire.Reader, msg Message) error {
	if err := c.pof.ReadUserType(body, msg.TypeID(), msg); err != nil {
		return errors.Wrapf(err, "messaging: decode message type %d", msg.TypeID())
	}
	if body.Remaining() != 0 {
		return wire.Corruptf(body.Pos(), "%d trailing bytes after message type %d", body.Remaining(), msg.TypeID())
	}
	return nil
}
