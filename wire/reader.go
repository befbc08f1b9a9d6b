package wire

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/pkg/errors"
)

// Reader decodes values from an in-memory buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over b. The Reader does not copy b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Pos returns the offset of the next unread byte.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Buffer returns the whole underlying buffer, read and unread.
func (r *Reader) Buffer() []byte { return r.buf }

// Seek moves the read position to an absolute offset.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return errors.WithStack(ErrEndOfStream)
	}
	r.pos = pos
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errors.WithStack(ErrEndOfStream)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// Next returns the next n bytes without copying.
func (r *Reader) Next(n int) ([]byte, error) {
	if n < 0 {
		return nil, Corruptf(r.pos, "negative length %d", n)
	}
	if r.Remaining() < n {
		return nil, errors.WithStack(ErrEndOfStream)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) Skip(n int) error {
	_, err := r.Next(n)
	return err
}

func (r *Reader) packedErr(start int, err error) error {
	if errors.Is(err, errOverlong) || errors.Is(err, ErrOverflow) {
		r.pos = start
		return corruptErr(start, "invalid packed integer", err)
	}
	return err
}

func (r *Reader) ReadPackedInt32() (int32, error) {
	start := r.pos
	v, err := readPacked32(r.ReadByte)
	if err != nil {
		return 0, r.packedErr(start, err)
	}
	return v, nil
}

func (r *Reader) ReadPackedInt64() (int64, error) {
	start := r.pos
	v, err := readPacked(r.ReadByte, MaxPackedInt64Len)
	if err != nil {
		return 0, r.packedErr(start, err)
	}
	return v, nil
}

func (r *Reader) ReadPackedInt128() (*big.Int, error) {
	start := r.pos
	v, err := readPacked128(r.ReadByte)
	if err != nil {
		return nil, r.packedErr(start, err)
	}
	return v, nil
}

// ReadLength reads a packed int32 length prefix. It returns -1 for the null
// marker and fails on any other negative value.
func (r *Reader) ReadLength() (int, error) {
	start := r.pos
	n, err := r.ReadPackedInt32()
	if err != nil {
		return 0, err
	}
	if n < -1 {
		return 0, Corruptf(start, "invalid length %d", n)
	}
	return int(n), nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.Next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.Next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.Next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadString reads a length-prefixed string; null decodes as "".
func (r *Reader) ReadString() (string, error) {
	s, _, err := r.ReadNullableString()
	return s, err
}

// ReadNullableString reads a length-prefixed string and reports whether it
// was non-null.
func (r *Reader) ReadNullableString() (string, bool, error) {
	n, err := r.ReadLength()
	if err != nil || n < 0 {
		return "", false, err
	}
	b, err := r.Next(n)
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// ReadOctets reads a length-prefixed byte string into a fresh slice.
// Null decodes as nil.
func (r *Reader) ReadOctets() ([]byte, error) {
	n, err := r.ReadLength()
	if err != nil || n < 0 {
		return nil, err
	}
	b, err := r.Next(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadChar reads a 1 to 3 byte UTF-8 char.
func (r *Reader) ReadChar() (rune, error) {
	start := r.pos
	b0, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b0 >> 4 {
	case 0, 1, 2, 3, 4, 5, 6, 7:
		return rune(b0), nil
	case 12, 13:
		b1, err := r.continuation(start)
		if err != nil {
			return 0, err
		}
		return rune(b0&0x1F)<<6 | rune(b1), nil
	case 14:
		b1, err := r.continuation(start)
		if err != nil {
			return 0, err
		}
		b2, err := r.continuation(start)
		if err != nil {
			return 0, err
		}
		return rune(b0&0x0F)<<12 | rune(b1)<<6 | rune(b2), nil
	default:
		return 0, Corruptf(start, "invalid char lead byte 0x%02X", b0)
	}
}

func (r *Reader) continuation(start int) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b&0xC0 != 0x80 {
		return 0, Corruptf(start, "invalid char continuation byte 0x%02X", b)
	}
	return b & 0x3F, nil
}
