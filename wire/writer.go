package wire

import (
	"encoding/binary"
	"math"
	"math/big"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Writer accumulates encoded values in a growable buffer.
// The zero value is ready to use.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes. The slice aliases the Writer's buffer
// until the next write or Reset.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Cap returns the capacity of the underlying buffer.
func (w *Writer) Cap() int { return cap(w.buf) }

// Reset empties the buffer, keeping its capacity.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// Write appends p. It never fails.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// WriteByte appends a single byte. It never fails.
func (w *Writer) WriteByte(c byte) error {
	w.buf = append(w.buf, c)
	return nil
}

func (w *Writer) WritePackedInt32(n int32) {
	w.buf = AppendPackedInt32(w.buf, n)
}

func (w *Writer) WritePackedInt64(n int64) {
	w.buf = AppendPackedInt64(w.buf, n)
}

// WritePackedInt128 fails with ErrOverflow when n needs more than 128 bits.
func (w *Writer) WritePackedInt128(n *big.Int) error {
	var err error
	w.buf, err = AppendPackedInt128(w.buf, n)
	return err
}

func (w *Writer) WriteInt16(n int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(n))
}

func (w *Writer) WriteUint16(n uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, n)
}

func (w *Writer) WriteInt32(n int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(n))
}

func (w *Writer) WriteUint32(n uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, n)
}

func (w *Writer) WriteInt64(n int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(n))
}

func (w *Writer) WriteUint64(n uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, n)
}

// WriteFloat32 writes the raw IEEE-754 bits of f.
func (w *Writer) WriteFloat32(f float32) {
	w.WriteUint32(math.Float32bits(f))
}

// WriteFloat64 writes the raw IEEE-754 bits of f.
func (w *Writer) WriteFloat64(f float64) {
	w.WriteUint64(math.Float64bits(f))
}

// WriteString writes a length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) {
	w.WritePackedInt32(int32(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteNullString writes the null string marker.
func (w *Writer) WriteNullString() {
	w.WritePackedInt32(-1)
}

// WriteOctets writes a length-prefixed byte string.
func (w *Writer) WriteOctets(p []byte) {
	w.WritePackedInt32(int32(len(p)))
	w.buf = append(w.buf, p...)
}

// WriteChar writes r as 1 to 3 bytes of UTF-8. Only the basic multilingual
// plane is representable.
func (w *Writer) WriteChar(r rune) error {
	switch {
	case r < 0 || r > 0xFFFF:
		return errors.Errorf("wire: char %U outside the basic multilingual plane", r)
	case r <= 0x7F:
		w.buf = append(w.buf, byte(r))
	case r <= 0x7FF:
		w.buf = append(w.buf, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
	default:
		if !utf8.ValidRune(r) {
			return errors.Errorf("wire: invalid char %U", r)
		}
		w.buf = append(w.buf, 0xE0|byte(r>>12), 0x80|byte((r>>6)&0x3F), 0x80|byte(r&0x3F))
	}
	return nil
}
