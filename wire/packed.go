package wire

import (
	"io"
	"math"
	"math/big"

	"github.com/pkg/errors"
)

// Maximum encoded lengths of packed integers.
const (
	MaxPackedInt32Len  = 5
	MaxPackedInt64Len  = 10
	MaxPackedInt128Len = 19
)

var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// AppendPackedInt32 appends the packed encoding of n to b.
func AppendPackedInt32(b []byte, n int32) []byte {
	return AppendPackedInt64(b, int64(n))
}

// AppendPackedInt64 appends the packed encoding of n to b.
func AppendPackedInt64(b []byte, n int64) []byte {
	var first byte
	u := uint64(n)
	if n < 0 {
		first = 0x40
		u = ^u
	}
	first |= byte(u & 0x3F)
	u >>= 6
	for u != 0 {
		b = append(b, first|0x80)
		first = byte(u & 0x7F)
		u >>= 7
	}
	return append(b, first)
}

// AppendPackedInt128 appends the packed encoding of n to b.
// n must lie within the signed 128-bit range.
func AppendPackedInt128(b []byte, n *big.Int) ([]byte, error) {
	if n.Cmp(maxInt128) > 0 || n.Cmp(minInt128) < 0 {
		return b, errors.Wrapf(ErrOverflow, "value %s exceeds 128 bits", n)
	}

	var first byte
	u := new(big.Int).Set(n)
	if n.Sign() < 0 {
		first = 0x40
		u.Not(u)
	}
	first |= lowByte(u) & 0x3F
	u.Rsh(u, 6)
	for u.Sign() != 0 {
		b = append(b, first|0x80)
		first = lowByte(u) & 0x7F
		u.Rsh(u, 7)
	}
	return append(b, first), nil
}

// PackedLen returns the number of bytes n occupies in packed form.
func PackedLen(n int64) int {
	u := uint64(n)
	if n < 0 {
		u = ^u
	}
	size := 1
	for u >>= 6; u != 0; u >>= 7 {
		size++
	}
	return size
}

func lowByte(u *big.Int) byte {
	words := u.Bits()
	if len(words) == 0 {
		return 0
	}
	return byte(words[0])
}

// readPacked decodes a packed integer of at most maxLen bytes.
func readPacked(next func() (byte, error), maxLen int) (int64, error) {
	b, err := next()
	if err != nil {
		return 0, err
	}

	neg := b&0x40 != 0
	u := uint64(b & 0x3F)
	shift := uint(6)
	for n := 1; b&0x80 != 0; n++ {
		if n == maxLen {
			return 0, errOverlong
		}
		if b, err = next(); err != nil {
			return 0, err
		}
		chunk := uint64(b & 0x7F)
		if chunk != 0 && (shift >= 64 || chunk>>(64-shift) != 0) {
			return 0, ErrOverflow
		}
		u |= chunk << shift
		shift += 7
	}

	if u > math.MaxInt64 {
		return 0, ErrOverflow
	}
	v := int64(u)
	if neg {
		v = ^v
	}
	return v, nil
}

func readPacked32(next func() (byte, error)) (int32, error) {
	v, err := readPacked(next, MaxPackedInt32Len)
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, ErrOverflow
	}
	return int32(v), nil
}

func readPacked128(next func() (byte, error)) (*big.Int, error) {
	b, err := next()
	if err != nil {
		return nil, err
	}

	neg := b&0x40 != 0
	u := new(big.Int).SetUint64(uint64(b & 0x3F))
	chunk := new(big.Int)
	shift := uint(6)
	for n := 1; b&0x80 != 0; n++ {
		if n == MaxPackedInt128Len {
			return nil, errOverlong
		}
		if b, err = next(); err != nil {
			return nil, err
		}
		chunk.SetUint64(uint64(b & 0x7F))
		u.Or(u, chunk.Lsh(chunk, shift))
		shift += 7
	}

	if u.BitLen() > 127 {
		return nil, ErrOverflow
	}
	if neg {
		u.Not(u)
	}
	return u, nil
}

// TwosComplement returns the minimal big-endian two's-complement encoding of
// n. A leading 0x00 or 0xFF byte is only present when needed to keep the
// sign bit correct.
func TwosComplement(n *big.Int) []byte {
	neg := n.Sign() < 0
	m := n
	if neg {
		m = new(big.Int).Not(n)
	}
	b := m.Bytes()
	if len(b) == 0 || b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	if neg {
		for i := range b {
			b[i] = ^b[i]
		}
	}
	return b
}

// FromTwosComplement is the inverse of TwosComplement.
func FromTwosComplement(b []byte) *big.Int {
	if len(b) == 0 {
		return new(big.Int)
	}
	if b[0]&0x80 == 0 {
		return new(big.Int).SetBytes(b)
	}
	inv := make([]byte, len(b))
	for i := range b {
		inv[i] = ^b[i]
	}
	m := new(big.Int).SetBytes(inv)
	return m.Not(m)
}

// ReadPackedInt32From reads a packed int32 from a byte stream. Used for frame
// length prefixes, where the surrounding bytes are not yet buffered.
func ReadPackedInt32From(r io.ByteReader) (int32, error) {
	read := 0
	v, err := readPacked32(func() (byte, error) {
		b, err := r.ReadByte()
		if err == nil {
			read++
		} else if err == io.EOF && read > 0 {
			err = io.ErrUnexpectedEOF
		}
		return b, err
	})
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, errOverlong), errors.Is(err, ErrOverflow):
		return 0, corruptErr(-1, "invalid packed int32", err)
	default:
		return 0, err
	}
}

// WritePackedInt32To writes the packed encoding of n to w.
func WritePackedInt32To(w io.Writer, n int32) error {
	var scratch [MaxPackedInt32Len]byte
	_, err := w.Write(AppendPackedInt32(scratch[:0], n))
	return err
}
