package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackedInt32Boundaries(t *testing.T) {
	tests := []struct {
		value int32
		size  int
	}{
		{0, 1},
		{-1, 1},
		{63, 1},
		{-64, 1},
		{64, 2},
		{-65, 2},
		{8191, 2},
		{8192, 3},
		{-8193, 3},
		{1<<20 - 1, 3},
		{1 << 20, 4},
		{1<<27 - 1, 4},
		{1 << 27, 5},
		{math.MaxInt32, 5},
		{math.MinInt32, 5},
	}

	for _, tt := range tests {
		b := AppendPackedInt32(nil, tt.value)
		assert.Len(t, b, tt.size, "value %d", tt.value)
		assert.Equal(t, tt.size, PackedLen(int64(tt.value)))

		got, err := NewReader(b).ReadPackedInt32()
		require.NoError(t, err)
		assert.Equal(t, tt.value, got)
	}
}

func TestPackedInt64Boundaries(t *testing.T) {
	values := []int64{0, -1, 63, 64, 8191, 8192, -8192, -8193,
		math.MaxInt32, math.MinInt32, math.MaxInt32 + 1, math.MinInt32 - 1,
		1 << 55, 1<<62 - 1, 1 << 62, math.MaxInt64, math.MinInt64}

	for _, v := range values {
		b := AppendPackedInt64(nil, v)
		assert.LessOrEqual(t, len(b), MaxPackedInt64Len)

		r := NewReader(b)
		got, err := r.ReadPackedInt64()
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Zero(t, r.Remaining())
	}
	assert.Len(t, AppendPackedInt64(nil, math.MaxInt64), MaxPackedInt64Len)
	assert.Len(t, AppendPackedInt64(nil, math.MinInt64), MaxPackedInt64Len)
}

func TestPackedKnownEncodings(t *testing.T) {
	assert.Equal(t, []byte{0x00}, AppendPackedInt32(nil, 0))
	assert.Equal(t, []byte{0x40}, AppendPackedInt32(nil, -1))
	assert.Equal(t, []byte{0x3F}, AppendPackedInt32(nil, 63))
	assert.Equal(t, []byte{0x80, 0x01}, AppendPackedInt32(nil, 64))
	assert.Equal(t, []byte{0xDF, 0x9A, 0x0C}, AppendPackedInt32(nil, -100000))
}

func TestNegativeHundredThousand(t *testing.T) {
	w := NewWriter(16)
	w.WritePackedInt32(-100000)
	got, err := NewReader(w.Bytes()).ReadPackedInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-100000), got)

	w.Reset()
	w.WriteInt32(-100000)
	be := w.Bytes()

	le := make([]byte, 4)
	binary.LittleEndian.PutUint32(le, uint32(0xFFFE7960))
	require.Len(t, be, 4)
	for i := range be {
		assert.Equal(t, le[3-i], be[i])
	}
	assert.Equal(t, []byte{0xFF, 0xFE, 0x79, 0x60}, be)

	v, err := NewReader(be).ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-100000), v)
}

func TestPackedInt32Overflow(t *testing.T) {
	// MaxInt32+1 in packed form fits 5 bytes but not 32 bits
	b := AppendPackedInt64(nil, math.MaxInt32+1)
	require.Len(t, b, 5)

	_, err := NewReader(b).ReadPackedInt32()
	require.Error(t, err)
	assert.True(t, IsCorruption(err))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestPackedOverlong(t *testing.T) {
	b := bytes.Repeat([]byte{0x80}, MaxPackedInt32Len)
	b = append(b, 0x00)

	r := NewReader(b)
	_, err := r.ReadPackedInt32()
	require.Error(t, err)
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, ce.Offset)

	b = bytes.Repeat([]byte{0xFF}, MaxPackedInt64Len+1)
	_, err = NewReader(b).ReadPackedInt64()
	assert.True(t, IsCorruption(err))
}

func TestPackedInt64TopBits(t *testing.T) {
	// ten bytes whose last group sets bits beyond 63
	b := append(bytes.Repeat([]byte{0xBF}, 9), 0x7F)
	_, err := NewReader(b).ReadPackedInt64()
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestPackedTruncated(t *testing.T) {
	_, err := NewReader([]byte{0x80}).ReadPackedInt32()
	assert.ErrorIs(t, err, ErrEndOfStream)

	_, err = NewReader(nil).ReadPackedInt64()
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestPackedInt128(t *testing.T) {
	maxV := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minV := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))

	values := []*big.Int{
		big.NewInt(0), big.NewInt(-1), big.NewInt(63), big.NewInt(64),
		big.NewInt(math.MaxInt64), big.NewInt(math.MinInt64),
		new(big.Int).Lsh(big.NewInt(1), 100), maxV, minV,
	}
	for _, v := range values {
		w := NewWriter(0)
		require.NoError(t, w.WritePackedInt128(v))
		assert.LessOrEqual(t, w.Len(), MaxPackedInt128Len)

		got, err := NewReader(w.Bytes()).ReadPackedInt128()
		require.NoError(t, err)
		assert.Equal(t, 0, v.Cmp(got), "want %s got %s", v, got)
	}

	// 64-bit values share the 64-bit encoding
	assert.Equal(t, AppendPackedInt64(nil, -100000), mustAppend128(t, big.NewInt(-100000)))

	tooBig := new(big.Int).Add(maxV, big.NewInt(1))
	err := NewWriter(0).WritePackedInt128(tooBig)
	assert.ErrorIs(t, err, ErrOverflow)

	tooSmall := new(big.Int).Sub(minV, big.NewInt(1))
	err = NewWriter(0).WritePackedInt128(tooSmall)
	assert.ErrorIs(t, err, ErrOverflow)
}

func mustAppend128(t *testing.T, v *big.Int) []byte {
	t.Helper()
	b, err := AppendPackedInt128(nil, v)
	require.NoError(t, err)
	return b
}

func TestTwosComplement(t *testing.T) {
	tests := []struct {
		value int64
		bytes []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x00, 0x80}},
		{255, []byte{0x00, 0xFF}},
		{256, []byte{0x01, 0x00}},
		{-1, []byte{0xFF}},
		{-128, []byte{0x80}},
		{-129, []byte{0xFF, 0x7F}},
		{-256, []byte{0xFF, 0x00}},
	}
	for _, tt := range tests {
		n := big.NewInt(tt.value)
		assert.Equal(t, tt.bytes, TwosComplement(n), "value %d", tt.value)
		assert.Equal(t, 0, n.Cmp(FromTwosComplement(tt.bytes)), "value %d", tt.value)
	}
}

func TestFixedWidth(t *testing.T) {
	w := NewWriter(0)
	w.WriteInt16(-2)
	w.WriteUint16(0xBEEF)
	w.WriteUint32(0xDEADBEEF)
	w.WriteInt64(-3)
	w.WriteUint64(0x0102030405060708)

	assert.Equal(t, []byte{
		0xFF, 0xFE,
		0xBE, 0xEF,
		0xDE, 0xAD, 0xBE, 0xEF,
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFD,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	}, w.Bytes())

	r := NewReader(w.Bytes())
	i16, err := r.ReadInt16()
	require.NoError(t, err)
	assert.Equal(t, int16(-2), i16)
	u16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), u16)
	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)
	i64, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-3), i64)
	u64, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), u64)

	_, err = r.ReadInt32()
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestFloatBitPatterns(t *testing.T) {
	bits32 := []uint32{
		0x00000000, 0x80000000, // +0, -0
		0x7F800000, 0xFF800000, // +Inf, -Inf
		0x7FC00000, 0x7FA00001, 0xFFC12345, // quiet and signalling NaNs with payloads
		0x00000001, 0x007FFFFF, // denormals
		0x3F800000,
	}
	for _, b := range bits32 {
		w := NewWriter(0)
		w.WriteFloat32(math.Float32frombits(b))
		got, err := NewReader(w.Bytes()).ReadFloat32()
		require.NoError(t, err)
		assert.Equal(t, b, math.Float32bits(got), "bits %08x", b)
	}

	bits64 := []uint64{
		0, 1 << 63,
		0x7FF0000000000000, 0xFFF0000000000000,
		0x7FF8000000000000, 0x7FF0000000000001, 0xFFF800000000BEEF,
		0x0000000000000001, 0x000FFFFFFFFFFFFF,
		math.Float64bits(math.Pi),
	}
	for _, b := range bits64 {
		w := NewWriter(0)
		w.WriteFloat64(math.Float64frombits(b))
		got, err := NewReader(w.Bytes()).ReadFloat64()
		require.NoError(t, err)
		assert.Equal(t, b, math.Float64bits(got), "bits %016x", b)
	}
}

func TestStrings(t *testing.T) {
	w := NewWriter(0)
	w.WriteString("")
	w.WriteString("hello")
	w.WriteString("héllo wörld ☃")
	w.WriteNullString()
	w.WriteOctets([]byte{1, 2, 3})

	r := NewReader(w.Bytes())
	for _, want := range []string{"", "hello", "héllo wörld ☃"} {
		s, ok, err := r.ReadNullableString()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, s)
	}
	s, ok, err := r.ReadNullableString()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s)

	octets, err := r.ReadOctets()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, octets)
}

func TestStringByteCount(t *testing.T) {
	w := NewWriter(0)
	w.WriteString("☃")
	assert.Equal(t, []byte{0x03, 0xE2, 0x98, 0x83}, w.Bytes())
}

func TestStringInvalidLength(t *testing.T) {
	b := AppendPackedInt32(nil, -2)
	_, err := NewReader(b).ReadString()
	assert.True(t, IsCorruption(err))

	b = AppendPackedInt32(nil, 10)
	b = append(b, "abc"...)
	_, err = NewReader(b).ReadString()
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestChars(t *testing.T) {
	for _, c := range []rune{0, 'a', 0x7F, 0x80, 0xE9, 0x7FF, 0x800, 0x2603, 0xFFFD, 0xFFFF} {
		w := NewWriter(0)
		require.NoError(t, w.WriteChar(c))
		got, err := NewReader(w.Bytes()).ReadChar()
		require.NoError(t, err)
		assert.Equal(t, c, got, "char %U", c)
	}

	assert.Error(t, NewWriter(0).WriteChar(0x1F600))
	assert.Error(t, NewWriter(0).WriteChar(0xD800))

	_, err := NewReader([]byte{0xF0, 0x9F}).ReadChar()
	assert.True(t, IsCorruption(err))
	_, err = NewReader([]byte{0xC3, 0x41}).ReadChar()
	assert.True(t, IsCorruption(err))
}

func TestStreamHelpers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePackedInt32To(&buf, 300))
	require.NoError(t, WritePackedInt32To(&buf, -7))

	v, err := ReadPackedInt32From(&buf)
	require.NoError(t, err)
	assert.Equal(t, int32(300), v)
	v, err = ReadPackedInt32From(&buf)
	require.NoError(t, err)
	assert.Equal(t, int32(-7), v)

	_, err = ReadPackedInt32From(&buf)
	assert.ErrorIs(t, err, io.EOF)

	_, err = ReadPackedInt32From(bytes.NewReader([]byte{0x80}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadPackedInt32From(bytes.NewReader(bytes.Repeat([]byte{0xFF}, 6)))
	assert.True(t, IsCorruption(err))
}

func TestReaderSeek(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	require.NoError(t, r.Skip(2))
	assert.Equal(t, 2, r.Pos())
	require.NoError(t, r.Seek(0))
	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(1), b)
	assert.Error(t, r.Seek(4))
	assert.ErrorIs(t, r.Skip(5), ErrEndOfStream)
}

// FuzzPackedInt64 checks that the decoder never panics and that anything it
// accepts re-encodes canonically to a prefix no longer than what was read.
// Run with: go test -fuzz='^FuzzPackedInt64$' -fuzztime=60s ./wire
func FuzzPackedInt64(f *testing.F) {
	f.Add([]byte{0x00})
	f.Add([]byte{0x40})
	f.Add([]byte{0xDF, 0x9A, 0x0C})
	f.Add(bytes.Repeat([]byte{0xFF}, 11))
	f.Add([]byte{0x80, 0x80, 0x00})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		r := NewReader(data)
		v, err := r.ReadPackedInt64()
		if err != nil {
			return
		}
		enc := AppendPackedInt64(nil, v)
		if len(enc) > r.Pos() {
			t.Fatalf("canonical encoding of %d longer than input (%d > %d)", v, len(enc), r.Pos())
		}
		back, err := NewReader(enc).ReadPackedInt64()
		if err != nil || back != v {
			t.Fatalf("round trip of %d failed: %d, %v", v, back, err)
		}

		r32 := NewReader(data)
		if v32, err := r32.ReadPackedInt32(); err == nil && int64(v32) != v {
			t.Fatalf("int32 decode %d disagrees with int64 decode %d", v32, v)
		}
	})
}

func BenchmarkWritePackedInt64(b *testing.B) {
	w := NewWriter(64)
	for b.Loop() {
		w.Reset()
		w.WritePackedInt64(-100000)
		w.WritePackedInt64(math.MaxInt64)
	}
}

func BenchmarkReadPackedInt64(b *testing.B) {
	data := AppendPackedInt64(AppendPackedInt64(nil, -100000), math.MaxInt64)
	for b.Loop() {
		r := NewReader(data)
		if _, err := r.ReadPackedInt64(); err != nil {
			b.Fatal(err)
		}
		if _, err := r.ReadPackedInt64(); err != nil {
			b.Fatal(err)
		}
	}
}
