package partition

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/extend/pof"
	"github.com/pior/extend/wire"
)

type forced struct {
	set    *Set
	format Format
}

func (f forced) WriteExternal(w *pof.Writer) error { return f.set.WriteFormat(w, f.format) }
func (f forced) ReadExternal(r *pof.Reader) error  { return nil }

func encodeAs(t *testing.T, s *Set, f Format) []byte {
	t.Helper()
	out := wire.NewWriter(0)
	require.NoError(t, pof.NewContext().WriteUserType(out, TypeID, forced{set: s, format: f}))
	return out.Bytes()
}

func decode(t *testing.T, data []byte) *Set {
	t.Helper()
	s := new(Set)
	require.NoError(t, pof.NewContext().ReadUserType(wire.NewReader(data), TypeID, s))
	return s
}

func iterate(s *Set) []int {
	var out []int
	for p := s.Next(0); p >= 0; p = s.Next(p + 1) {
		out = append(out, p)
	}
	return out
}

func TestEveryFormatRoundTrips(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	sizes := []int{1, 63, 64, 65, 257}

	for _, n := range sizes {
		for _, density := range []float64{0, 0.01, 0.2, 0.7, 1} {
			s := New(n)
			for p := range n {
				if rng.Float64() < density {
					s.Add(p)
				}
			}

			formats := []Format{FormatFew, FormatMany}
			if s.IsEmpty() {
				formats = append(formats, FormatNone)
			}
			if s.IsFull() {
				formats = append(formats, FormatAll)
			}

			for _, f := range formats {
				got := decode(t, encodeAs(t, s, f))
				assert.Equal(t, n, got.PartitionCount())
				assert.Equal(t, iterate(s), iterate(got), "n=%d density=%v format=%s", n, density, f)
				assert.True(t, s.Equals(got))
				assert.Equal(t, s.Cardinality(), got.Cardinality())
			}
		}
	}
}

func TestFormatByCardinality(t *testing.T) {
	s := New(1024)
	assert.Equal(t, FormatNone, s.Format())

	s.Add(500)
	s.Add(900)
	assert.Equal(t, FormatFew, s.Format())

	for p := 0; p < 1024; p += 2 {
		s.Add(p)
	}
	assert.Equal(t, FormatMany, s.Format())

	s.Fill()
	assert.Equal(t, FormatAll, s.Format())
}

func TestFormatMismatch(t *testing.T) {
	s := New(10)
	s.Add(1)
	err := pof.NewContext().WriteUserType(wire.NewWriter(0), TypeID, forced{set: s, format: FormatAll})
	assert.Error(t, err)
	err = pof.NewContext().WriteUserType(wire.NewWriter(0), TypeID, forced{set: s, format: FormatNone})
	assert.Error(t, err)
}

func TestSetAsPropertyValue(t *testing.T) {
	ctx := pof.NewContext()
	require.NoError(t, Register(ctx))

	s := New(257)
	s.Add(0)
	s.Add(256)

	data, err := ctx.Serialize(s)
	require.NoError(t, err)
	got, err := ctx.Deserialize(data)
	require.NoError(t, err)
	assert.True(t, s.Equals(got.(*Set)))
}

func TestLargestDecodedCount(t *testing.T) {
	s := New(MaxDecodedCount)
	s.Fill()
	got := decode(t, encodeAs(t, s, FormatAll))
	assert.True(t, got.IsFull())
	assert.Equal(t, MaxDecodedCount, got.PartitionCount())
}

func TestRejectsCorruptPayload(t *testing.T) {
	cases := map[string]rawSet{
		"word count":     {count: 200, format: FormatMany, payload: []int64{1}},
		"tail bits":      {count: 3, format: FormatMany, payload: []int64{0x10}},
		"duplicate gap":  {count: 10, format: FormatFew, payload: []int32{3, 0}},
		"gap past end":   {count: 10, format: FormatFew, payload: []int32{4, 6}},
		"negative gap":   {count: 10, format: FormatFew, payload: []int32{4, -1}},
		"unknown format": {count: 10, format: Format(9)},
		"negative count": {count: -1, format: FormatNone},
		"huge count":     {count: 1<<31 - 1, format: FormatAll},
		"count past max": {count: MaxDecodedCount + 1, format: FormatNone},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			out := wire.NewWriter(0)
			require.NoError(t, pof.NewContext().WriteUserType(out, TypeID, raw))
			err := pof.NewContext().ReadUserType(wire.NewReader(out.Bytes()), TypeID, new(Set))
			assert.Error(t, err)
		})
	}
}

type rawSet struct {
	count   int32
	format  Format
	payload any
}

func (s rawSet) ReadExternal(r *pof.Reader) error { return nil }

func (s rawSet) WriteExternal(w *pof.Writer) error {
	if err := w.WriteInt32(0, s.count); err != nil {
		return err
	}
	if err := w.WriteInt32(1, int32(s.format)); err != nil {
		return err
	}
	if s.payload == nil {
		return nil
	}
	return w.WriteObject(2, s.payload)
}
