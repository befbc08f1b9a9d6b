package partition

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/pior/extend/pof"
	"github.com/pior/extend/wire"
)

// TypeID is the POF user type id of Set.
const TypeID int32 = 52

// MaxDecodedCount is the largest partition count ReadExternal accepts.
const MaxDecodedCount = 1 << 20

// Register adds Set to ctx under TypeID.
func Register(ctx *pof.Context) error {
	return ctx.Register(TypeID, func() pof.PortableObject { return new(Set) })
}

// Format is the wire layout of a Set.
type Format int32

const (
	// FormatNone has no payload; no partition is marked.
	FormatNone Format = iota
	// FormatFew lists the gaps between consecutive marked partitions. The
	// first gap is the first marked partition itself.
	FormatFew
	// FormatMany carries the raw 64-bit words of the bitmap.
	FormatMany
	// FormatAll has no payload; every partition is marked.
	FormatAll
)

func (f Format) String() string {
	switch f {
	case FormatNone:
		return "none"
	case FormatFew:
		return "few"
	case FormatMany:
		return "many"
	case FormatAll:
		return "all"
	}
	return "Format(" + strconv.Itoa(int(f)) + ")"
}

// POF property indices.
const (
	propCount   = 0
	propFormat  = 1
	propPayload = 2
)

// Format returns the layout WriteExternal uses for the current contents:
// whichever of FormatFew and FormatMany encodes smaller, unless the set is
// empty or full.
func (s *Set) Format() Format {
	switch n := s.Cardinality(); n {
	case 0:
		return FormatNone
	case s.count:
		return FormatAll
	}
	if s.fewSize() <= s.manySize() {
		return FormatFew
	}
	return FormatMany
}

func (s *Set) gaps() []int32 {
	gaps := make([]int32, 0, s.Cardinality())
	prev := 0
	for p := s.First(); p >= 0; p = s.Next(p + 1) {
		gaps = append(gaps, int32(p-prev))
		prev = p
	}
	return gaps
}

func (s *Set) fewSize() int {
	size := wire.PackedLen(int64(s.Cardinality()))
	prev := 0
	for p := s.First(); p >= 0; p = s.Next(p + 1) {
		size += wire.PackedLen(int64(p - prev))
		prev = p
	}
	return size
}

func (s *Set) manySize() int {
	size := wire.PackedLen(int64(len(s.words)))
	for _, w := range s.words {
		size += wire.PackedLen(int64(w))
	}
	return size
}

func (s *Set) WriteExternal(w *pof.Writer) error {
	return s.WriteFormat(w, s.Format())
}

// WriteFormat writes s using layout f. FormatNone and FormatAll are only
// valid for an empty and a full set respectively.
func (s *Set) WriteFormat(w *pof.Writer, f Format) error {
	switch {
	case f == FormatNone && !s.IsEmpty():
		return errors.New("partition: none format for a non-empty set")
	case f == FormatAll && !s.IsFull():
		return errors.New("partition: all format for a partial set")
	}

	if err := w.WriteInt32(propCount, int32(s.count)); err != nil {
		return err
	}
	if err := w.WriteInt32(propFormat, int32(f)); err != nil {
		return err
	}
	switch f {
	case FormatFew:
		return w.WriteInt32Array(propPayload, s.gaps())
	case FormatMany:
		words := make([]int64, len(s.words))
		for i, v := range s.words {
			words[i] = int64(v)
		}
		return w.WriteInt64Array(propPayload, words)
	case FormatNone, FormatAll:
		return nil
	}
	return errors.Errorf("partition: unknown format %d", f)
}

func (s *Set) ReadExternal(r *pof.Reader) error {
	count, err := r.ReadInt32(propCount)
	if err != nil {
		return err
	}
	if count < 0 || count > MaxDecodedCount {
		return errors.Errorf("partition: invalid partition count %d", count)
	}
	format, err := r.ReadInt32(propFormat)
	if err != nil {
		return err
	}

	*s = *New(int(count))
	switch Format(format) {
	case FormatNone:
		return nil
	case FormatAll:
		s.Fill()
		return nil
	case FormatFew:
		gaps, err := r.ReadInt32Array(propPayload)
		if err != nil {
			return err
		}
		p := 0
		for i, g := range gaps {
			p += int(g)
			if g < 0 || p >= s.count || (i > 0 && g == 0) {
				return errors.Errorf("partition: invalid gap %d at partition %d of %d", g, p, s.count)
			}
			s.Add(p)
		}
		return nil
	case FormatMany:
		words, err := r.ReadInt64Array(propPayload)
		if err != nil {
			return err
		}
		if len(words) != len(s.words) {
			return errors.Errorf("partition: %d words for %d partitions", len(words), s.count)
		}
		for i, v := range words {
			s.words[i] = uint64(v)
		}
		if n := len(s.words); n > 0 && s.words[n-1]&^s.tailMask() != 0 {
			return errors.Errorf("partition: bits set beyond partition %d", s.count-1)
		}
		s.marked = -1
		return nil
	}
	return errors.Errorf("partition: unknown format %d", format)
}
