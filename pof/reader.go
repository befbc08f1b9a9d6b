package pof

import (
	"math"
	"math/big"
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/pior/extend/wire"
)

// Reader reads the properties of one user object. Properties must be
// requested in ascending index order; an absent property reads as the zero
// value of the requested type.
type Reader struct {
	in   *wire.Reader
	ctx  *Context
	refs map[int32]any

	typeID   int32
	version  int32
	identity int32 // identity the object being read is bound to, -1 if none
	pending  int32 // identity announced for the next value read, -1 if none

	next          int32 // index of the next property in the stream, -1 at the end
	nextPos       int   // offset where next was encoded
	streamIdx     int32 // last index seen in the stream
	last          int32 // last index requested by the caller
	remainderRead bool
	user          bool

	depth int // containers enclosing the value being read
}

// TypeID returns the type id of the object being read.
func (r *Reader) TypeID() int32 { return r.typeID }

// VersionID returns the version id the object was written with.
func (r *Reader) VersionID() int32 { return r.version }

// Context returns the Context nested user objects are decoded with.
func (r *Reader) Context() *Context { return r.ctx }

// RegisterIdentity binds v to the identity of the object being read, so that
// properties read afterwards can refer back to it. It is a no-op when the
// object carries no identity or when it was already registered.
func (r *Reader) RegisterIdentity(v any) {
	if r.identity >= 0 {
		r.refs[r.identity] = v
		r.identity = -1
	}
}

func (r *Reader) advance() error {
	r.nextPos = r.in.Pos()
	idx, err := r.in.ReadPackedInt32()
	if err != nil {
		return err
	}
	if idx < -1 {
		return wire.Corruptf(r.nextPos, "invalid property index %d", idx)
	}
	if idx >= 0 && idx <= r.streamIdx {
		return wire.Corruptf(r.nextPos, "property index %d follows %d", idx, r.streamIdx)
	}
	r.next = idx
	if idx >= 0 {
		r.streamIdx = idx
	}
	return nil
}

// seek skips properties below index and reports whether index is present.
func (r *Reader) seek(index int32) (bool, error) {
	if !r.user {
		return false, errors.New("pof: properties can only be read inside a user type")
	}
	if index < 0 {
		return false, errors.Errorf("pof: negative property index %d", index)
	}
	if index <= r.last {
		return false, errors.Wrapf(ErrOutOfOrder, "index %d after %d", index, r.last)
	}
	r.last = index

	for r.next >= 0 && r.next < index {
		if err := r.skipProperty(); err != nil {
			return false, err
		}
	}
	return r.next == index, nil
}

func (r *Reader) skipProperty() error {
	typeID, err := r.in.ReadPackedInt32()
	if err != nil {
		return err
	}
	if err := skipValue(r.in, typeID, r.depth); err != nil {
		return err
	}
	return r.advance()
}

// ReadObject reads any value, decoding registered user types through the
// Context. Absent properties read as nil.
func (r *Reader) ReadObject(index int32) (any, error) {
	found, err := r.seek(index)
	if err != nil || !found {
		return nil, err
	}
	v, err := r.readValue()
	if err != nil {
		return nil, err
	}
	return v, r.advance()
}

// ReadRemainder returns the raw encoding of all properties not yet read and
// consumes them. Passing the result to Writer.WriteRemainder reproduces
// them exactly. No properties can be read afterwards.
func (r *Reader) ReadRemainder() ([]byte, error) {
	if !r.user {
		return nil, errors.New("pof: properties can only be read inside a user type")
	}
	r.last = math.MaxInt32
	r.remainderRead = true
	if r.next < 0 {
		return nil, nil
	}

	start := r.nextPos
	for r.next >= 0 {
		if err := r.skipProperty(); err != nil {
			return nil, err
		}
	}
	raw := r.in.Buffer()[start:r.nextPos]
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (r *Reader) finish() error {
	for r.next >= 0 {
		if err := r.skipProperty(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) ReadBool(index int32) (bool, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return false, err
	}
	b, err := AsBool(v)
	return b, indexed(index, err)
}

func (r *Reader) ReadInt16(index int32) (int16, error) {
	n, err := r.readInt(index, math.MinInt16, math.MaxInt16)
	return int16(n), err
}

func (r *Reader) ReadInt32(index int32) (int32, error) {
	n, err := r.readInt(index, math.MinInt32, math.MaxInt32)
	return int32(n), err
}

func (r *Reader) ReadInt64(index int32) (int64, error) {
	return r.readInt(index, math.MinInt64, math.MaxInt64)
}

func (r *Reader) readInt(index int32, lo, hi int64) (int64, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return 0, err
	}
	n, err := AsInt64(v)
	if err != nil {
		return 0, indexed(index, err)
	}
	if n < lo || n > hi {
		return 0, errors.Wrapf(ErrTypeMismatch, "property %d: %d out of range", index, n)
	}
	return n, nil
}

func (r *Reader) ReadFloat32(index int32) (float32, error) {
	f, err := r.ReadFloat64(index)
	return float32(f), err
}

func (r *Reader) ReadFloat64(index int32) (float64, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return 0, err
	}
	f, err := AsFloat64(v)
	return f, indexed(index, err)
}

func (r *Reader) ReadChar(index int32) (Char, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case nil:
		return 0, nil
	case Char:
		return x, nil
	}
	n, err := AsInt64(v)
	return Char(n), indexed(index, err)
}

func (r *Reader) ReadString(index int32) (string, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return "", err
	}
	s, err := AsString(v)
	return s, indexed(index, err)
}

func (r *Reader) ReadBytes(index int32) ([]byte, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return nil, err
	}
	b, err := AsBytes(v)
	return b, indexed(index, err)
}

func (r *Reader) ReadBigInt(index int32) (*big.Int, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return nil, err
	}
	n, err := AsBigInt(v)
	return n, indexed(index, err)
}

func (r *Reader) ReadDecimal(index int32) (Decimal, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return Decimal{}, err
	}
	d, err := AsDecimal(v)
	return d, indexed(index, err)
}

func (r *Reader) ReadTime(index int32) (time.Time, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return time.Time{}, err
	}
	t, err := AsTime(v)
	return t, indexed(index, err)
}

func (r *Reader) ReadDuration(index int32) (time.Duration, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return 0, err
	}
	d, err := AsDuration(v)
	return d, indexed(index, err)
}

func (r *Reader) ReadInt32Array(index int32) ([]int32, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return nil, err
	}
	s, err := asSlice(v, func(x any) (int32, error) {
		n, err := AsInt64(x)
		if err == nil && (n < math.MinInt32 || n > math.MaxInt32) {
			err = errors.Wrapf(ErrTypeMismatch, "%d out of int32 range", n)
		}
		return int32(n), err
	})
	return s, indexed(index, err)
}

func (r *Reader) ReadInt64Array(index int32) ([]int64, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return nil, err
	}
	s, err := asSlice(v, AsInt64)
	return s, indexed(index, err)
}

func (r *Reader) ReadStringArray(index int32) ([]string, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return nil, err
	}
	s, err := asSlice(v, AsString)
	return s, indexed(index, err)
}

func (r *Reader) ReadFloat64Array(index int32) ([]float64, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return nil, err
	}
	s, err := asSlice(v, AsFloat64)
	return s, indexed(index, err)
}

func (r *Reader) ReadBoolArray(index int32) ([]bool, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return nil, err
	}
	s, err := asSlice(v, AsBool)
	return s, indexed(index, err)
}

// ReadArray reads any array or collection as a slice of values.
func (r *Reader) ReadArray(index int32) ([]any, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return nil, err
	}
	s, err := asSlice(v, func(x any) (any, error) { return x, nil })
	return s, indexed(index, err)
}

func (r *Reader) ReadMap(index int32) (map[any]any, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return nil, err
	}
	m, err := AsMap(v)
	return m, indexed(index, err)
}

// ReadStringMap reads a map whose keys are all strings.
func (r *Reader) ReadStringMap(index int32) (map[string]any, error) {
	v, err := r.ReadObject(index)
	if err != nil {
		return nil, err
	}
	m, err := AsStringMap(v)
	return m, indexed(index, err)
}

func (r *Reader) ReadSparseArray(index int32) (*SparseArray, error) {
	v, err := r.ReadObject(index)
	if err != nil || v == nil {
		return nil, err
	}
	a, ok := v.(*SparseArray)
	if !ok {
		return nil, mismatch(index, "sparse array", v)
	}
	return a, nil
}

// readValue reads a type id or token and the value it introduces.
func (r *Reader) readValue() (any, error) {
	typeID, err := r.in.ReadPackedInt32()
	if err != nil {
		return nil, err
	}
	return r.readTyped(typeID)
}

func (r *Reader) readTyped(typeID int32) (any, error) {
	if isTinyIntToken(typeID) {
		return tinyIntValue(typeID), nil
	}
	switch typeID {
	case VBooleanFalse:
		return false, nil
	case VBooleanTrue:
		return true, nil
	case VStringZeroLength:
		return "", nil
	case VCollectionEmpty:
		return []any{}, nil
	case VReferenceNull:
		return nil, nil
	case VFPPosInfinity:
		return math.Inf(1), nil
	case VFPNegInfinity:
		return math.Inf(-1), nil
	case VFPNaN:
		return math.NaN(), nil
	case TIdentity:
		id, err := r.in.ReadPackedInt32()
		if err != nil {
			return nil, err
		}
		return r.readIdentified(id)
	case TReference:
		pos := r.in.Pos()
		id, err := r.in.ReadPackedInt32()
		if err != nil {
			return nil, err
		}
		v, ok := r.refs[id]
		if !ok {
			return nil, wire.Corruptf(pos, "unresolved reference %d", id)
		}
		return v, nil
	default:
		return r.readBody(typeID)
	}
}

func (r *Reader) readIdentified(id int32) (any, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	defer r.leave()

	typeID, err := r.in.ReadPackedInt32()
	if err != nil {
		return nil, err
	}
	if typeID >= 0 {
		// the user object binds itself before its properties are read
		r.pending = id
		return r.readBody(typeID)
	}
	v, err := r.readTyped(typeID)
	if err != nil {
		return nil, err
	}
	r.refs[id] = v
	return v, nil
}

// readBody reads the value of a known type whose type id has already been
// consumed, or is implied by a uniform container.
func (r *Reader) readBody(typeID int32) (any, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	defer r.leave()

	in := r.in
	pos := in.Pos()
	switch typeID {
	case TInt16:
		n, err := in.ReadPackedInt32()
		if err == nil && (n < math.MinInt16 || n > math.MaxInt16) {
			return nil, wire.Corruptf(pos, "int16 out of range: %d", n)
		}
		return int16(n), err
	case TInt32:
		return in.ReadPackedInt32()
	case TInt64:
		return in.ReadPackedInt64()
	case TInt128:
		return in.ReadPackedInt128()
	case TFloat32:
		return in.ReadFloat32()
	case TFloat64:
		return in.ReadFloat64()
	case TFloat128:
		var q Float128
		b, err := in.Next(len(q))
		copy(q[:], b)
		return q, err
	case TDecimal32, TDecimal64, TDecimal128:
		return readDecimal(in, typeID)
	case TBoolean:
		n, err := in.ReadPackedInt32()
		return n != 0, err
	case TOctet:
		return in.ReadByte()
	case TOctetString:
		b, err := in.ReadOctets()
		if err != nil || b == nil {
			return nil, err
		}
		return b, nil
	case TChar:
		c, err := in.ReadChar()
		return Char(c), err
	case TCharString:
		s, ok, err := in.ReadNullableString()
		if err != nil || !ok {
			return nil, err
		}
		return s, nil
	case TDate:
		return readDate(in)
	case TYearMonthInterval:
		years, err := in.ReadPackedInt32()
		if err != nil {
			return nil, err
		}
		months, err := in.ReadPackedInt32()
		return YearMonthInterval{Years: years, Months: months}, err
	case TTime:
		return readTimeOfDay(in, time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC))
	case TTimeInterval:
		return readDuration(in, false)
	case TDateTime:
		d, err := readDate(in)
		if err != nil {
			return nil, err
		}
		return readTimeOfDay(in, d)
	case TDayTimeInterval:
		return readDuration(in, true)
	case TCollection, TArray:
		values, err := r.readList(-1)
		if err != nil {
			return nil, err
		}
		if typeID == TCollection {
			return Collection(values), nil
		}
		return values, nil
	case TUniformCollection:
		elemType, err := in.ReadPackedInt32()
		if err != nil {
			return nil, err
		}
		values, err := r.readList(elemType)
		return Collection(values), err
	case TUniformArray:
		elemType, err := in.ReadPackedInt32()
		if err != nil {
			return nil, err
		}
		return r.readUniformArray(elemType)
	case TSparseArray:
		return r.readSparse(-1)
	case TUniformSparseArray:
		elemType, err := in.ReadPackedInt32()
		if err != nil {
			return nil, err
		}
		return r.readSparse(elemType)
	case TMap:
		return r.readMap(-1, -1)
	case TUniformKeysMap:
		keyType, err := in.ReadPackedInt32()
		if err != nil {
			return nil, err
		}
		return r.readMap(keyType, -1)
	case TUniformMap:
		keyType, err := in.ReadPackedInt32()
		if err != nil {
			return nil, err
		}
		valueType, err := in.ReadPackedInt32()
		if err != nil {
			return nil, err
		}
		return r.readMap(keyType, valueType)
	}

	if typeID < 0 {
		return nil, wire.Corruptf(pos, "unknown type id %d", typeID)
	}
	s, ok := r.ctx.serializer(typeID)
	if !ok {
		return nil, wire.Corruptf(pos, "unknown user type id %d", typeID)
	}
	return r.readUserBody(typeID, s)
}

func (r *Reader) readUserBody(typeID int32, s Serializer) (any, error) {
	pos := r.in.Pos()
	version, err := r.in.ReadPackedInt32()
	if err != nil {
		return nil, err
	}
	if version < 0 {
		return nil, wire.Corruptf(pos, "negative version id %d for type %d", version, typeID)
	}

	child := &Reader{
		in:        r.in,
		ctx:       r.ctx,
		refs:      r.refs,
		typeID:    typeID,
		version:   version,
		identity:  r.pending,
		pending:   -1,
		streamIdx: -1,
		last:      -1,
		user:      true,
		depth:     r.depth,
	}
	r.pending = -1
	if err := child.advance(); err != nil {
		return nil, err
	}

	v, err := s.Deserialize(child)
	if err != nil {
		return nil, err
	}
	child.RegisterIdentity(v)

	if ev, ok := v.(Evolvable); ok {
		ev.SetDataVersion(version)
		if !child.remainderRead {
			rest, err := child.ReadRemainder()
			if err != nil {
				return nil, err
			}
			ev.SetFutureData(rest)
		}
		return v, nil
	}
	return v, child.finish()
}

func (r *Reader) enter() error {
	if r.depth >= maxDepth {
		return tooDeep(r.in)
	}
	r.depth++
	return nil
}

func (r *Reader) leave() { r.depth-- }

// readCount reads a container size. Callers cap preallocation by the
// remaining input.
func (r *Reader) readCount() (int, error) {
	pos := r.in.Pos()
	n, err := r.in.ReadPackedInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, wire.Corruptf(pos, "negative size %d", n)
	}
	return int(n), nil
}

func (r *Reader) elem(elemType int32) (any, error) {
	if elemType == -1 {
		return r.readValue()
	}
	return r.readBody(elemType)
}

func (r *Reader) readList(elemType int32) ([]any, error) {
	n, err := r.readCount()
	if err != nil {
		return nil, err
	}
	values := make([]any, 0, min(n, r.in.Remaining()))
	for range n {
		v, err := r.elem(elemType)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func (r *Reader) readUniformArray(elemType int32) (any, error) {
	switch elemType {
	case TInt16:
		return readUniform(r, elemType, func(v any) int16 { return v.(int16) })
	case TInt32:
		return readUniform(r, elemType, func(v any) int32 { return v.(int32) })
	case TInt64:
		return readUniform(r, elemType, func(v any) int64 { return v.(int64) })
	case TFloat32:
		return readUniform(r, elemType, func(v any) float32 { return v.(float32) })
	case TFloat64:
		return readUniform(r, elemType, func(v any) float64 { return v.(float64) })
	case TBoolean:
		return readUniform(r, elemType, func(v any) bool { return v.(bool) })
	case TCharString:
		return readUniform(r, elemType, func(v any) string {
			s, _ := v.(string)
			return s
		})
	default:
		return r.readList(elemType)
	}
}

func readUniform[T any](r *Reader, elemType int32, conv func(any) T) ([]T, error) {
	n, err := r.readCount()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, min(n, r.in.Remaining()))
	for range n {
		v, err := r.readBody(elemType)
		if err != nil {
			return nil, err
		}
		out = append(out, conv(v))
	}
	return out, nil
}

func (r *Reader) readSparse(elemType int32) (*SparseArray, error) {
	length, err := r.readCount()
	if err != nil {
		return nil, err
	}
	a := NewSparseArray(int32(length))
	last := int32(-1)
	for {
		pos := r.in.Pos()
		idx, err := r.in.ReadPackedInt32()
		if err != nil {
			return nil, err
		}
		if idx == -1 {
			return a, nil
		}
		if idx <= last {
			return nil, wire.Corruptf(pos, "sparse array index %d follows %d", idx, last)
		}
		last = idx
		v, err := r.elem(elemType)
		if err != nil {
			return nil, err
		}
		a.Set(idx, v)
	}
}

func (r *Reader) readMap(keyType, valueType int32) (any, error) {
	n, err := r.readCount()
	if err != nil {
		return nil, err
	}
	size := min(n, r.in.Remaining())

	switch {
	case keyType == TCharString && valueType == TCharString:
		m := make(map[string]string, size)
		for range n {
			k, err := r.in.ReadString()
			if err != nil {
				return nil, err
			}
			v, err := r.in.ReadString()
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	case keyType == TCharString:
		m := make(map[string]any, size)
		for range n {
			k, err := r.in.ReadString()
			if err != nil {
				return nil, err
			}
			v, err := r.elem(valueType)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	}

	m := make(map[any]any, size)
	for range n {
		pos := r.in.Pos()
		k, err := r.elem(keyType)
		if err != nil {
			return nil, err
		}
		if k != nil && !reflect.TypeOf(k).Comparable() {
			return nil, wire.Corruptf(pos, "map key of type %T is not supported", k)
		}
		v, err := r.elem(valueType)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func readDecimal(in *wire.Reader, typeID int32) (Decimal, error) {
	var unscaled *big.Int
	if typeID == TDecimal128 {
		n, err := in.ReadPackedInt128()
		if err != nil {
			return Decimal{}, err
		}
		unscaled = n
	} else {
		n, err := in.ReadPackedInt64()
		if err != nil {
			return Decimal{}, err
		}
		unscaled = big.NewInt(n)
	}
	scale, err := in.ReadPackedInt32()
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{Unscaled: unscaled, Scale: scale}, nil
}

func readInts(in *wire.Reader, dst ...*int32) error {
	for _, p := range dst {
		n, err := in.ReadPackedInt32()
		if err != nil {
			return err
		}
		*p = n
	}
	return nil
}

func readDate(in *wire.Reader) (time.Time, error) {
	var year, month, day int32
	if err := readInts(in, &year, &month, &day); err != nil {
		return time.Time{}, err
	}
	return time.Date(int(year), time.Month(month), int(day), 0, 0, 0, 0, time.UTC), nil
}

func readTimeOfDay(in *wire.Reader, date time.Time) (time.Time, error) {
	var hour, minute, second, fraction, zone int32
	if err := readInts(in, &hour, &minute, &second, &fraction, &zone); err != nil {
		return time.Time{}, err
	}

	nanos := -fraction
	if fraction > 0 {
		nanos = fraction * int32(time.Millisecond)
	}

	loc := time.UTC
	switch zone {
	case zoneNone, zoneUTC:
	case zoneOffset:
		var hours, minutes int32
		if err := readInts(in, &hours, &minutes); err != nil {
			return time.Time{}, err
		}
		loc = time.FixedZone("", int(hours*3600+minutes*60))
	default:
		return time.Time{}, wire.Corruptf(in.Pos(), "invalid time zone marker %d", zone)
	}

	y, m, d := date.Date()
	return time.Date(y, m, d, int(hour), int(minute), int(second), int(nanos), loc), nil
}

func readDuration(in *wire.Reader, withDays bool) (time.Duration, error) {
	var days, hours, minutes, seconds, nanos int32
	fields := []*int32{&hours, &minutes, &seconds, &nanos}
	if withDays {
		fields = append([]*int32{&days}, fields...)
	}
	if err := readInts(in, fields...); err != nil {
		return 0, err
	}
	return time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(nanos), nil
}
