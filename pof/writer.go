package pof

import (
	"math/big"
	"reflect"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/pior/extend/wire"
)

type identities struct {
	ids  map[any]int32
	next int32
}

// Writer writes the properties of one user object. Properties must be
// written in strictly ascending index order; indices may be skipped.
type Writer struct {
	out *wire.Writer
	ctx *Context
	ids *identities

	typeID         int32
	version        int32
	versionWritten bool
	lastIndex      int32
	done           bool
	user           bool
}

// TypeID returns the type id of the object being written.
func (w *Writer) TypeID() int32 { return w.typeID }

// VersionID returns the version id that is or will be written.
func (w *Writer) VersionID() int32 { return w.version }

// Context returns the Context the writer encodes nested user objects with.
func (w *Writer) Context() *Context { return w.ctx }

// SetVersionID sets the version of the object being written. It must be
// called before the first property.
func (w *Writer) SetVersionID(v int32) error {
	if w.versionWritten {
		return errors.New("pof: version id must be set before writing properties")
	}
	if v < 0 {
		return errors.Errorf("pof: negative version id %d", v)
	}
	w.version = v
	return nil
}

func (w *Writer) writeVersion() {
	if !w.versionWritten {
		w.out.WritePackedInt32(w.version)
		w.versionWritten = true
	}
}

func (w *Writer) begin(index int32) error {
	if !w.user {
		return errors.New("pof: properties can only be written inside a user type")
	}
	if w.done {
		return errors.New("pof: object already terminated")
	}
	if index < 0 {
		return errors.Errorf("pof: negative property index %d", index)
	}
	if index <= w.lastIndex {
		return errors.Wrapf(ErrOutOfOrder, "index %d after %d", index, w.lastIndex)
	}
	w.writeVersion()
	w.out.WritePackedInt32(index)
	w.lastIndex = index
	return nil
}

// WriteRemainder appends properties captured by Reader.ReadRemainder and
// terminates the object. No properties can be written afterwards.
func (w *Writer) WriteRemainder(b []byte) error {
	if w.done {
		return errors.New("pof: object already terminated")
	}
	w.writeVersion()
	_, _ = w.out.Write(b)
	return w.finish()
}

func (w *Writer) finish() error {
	if w.done {
		return nil
	}
	w.writeVersion()
	w.out.WritePackedInt32(-1)
	w.done = true
	return nil
}

// WriteObject writes any supported value, including registered user types.
func (w *Writer) WriteObject(index int32, v any) error {
	if err := w.begin(index); err != nil {
		return err
	}
	return w.writeValue(v)
}

func (w *Writer) WriteBool(index int32, v bool) error       { return w.WriteObject(index, v) }
func (w *Writer) WriteInt16(index int32, v int16) error     { return w.WriteObject(index, v) }
func (w *Writer) WriteInt32(index int32, v int32) error     { return w.WriteObject(index, v) }
func (w *Writer) WriteInt64(index int32, v int64) error     { return w.WriteObject(index, v) }
func (w *Writer) WriteFloat32(index int32, v float32) error { return w.WriteObject(index, v) }
func (w *Writer) WriteFloat64(index int32, v float64) error { return w.WriteObject(index, v) }
func (w *Writer) WriteChar(index int32, v Char) error       { return w.WriteObject(index, v) }
func (w *Writer) WriteString(index int32, v string) error   { return w.WriteObject(index, v) }
func (w *Writer) WriteBytes(index int32, v []byte) error    { return w.WriteObject(index, v) }
func (w *Writer) WriteBigInt(index int32, v *big.Int) error { return w.WriteObject(index, v) }
func (w *Writer) WriteDecimal(index int32, v Decimal) error { return w.WriteObject(index, v) }
func (w *Writer) WriteTime(index int32, v time.Time) error  { return w.WriteObject(index, v) }
func (w *Writer) WriteDuration(index int32, v time.Duration) error {
	return w.WriteObject(index, v)
}

func (w *Writer) WriteInt32Array(index int32, v []int32) error     { return w.WriteObject(index, v) }
func (w *Writer) WriteInt64Array(index int32, v []int64) error     { return w.WriteObject(index, v) }
func (w *Writer) WriteStringArray(index int32, v []string) error   { return w.WriteObject(index, v) }
func (w *Writer) WriteFloat64Array(index int32, v []float64) error { return w.WriteObject(index, v) }
func (w *Writer) WriteBoolArray(index int32, v []bool) error       { return w.WriteObject(index, v) }
func (w *Writer) WriteArray(index int32, v []any) error            { return w.WriteObject(index, v) }

// WriteCollection writes v as an unordered collection.
func (w *Writer) WriteCollection(index int32, v []any) error {
	if v == nil {
		return w.WriteObject(index, nil)
	}
	return w.WriteObject(index, Collection(v))
}

// WriteDate writes only the calendar date of t.
func (w *Writer) WriteDate(index int32, t time.Time) error {
	if err := w.begin(index); err != nil {
		return err
	}
	w.out.WritePackedInt32(TDate)
	w.writeDate(t)
	return nil
}

func (w *Writer) WriteMap(index int32, v map[any]any) error { return w.WriteObject(index, v) }

// WriteStringMap writes v as a map with uniform string keys.
func (w *Writer) WriteStringMap(index int32, v map[string]any) error {
	return w.WriteObject(index, v)
}

func (w *Writer) WriteSparseArray(index int32, v *SparseArray) error {
	return w.WriteObject(index, v)
}

func (w *Writer) writeToken(t int32) {
	w.out.WritePackedInt32(t)
}

func (w *Writer) writeInt(typeID int32, n int64) {
	if tok, ok := tinyIntToken(n); ok {
		w.writeToken(tok)
		return
	}
	w.out.WritePackedInt32(typeID)
	w.out.WritePackedInt64(n)
}

// writeValue writes a type id (or token) followed by the value body.
func (w *Writer) writeValue(v any) error {
	out := w.out
	switch x := v.(type) {
	case nil:
		w.writeToken(VReferenceNull)
	case bool:
		if x {
			w.writeToken(VBooleanTrue)
		} else {
			w.writeToken(VBooleanFalse)
		}
	case int8:
		w.writeInt(TInt16, int64(x))
	case int16:
		w.writeInt(TInt16, int64(x))
	case int32:
		w.writeInt(TInt32, int64(x))
	case int:
		w.writeInt(TInt64, int64(x))
	case int64:
		w.writeInt(TInt64, x)
	case uint8:
		out.WritePackedInt32(TOctet)
		_ = out.WriteByte(x)
	case uint16:
		w.writeInt(TInt32, int64(x))
	case uint32:
		w.writeInt(TInt64, int64(x))
	case float32:
		out.WritePackedInt32(TFloat32)
		out.WriteFloat32(x)
	case float64:
		out.WritePackedInt32(TFloat64)
		out.WriteFloat64(x)
	case Float128:
		out.WritePackedInt32(TFloat128)
		_, _ = out.Write(x[:])
	case Char:
		out.WritePackedInt32(TChar)
		return out.WriteChar(rune(x))
	case string:
		if x == "" {
			w.writeToken(VStringZeroLength)
			return nil
		}
		out.WritePackedInt32(TCharString)
		out.WriteString(x)
	case []byte:
		if x == nil {
			w.writeToken(VReferenceNull)
			return nil
		}
		out.WritePackedInt32(TOctetString)
		out.WriteOctets(x)
	case *big.Int:
		if x == nil {
			w.writeToken(VReferenceNull)
			return nil
		}
		out.WritePackedInt32(TInt128)
		return out.WritePackedInt128(x)
	case Decimal:
		return w.writeDecimal(x)
	case time.Time:
		out.WritePackedInt32(TDateTime)
		w.writeDate(x)
		w.writeTimeOfDay(x)
	case time.Duration:
		out.WritePackedInt32(TDayTimeInterval)
		w.writeDuration(x)
	case YearMonthInterval:
		out.WritePackedInt32(TYearMonthInterval)
		out.WritePackedInt32(x.Years)
		out.WritePackedInt32(x.Months)
	case Collection:
		return w.writeList(TCollection, x)
	case []any:
		if x == nil {
			w.writeToken(VReferenceNull)
			return nil
		}
		return w.writeList(TArray, x)
	case []int16:
		return writeUniform(w, x, TInt16, func(n int16) { out.WritePackedInt32(int32(n)) })
	case []int32:
		return writeUniform(w, x, TInt32, out.WritePackedInt32)
	case []int64:
		return writeUniform(w, x, TInt64, out.WritePackedInt64)
	case []float32:
		return writeUniform(w, x, TFloat32, out.WriteFloat32)
	case []float64:
		return writeUniform(w, x, TFloat64, out.WriteFloat64)
	case []string:
		return writeUniform(w, x, TCharString, out.WriteString)
	case []bool:
		return writeUniform(w, x, TBoolean, func(b bool) {
			if b {
				out.WritePackedInt32(1)
			} else {
				out.WritePackedInt32(0)
			}
		})
	case *SparseArray:
		if x == nil {
			w.writeToken(VReferenceNull)
			return nil
		}
		return w.writeSparse(x)
	case map[any]any:
		if x == nil {
			w.writeToken(VReferenceNull)
			return nil
		}
		out.WritePackedInt32(TMap)
		out.WritePackedInt32(int32(len(x)))
		for k, val := range x {
			if err := w.writeValue(k); err != nil {
				return err
			}
			if err := w.writeValue(val); err != nil {
				return err
			}
		}
	case map[string]any:
		if x == nil {
			w.writeToken(VReferenceNull)
			return nil
		}
		out.WritePackedInt32(TUniformKeysMap)
		out.WritePackedInt32(TCharString)
		out.WritePackedInt32(int32(len(x)))
		for _, k := range sortedKeys(x) {
			out.WriteString(k)
			if err := w.writeValue(x[k]); err != nil {
				return err
			}
		}
	case map[string]string:
		if x == nil {
			w.writeToken(VReferenceNull)
			return nil
		}
		out.WritePackedInt32(TUniformMap)
		out.WritePackedInt32(TCharString)
		out.WritePackedInt32(TCharString)
		out.WritePackedInt32(int32(len(x)))
		for _, k := range sortedKeys(x) {
			out.WriteString(k)
			out.WriteString(x[k])
		}
	default:
		return w.writeUserValue(v)
	}
	return nil
}

func (w *Writer) writeUserValue(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		w.writeToken(VReferenceNull)
		return nil
	}

	typeID, ok := w.ctx.TypeID(v)
	if !ok {
		return errors.Wrapf(ErrUnsupportedType, "%T", v)
	}
	s, _ := w.ctx.serializer(typeID)

	if w.ids != nil && rv.Kind() == reflect.Pointer {
		if id, seen := w.ids.ids[v]; seen {
			w.writeToken(TReference)
			w.out.WritePackedInt32(id)
			return nil
		}
		id := w.ids.next
		w.ids.next++
		w.ids.ids[v] = id
		w.writeToken(TIdentity)
		w.out.WritePackedInt32(id)
	}

	w.out.WritePackedInt32(typeID)
	return w.writeUserBody(typeID, s, v)
}

func (w *Writer) writeUserBody(typeID int32, s Serializer, v any) error {
	child := &Writer{out: w.out, ctx: w.ctx, ids: w.ids, typeID: typeID, lastIndex: -1, user: true}

	ev, evolvable := v.(Evolvable)
	if evolvable {
		child.version = max(ev.ImplVersion(), ev.DataVersion())
	}
	if err := s.Serialize(child, v); err != nil {
		return err
	}
	if evolvable && !child.done {
		return child.WriteRemainder(ev.FutureData())
	}
	return child.finish()
}

func (w *Writer) writeList(typeID int32, values []any) error {
	w.out.WritePackedInt32(typeID)
	w.out.WritePackedInt32(int32(len(values)))
	for _, v := range values {
		if err := w.writeValue(v); err != nil {
			return err
		}
	}
	return nil
}

func writeUniform[T any](w *Writer, values []T, elemType int32, write func(T)) error {
	if values == nil {
		w.writeToken(VReferenceNull)
		return nil
	}
	w.out.WritePackedInt32(TUniformArray)
	w.out.WritePackedInt32(elemType)
	w.out.WritePackedInt32(int32(len(values)))
	for _, v := range values {
		write(v)
	}
	return nil
}

func (w *Writer) writeSparse(a *SparseArray) error {
	w.out.WritePackedInt32(TSparseArray)
	w.out.WritePackedInt32(a.Length)
	for _, i := range a.Indices() {
		w.out.WritePackedInt32(i)
		if err := w.writeValue(a.values[i]); err != nil {
			return err
		}
	}
	w.out.WritePackedInt32(-1)
	return nil
}

func (w *Writer) writeDecimal(d Decimal) error {
	typeID, err := decimalType(d)
	if err != nil {
		return err
	}
	w.out.WritePackedInt32(typeID)
	u := d.unscaled()
	switch typeID {
	case TDecimal32, TDecimal64:
		w.out.WritePackedInt64(u.Int64())
	default:
		if err := w.out.WritePackedInt128(u); err != nil {
			return err
		}
	}
	w.out.WritePackedInt32(d.Scale)
	return nil
}

func (w *Writer) writeDate(t time.Time) {
	w.out.WritePackedInt32(int32(t.Year()))
	w.out.WritePackedInt32(int32(t.Month()))
	w.out.WritePackedInt32(int32(t.Day()))
}

// writeTimeOfDay writes hour, minute, second, a fraction and the zone. The
// fraction is 0, a positive count of milliseconds, or a negated count of
// nanoseconds when millisecond precision is not enough.
func (w *Writer) writeTimeOfDay(t time.Time) {
	w.out.WritePackedInt32(int32(t.Hour()))
	w.out.WritePackedInt32(int32(t.Minute()))
	w.out.WritePackedInt32(int32(t.Second()))

	nanos := int32(t.Nanosecond())
	switch {
	case nanos%int32(time.Millisecond) == 0:
		w.out.WritePackedInt32(nanos / int32(time.Millisecond))
	default:
		w.out.WritePackedInt32(-nanos)
	}

	if t.Location() == time.UTC {
		w.out.WritePackedInt32(zoneUTC)
		return
	}
	_, offset := t.Zone()
	w.out.WritePackedInt32(zoneOffset)
	w.out.WritePackedInt32(int32(offset / 3600))
	w.out.WritePackedInt32(int32(offset % 3600 / 60))
}

func (w *Writer) writeDuration(d time.Duration) {
	const day = 24 * time.Hour
	w.out.WritePackedInt32(int32(d / day))
	d %= day
	w.out.WritePackedInt32(int32(d / time.Hour))
	d %= time.Hour
	w.out.WritePackedInt32(int32(d / time.Minute))
	d %= time.Minute
	w.out.WritePackedInt32(int32(d / time.Second))
	d %= time.Second
	w.out.WritePackedInt32(int32(d))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
