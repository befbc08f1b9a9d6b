package pof

import (
	"github.com/pkg/errors"

	"github.com/pior/extend/wire"
)

// ErrUnresolvableReference is returned by Navigate when the path crosses a
// back-reference, whose target lies outside the navigated value.
var ErrUnresolvableReference = errors.New("pof: cannot navigate through a reference")

// maxDepth bounds how deeply values may nest inside one another.
const maxDepth = 1024

func tooDeep(in *wire.Reader) error {
	return wire.Corruptf(in.Pos(), "value nested deeper than %d levels", maxDepth)
}

// Skip consumes one self-describing value (type id and body) from in
// without decoding it.
func Skip(in *wire.Reader) error {
	return skip(in, 0)
}

func skip(in *wire.Reader, depth int) error {
	typeID, err := in.ReadPackedInt32()
	if err != nil {
		return err
	}
	return skipValue(in, typeID, depth)
}

func skipPacked(in *wire.Reader, n int) error {
	for range n {
		if _, err := in.ReadPackedInt64(); err != nil {
			return err
		}
	}
	return nil
}

func skipCount(in *wire.Reader) (int, error) {
	pos := in.Pos()
	n, err := in.ReadPackedInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, wire.Corruptf(pos, "negative size %d", n)
	}
	return int(n), nil
}

func skipTimeOfDay(in *wire.Reader) error {
	if err := skipPacked(in, 4); err != nil {
		return err
	}
	zone, err := in.ReadPackedInt32()
	if err != nil {
		return err
	}
	if zone == zoneOffset {
		return skipPacked(in, 2)
	}
	return nil
}

func skipElems(in *wire.Reader, n int, elemType int32, depth int) error {
	for range n {
		var err error
		if elemType == -1 {
			err = skip(in, depth)
		} else {
			err = skipValue(in, elemType, depth)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func skipSparse(in *wire.Reader, elemType int32, depth int) error {
	for {
		idx, err := in.ReadPackedInt32()
		if err != nil {
			return err
		}
		if idx < 0 {
			return nil
		}
		if err := skipElems(in, 1, elemType, depth); err != nil {
			return err
		}
	}
}

// skipUserBody skips a version id and properties up to the terminator.
func skipUserBody(in *wire.Reader, depth int) error {
	if _, err := in.ReadPackedInt32(); err != nil {
		return err
	}
	return skipSparse(in, -1, depth)
}

// skipValue skips the body of a value whose type id has been consumed.
// depth counts the containers enclosing it.
func skipValue(in *wire.Reader, typeID int32, depth int) error {
	if depth >= maxDepth {
		return tooDeep(in)
	}
	if typeID >= 0 {
		return skipUserBody(in, depth+1)
	}
	if typeID <= VBooleanFalse && typeID >= VInt22 {
		return nil
	}

	switch typeID {
	case TIdentity:
		if _, err := in.ReadPackedInt32(); err != nil {
			return err
		}
		return skip(in, depth+1)
	case TReference, TBoolean:
		_, err := in.ReadPackedInt32()
		return err
	case TInt16, TInt32, TInt64:
		_, err := in.ReadPackedInt64()
		return err
	case TInt128:
		_, err := in.ReadPackedInt128()
		return err
	case TFloat32:
		return in.Skip(4)
	case TFloat64:
		return in.Skip(8)
	case TFloat128:
		return in.Skip(16)
	case TDecimal32, TDecimal64:
		return skipPacked(in, 2)
	case TDecimal128:
		if _, err := in.ReadPackedInt128(); err != nil {
			return err
		}
		return skipPacked(in, 1)
	case TOctet:
		return in.Skip(1)
	case TOctetString, TCharString:
		n, err := in.ReadLength()
		if err != nil || n < 0 {
			return err
		}
		return in.Skip(n)
	case TChar:
		_, err := in.ReadChar()
		return err
	case TDate:
		return skipPacked(in, 3)
	case TYearMonthInterval:
		return skipPacked(in, 2)
	case TTime:
		return skipTimeOfDay(in)
	case TTimeInterval:
		return skipPacked(in, 4)
	case TDateTime:
		if err := skipPacked(in, 3); err != nil {
			return err
		}
		return skipTimeOfDay(in)
	case TDayTimeInterval:
		return skipPacked(in, 5)
	case TCollection, TArray:
		n, err := skipCount(in)
		if err != nil {
			return err
		}
		return skipElems(in, n, -1, depth+1)
	case TUniformCollection, TUniformArray:
		elemType, err := in.ReadPackedInt32()
		if err != nil {
			return err
		}
		n, err := skipCount(in)
		if err != nil {
			return err
		}
		return skipElems(in, n, elemType, depth+1)
	case TSparseArray:
		if _, err := skipCount(in); err != nil {
			return err
		}
		return skipSparse(in, -1, depth+1)
	case TUniformSparseArray:
		elemType, err := in.ReadPackedInt32()
		if err != nil {
			return err
		}
		if _, err := skipCount(in); err != nil {
			return err
		}
		return skipSparse(in, elemType, depth+1)
	case TMap:
		n, err := skipCount(in)
		if err != nil {
			return err
		}
		return skipElems(in, 2*n, -1, depth+1)
	case TUniformKeysMap:
		keyType, err := in.ReadPackedInt32()
		if err != nil {
			return err
		}
		n, err := skipCount(in)
		if err != nil {
			return err
		}
		for range n {
			if err := skipValue(in, keyType, depth+1); err != nil {
				return err
			}
			if err := skip(in, depth+1); err != nil {
				return err
			}
		}
		return nil
	case TUniformMap:
		keyType, err := in.ReadPackedInt32()
		if err != nil {
			return err
		}
		valueType, err := in.ReadPackedInt32()
		if err != nil {
			return err
		}
		n, err := skipCount(in)
		if err != nil {
			return err
		}
		for range n {
			if err := skipValue(in, keyType, depth+1); err != nil {
				return err
			}
			if err := skipValue(in, valueType, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return wire.Corruptf(in.Pos(), "unknown type id %d", typeID)
}

// Navigate decodes a single nested value of the encoded value data without
// decoding its siblings. Each path element is a property index when the
// current value is a user object, or an element index when it is an array,
// collection or sparse array. A missing property or element yields nil.
func Navigate(ctx *Context, data []byte, path ...int32) (any, error) {
	in := wire.NewReader(data)
	typeID, err := in.ReadPackedInt32()
	if err != nil {
		return nil, err
	}

	for _, p := range path {
		if typeID, err = unwrapIdentity(in, typeID); err != nil {
			return nil, err
		}
		var found bool
		typeID, found, err = locate(in, typeID, p)
		if err != nil || !found {
			return nil, err
		}
	}
	return ctx.rootReader(in).readTyped(typeID)
}

func unwrapIdentity(in *wire.Reader, typeID int32) (int32, error) {
	for typeID == TIdentity {
		if _, err := in.ReadPackedInt32(); err != nil {
			return 0, err
		}
		var err error
		if typeID, err = in.ReadPackedInt32(); err != nil {
			return 0, err
		}
	}
	if typeID == TReference {
		return 0, errors.WithStack(ErrUnresolvableReference)
	}
	return typeID, nil
}

// locate positions in at element p of the value of type typeID, whose body
// starts at the current position, and returns the element's type id.
func locate(in *wire.Reader, typeID, p int32) (int32, bool, error) {
	switch {
	case typeID == VReferenceNull || typeID == VCollectionEmpty:
		return 0, false, nil

	case typeID >= 0:
		if _, err := in.ReadPackedInt32(); err != nil {
			return 0, false, err
		}
		return locateSparse(in, p, -1)

	case typeID == TArray || typeID == TCollection:
		n, err := skipCount(in)
		if err != nil || p < 0 || int(p) >= n {
			return 0, false, err
		}
		if err := skipElems(in, int(p), -1, 0); err != nil {
			return 0, false, err
		}
		elemType, err := in.ReadPackedInt32()
		return elemType, err == nil, err

	case typeID == TUniformArray || typeID == TUniformCollection:
		elemType, err := in.ReadPackedInt32()
		if err != nil {
			return 0, false, err
		}
		n, err := skipCount(in)
		if err != nil || p < 0 || int(p) >= n {
			return 0, false, err
		}
		if err := skipElems(in, int(p), elemType, 0); err != nil {
			return 0, false, err
		}
		return elemType, true, nil

	case typeID == TSparseArray:
		if _, err := skipCount(in); err != nil {
			return 0, false, err
		}
		return locateSparse(in, p, -1)

	case typeID == TUniformSparseArray:
		elemType, err := in.ReadPackedInt32()
		if err != nil {
			return 0, false, err
		}
		if _, err := skipCount(in); err != nil {
			return 0, false, err
		}
		return locateSparse(in, p, elemType)
	}
	return 0, false, errors.Errorf("pof: cannot navigate into type %d", typeID)
}

// locateSparse scans (index, value) pairs up to the terminator.
func locateSparse(in *wire.Reader, p, elemType int32) (int32, bool, error) {
	for {
		idx, err := in.ReadPackedInt32()
		if err != nil {
			return 0, false, err
		}
		if idx < 0 || idx > p {
			return 0, false, nil
		}
		if idx == p {
			if elemType != -1 {
				return elemType, true, nil
			}
			typeID, err := in.ReadPackedInt32()
			return typeID, err == nil, err
		}
		if err := skipElems(in, 1, elemType, 0); err != nil {
			return 0, false, err
		}
	}
}
