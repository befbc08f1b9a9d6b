package pof

import (
	"math"
	"math/big"
	"reflect"
	"time"

	"github.com/pkg/errors"
)

// The As* helpers convert a decoded value to a concrete Go type. Decoding
// yields the narrowest natural type (small integers come back as int32
// whatever width they were written with), so setters of hand-written
// serializers should go through these rather than type assertions.

func indexed(index int32, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithMessagef(err, "property %d", index)
}

func convErr(v any, want string) error {
	return errors.Wrapf(ErrTypeMismatch, "cannot convert %T to %s", v, want)
}

// AsBool converts booleans and integers (non-zero is true); nil is false.
func AsBool(v any) (bool, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	}
	n, err := AsInt64(v)
	if err != nil {
		return false, convErr(v, "bool")
	}
	return n != 0, nil
}

// AsInt64 converts any integer type; nil is 0.
func AsInt64(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case Char:
		return int64(x), nil
	case *big.Int:
		if x.IsInt64() {
			return x.Int64(), nil
		}
		return 0, errors.Wrapf(ErrTypeMismatch, "%s overflows int64", x)
	}
	return 0, convErr(v, "int64")
}

// AsInt32 is AsInt64 with a range check.
func AsInt32(v any) (int32, error) {
	n, err := AsInt64(v)
	if err != nil {
		return 0, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, errors.Wrapf(ErrTypeMismatch, "%d overflows int32", n)
	}
	return int32(n), nil
}

// AsFloat64 converts floats and integers; nil is 0.
func AsFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	}
	n, err := AsInt64(v)
	if err != nil {
		return 0, convErr(v, "float64")
	}
	return float64(n), nil
}

// AsString converts strings and chars; nil is "".
func AsString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case Char:
		return string(rune(x)), nil
	}
	return "", convErr(v, "string")
}

// AsBytes converts octet strings. The empty-string token decodes as an
// empty slice; nil stays nil.
func AsBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return x, nil
	case string:
		if x == "" {
			return []byte{}, nil
		}
	}
	return nil, convErr(v, "[]byte")
}

// AsBigInt converts integers to *big.Int; nil stays nil.
func AsBigInt(v any) (*big.Int, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *big.Int:
		return x, nil
	}
	n, err := AsInt64(v)
	if err != nil {
		return nil, convErr(v, "*big.Int")
	}
	return big.NewInt(n), nil
}

// AsDecimal converts decimals and integers.
func AsDecimal(v any) (Decimal, error) {
	switch x := v.(type) {
	case nil:
		return Decimal{}, nil
	case Decimal:
		return x, nil
	}
	n, err := AsBigInt(v)
	if err != nil {
		return Decimal{}, convErr(v, "Decimal")
	}
	return Decimal{Unscaled: n}, nil
}

// AsTime converts date, time and date-time values; nil is the zero time.
func AsTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x, nil
	}
	return time.Time{}, convErr(v, "time.Time")
}

// AsDuration converts time intervals; nil is 0.
func AsDuration(v any) (time.Duration, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return x, nil
	}
	return 0, convErr(v, "time.Duration")
}

// AsMap converts any decoded map to map[any]any; nil stays nil.
func AsMap(v any) (map[any]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[any]any:
		return x, nil
	case map[string]any:
		m := make(map[any]any, len(x))
		for k, val := range x {
			m[k] = val
		}
		return m, nil
	case map[string]string:
		m := make(map[any]any, len(x))
		for k, val := range x {
			m[k] = val
		}
		return m, nil
	}
	return nil, convErr(v, "map")
}

// AsStringMap converts a decoded map with string keys.
func AsStringMap(v any) (map[string]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return x, nil
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = val
		}
		return m, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, convErr(k, "string key")
			}
			m[ks] = val
		}
		return m, nil
	}
	return nil, convErr(v, "map[string]any")
}

// asSlice converts any decoded array or collection element by element.
func asSlice[T any](v any, conv func(any) (T, error)) ([]T, error) {
	if v == nil {
		return nil, nil
	}
	if typed, ok := v.([]T); ok {
		return typed, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type() == reflect.TypeOf([]byte(nil)) {
		var zero []T
		return nil, convErr(v, reflect.TypeOf(zero).String())
	}
	out := make([]T, rv.Len())
	for i := range out {
		elem, err := conv(rv.Index(i).Interface())
		if err != nil {
			return nil, errors.WithMessagef(err, "element %d", i)
		}
		out[i] = elem
	}
	return out, nil
}
