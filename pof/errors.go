package pof

import "github.com/pkg/errors"

var (
	// ErrDecimalOverflow is returned when a decimal's unscaled value needs more
	// than 128 bits.
	ErrDecimalOverflow = errors.New("pof: decimal overflow")

	// ErrOutOfOrder is returned when properties are written or read with
	// non-ascending indices.
	ErrOutOfOrder = errors.New("pof: property index out of order")

	// ErrTypeMismatch is returned when a property holds a value that cannot be
	// converted to the requested type.
	ErrTypeMismatch = errors.New("pof: type mismatch")

	// ErrUnsupportedType is returned when writing a Go value with no encoding.
	ErrUnsupportedType = errors.New("pof: unsupported type")

	// ErrDuplicateIndex is returned by AssignIndices when two fields claim the
	// same explicit index.
	ErrDuplicateIndex = errors.New("pof: duplicate property index")
)

func mismatch(index int32, want string, v any) error {
	return errors.Wrapf(ErrTypeMismatch, "property %d: cannot read %T as %s", index, v, want)
}
