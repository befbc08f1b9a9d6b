package pof

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Char is a single 16-bit character. It encodes as TChar rather than as an
// integer.
type Char rune

// Float128 holds the raw bits of an IEEE-754 quadruple precision value.
// Go has no native quad type, so values pass through unmodified.
type Float128 [16]byte

// YearMonthInterval is a period expressed in years and months.
type YearMonthInterval struct {
	Years  int32
	Months int32
}

// Collection is an unordered bag of values. It encodes as TCollection,
// whereas a plain []any encodes as TArray.
type Collection []any

// Decimal is an arbitrary precision decimal: Unscaled × 10^-Scale.
// Values whose unscaled part needs more than 128 bits cannot be encoded.
type Decimal struct {
	Unscaled *big.Int
	Scale    int32
}

// NewDecimal returns a Decimal with the given unscaled value and scale.
func NewDecimal(unscaled int64, scale int32) Decimal {
	return Decimal{Unscaled: big.NewInt(unscaled), Scale: scale}
}

// ParseDecimal parses a plain decimal string such as "-12.034".
func ParseDecimal(s string) (Decimal, error) {
	digits := s
	var scale int32
	if i := strings.IndexByte(s, '.'); i >= 0 {
		digits = s[:i] + s[i+1:]
		scale = int32(len(s) - i - 1)
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Decimal{}, errors.Errorf("pof: invalid decimal %q", s)
	}
	return Decimal{Unscaled: n, Scale: scale}, nil
}

func (d Decimal) unscaled() *big.Int {
	if d.Unscaled == nil {
		return new(big.Int)
	}
	return d.Unscaled
}

// Equal reports whether both decimals have the same unscaled value and scale.
func (d Decimal) Equal(o Decimal) bool {
	return d.Scale == o.Scale && d.unscaled().Cmp(o.unscaled()) == 0
}

func (d Decimal) String() string {
	u := d.unscaled()
	if d.Scale <= 0 {
		s := u.String()
		if u.Sign() != 0 && d.Scale < 0 {
			s += strings.Repeat("0", int(-d.Scale))
		}
		return s
	}

	neg := u.Sign() < 0
	digits := new(big.Int).Abs(u).String()
	if pad := int(d.Scale) - len(digits) + 1; pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	point := len(digits) - int(d.Scale)
	s := digits[:point] + "." + digits[point:]
	if neg {
		s = "-" + s
	}
	return s
}

// decimalType picks the narrowest encoding for d.
func decimalType(d Decimal) (int32, error) {
	u := d.unscaled()
	switch {
	case u.IsInt64() && u.Int64() >= math.MinInt32 && u.Int64() <= math.MaxInt32:
		return TDecimal32, nil
	case u.IsInt64():
		return TDecimal64, nil
	}

	magnitude := u
	if u.Sign() < 0 {
		magnitude = new(big.Int).Not(u)
	}
	if bits := magnitude.BitLen(); bits > 127 {
		return 0, errors.Wrapf(ErrDecimalOverflow, "unscaled value needs %d bits", bits+1)
	}
	return TDecimal128, nil
}

// SparseArray is an array whose elements are mostly absent. Length is the
// logical length; only present elements are stored.
type SparseArray struct {
	Length int32
	values map[int32]any
}

// NewSparseArray returns an empty sparse array of the given logical length.
func NewSparseArray(length int32) *SparseArray {
	return &SparseArray{Length: length, values: make(map[int32]any)}
}

// Set stores v at index i, growing Length when needed.
func (a *SparseArray) Set(i int32, v any) {
	if a.values == nil {
		a.values = make(map[int32]any)
	}
	a.values[i] = v
	if i >= a.Length {
		a.Length = i + 1
	}
}

// Get returns the element at index i and whether it is present.
func (a *SparseArray) Get(i int32) (any, bool) {
	v, ok := a.values[i]
	return v, ok
}

// Count returns the number of present elements.
func (a *SparseArray) Count() int { return len(a.values) }

// Indices returns the present indices in ascending order.
func (a *SparseArray) Indices() []int32 {
	idx := make([]int32, 0, len(a.values))
	for i := range a.values {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })
	return idx
}

func (a *SparseArray) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SparseArray(%d){", a.Length)
	for n, i := range a.Indices() {
		if n > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d: %v", i, a.values[i])
	}
	sb.WriteString("}")
	return sb.String()
}
