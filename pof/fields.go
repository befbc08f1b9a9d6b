package pof

import (
	"slices"
	"sort"

	"github.com/pkg/errors"
)

// AutoIndex marks a field whose property index is assigned by AssignIndices.
const AutoIndex int32 = -1

// FieldSpec describes one serialized field of a type.
type FieldSpec struct {
	Name  string
	Index int32 // explicit index, or AutoIndex
	Since int32 // version that introduced the field
}

// AssignIndices resolves AutoIndex fields to concrete indices. Fields are
// taken in order of Since, then Name, and each receives the lowest index not
// already claimed. The result does not depend on the order of fields, so
// every process assigns the same indices to the same declaration.
// Two fields claiming the same explicit index is an error.
func AssignIndices(fields []FieldSpec) ([]FieldSpec, error) {
	out := slices.Clone(fields)
	used := make(map[int32]string, len(out))
	names := make(map[string]bool, len(out))
	var auto []int

	for i, f := range out {
		if names[f.Name] {
			return nil, errors.Errorf("pof: duplicate field name %q", f.Name)
		}
		names[f.Name] = true

		switch {
		case f.Index == AutoIndex:
			auto = append(auto, i)
		case f.Index < 0:
			return nil, errors.Errorf("pof: field %q has invalid index %d", f.Name, f.Index)
		default:
			if prev, taken := used[f.Index]; taken {
				return nil, errors.Wrapf(ErrDuplicateIndex, "%d claimed by %q and %q", f.Index, prev, f.Name)
			}
			used[f.Index] = f.Name
		}
	}

	sort.Slice(auto, func(a, b int) bool {
		fa, fb := out[auto[a]], out[auto[b]]
		if fa.Since != fb.Since {
			return fa.Since < fb.Since
		}
		return fa.Name < fb.Name
	})

	next := int32(0)
	for _, i := range auto {
		for {
			if _, taken := used[next]; !taken {
				break
			}
			next++
		}
		out[i].Index = next
		used[next] = out[i].Name
		next++
	}
	return out, nil
}

// Field binds a FieldSpec to accessors on *T.
type Field[T any] struct {
	Name  string
	Index int32
	Since int32
	Get   func(*T) any
	Set   func(*T, any) error
}

// FieldSerializer is a Serializer for *T built from field accessors.
type FieldSerializer[T any] struct {
	version int32
	fields  []Field[T]
}

// NewFieldSerializer assigns indices to fields and returns a serializer
// writing objects with the given version id.
func NewFieldSerializer[T any](version int32, fields ...Field[T]) (*FieldSerializer[T], error) {
	specs := make([]FieldSpec, len(fields))
	for i, f := range fields {
		specs[i] = FieldSpec{Name: f.Name, Index: f.Index, Since: f.Since}
	}
	assigned, err := AssignIndices(specs)
	if err != nil {
		return nil, err
	}

	s := &FieldSerializer[T]{version: version, fields: slices.Clone(fields)}
	for i := range s.fields {
		s.fields[i].Index = assigned[i].Index
	}
	sort.Slice(s.fields, func(a, b int) bool { return s.fields[a].Index < s.fields[b].Index })
	return s, nil
}

// Indices returns the assigned index of each field by name.
func (s *FieldSerializer[T]) Indices() map[string]int32 {
	m := make(map[string]int32, len(s.fields))
	for _, f := range s.fields {
		m[f.Name] = f.Index
	}
	return m
}

// Register binds typeID to s in ctx.
func (s *FieldSerializer[T]) Register(ctx *Context, typeID int32) error {
	return ctx.RegisterSerializer(typeID, (*T)(nil), s)
}

func (s *FieldSerializer[T]) Serialize(w *Writer, v any) error {
	obj, ok := v.(*T)
	if !ok {
		return errors.Wrapf(ErrTypeMismatch, "serializer for %T got %T", (*T)(nil), v)
	}
	if err := w.SetVersionID(s.version); err != nil {
		return err
	}
	for _, f := range s.fields {
		if err := w.WriteObject(f.Index, f.Get(obj)); err != nil {
			return errors.WithMessagef(err, "field %s", f.Name)
		}
	}
	return nil
}

// Deserialize leaves absent and null fields at their zero value.
func (s *FieldSerializer[T]) Deserialize(r *Reader) (any, error) {
	obj := new(T)
	r.RegisterIdentity(obj)
	for _, f := range s.fields {
		v, err := r.ReadObject(f.Index)
		if err != nil {
			return nil, errors.WithMessagef(err, "field %s", f.Name)
		}
		if v == nil {
			continue
		}
		if err := f.Set(obj, v); err != nil {
			return nil, errors.WithMessagef(err, "field %s", f.Name)
		}
	}
	return obj, nil
}
