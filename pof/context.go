package pof

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"

	"github.com/pior/extend/wire"
)

// PortableObject is implemented by types that serialize their own properties.
type PortableObject interface {
	ReadExternal(r *Reader) error
	WriteExternal(w *Writer) error
}

// Evolvable is a PortableObject that tolerates other versions of itself.
// Properties it does not know are kept as future data and written back
// unchanged, so an older process can relay a newer object without loss.
type Evolvable interface {
	PortableObject
	ImplVersion() int32
	DataVersion() int32
	SetDataVersion(v int32)
	FutureData() []byte
	SetFutureData(b []byte)
}

// EvolvableData carries the bookkeeping of an Evolvable. Embed it and
// implement ImplVersion.
type EvolvableData struct {
	dataVersion int32
	futureData  []byte
}

func (e *EvolvableData) DataVersion() int32     { return e.dataVersion }
func (e *EvolvableData) SetDataVersion(v int32) { e.dataVersion = v }
func (e *EvolvableData) FutureData() []byte     { return e.futureData }
func (e *EvolvableData) SetFutureData(b []byte) { e.futureData = b }

// Serializer encodes and decodes one user type.
//
// Deserialize must call r.RegisterIdentity with the new object before
// reading any property that may refer back to it.
type Serializer interface {
	Serialize(w *Writer, v any) error
	Deserialize(r *Reader) (any, error)
}

type portableSerializer struct {
	newFn func() PortableObject
}

func (s portableSerializer) Serialize(w *Writer, v any) error {
	return v.(PortableObject).WriteExternal(w)
}

func (s portableSerializer) Deserialize(r *Reader) (any, error) {
	obj := s.newFn()
	r.RegisterIdentity(obj)
	if err := obj.ReadExternal(r); err != nil {
		return nil, err
	}
	return obj, nil
}

// Context is a registry of user types. It is safe for concurrent use;
// registration normally happens once at startup.
type Context struct {
	mu          sync.RWMutex
	serializers map[int32]Serializer
	typeIDs     map[reflect.Type]int32
	references  bool
}

// Option configures a Context.
type Option func(*Context)

// WithReferences makes writers emit each pointer user object once and
// refer back to it afterwards. Required for object graphs with cycles.
func WithReferences() Option {
	return func(c *Context) { c.references = true }
}

// NewContext returns an empty Context.
func NewContext(opts ...Option) *Context {
	c := &Context{
		serializers: make(map[int32]Serializer),
		typeIDs:     make(map[reflect.Type]int32),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReferencesEnabled reports whether identity references are written.
func (c *Context) ReferencesEnabled() bool {
	return c.references
}

// Register binds typeID to a PortableObject constructor. The dynamic type
// returned by newFn is used to find the type id when writing.
func (c *Context) Register(typeID int32, newFn func() PortableObject) error {
	return c.RegisterSerializer(typeID, newFn(), portableSerializer{newFn: newFn})
}

// RegisterSerializer binds typeID to s for values of the same dynamic type
// as sample.
func (c *Context) RegisterSerializer(typeID int32, sample any, s Serializer) error {
	if typeID < 0 {
		return errors.Errorf("pof: user type id %d must not be negative", typeID)
	}
	t := reflect.TypeOf(sample)
	if t == nil {
		return errors.New("pof: cannot register a nil sample")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.serializers[typeID]; exists {
		return errors.Errorf("pof: type id %d already registered", typeID)
	}
	if prev, exists := c.typeIDs[t]; exists {
		return errors.Errorf("pof: %s already registered as type id %d", t, prev)
	}
	c.serializers[typeID] = s
	c.typeIDs[t] = typeID
	return nil
}

// MustRegister is like Register but panics on error.
func (c *Context) MustRegister(typeID int32, newFn func() PortableObject) {
	if err := c.Register(typeID, newFn); err != nil {
		panic(err)
	}
}

// TypeID returns the user type id registered for v's dynamic type.
func (c *Context) TypeID(v any) (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.typeIDs[reflect.TypeOf(v)]
	return id, ok
}

func (c *Context) serializer(typeID int32) (Serializer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.serializers[typeID]
	return s, ok
}

// Serialize encodes v as a self-describing value.
func (c *Context) Serialize(v any) ([]byte, error) {
	out := wire.NewWriter(64)
	if err := c.SerializeTo(out, v); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// SerializeTo appends the encoding of v to out.
func (c *Context) SerializeTo(out *wire.Writer, v any) error {
	w := c.rootWriter(out)
	return w.writeValue(v)
}

// Deserialize decodes one self-describing value from data.
func (c *Context) Deserialize(data []byte) (any, error) {
	return c.DeserializeFrom(wire.NewReader(data))
}

// DeserializeFrom decodes one self-describing value from in.
func (c *Context) DeserializeFrom(in *wire.Reader) (any, error) {
	r := c.rootReader(in)
	return r.readValue()
}

// WriteUserType writes the body of a user object (version, properties and
// terminator) without its type id. The caller has already written the type
// id in some other form, as a message frame does.
func (c *Context) WriteUserType(out *wire.Writer, typeID int32, v PortableObject) error {
	w := c.rootWriter(out)
	return w.writeUserBody(typeID, portableSerializer{}, v)
}

// ReadUserType reads a user object body written by WriteUserType into v.
func (c *Context) ReadUserType(in *wire.Reader, typeID int32, v PortableObject) error {
	r := c.rootReader(in)
	_, err := r.readUserBody(typeID, portableSerializer{newFn: func() PortableObject { return v }})
	return err
}

func (c *Context) rootWriter(out *wire.Writer) *Writer {
	w := &Writer{out: out, ctx: c, lastIndex: -1}
	if c.references {
		w.ids = &identities{ids: make(map[any]int32)}
	}
	return w
}

func (c *Context) rootReader(in *wire.Reader) *Reader {
	return &Reader{
		in:        in,
		ctx:       c,
		refs:      make(map[int32]any),
		identity:  -1,
		pending:   -1,
		next:      -1,
		streamIdx: -1,
		last:      -1,
	}
}
