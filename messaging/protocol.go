package messaging

import (
	"github.com/pkg/errors"
)

// typeOffset maps internal (negative) and wire (non-negative) message type
// ids into one array.
const typeOffset = 32

// MessageType describes one message of a protocol.
type MessageType struct {
	ID    int32
	Name  string
	Since int32 // first protocol version carrying the message
	New   func() Message
}

// Protocol is an immutable named set of message types spoken in versions
// SupportedVersion through CurrentVersion.
type Protocol struct {
	name      string
	current   int32
	supported int32
	factories []*MessageFactory
}

// NewProtocol builds a protocol and one MessageFactory per version in
// [supported, current].
func NewProtocol(name string, current, supported int32, types ...MessageType) (*Protocol, error) {
	if name == "" {
		return nil, errors.New("messaging: protocol name is required")
	}
	if supported < 0 || supported > current {
		return nil, errors.Errorf("messaging: protocol %s: invalid version range [%d, %d]", name, supported, current)
	}

	size := typeOffset
	for _, t := range types {
		if t.ID < -typeOffset {
			return nil, errors.Errorf("messaging: protocol %s: type id %d below %d", name, t.ID, -typeOffset)
		}
		if t.New == nil {
			return nil, errors.Errorf("messaging: protocol %s: type %d has no constructor", name, t.ID)
		}
		size = max(size, int(t.ID)+typeOffset+1)
	}

	p := &Protocol{name: name, current: current, supported: supported}
	for v := supported; v <= current; v++ {
		f := &MessageFactory{protocol: p, version: v, types: make([]*MessageType, size)}
		for i := range types {
			t := &types[i]
			if t.Since > v {
				continue
			}
			slot := &f.types[t.ID+typeOffset]
			if *slot != nil {
				return nil, errors.Errorf("messaging: protocol %s: duplicate type id %d", name, t.ID)
			}
			*slot = t
		}
		p.factories = append(p.factories, f)
	}
	return p, nil
}

// MustProtocol is like NewProtocol but panics on error.
func MustProtocol(name string, current, supported int32, types ...MessageType) *Protocol {
	p, err := NewProtocol(name, current, supported, types...)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Protocol) Name() string            { return p.name }
func (p *Protocol) CurrentVersion() int32   { return p.current }
func (p *Protocol) SupportedVersion() int32 { return p.supported }

// MessageFactory returns the factory of version.
func (p *Protocol) MessageFactory(version int32) (*MessageFactory, error) {
	if version < p.supported || version > p.current {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "%s version %d not in [%d, %d]",
			p.name, version, p.supported, p.current)
	}
	return p.factories[version-p.supported], nil
}

// Negotiate returns the highest version both p and a peer speaking
// [supported, current] understand.
func (p *Protocol) Negotiate(supported, current int32) (int32, error) {
	v := min(p.current, current)
	if v < max(p.supported, supported) {
		return 0, errors.Wrapf(ErrUnsupportedVersion, "%s: local [%d, %d], peer [%d, %d]",
			p.name, p.supported, p.current, supported, current)
	}
	return v, nil
}

// MessageFactory creates the messages of one protocol version.
type MessageFactory struct {
	protocol *Protocol
	version  int32
	types    []*MessageType
}

func (f *MessageFactory) Protocol() *Protocol { return f.protocol }
func (f *MessageFactory) Version() int32      { return f.version }

// Type returns the descriptor of typeID.
func (f *MessageFactory) Type(typeID int32) (*MessageType, bool) {
	i := int(typeID) + typeOffset
	if i < 0 || i >= len(f.types) || f.types[i] == nil {
		return nil, false
	}
	return f.types[i], true
}

// CreateMessage returns a new empty message of typeID.
func (f *MessageFactory) CreateMessage(typeID int32) (Message, error) {
	t, ok := f.Type(typeID)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMessageType, "%s version %d: type %d",
			f.protocol.name, f.version, typeID)
	}
	return t.New(), nil
}
