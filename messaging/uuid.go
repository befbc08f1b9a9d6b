package messaging

import (
	"encoding/hex"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pior/extend/wire"
)

// UUIDSize is the encoded size of a UUID.
const UUIDSize = 32

const (
	uuidAddressBound = math.MinInt32 // high bit of count
	uuidCountMask    = math.MaxInt32
)

var uuidCount atomic.Int32

// UUID identifies a connection or a process: a creation time, the address
// and port it originates from and a sequence number. When no address is
// known, random bytes take their place and the UUID is not address bound.
type UUID struct {
	Timestamp int64 // milliseconds since the Unix epoch
	Address   [16]byte
	Port      int32
	count     int32
}

// NewUUID returns a UUID bound to addr, or a random one when addr is nil.
func NewUUID(addr *net.TCPAddr) UUID {
	u := UUID{
		Timestamp: time.Now().UnixMilli(),
		count:     uuidCount.Add(1) & uuidCountMask,
	}
	if addr != nil && addr.IP != nil {
		copy(u.Address[:], addr.IP.To16())
		u.Port = int32(addr.Port)
		u.count |= uuidAddressBound
		return u
	}
	r := uuid.New()
	copy(u.Address[:], r[:])
	p := uuid.New()
	u.Port = int32(p[0])<<16 | int32(p[1])<<8 | int32(p[2])
	return u
}

// ParseUUID decodes the 32 byte form produced by Bytes.
func ParseUUID(b []byte) (UUID, error) {
	if len(b) != UUIDSize {
		return UUID{}, errors.Errorf("messaging: uuid must be %d bytes, got %d", UUIDSize, len(b))
	}
	in := wire.NewReader(b)
	var u UUID
	u.Timestamp, _ = in.ReadInt64()
	addr, _ := in.Next(16)
	copy(u.Address[:], addr)
	u.Port, _ = in.ReadInt32()
	u.count, _ = in.ReadInt32()
	return u, nil
}

// Bytes returns the 32 byte big-endian encoding.
func (u UUID) Bytes() []byte {
	out := wire.NewWriter(UUIDSize)
	out.WriteInt64(u.Timestamp)
	_, _ = out.Write(u.Address[:])
	out.WriteInt32(u.Port)
	out.WriteInt32(u.count)
	return out.Bytes()
}

func (u UUID) IsZero() bool { return u == UUID{} }

// AddressBound reports whether Address and Port are a real endpoint.
func (u UUID) AddressBound() bool { return u.count&uuidAddressBound != 0 }

// Count is the sequence number of the UUID within its process.
func (u UUID) Count() int32 { return u.count & uuidCountMask }

func (u UUID) Time() time.Time { return time.UnixMilli(u.Timestamp) }

// Addr returns the endpoint the UUID is bound to, or nil.
func (u UUID) Addr() *net.TCPAddr {
	if !u.AddressBound() {
		return nil
	}
	ip := net.IP(u.Address[:])
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return &net.TCPAddr{IP: ip, Port: int(u.Port)}
}

func (u UUID) String() string {
	return hex.EncodeToString(u.Bytes())
}
