// Package guid implements RTPS GUIDs: a 12-byte participant GuidPrefix
// plus a 4-byte EntityId.
package guid

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PrefixLength is the size in bytes of a GuidPrefix.
const PrefixLength = 12

// EntityIdLength is the size in bytes of an EntityId.
const EntityIdLength = 4

// Prefix identifies a participant within a domain.
type Prefix [PrefixLength]byte

// UnknownPrefix is the all-zero prefix, used before discovery completes.
var UnknownPrefix = Prefix{}

func (p Prefix) String() string {
	return fmt.Sprintf("%x", p[:])
}

// Equal reports byte-for-byte equality.
func (p Prefix) Equal(o Prefix) bool { return bytes.Equal(p[:], o[:]) }

// EntityKind encodes the low byte of an EntityId: builtin-vs-user and
// reader-vs-writer-vs-participant, per the RTPS entity kind table.
type EntityKind byte

const (
	KindUnknown            EntityKind = 0x00
	KindUserWriterNoKey    EntityKind = 0x03
	KindUserWriterWithKey  EntityKind = 0x02
	KindUserReaderNoKey    EntityKind = 0x04
	KindUserReaderWithKey  EntityKind = 0x07
	KindBuiltinParticipant EntityKind = 0xc1
	KindBuiltinWriterNoKey EntityKind = 0xc3
	KindBuiltinWriterKey   EntityKind = 0xc2
	KindBuiltinReaderNoKey EntityKind = 0xc4
	KindBuiltinReaderKey   EntityKind = 0xc7
)

// IsBuiltin reports whether the kind's builtin bit (0xc0) is set.
func (k EntityKind) IsBuiltin() bool { return k&0xc0 == 0xc0 }

// IsWriter reports whether the kind denotes a writer endpoint.
func (k EntityKind) IsWriter() bool {
	switch k {
	case KindUserWriterNoKey, KindUserWriterWithKey, KindBuiltinWriterNoKey, KindBuiltinWriterKey:
		return true
	}
	return false
}

// IsReader reports whether the kind denotes a reader endpoint.
func (k EntityKind) IsReader() bool {
	switch k {
	case KindUserReaderNoKey, KindUserReaderWithKey, KindBuiltinReaderNoKey, KindBuiltinReaderKey:
		return true
	}
	return false
}

// EntityId is the 3-byte entity key plus 1-byte entity kind.
type EntityId [EntityIdLength]byte

// Unknown is the wildcard entity id: it fans out to every attached
// local endpoint matching direction.
var Unknown = EntityId{0, 0, 0, byte(KindUnknown)}

// Kind extracts the entity kind byte.
func (e EntityId) Kind() EntityKind { return EntityKind(e[3]) }

// IsUnknown reports whether e is the wildcard entity id.
func (e EntityId) IsUnknown() bool { return e == Unknown }

func (e EntityId) String() string {
	return fmt.Sprintf("%02x%02x%02x.%02x", e[0], e[1], e[2], e[3])
}

// NewEntityId builds an EntityId from a 3-byte key and a kind.
func NewEntityId(key [3]byte, kind EntityKind) EntityId {
	return EntityId{key[0], key[1], key[2], byte(kind)}
}

// GUID is a full 16-byte RTPS identifier: Prefix || EntityId.
type GUID struct {
	Prefix Prefix
	Entity EntityId
}

// UnknownGUID is the all-zero GUID.
var UnknownGUID = GUID{Prefix: UnknownPrefix, Entity: Unknown}

// Equal reports byte-for-byte equality of both components.
func (g GUID) Equal(o GUID) bool {
	return g.Prefix.Equal(o.Prefix) && g.Entity == o.Entity
}

func (g GUID) String() string {
	return fmt.Sprintf("%s:%s", g.Prefix, g.Entity)
}

// Bytes serializes the GUID into its 16-byte wire form.
func (g GUID) Bytes() [16]byte {
	var out [16]byte
	copy(out[:12], g.Prefix[:])
	copy(out[12:], g.Entity[:])
	return out
}

// FromBytes parses a 16-byte wire GUID.
func FromBytes(b [16]byte) GUID {
	var g GUID
	copy(g.Prefix[:], b[:12])
	copy(g.Entity[:], b[12:])
	return g
}

// KeyHash is the 16-byte MD5-or-CRC derived instance key hash carried in
// inline QoS.
type KeyHash [16]byte

// PutUint32BE writes v into b[0:4] big-endian, the order RTPS uses for
// fields that ignore the endian flag (sequence number halves, key
// hashes). The wire codec calls encoding/binary directly, not this.
func PutUint32BE(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
