// Package wire implements the RTPS message codec: the fixed
// 20-byte message header, the 4-byte submessage headers, and
// encode/decode for every submessage type the engine needs. Each
// submessage is a concrete typed variant implementing Submessage, a
// fixed envelope around the typed commands the dispatcher type-switches
// on.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/go-rtps/engine/rtpsnet/guid"
)

// ProtocolMagic is the fixed 4-byte "RTPS" tag at the start of every
// message.
var ProtocolMagic = [4]byte{'R', 'T', 'P', 'S'}

// ProtocolVersion is the 2-byte major.minor RTPS wire version this codec
// speaks.
type ProtocolVersion struct {
	Major, Minor byte
}

// Version2_3 is the version this engine emits.
var Version2_3 = ProtocolVersion{Major: 2, Minor: 3}

// VendorId identifies the implementation that produced a message, used
// by the optional trailing-field interop gate.
type VendorId [2]byte

// HeaderLength is the fixed size of the RTPS message header.
const HeaderLength = 20

// Header is the 20-byte message header: magic + version + vendor +
// 12-byte source GuidPrefix.
type Header struct {
	Version  ProtocolVersion
	Vendor   VendorId
	GuidPrefix guid.Prefix
}

var ErrTooShort = errors.New("wire: buffer too short")
var ErrBadMagic = errors.New("wire: bad protocol magic")

// Encode serializes the header into the first HeaderLength bytes of buf.
func (h Header) Encode(buf []byte) {
	copy(buf[0:4], ProtocolMagic[:])
	buf[4] = h.Version.Major
	buf[5] = h.Version.Minor
	buf[6] = h.Vendor[0]
	buf[7] = h.Vendor[1]
	copy(buf[8:20], h.GuidPrefix[:])
}

// DecodeHeader parses the fixed header from the start of buf, returning
// the remaining bytes (the submessage stream).
func DecodeHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLength {
		return Header{}, nil, ErrTooShort
	}
	var h Header
	if buf[0] != ProtocolMagic[0] || buf[1] != ProtocolMagic[1] || buf[2] != ProtocolMagic[2] || buf[3] != ProtocolMagic[3] {
		return Header{}, nil, ErrBadMagic
	}
	h.Version = ProtocolVersion{Major: buf[4], Minor: buf[5]}
	h.Vendor = VendorId{buf[6], buf[7]}
	copy(h.GuidPrefix[:], buf[8:20])
	return h, buf[HeaderLength:], nil
}

// SubmessageHeaderLength is the fixed size of a submessage header.
const SubmessageHeaderLength = 4

// SubmessageId identifies the kind of a submessage.
type SubmessageId byte

const (
	IdPad           SubmessageId = 0x01
	IdAckNack       SubmessageId = 0x06
	IdHeartbeat     SubmessageId = 0x07
	IdGap           SubmessageId = 0x08
	IdInfoTs        SubmessageId = 0x09
	IdInfoSrc       SubmessageId = 0x0c
	IdInfoReply     SubmessageId = 0x0e
	IdInfoDst       SubmessageId = 0x0f
	IdNackFrag      SubmessageId = 0x12
	IdHeartbeatFrag SubmessageId = 0x13
	IdData          SubmessageId = 0x15
	IdDataFrag      SubmessageId = 0x16
)

// endianFlagBit is flag bit 0: "big [endian] if 0" per 
const endianFlagBit = 0x01

// byteOrder returns the binary.ByteOrder implied by a submessage's flags
// byte.
func byteOrder(flags byte) binary.ByteOrder {
	if flags&endianFlagBit != 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
