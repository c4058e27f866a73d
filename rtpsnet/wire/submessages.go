package wire

import (
	"time"

	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/seqnum"
)

// Submessage is the tagged-union the parser produces: each concrete type
// below implements it, and the dispatcher type-switches on the result.
type Submessage interface {
	ID() SubmessageId
}

// Flags shared across DATA/DATA_FRAG: D (serialized payload present), K
// (serialized key present), Q (inline QoS present). Endian is bit 0 and
// is stripped out before reaching the typed struct.
type DataFlags struct {
	Disposed     bool // D
	HasKey       bool // K
	HasInlineQos bool // Q
}

// StatusInfo is the 4-byte STATUS_INFO inline QoS parameter: low two
// bits flag disposed/unregistered.
type StatusInfo struct {
	Disposed     bool
	Unregistered bool
}

func (s StatusInfo) Encode() [4]byte {
	var b byte
	if s.Disposed {
		b |= 0x01
	}
	if s.Unregistered {
		b |= 0x02
	}
	return [4]byte{0, 0, 0, b}
}

func DecodeStatusInfo(b [4]byte) StatusInfo {
	return StatusInfo{Disposed: b[3]&0x01 != 0, Unregistered: b[3]&0x02 != 0}
}

// InlineQos is the parsed subset of inline-QoS parameters this engine
// cares about: KEY_HASH, STATUS_INFO, DIRECTED_WRITE.
// Unrecognized parameters are preserved verbatim in Extra so a relay
// could re-emit them, but the engine itself never interprets them.
type InlineQos struct {
	KeyHash       *guid.KeyHash
	Status        *StatusInfo
	DirectedWrite []guid.GUID
	Extra         []Parameter
}

// Parameter is a raw, unrecognized inline-QoS parameter list entry.
type Parameter struct {
	ID    uint16
	Value []byte
}

// ParameterSentinel is the PID terminating an inline-QoS parameter list.
const ParameterSentinel uint16 = 0x0001

const (
	pidKeyHash       uint16 = 0x0070
	pidStatusInfo    uint16 = 0x0071
	pidDirectedWrite uint16 = 0x0049
)

// Data is the DATA submessage: a serialized payload and/or key, plus
// optional inline QoS.
type Data struct {
	Flags             DataFlags
	ReaderId          guid.EntityId
	WriterId          guid.EntityId
	WriterSeqnr       seqnum.SequenceNumber
	InlineQos         *InlineQos
	SerializedPayload []byte // CDR-encapsulated payload or key
}

func (Data) ID() SubmessageId { return IdData }

// DataFrag is one DATA_FRAG submessage: a contiguous span of fragments
// of one writer-sample.
type DataFrag struct {
	Flags        DataFlags
	ReaderId     guid.EntityId
	WriterId     guid.EntityId
	WriterSeqnr  seqnum.SequenceNumber
	FragStart    uint32 // 1-based index of first fragment in this submessage
	FragsInSub   uint16 // number of fragments carried
	FragSize     uint16
	SampleSize   uint32 // total serialized sample size
	InlineQos    *InlineQos
	FragmentData []byte
}

func (DataFrag) ID() SubmessageId { return IdDataFrag }

// Gap declares a range of sequence numbers irrelevant/not-to-be-expected.
// GapList carries additional individually-irrelevant seqnrs beyond
// GapStart..GapListBase-1, the RTPS "bitmap after base" representation.
type Gap struct {
	ReaderId    guid.EntityId
	WriterId    guid.EntityId
	GapStart    seqnum.SequenceNumber
	GapListBase seqnum.SequenceNumber
	GapList     []bool // true at offset i means GapListBase+i is also irrelevant
}

func (Gap) ID() SubmessageId { return IdGap }

// MaxGapBitmapBits is the largest bitmap a GAP submessage may carry.
const MaxGapBitmapBits = 256

// Heartbeat announces the writer's current [First..Last] seqnr range.
type Heartbeat struct {
	ReaderId  guid.EntityId
	WriterId  guid.EntityId
	First     seqnum.SequenceNumber
	Last      seqnum.SequenceNumber
	Count     uint32
	Final     bool
	Liveness  bool
	// InstanceID is the optional trailing field. Decoded only when the
	// body is long enough to carry it; encoded only when non-nil.
	InstanceID *uint32
}

func (Heartbeat) ID() SubmessageId { return IdHeartbeat }

// HeartbeatFrag announces the highest fragment number sent so far for
// one in-progress fragmented sample.
type HeartbeatFrag struct {
	ReaderId  guid.EntityId
	WriterId  guid.EntityId
	Seqnr     seqnum.SequenceNumber
	LastFrag  uint32
	Count     uint32
}

func (HeartbeatFrag) ID() SubmessageId { return IdHeartbeatFrag }

// AckNack acknowledges [0..Base) and requests the bits set in Bitmap
// (each bit i requests Base+i). Base==0 && len(Bitmap)==0 is the
// "initial" reachability probe.
type AckNack struct {
	ReaderId   guid.EntityId
	WriterId   guid.EntityId
	Base       seqnum.SequenceNumber
	Bitmap     []bool
	Count      uint32
	Final      bool
	InstanceID *uint32
}

func (AckNack) ID() SubmessageId { return IdAckNack }

// NackFrag requests retransmission of specific fragments of one sample.
type NackFrag struct {
	ReaderId guid.EntityId
	WriterId guid.EntityId
	Seqnr    seqnum.SequenceNumber
	Base     uint32 // 1-based fragment number
	Bitmap   []bool
	Count    uint32
}

func (NackFrag) ID() SubmessageId { return IdNackFrag }

// InfoTS carries the source timestamp for subsequent submessages.
type InfoTS struct {
	Timestamp time.Time
	Invalidate bool
}

func (InfoTS) ID() SubmessageId { return IdInfoTs }

// InfoDst sets the destination GuidPrefix for subsequent submessages.
type InfoDst struct {
	GuidPrefix guid.Prefix
}

func (InfoDst) ID() SubmessageId { return IdInfoDst }

// InfoSrc sets the source participant's protocol version, vendor, and
// GuidPrefix for subsequent submessages (also used for interop
// detection).
type InfoSrc struct {
	Version    ProtocolVersion
	Vendor     VendorId
	GuidPrefix guid.Prefix
}

func (InfoSrc) ID() SubmessageId { return IdInfoSrc }

// InfoReply supplies alternate reply locators for subsequent
// payload-bearing submessages in this datagram only.
type InfoReply struct {
	UnicastLocators   []LocatorWire
	MulticastLocators []LocatorWire
}

func (InfoReply) ID() SubmessageId { return IdInfoReply }

// LocatorWire is the 24-byte wire representation of a locator, decoupled
// from rtpsnet/locator.Locator so the codec package has no dependency on
// the transport-facing type. No code in this module converts between
// the two.
type LocatorWire struct {
	Kind    int32
	Port    uint32
	Address [16]byte
}

// Pad is a no-op submessage used for alignment padding.
type Pad struct{}

func (Pad) ID() SubmessageId { return IdPad }
