package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/seqnum"
)

// Error is the typed error for codec failures, carrying an error Kind
// so callers can branch without string matching.
type Error struct {
	Kind    Kind
	Submsg  SubmessageId
	Wrapped error
}

func (e *Error) Error() string {
	return fmt.Sprintf("wire: %s in submsg 0x%02x: %v", e.Kind, e.Submsg, e.Wrapped)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Kind enumerates the codec error kinds this package can produce.
type Kind int

const (
	KindTooShort Kind = iota
	KindInvalidSubmsg
	KindInvalidQos
)

func (k Kind) String() string {
	switch k {
	case KindTooShort:
		return "TooShort"
	case KindInvalidSubmsg:
		return "InvalidSubmsg"
	case KindInvalidQos:
		return "InvalidQos"
	default:
		return "Unknown"
	}
}

func newErr(kind Kind, id SubmessageId, wrapped error) error {
	return &Error{Kind: kind, Submsg: id, Wrapped: wrapped}
}

// --- bitmap codec -----------------------------------------------------

// encodeBitmapWords packs bits into big-endian 32-bit words, RTPS style.
func encodeBitmapWords(bits []bool) []uint32 {
	n := len(bits)
	words := make([]uint32, (n+31)/32)
	for i, b := range bits {
		if b {
			words[i/32] |= 1 << (31 - uint(i%32))
		}
	}
	return words
}

func decodeBitmapWords(numBits int, words []uint32) []bool {
	bits := make([]bool, numBits)
	for i := range bits {
		w := words[i/32]
		bits[i] = w&(1<<(31-uint(i%32))) != 0
	}
	return bits
}

// --- submessage header --------------------------------------------------

type submsgHeader struct {
	ID     SubmessageId
	Flags  byte
	Length uint16
}

func writeSubmsgHeader(buf []byte, id SubmessageId, flags byte, length uint16) {
	buf[0] = byte(id)
	buf[1] = flags
	binary.BigEndian.PutUint16(buf[2:4], length) // length itself is endian-swapped on decode like other fields
}

func readSubmsgHeader(buf []byte) (submsgHeader, error) {
	if len(buf) < SubmessageHeaderLength {
		return submsgHeader{}, newErr(KindTooShort, 0, ErrTooShort)
	}
	id := SubmessageId(buf[0])
	flags := buf[1]
	bo := byteOrder(flags)
	length := bo.Uint16(buf[2:4])
	return submsgHeader{ID: id, Flags: flags, Length: length}, nil
}

// --- sequence numbers ----------------------------------------------------

func encodeSeqnr(buf []byte, s seqnum.SequenceNumber) {
	high, low := s.HighLow()
	binary.BigEndian.PutUint32(buf[0:4], high)
	binary.BigEndian.PutUint32(buf[4:8], low)
}

func decodeSeqnr(buf []byte) seqnum.SequenceNumber {
	high := binary.BigEndian.Uint32(buf[0:4])
	low := binary.BigEndian.Uint32(buf[4:8])
	return seqnum.FromHighLow(high, low)
}

// --- inline QoS -----------------------------------------------------------

func encodeInlineQos(q *InlineQos) []byte {
	if q == nil {
		return nil
	}
	var out []byte
	putParam := func(id uint16, val []byte) {
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint16(hdr[0:2], id)
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(val)))
		out = append(out, hdr...)
		out = append(out, val...)
	}
	if q.KeyHash != nil {
		putParam(pidKeyHash, q.KeyHash[:])
	}
	if q.Status != nil {
		enc := q.Status.Encode()
		putParam(pidStatusInfo, enc[:])
	}
	if len(q.DirectedWrite) > 0 {
		val := make([]byte, 0, 16*len(q.DirectedWrite))
		for _, g := range q.DirectedWrite {
			b := g.Bytes()
			val = append(val, b[:]...)
		}
		putParam(pidDirectedWrite, val)
	}
	for _, p := range q.Extra {
		putParam(p.ID, p.Value)
	}
	putParam(ParameterSentinel, nil)
	return out
}

func decodeInlineQos(buf []byte) (*InlineQos, int, error) {
	q := &InlineQos{}
	off := 0
	for {
		if off+4 > len(buf) {
			return nil, 0, newErr(KindInvalidQos, IdData, fmt.Errorf("truncated parameter header"))
		}
		id := binary.BigEndian.Uint16(buf[off : off+2])
		plen := int(binary.BigEndian.Uint16(buf[off+2 : off+4]))
		off += 4
		if id == ParameterSentinel {
			return q, off, nil
		}
		if off+plen > len(buf) {
			return nil, 0, newErr(KindInvalidQos, IdData, fmt.Errorf("parameter value truncated"))
		}
		val := buf[off : off+plen]
		switch id {
		case pidKeyHash:
			if plen != 16 {
				return nil, 0, newErr(KindInvalidQos, IdData, fmt.Errorf("bad KEY_HASH length %d", plen))
			}
			var kh guid.KeyHash
			copy(kh[:], val)
			q.KeyHash = &kh
		case pidStatusInfo:
			if plen != 4 {
				return nil, 0, newErr(KindInvalidQos, IdData, fmt.Errorf("bad STATUS_INFO length %d", plen))
			}
			var b [4]byte
			copy(b[:], val)
			si := DecodeStatusInfo(b)
			q.Status = &si
		case pidDirectedWrite:
			if plen%16 != 0 {
				return nil, 0, newErr(KindInvalidQos, IdData, fmt.Errorf("bad DIRECTED_WRITE length %d", plen))
			}
			for i := 0; i < plen; i += 16 {
				var raw [16]byte
				copy(raw[:], val[i:i+16])
				q.DirectedWrite = append(q.DirectedWrite, guid.FromBytes(raw))
			}
		default:
			q.Extra = append(q.Extra, Parameter{ID: id, Value: append([]byte(nil), val...)})
		}
		off += plen
	}
}

// --- timestamp -------------------------------------------------------------

// encodeTimestamp writes t as the wire second/fraction pair (Unix seconds,
// then a 2^-32 second fraction, both big-endian); the API boundary uses
// absolute time.Time and converts here.
func encodeTimestamp(buf []byte, t time.Time) {
	secs := uint32(t.Unix())
	frac := uint32((uint64(t.Nanosecond()) << 32) / 1e9)
	binary.BigEndian.PutUint32(buf[0:4], secs)
	binary.BigEndian.PutUint32(buf[4:8], frac)
}

func decodeTimestamp(buf []byte) time.Time {
	secs := binary.BigEndian.Uint32(buf[0:4])
	frac := binary.BigEndian.Uint32(buf[4:8])
	nsec := (uint64(frac) * 1e9) >> 32
	return time.Unix(int64(secs), int64(nsec)).UTC()
}
