package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/go-rtps/engine/rtpsnet/guid"
)

func readEntityId(buf []byte) guid.EntityId {
	var e guid.EntityId
	copy(e[:], buf[0:4])
	return e
}

func decodeData(flags byte, body []byte) (*Data, error) {
	if len(body) < 20 {
		return nil, newErr(KindTooShort, IdData, ErrTooShort)
	}
	bo := byteOrder(flags)
	octetsToInlineQos := bo.Uint16(body[2:4])
	off := 4
	d := &Data{
		Flags: DataFlags{
			Disposed:     flags&0x04 != 0,
			HasKey:       flags&0x08 != 0,
			HasInlineQos: flags&0x02 != 0,
		},
	}
	d.ReaderId = readEntityId(body[off:])
	off += 4
	d.WriterId = readEntityId(body[off:])
	off += 4
	d.WriterSeqnr = decodeSeqnr(body[off:])
	off += 8

	qosStart := 4 + int(octetsToInlineQos)
	if qosStart > len(body) {
		return nil, newErr(KindTooShort, IdData, ErrTooShort)
	}
	off = qosStart
	if d.Flags.HasInlineQos {
		q, n, err := decodeInlineQos(body[off:])
		if err != nil {
			return nil, err
		}
		d.InlineQos = q
		off += n
	}
	d.SerializedPayload = append([]byte(nil), body[off:]...)
	return d, nil
}

func decodeDataFrag(flags byte, body []byte) (*DataFrag, error) {
	if len(body) < 32 {
		return nil, newErr(KindTooShort, IdDataFrag, ErrTooShort)
	}
	bo := byteOrder(flags)
	octetsToInlineQos := bo.Uint16(body[2:4])
	off := 4
	d := &DataFrag{
		Flags: DataFlags{
			Disposed:     flags&0x04 != 0,
			HasKey:       flags&0x08 != 0,
			HasInlineQos: flags&0x02 != 0,
		},
	}
	d.ReaderId = readEntityId(body[off:])
	off += 4
	d.WriterId = readEntityId(body[off:])
	off += 4
	d.WriterSeqnr = decodeSeqnr(body[off:])
	off += 8
	d.FragStart = bo.Uint32(body[off : off+4])
	off += 4
	d.FragsInSub = bo.Uint16(body[off : off+2])
	off += 2
	d.FragSize = bo.Uint16(body[off : off+2])
	off += 2
	d.SampleSize = bo.Uint32(body[off : off+4])
	off += 4

	qosStart := 4 + int(octetsToInlineQos)
	if qosStart > len(body) {
		return nil, newErr(KindTooShort, IdDataFrag, ErrTooShort)
	}
	off = qosStart
	if d.Flags.HasInlineQos {
		q, n, err := decodeInlineQos(body[off:])
		if err != nil {
			return nil, err
		}
		d.InlineQos = q
		off += n
	}
	d.FragmentData = append([]byte(nil), body[off:]...)
	return d, nil
}

func decodeGap(flags byte, body []byte) (*Gap, error) {
	if len(body) < 28 {
		return nil, newErr(KindTooShort, IdGap, ErrTooShort)
	}
	bo := byteOrder(flags)
	g := &Gap{}
	g.ReaderId = readEntityId(body[0:])
	g.WriterId = readEntityId(body[4:])
	g.GapStart = decodeSeqnr(body[8:])
	g.GapListBase = decodeSeqnr(body[16:])
	numBits := int(bo.Uint32(body[24:28]))
	if numBits < 0 || numBits > MaxGapBitmapBits {
		return nil, newErr(KindInvalidSubmsg, IdGap, fmt.Errorf("bitmap size %d out of range", numBits))
	}
	numWords := (numBits + 31) / 32
	if len(body) < 28+4*numWords {
		return nil, newErr(KindTooShort, IdGap, ErrTooShort)
	}
	words := make([]uint32, numWords)
	for i := 0; i < numWords; i++ {
		words[i] = bo.Uint32(body[28+4*i:])
	}
	g.GapList = decodeBitmapWords(numBits, words)
	return g, nil
}

func decodeHeartbeat(flags byte, body []byte) (*Heartbeat, error) {
	if len(body) < 28 {
		return nil, newErr(KindTooShort, IdHeartbeat, ErrTooShort)
	}
	bo := byteOrder(flags)
	h := &Heartbeat{
		Final:    flags&0x02 != 0,
		Liveness: flags&0x04 != 0,
	}
	h.ReaderId = readEntityId(body[0:])
	h.WriterId = readEntityId(body[4:])
	h.First = decodeSeqnr(body[8:])
	h.Last = decodeSeqnr(body[16:])
	h.Count = bo.Uint32(body[24:28])
	if len(body) >= 32 {
		id := bo.Uint32(body[28:32])
		h.InstanceID = &id
	}
	return h, nil
}

func decodeHeartbeatFrag(flags byte, body []byte) (*HeartbeatFrag, error) {
	if len(body) < 24 {
		return nil, newErr(KindTooShort, IdHeartbeatFrag, ErrTooShort)
	}
	bo := byteOrder(flags)
	h := &HeartbeatFrag{}
	h.ReaderId = readEntityId(body[0:])
	h.WriterId = readEntityId(body[4:])
	h.Seqnr = decodeSeqnr(body[8:])
	h.LastFrag = bo.Uint32(body[16:20])
	h.Count = bo.Uint32(body[20:24])
	return h, nil
}

func decodeAckNack(flags byte, body []byte) (*AckNack, error) {
	if len(body) < 24 {
		return nil, newErr(KindTooShort, IdAckNack, ErrTooShort)
	}
	bo := byteOrder(flags)
	a := &AckNack{Final: flags&0x02 != 0}
	a.ReaderId = readEntityId(body[0:])
	a.WriterId = readEntityId(body[4:])
	a.Base = decodeSeqnr(body[8:])
	numBits := int(bo.Uint32(body[16:20]))
	if numBits < 0 || numBits > 256 {
		return nil, newErr(KindInvalidSubmsg, IdAckNack, fmt.Errorf("bitmap size %d out of range", numBits))
	}
	numWords := (numBits + 31) / 32
	off := 20
	if len(body) < off+4*numWords+4 {
		return nil, newErr(KindTooShort, IdAckNack, ErrTooShort)
	}
	words := make([]uint32, numWords)
	for i := 0; i < numWords; i++ {
		words[i] = bo.Uint32(body[off+4*i:])
	}
	a.Bitmap = decodeBitmapWords(numBits, words)
	off += 4 * numWords
	a.Count = bo.Uint32(body[off : off+4])
	off += 4
	if len(body) >= off+4 {
		id := bo.Uint32(body[off : off+4])
		a.InstanceID = &id
	}
	return a, nil
}

func decodeNackFrag(flags byte, body []byte) (*NackFrag, error) {
	if len(body) < 24 {
		return nil, newErr(KindTooShort, IdNackFrag, ErrTooShort)
	}
	bo := byteOrder(flags)
	n := &NackFrag{}
	n.ReaderId = readEntityId(body[0:])
	n.WriterId = readEntityId(body[4:])
	n.Seqnr = decodeSeqnr(body[8:])
	n.Base = bo.Uint32(body[16:20])
	numBits := int(bo.Uint32(body[20:24]))
	if numBits < 0 || numBits > 256 {
		return nil, newErr(KindInvalidSubmsg, IdNackFrag, fmt.Errorf("bitmap size %d out of range", numBits))
	}
	numWords := (numBits + 31) / 32
	off := 24
	if len(body) < off+4*numWords+4 {
		return nil, newErr(KindTooShort, IdNackFrag, ErrTooShort)
	}
	words := make([]uint32, numWords)
	for i := 0; i < numWords; i++ {
		words[i] = bo.Uint32(body[off+4*i:])
	}
	n.Bitmap = decodeBitmapWords(numBits, words)
	off += 4 * numWords
	n.Count = bo.Uint32(body[off : off+4])
	return n, nil
}

func decodeInfoTS(flags byte, body []byte) (*InfoTS, error) {
	if flags&0x02 != 0 {
		return &InfoTS{Invalidate: true}, nil
	}
	if len(body) < 8 {
		return nil, newErr(KindTooShort, IdInfoTs, ErrTooShort)
	}
	return &InfoTS{Timestamp: decodeTimestamp(body)}, nil
}

func decodeInfoDst(flags byte, body []byte) (*InfoDst, error) {
	if len(body) < 12 {
		return nil, newErr(KindTooShort, IdInfoDst, ErrTooShort)
	}
	var i InfoDst
	copy(i.GuidPrefix[:], body[0:12])
	return &i, nil
}

func decodeInfoSrc(flags byte, body []byte) (*InfoSrc, error) {
	if len(body) < 20 {
		return nil, newErr(KindTooShort, IdInfoSrc, ErrTooShort)
	}
	i := &InfoSrc{
		Version: ProtocolVersion{Major: body[4], Minor: body[5]},
		Vendor:  VendorId{body[6], body[7]},
	}
	copy(i.GuidPrefix[:], body[8:20])
	return i, nil
}

func decodeInfoReply(flags byte, body []byte) (*InfoReply, error) {
	bo := byteOrder(flags)
	if len(body) < 4 {
		return nil, newErr(KindTooShort, IdInfoReply, ErrTooShort)
	}
	i := &InfoReply{}
	n := int(bo.Uint32(body[0:4]))
	off := 4
	for j := 0; j < n; j++ {
		if off+24 > len(body) {
			return nil, newErr(KindTooShort, IdInfoReply, ErrTooShort)
		}
		i.UnicastLocators = append(i.UnicastLocators, decodeLocator(body[off:off+24]))
		off += 24
	}
	if flags&0x02 != 0 {
		if off+4 > len(body) {
			return nil, newErr(KindTooShort, IdInfoReply, ErrTooShort)
		}
		m := int(bo.Uint32(body[off : off+4]))
		off += 4
		for j := 0; j < m; j++ {
			if off+24 > len(body) {
				return nil, newErr(KindTooShort, IdInfoReply, ErrTooShort)
			}
			i.MulticastLocators = append(i.MulticastLocators, decodeLocator(body[off:off+24]))
			off += 24
		}
	}
	return i, nil
}

// decodeSubmessage dispatches on the submessage header's id to the
// type-specific decoder and returns the parsed Submessage. An
// unrecognized id yields a nil Submessage and nil error; the datagram
// walk then skips it by its declared Length.
func decodeSubmessage(id SubmessageId, flags byte, body []byte) (Submessage, error) {
	switch id {
	case IdPad:
		return &Pad{}, nil
	case IdData:
		return decodeData(flags, body)
	case IdDataFrag:
		return decodeDataFrag(flags, body)
	case IdGap:
		return decodeGap(flags, body)
	case IdHeartbeat:
		return decodeHeartbeat(flags, body)
	case IdHeartbeatFrag:
		return decodeHeartbeatFrag(flags, body)
	case IdAckNack:
		return decodeAckNack(flags, body)
	case IdNackFrag:
		return decodeNackFrag(flags, body)
	case IdInfoTs:
		return decodeInfoTS(flags, body)
	case IdInfoDst:
		return decodeInfoDst(flags, body)
	case IdInfoSrc:
		return decodeInfoSrc(flags, body)
	case IdInfoReply:
		return decodeInfoReply(flags, body)
	default:
		// Unrecognized submessage id: caller skips by Length and moves on.
		return nil, nil
	}
}
