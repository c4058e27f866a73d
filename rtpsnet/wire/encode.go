package wire

import (
	"encoding/binary"
	"time"

	"github.com/go-rtps/engine/rtpsnet/guid"
)

// element is one entry in a Builder's buffer chain: either an inline
// (embedded) body or a reference to an external, refcounted payload
// buffer so DATA/DATA_FRAG submessages can avoid copying application
// data.
type element struct {
	id      SubmessageId
	flags   byte
	body    []byte // header-less submessage body, inline copy
	payload []byte // external reference appended after body (not copied)
}

// InlineBodyBudget is the typical embedded-payload size of a buffer
// chain element before a submessage must reference an external block.
const InlineBodyBudget = 128

func dataFlagsByte(f DataFlags, endianLE bool) byte {
	var b byte
	if endianLE {
		b |= endianFlagBit
	}
	if f.Disposed {
		b |= 0x04 // D
	}
	if f.HasKey {
		b |= 0x08 // K
	}
	if f.HasInlineQos {
		b |= 0x02 // Q
	}
	return b
}

func encodeData(d *Data) element {
	qos := encodeInlineQos(d.InlineQos)
	body := make([]byte, 0, 24+len(qos))
	body = append(body, 0, 0) // extraFlags, reserved (RTPS DATA layout)
	octetsToInlineQos := make([]byte, 2)
	binary.BigEndian.PutUint16(octetsToInlineQos, 16) // readerId+writerId+seqnr = 16 bytes follow
	body = append(body, octetsToInlineQos...)
	body = append(body, d.ReaderId[:]...)
	body = append(body, d.WriterId[:]...)
	seq := make([]byte, 8)
	encodeSeqnr(seq, d.WriterSeqnr)
	body = append(body, seq...)
	body = append(body, qos...)
	return element{
		id:      IdData,
		flags:   dataFlagsByte(d.Flags, false),
		body:    body,
		payload: d.SerializedPayload,
	}
}

func encodeDataFrag(d *DataFrag) element {
	qos := encodeInlineQos(d.InlineQos)
	body := make([]byte, 0, 28+len(qos))
	body = append(body, 0, 0)
	octetsToInlineQos := make([]byte, 2)
	// readerId+writerId+seqnr+fragStart+fragsInSub+fragSize+sampleSize = 28 bytes follow
	binary.BigEndian.PutUint16(octetsToInlineQos, 28)
	body = append(body, octetsToInlineQos...)
	body = append(body, d.ReaderId[:]...)
	body = append(body, d.WriterId[:]...)
	seq := make([]byte, 8)
	encodeSeqnr(seq, d.WriterSeqnr)
	body = append(body, seq...)
	four := make([]byte, 4)
	binary.BigEndian.PutUint32(four, d.FragStart)
	body = append(body, four...)
	two := make([]byte, 2)
	binary.BigEndian.PutUint16(two, d.FragsInSub)
	body = append(body, two...)
	binary.BigEndian.PutUint16(two, d.FragSize)
	body = append(body, two...)
	binary.BigEndian.PutUint32(four, d.SampleSize)
	body = append(body, four...)
	body = append(body, qos...)
	return element{
		id:      IdDataFrag,
		flags:   dataFlagsByte(d.Flags, false),
		body:    body,
		payload: d.FragmentData,
	}
}

func encodeGap(g *Gap) element {
	words := encodeBitmapWords(g.GapList)
	body := make([]byte, 0, 24+4*len(words))
	body = append(body, g.ReaderId[:]...)
	body = append(body, g.WriterId[:]...)
	seq := make([]byte, 8)
	encodeSeqnr(seq, g.GapStart)
	body = append(body, seq...)
	encodeSeqnr(seq, g.GapListBase)
	body = append(body, seq...)
	four := make([]byte, 4)
	binary.BigEndian.PutUint32(four, uint32(len(g.GapList)))
	body = append(body, four...)
	for _, w := range words {
		binary.BigEndian.PutUint32(four, w)
		body = append(body, four...)
	}
	return element{id: IdGap, flags: 0, body: body}
}

func encodeHeartbeat(h *Heartbeat) element {
	body := make([]byte, 0, 32)
	body = append(body, h.ReaderId[:]...)
	body = append(body, h.WriterId[:]...)
	seq := make([]byte, 8)
	encodeSeqnr(seq, h.First)
	body = append(body, seq...)
	encodeSeqnr(seq, h.Last)
	body = append(body, seq...)
	four := make([]byte, 4)
	binary.BigEndian.PutUint32(four, h.Count)
	body = append(body, four...)
	if h.InstanceID != nil {
		binary.BigEndian.PutUint32(four, *h.InstanceID)
		body = append(body, four...)
	}
	var flags byte
	if h.Final {
		flags |= 0x02
	}
	if h.Liveness {
		flags |= 0x04
	}
	return element{id: IdHeartbeat, flags: flags, body: body}
}

func encodeHeartbeatFrag(h *HeartbeatFrag) element {
	body := make([]byte, 0, 24)
	body = append(body, h.ReaderId[:]...)
	body = append(body, h.WriterId[:]...)
	seq := make([]byte, 8)
	encodeSeqnr(seq, h.Seqnr)
	body = append(body, seq...)
	four := make([]byte, 4)
	binary.BigEndian.PutUint32(four, h.LastFrag)
	body = append(body, four...)
	binary.BigEndian.PutUint32(four, h.Count)
	body = append(body, four...)
	return element{id: IdHeartbeatFrag, flags: 0, body: body}
}

func encodeAckNack(a *AckNack) element {
	words := encodeBitmapWords(a.Bitmap)
	body := make([]byte, 0, 24+4*len(words))
	body = append(body, a.ReaderId[:]...)
	body = append(body, a.WriterId[:]...)
	seq := make([]byte, 8)
	encodeSeqnr(seq, a.Base)
	body = append(body, seq...)
	four := make([]byte, 4)
	binary.BigEndian.PutUint32(four, uint32(len(a.Bitmap)))
	body = append(body, four...)
	for _, w := range words {
		binary.BigEndian.PutUint32(four, w)
		body = append(body, four...)
	}
	binary.BigEndian.PutUint32(four, a.Count)
	body = append(body, four...)
	if a.InstanceID != nil {
		binary.BigEndian.PutUint32(four, *a.InstanceID)
		body = append(body, four...)
	}
	var flags byte
	if a.Final {
		flags |= 0x02
	}
	return element{id: IdAckNack, flags: flags, body: body}
}

func encodeNackFrag(n *NackFrag) element {
	words := encodeBitmapWords(n.Bitmap)
	body := make([]byte, 0, 24+4*len(words))
	body = append(body, n.ReaderId[:]...)
	body = append(body, n.WriterId[:]...)
	seq := make([]byte, 8)
	encodeSeqnr(seq, n.Seqnr)
	body = append(body, seq...)
	four := make([]byte, 4)
	binary.BigEndian.PutUint32(four, n.Base)
	body = append(body, four...)
	binary.BigEndian.PutUint32(four, uint32(len(n.Bitmap)))
	body = append(body, four...)
	for _, w := range words {
		binary.BigEndian.PutUint32(four, w)
		body = append(body, four...)
	}
	binary.BigEndian.PutUint32(four, n.Count)
	body = append(body, four...)
	return element{id: IdNackFrag, flags: 0, body: body}
}

func encodeInfoTS(i *InfoTS) element {
	if i.Invalidate {
		return element{id: IdInfoTs, flags: 0x02, body: nil}
	}
	body := make([]byte, 8)
	encodeTimestamp(body, i.Timestamp)
	return element{id: IdInfoTs, flags: 0, body: body}
}

func encodeInfoDst(i *InfoDst) element {
	body := append([]byte(nil), i.GuidPrefix[:]...)
	return element{id: IdInfoDst, flags: 0, body: body}
}

func encodeInfoSrc(i *InfoSrc) element {
	body := make([]byte, 0, 16)
	body = append(body, 0, 0, 0, 0) // unused
	body = append(body, i.Version.Major, i.Version.Minor)
	body = append(body, i.Vendor[0], i.Vendor[1])
	body = append(body, i.GuidPrefix[:]...)
	return element{id: IdInfoSrc, flags: 0, body: body}
}

func encodeLocator(l LocatorWire) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint32(buf[0:4], uint32(l.Kind))
	binary.BigEndian.PutUint32(buf[4:8], l.Port)
	copy(buf[8:24], l.Address[:])
	return buf
}

func decodeLocator(buf []byte) LocatorWire {
	return LocatorWire{
		Kind:    int32(binary.BigEndian.Uint32(buf[0:4])),
		Port:    binary.BigEndian.Uint32(buf[4:8]),
		Address: [16]byte(([16]byte)(func() [16]byte { var a [16]byte; copy(a[:], buf[8:24]); return a }())),
	}
}

func encodeInfoReply(i *InfoReply) element {
	body := make([]byte, 0, 4+24*len(i.UnicastLocators))
	four := make([]byte, 4)
	binary.BigEndian.PutUint32(four, uint32(len(i.UnicastLocators)))
	body = append(body, four...)
	for _, l := range i.UnicastLocators {
		body = append(body, encodeLocator(l)...)
	}
	flags := byte(0)
	if len(i.MulticastLocators) > 0 {
		flags |= 0x02
		binary.BigEndian.PutUint32(four, uint32(len(i.MulticastLocators)))
		body = append(body, four...)
		for _, l := range i.MulticastLocators {
			body = append(body, encodeLocator(l)...)
		}
	}
	return element{id: IdInfoReply, flags: flags, body: body}
}

// encodeSubmessage dispatches to the type-specific encoder via a plain
// type switch over the Submessage variants.
func encodeSubmessage(s Submessage) element {
	switch m := s.(type) {
	case *Data:
		return encodeData(m)
	case *DataFrag:
		return encodeDataFrag(m)
	case *Gap:
		return encodeGap(m)
	case *Heartbeat:
		return encodeHeartbeat(m)
	case *HeartbeatFrag:
		return encodeHeartbeatFrag(m)
	case *AckNack:
		return encodeAckNack(m)
	case *NackFrag:
		return encodeNackFrag(m)
	case *InfoTS:
		return encodeInfoTS(m)
	case *InfoDst:
		return encodeInfoDst(m)
	case *InfoSrc:
		return encodeInfoSrc(m)
	case *InfoReply:
		return encodeInfoReply(m)
	case *Pad:
		return element{id: IdPad, flags: 0, body: nil}
	default:
		panic("wire: unknown submessage type")
	}
}

// padTo4 returns n rounded up to the next multiple of 4, the RTPS
// submessage alignment requirement.
func padTo4(n int) int { return (n + 3) &^ 3 }

var _ = guid.Unknown // referenced to keep import if encode.go trimmed later
var _ = time.Time{}
