package wire

import (
	"github.com/go-rtps/engine/rtpsnet/guid"
)

// MaxMessageSize is the default UDP-safe datagram budget; Builder splits
// across multiple datagrams once appending a submessage would exceed it.
const MaxMessageSize = 1456

// Builder assembles one or more datagrams from a header and a sequence
// of submessages, re-emitting INFO_TS/INFO_DST/INFO_SRC at the start of
// any datagram after the first so each datagram stays self-contained.
type Builder struct {
	header  Header
	els     []element
	curInfoTS  *InfoTS
	curInfoDst *InfoDst
	curInfoSrc *InfoSrc
}

// NewBuilder starts a message for the given source GuidPrefix.
func NewBuilder(src guid.Prefix, vendor VendorId) *Builder {
	return &Builder{header: Header{Version: Version2_3, Vendor: vendor, GuidPrefix: src}}
}

// InfoTS records a timestamp to precede subsequently-added submessages.
func (b *Builder) InfoTS(i InfoTS) {
	b.curInfoTS = &i
	b.els = append(b.els, encodeInfoTS(&i))
}

// InfoDst records a destination GuidPrefix for subsequent submessages.
func (b *Builder) InfoDst(i InfoDst) {
	b.curInfoDst = &i
	b.els = append(b.els, encodeInfoDst(&i))
}

// InfoSrc records an explicit source (used when relaying on behalf of
// another participant).
func (b *Builder) InfoSrc(i InfoSrc) {
	b.curInfoSrc = &i
	b.els = append(b.els, encodeInfoSrc(&i))
}

// InfoReply supplies alternate locators for submessages in this message.
func (b *Builder) InfoReply(i InfoReply) {
	b.els = append(b.els, encodeInfoReply(&i))
}

// Add appends one data-bearing or control submessage.
func (b *Builder) Add(s Submessage) {
	b.els = append(b.els, encodeSubmessage(s))
}

func (b *Builder) elementSize(e element) int {
	n := SubmessageHeaderLength + len(e.body) + len(e.payload)
	return padTo4(n)
}

// Bytes serializes the accumulated submessages into one or more
// datagrams, starting a new one whenever the next submessage would push
// the current one past maxSize (0 means MaxMessageSize), and repeating
// the most recent INFO_TS/INFO_DST/INFO_SRC at the top of every datagram
// after the first. Submessages are never split, so a datagram holding a
// submessage that does not fit on its own exceeds maxSize.
func (b *Builder) Bytes(maxSize int) [][]byte {
	if maxSize <= 0 {
		maxSize = MaxMessageSize
	}
	var datagrams [][]byte
	var cur []byte
	reset := func() {
		cur = make([]byte, HeaderLength)
		b.header.Encode(cur)
	}
	reset()
	reemit := func() {
		if b.curInfoSrc != nil {
			cur = appendElement(cur, encodeInfoSrc(b.curInfoSrc))
		}
		if b.curInfoDst != nil {
			cur = appendElement(cur, encodeInfoDst(b.curInfoDst))
		}
		if b.curInfoTS != nil {
			cur = appendElement(cur, encodeInfoTS(b.curInfoTS))
		}
	}
	first := true
	for _, e := range b.els {
		sz := b.elementSize(e)
		if !first && len(cur)+sz > maxSize {
			datagrams = append(datagrams, cur)
			reset()
			reemit()
		}
		cur = appendElement(cur, e)
		first = false
	}
	if len(cur) > HeaderLength || len(datagrams) == 0 {
		datagrams = append(datagrams, cur)
	}
	return datagrams
}

func appendElement(buf []byte, e element) []byte {
	bodyLen := len(e.body) + len(e.payload)
	hdr := make([]byte, SubmessageHeaderLength)
	writeSubmsgHeader(hdr, e.id, e.flags, uint16(bodyLen))
	buf = append(buf, hdr...)
	buf = append(buf, e.body...)
	buf = append(buf, e.payload...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}
