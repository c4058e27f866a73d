package wire

import (
	"time"

	"github.com/go-rtps/engine/rtpsnet/guid"
)

// ReceiverContext carries the state INFO_SRC/INFO_DST/INFO_TS/INFO_REPLY
// submessages accumulate while walking one datagram left to right. It is
// reset at the start of every datagram; INFO_REPLY's locators in
// particular never survive past the datagram they appeared in.
type ReceiverContext struct {
	SourceGuidPrefix guid.Prefix
	SourceVersion    ProtocolVersion
	SourceVendor     VendorId
	DestGuidPrefix   guid.Prefix
	Timestamp        *time.Time
	UnicastLocators   []LocatorWire
	MulticastLocators []LocatorWire
}

// ParsedSubmessage pairs a decoded submessage with the receiver context
// in effect when it was encountered.
type ParsedSubmessage struct {
	Context ReceiverContext
	Message Submessage
}

// Parse walks one datagram's submessage stream, applying INFO_* state
// changes as it goes and returning every data-bearing or control
// submessage alongside the context snapshot active at that point.
// Unrecognized submessage ids are skipped using their declared Length
// rather than aborting the walk, so forward-compatible extensions don't
// break older receivers.
func Parse(datagram []byte) ([]ParsedSubmessage, error) {
	hdr, rest, err := DecodeHeader(datagram)
	if err != nil {
		return nil, err
	}
	ctx := ReceiverContext{
		SourceGuidPrefix: hdr.GuidPrefix,
		SourceVersion:    hdr.Version,
		SourceVendor:     hdr.Vendor,
	}

	var out []ParsedSubmessage
	buf := rest
	for len(buf) > 0 {
		sh, err := readSubmsgHeader(buf)
		if err != nil {
			return out, err
		}
		total := SubmessageHeaderLength + int(sh.Length)
		if total > len(buf) {
			return out, newErr(KindTooShort, sh.ID, ErrTooShort)
		}
		body := buf[SubmessageHeaderLength:total]

		switch sh.ID {
		case IdInfoTs:
			m, err := decodeInfoTS(sh.Flags, body)
			if err != nil {
				return out, err
			}
			if m.Invalidate {
				ctx.Timestamp = nil
			} else {
				ctx.Timestamp = &m.Timestamp
			}
		case IdInfoDst:
			m, err := decodeInfoDst(sh.Flags, body)
			if err != nil {
				return out, err
			}
			ctx.DestGuidPrefix = m.GuidPrefix
		case IdInfoSrc:
			m, err := decodeInfoSrc(sh.Flags, body)
			if err != nil {
				return out, err
			}
			ctx.SourceGuidPrefix = m.GuidPrefix
			ctx.SourceVersion = m.Version
			ctx.SourceVendor = m.Vendor
		case IdInfoReply:
			m, err := decodeInfoReply(sh.Flags, body)
			if err != nil {
				return out, err
			}
			ctx.UnicastLocators = m.UnicastLocators
			ctx.MulticastLocators = m.MulticastLocators
		case IdPad:
			// no state change
		default:
			msg, err := decodeSubmessage(sh.ID, sh.Flags, body)
			if err != nil {
				return out, err
			}
			if msg != nil {
				out = append(out, ParsedSubmessage{Context: ctx, Message: msg})
			}
		}

		consumed := padTo4(total)
		if consumed > len(buf) {
			consumed = len(buf)
		}
		buf = buf[consumed:]
	}
	return out, nil
}
