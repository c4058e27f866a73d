package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/seqnum"
)

func testPrefix(b byte) guid.Prefix {
	var p guid.Prefix
	for i := range p {
		p[i] = b
	}
	return p
}

func TestBuilderRoundTripSingleDatagram(t *testing.T) {
	b := NewBuilder(testPrefix(1), VendorId{9, 9})
	ts := time.Unix(1700000000, 0).UTC()
	b.InfoTS(InfoTS{Timestamp: ts})
	b.Add(&Data{
		ReaderId:          guid.Unknown,
		WriterId:          guid.NewEntityId([3]byte{1, 2, 3}, guid.KindUserWriterNoKey),
		WriterSeqnr:       seqnum.First,
		SerializedPayload: []byte("hello world"),
	})

	dgrams := b.Bytes(0)
	require.Len(t, dgrams, 1)

	parsed, err := Parse(dgrams[0])
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	data, ok := parsed[0].Message.(*Data)
	require.True(t, ok)
	require.Equal(t, []byte("hello world"), data.SerializedPayload)
	require.Equal(t, seqnum.First, data.WriterSeqnr)
	require.NotNil(t, parsed[0].Context.Timestamp)
	require.True(t, ts.Equal(*parsed[0].Context.Timestamp))
	require.Equal(t, testPrefix(1), parsed[0].Context.SourceGuidPrefix)
}

func TestBuilderSplitsAcrossDatagramsAndReemitsInfo(t *testing.T) {
	b := NewBuilder(testPrefix(2), VendorId{0, 0})
	dst := testPrefix(3)
	b.InfoDst(InfoDst{GuidPrefix: dst})

	writerId := guid.NewEntityId([3]byte{7, 7, 7}, guid.KindUserWriterNoKey)
	for i := 0; i < 40; i++ {
		b.Add(&Data{
			ReaderId:          guid.Unknown,
			WriterId:          writerId,
			WriterSeqnr:       seqnum.SequenceNumber(i + 1),
			SerializedPayload: make([]byte, 64),
		})
	}

	dgrams := b.Bytes(256)
	require.Greater(t, len(dgrams), 1)

	var total int
	for _, d := range dgrams {
		parsed, err := Parse(d)
		require.NoError(t, err)
		require.Equal(t, dst, parsed[0].Context.DestGuidPrefix)
		for _, ps := range parsed {
			if _, ok := ps.Message.(*Data); ok {
				total++
			}
		}
	}
	require.Equal(t, 40, total)
}

func TestHeartbeatAckNackRoundTrip(t *testing.T) {
	b := NewBuilder(testPrefix(4), VendorId{1, 1})
	b.Add(&Heartbeat{
		WriterId: guid.NewEntityId([3]byte{1}, guid.KindUserWriterNoKey),
		First:    seqnum.First,
		Last:     seqnum.SequenceNumber(10),
		Count:    3,
		Final:    true,
	})
	b.Add(&AckNack{
		ReaderId: guid.NewEntityId([3]byte{2}, guid.KindUserReaderNoKey),
		Base:     seqnum.SequenceNumber(5),
		Bitmap:   []bool{true, false, true},
		Count:    1,
	})

	parsed, err := Parse(b.Bytes(0)[0])
	require.NoError(t, err)
	require.Len(t, parsed, 2)

	hb := parsed[0].Message.(*Heartbeat)
	require.Equal(t, seqnum.SequenceNumber(10), hb.Last)
	require.True(t, hb.Final)

	an := parsed[1].Message.(*AckNack)
	require.Equal(t, seqnum.SequenceNumber(5), an.Base)
	require.Equal(t, []bool{true, false, true}, an.Bitmap)
}

func TestGapRoundTrip(t *testing.T) {
	b := NewBuilder(testPrefix(5), VendorId{})
	b.Add(&Gap{
		WriterId:    guid.NewEntityId([3]byte{3}, guid.KindUserWriterNoKey),
		GapStart:    seqnum.SequenceNumber(5),
		GapListBase: seqnum.SequenceNumber(8),
		GapList:     []bool{true, false},
	})
	parsed, err := Parse(b.Bytes(0)[0])
	require.NoError(t, err)
	g := parsed[0].Message.(*Gap)
	require.Equal(t, seqnum.SequenceNumber(5), g.GapStart)
	require.Equal(t, []bool{true, false}, g.GapList)
}

func TestParseTruncatedDatagramReturnsPartialResults(t *testing.T) {
	b := NewBuilder(testPrefix(6), VendorId{})
	b.Add(&Data{
		ReaderId:          guid.Unknown,
		WriterId:          guid.NewEntityId([3]byte{1}, guid.KindUserWriterNoKey),
		WriterSeqnr:       seqnum.First,
		SerializedPayload: []byte("ok"),
	})
	b.Add(&Heartbeat{
		WriterId: guid.NewEntityId([3]byte{1}, guid.KindUserWriterNoKey),
		First:    seqnum.First,
		Last:     seqnum.SequenceNumber(2),
		Count:    1,
	})
	full := b.Bytes(0)[0]
	truncated := full[:len(full)-2]

	parsed, err := Parse(truncated)
	require.Error(t, err)
	require.Len(t, parsed, 1)
	_, ok := parsed[0].Message.(*Data)
	require.True(t, ok)
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderLength)
	_, _, err := DecodeHeader(buf)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestInlineQosKeyHashRoundTrip(t *testing.T) {
	var kh guid.KeyHash
	for i := range kh {
		kh[i] = byte(i)
	}
	b := NewBuilder(testPrefix(7), VendorId{})
	b.Add(&Data{
		Flags:             DataFlags{HasInlineQos: true},
		ReaderId:          guid.Unknown,
		WriterId:          guid.NewEntityId([3]byte{1}, guid.KindUserWriterNoKey),
		WriterSeqnr:       seqnum.First,
		InlineQos:         &InlineQos{KeyHash: &kh},
		SerializedPayload: []byte("x"),
	})
	parsed, err := Parse(b.Bytes(0)[0])
	require.NoError(t, err)
	data := parsed[0].Message.(*Data)
	require.NotNil(t, data.InlineQos)
	require.NotNil(t, data.InlineQos.KeyHash)
	require.Equal(t, kh, *data.InlineQos.KeyHash)
}
