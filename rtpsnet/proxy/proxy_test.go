package proxy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/seqnum"
)

func TestActivateDoesNotBlock(t *testing.T) {
	r := NewRemReader(guid.UnknownGUID)
	defer r.Close()

	for i := 0; i < 1000; i++ {
		r.Activate(seqnum.SequenceNumber(i + 1))
	}

	got := <-r.Out()
	require.Equal(t, seqnum.SequenceNumber(1), got)
}

func TestMarkAckedClearsRetransmissions(t *testing.T) {
	r := NewRemReader(guid.UnknownGUID)
	r.MarkRequested(3)
	r.MarkRequested(3)
	require.Equal(t, uint32(2), r.Retransmissions[3])

	r.MarkAcked(5)
	require.Equal(t, seqnum.SequenceNumber(5), r.AckedUpTo)
	require.Empty(t, r.Retransmissions)
}

func TestOnHeartbeatRejectsStaleCount(t *testing.T) {
	w := NewRemWriter(guid.UnknownGUID)
	require.True(t, w.OnHeartbeat(1, 10, 5))
	require.False(t, w.OnHeartbeat(1, 10, 5))
	require.False(t, w.OnHeartbeat(1, 10, 4))
	require.True(t, w.OnHeartbeat(1, 12, 6))
}
