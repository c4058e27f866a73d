package hc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/seqnum"
)

func TestAddAndLookupByHash(t *testing.T) {
	c := NewMemoryCache(0)
	var kh guid.KeyHash
	kh[0] = 1
	ch := c.NewChange(1, kh)
	c.Add(ch)

	got := c.LookupByHash(kh)
	require.NotNil(t, got)
	require.Equal(t, ch, got)
}

func TestKeepLastEvictsOldest(t *testing.T) {
	c := NewMemoryCache(2)
	var kh guid.KeyHash
	kh[0] = 7

	for i := 0; i < 3; i++ {
		ch := c.NewChange(1, kh)
		ch.Seqnr = seqnum.SequenceNumber(i + 1)
		c.Add(ch)
	}

	replay := c.Replay(1)
	require.Len(t, replay, 2)
	require.Equal(t, seqnum.SequenceNumber(2), replay[0].Seqnr)
}

func TestSeqnrInfoTracksRange(t *testing.T) {
	c := NewMemoryCache(0)
	var kh guid.KeyHash
	for i := 1; i <= 3; i++ {
		ch := c.NewChange(1, kh)
		ch.Seqnr = seqnum.SequenceNumber(i)
		c.Add(ch)
	}
	first, last, ok := c.SeqnrInfo(1)
	require.True(t, ok)
	require.Equal(t, uint64(1), first)
	require.Equal(t, uint64(3), last)
}
