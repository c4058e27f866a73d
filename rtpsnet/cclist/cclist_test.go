package cclist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-rtps/engine/rtpsnet/change"
	"github.com/go-rtps/engine/rtpsnet/seqnum"
)

func relevantChange(seq seqnum.SequenceNumber) *change.Change {
	c := change.New()
	c.Seqnr = seq
	return c
}

// TestGapCoalescing covers: writer published 1..5, cache evicts 2 and 4;
// the resulting snapshot has exactly five entries (Data(1), Gap(2..2),
// Data(3), Gap(4..4), Data(5)) with no two adjacent gaps sharing a
// state.
func TestGapCoalescing(t *testing.T) {
	l := New()
	refs := make([]*Ref, 5)
	for i := 1; i <= 5; i++ {
		refs[i-1] = l.AddRelevant(relevantChange(seqnum.SequenceNumber(i)), 0, Unacked, true)
	}
	require.Equal(t, 5, l.Len())

	l.ReplaceWithGap(refs[1], Requested) // evict seq 2
	l.ReplaceWithGap(refs[3], Requested) // evict seq 4

	require.Equal(t, 5, l.Len())
	require.Equal(t, seqnum.SequenceNumber(1), l.First())
	require.Equal(t, seqnum.SequenceNumber(5), l.Last())

	var kinds []bool
	var relevantSeqs []seqnum.SequenceNumber
	var gapRanges []seqnum.Range
	l.Walk(func(r *Ref) bool {
		kinds = append(kinds, r.Relevant)
		if r.Relevant {
			relevantSeqs = append(relevantSeqs, r.Change.Seqnr)
		} else {
			gapRanges = append(gapRanges, r.Range)
		}
		return true
	})

	require.Equal(t, []bool{true, false, true, false, true}, kinds)
	require.Equal(t, []seqnum.SequenceNumber{1, 3, 5}, relevantSeqs)
	require.Equal(t, []seqnum.Range{{First: 2, Last: 2}, {First: 4, Last: 4}}, gapRanges)
}

func TestAddGapCoalescesAdjacentSameState(t *testing.T) {
	l := New()
	l.AddGap(seqnum.Range{First: 1, Last: 3}, Missing, true)
	l.AddGap(seqnum.Range{First: 4, Last: 6}, Missing, true)
	require.Equal(t, 1, l.Len())
	require.Equal(t, seqnum.Range{First: 1, Last: 6}, l.Tail().Range)
}

func TestAddGapDoesNotCoalesceDifferentState(t *testing.T) {
	l := New()
	l.AddGap(seqnum.Range{First: 1, Last: 3}, Missing, true)
	l.AddGap(seqnum.Range{First: 4, Last: 6}, Lost, true)
	require.Equal(t, 2, l.Len())
}

func TestRemoveAdvancesUnsentCursor(t *testing.T) {
	l := New()
	r1 := l.AddRelevant(relevantChange(1), 0, Unsent, true)
	r2 := l.AddRelevant(relevantChange(2), 0, Unsent, true)
	l.UnsentCursor = r1
	l.Remove(r1)
	require.Same(t, r2, l.UnsentCursor)
}

func TestFindLocatesRelevantAndGap(t *testing.T) {
	l := New()
	l.AddRelevant(relevantChange(1), 0, Unacked, true)
	l.AddGap(seqnum.Range{First: 2, Last: 4}, Requested, true)
	l.AddRelevant(relevantChange(5), 0, Unacked, true)

	r := l.Find(3)
	require.NotNil(t, r)
	require.False(t, r.Relevant)

	r = l.Find(5)
	require.NotNil(t, r)
	require.True(t, r.Relevant)

	require.Nil(t, l.Find(6))
}
