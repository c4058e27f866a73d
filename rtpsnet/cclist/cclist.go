// Package cclist implements the per-peer change-cache list (CCList) and
// its entries (CCRef). Entries are coalesced eagerly at every mutation,
// never by a background compaction pass: adding a gap extends an
// adjacent gap entry with the same state instead of allocating a new
// one.
//
// Invariants maintained by every exported mutator:
//  1. Sequence numbers across the list are strictly increasing and
//     contiguous: every seqnr in [First()..Last()] is covered by exactly
//     one entry.
//  2. No two consecutive gap entries share a State.
//  3. Len() equals the number of entries.
package cclist

import (
	"container/list"
	"sync"

	"github.com/go-rtps/engine/rtpsnet/change"
	"github.com/go-rtps/engine/rtpsnet/fragment"
	"github.com/go-rtps/engine/rtpsnet/seqnum"
)

// State is the per-entry lifecycle state. Writer-side and reader-side
// state machines use disjoint subsets.
type State int

const (
	// Writer-side states.
	New State = iota
	Unsent
	Underway
	Unacked
	Acked
	Requested

	// Reader-side states.
	Missing
	RequestedR
	Received
	Lost
)

func (s State) String() string {
	switch s {
	case New:
		return "NEW"
	case Unsent:
		return "UNSENT"
	case Underway:
		return "UNDERWAY"
	case Unacked:
		return "UNACKED"
	case Acked:
		return "ACKED"
	case Requested:
		return "REQUESTED"
	case Missing:
		return "MISSING"
	case RequestedR:
		return "REQUESTED_R"
	case Received:
		return "RECEIVED"
	case Lost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// InstanceRef is the history-cache instance reference a relevant entry
// carries alongside its Change.
type InstanceRef = change.InstanceHandle

// Ref is one CCList entry. Exactly one of the two shapes is populated,
// selected by Relevant.
type Ref struct {
	Relevant bool
	State    State

	// Relevant shape.
	Change   *change.Change
	Instance InstanceRef
	Fragments *fragment.Info

	// Gap shape: inclusive [Range.First..Range.Last].
	Range seqnum.Range

	// AckReq marks entries that must trigger an acknowledged callback
	// once their seqnr drops below the ack base.
	AckReq bool

	elem *list.Element
}

// Seqnr returns the single sequence number a relevant entry represents,
// or the first of a gap entry's range. Used for ordering/lookup.
func (r *Ref) Seqnr() seqnum.SequenceNumber {
	if r.Relevant {
		return r.Change.Seqnr
	}
	return r.Range.First
}

// Last returns the last sequence number this entry covers.
func (r *Ref) Last() seqnum.SequenceNumber {
	if r.Relevant {
		return r.Change.Seqnr
	}
	return r.Range.Last
}

// List is a doubly-linked ordered sequence of Refs.
type List struct {
	mu sync.Mutex
	l  *list.List // element.Value is *Ref

	// UnsentCursor / RequestedCursor are optional cursors into the list;
	// the mutators move them off any entry they remove.
	UnsentCursor    *Ref
	RequestedCursor *Ref
}

// New returns an empty CCList.
func New() *List {
	return &List{l: list.New()}
}

// Len returns the number of entries (invariant 3).
func (c *List) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.l.Len()
}

// Empty reports whether the list has no entries.
func (c *List) Empty() bool { return c.Len() == 0 }

// First returns the lowest sequence number covered by the list, or
// Unknown if empty.
func (c *List) First() seqnum.SequenceNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.l.Len() == 0 {
		return seqnum.Unknown
	}
	return c.l.Front().Value.(*Ref).Seqnr()
}

// Last returns the highest sequence number covered by the list, or
// Unknown if empty.
func (c *List) Last() seqnum.SequenceNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.l.Len() == 0 {
		return seqnum.Unknown
	}
	return c.l.Back().Value.(*Ref).Last()
}

// Head returns the first entry, nil if empty.
func (c *List) Head() *Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.l.Len() == 0 {
		return nil
	}
	return c.l.Front().Value.(*Ref)
}

// Tail returns the last entry, nil if empty.
func (c *List) Tail() *Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.l.Len() == 0 {
		return nil
	}
	return c.l.Back().Value.(*Ref)
}

// Next returns the entry following r, nil at the tail.
func (c *List) Next(r *Ref) *Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.elem.Next() == nil {
		return nil
	}
	return r.elem.Next().Value.(*Ref)
}

// Prev returns the entry preceding r, nil at the head.
func (c *List) Prev(r *Ref) *Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.elem.Prev() == nil {
		return nil
	}
	return r.elem.Prev().Value.(*Ref)
}

// AddRelevant appends (tail=true) or prepends (tail=false) a relevant
// entry.
func (c *List) AddRelevant(ch *change.Change, inst InstanceRef, state State, tail bool) *Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &Ref{Relevant: true, Change: ch, Instance: inst, State: state}
	if tail {
		r.elem = c.l.PushBack(r)
	} else {
		r.elem = c.l.PushFront(r)
	}
	return r
}

// AddGap appends or prepends a gap entry, coalescing with an existing
// adjacent gap entry of the same state rather than allocating a new one.
func (c *List) AddGap(rng seqnum.Range, state State, tail bool) *Ref {
	c.mu.Lock()
	defer c.mu.Unlock()

	var edge *list.Element
	if tail {
		edge = c.l.Back()
	} else {
		edge = c.l.Front()
	}
	if edge != nil {
		er := edge.Value.(*Ref)
		if !er.Relevant && er.State == state &&
			rng.First <= er.Range.Last.Next() && er.Range.First <= rng.Last.Next() {
			er.Range = er.Range.Union(rng)
			return er
		}
	}
	r := &Ref{Relevant: false, Range: rng, State: state}
	if tail {
		r.elem = c.l.PushBack(r)
	} else {
		r.elem = c.l.PushFront(r)
	}
	return r
}

// InsertGapBefore inserts a new gap entry immediately before r. Used when
// splitting a gap range around a newly-relevant entry.
func (c *List) InsertGapBefore(r *Ref, rng seqnum.Range, state State) *Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	nr := &Ref{Relevant: false, Range: rng, State: state}
	nr.elem = c.l.InsertBefore(nr, r.elem)
	return nr
}

// InsertGapAfter inserts a new gap entry immediately after r.
func (c *List) InsertGapAfter(r *Ref, rng seqnum.Range, state State) *Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	nr := &Ref{Relevant: false, Range: rng, State: state}
	nr.elem = c.l.InsertAfter(nr, r.elem)
	return nr
}

// InsertRelevantBefore inserts a relevant entry immediately before r,
// used when a DATA submessage lands in the middle of a gap range.
func (c *List) InsertRelevantBefore(r *Ref, ch *change.Change, inst InstanceRef, state State) *Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	nr := &Ref{Relevant: true, Change: ch, Instance: inst, State: state}
	nr.elem = c.l.InsertBefore(nr, r.elem)
	return nr
}

// Remove deletes r from the list, adjusting the unsent/requested cursors
// if they pointed at it.
func (c *List) Remove(r *Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.UnsentCursor == r {
		c.UnsentCursor = nextElemRef(r.elem)
	}
	if c.RequestedCursor == r {
		nr := nextElemRef(r.elem)
		for nr != nil && (!nr.Relevant || nr.State != Requested) {
			nr = nextElemRef(nr.elem)
		}
		c.RequestedCursor = nr
	}

	c.l.Remove(r.elem)
	r.elem = nil
}

func nextElemRef(e *list.Element) *Ref {
	if e == nil || e.Next() == nil {
		return nil
	}
	return e.Next().Value.(*Ref)
}

// ReplaceWithGap downgrades a relevant entry to a 1-length irrelevant gap
// and coalesces with adjacent gap entries of the same state.
func (c *List) ReplaceWithGap(r *Ref, state State) *Ref {
	c.mu.Lock()
	seq := r.Change.Seqnr
	rng := seqnum.Range{First: seq, Last: seq}

	if c.UnsentCursor == r {
		c.UnsentCursor = nextElemRef(r.elem)
	}
	if c.RequestedCursor == r {
		c.RequestedCursor = nil
	}

	prev, next := r.elem.Prev(), r.elem.Next()
	c.l.Remove(r.elem)

	// Try to coalesce into the previous entry.
	if prev != nil {
		pr := prev.Value.(*Ref)
		if !pr.Relevant && pr.State == state && pr.Range.Last.Next() == rng.First {
			pr.Range.Last = rng.Last
			c.mu.Unlock()
			c.maybeCoalesceNext(pr)
			return pr
		}
	}
	// Try to coalesce into the next entry.
	if next != nil {
		nr := next.Value.(*Ref)
		if !nr.Relevant && nr.State == state && rng.Last.Next() == nr.Range.First {
			nr.Range.First = rng.First
			c.mu.Unlock()
			return nr
		}
	}

	nr := &Ref{Relevant: false, Range: rng, State: state}
	if prev != nil {
		nr.elem = c.l.InsertAfter(nr, prev)
	} else if next != nil {
		nr.elem = c.l.InsertBefore(nr, next)
	} else {
		nr.elem = c.l.PushBack(nr)
	}
	c.mu.Unlock()
	return nr
}

// maybeCoalesceNext merges r with its successor if both are gaps sharing
// the same state and are numerically adjacent. Called after a mutation
// that may have created two adjacent same-state gap entries (invariant
// 2 enforcement).
func (c *List) maybeCoalesceNext(r *Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.elem == nil || r.elem.Next() == nil {
		return
	}
	nr := r.elem.Next().Value.(*Ref)
	if r.Relevant || nr.Relevant || r.State != nr.State {
		return
	}
	if r.Range.Last.Next() != nr.Range.First {
		return
	}
	r.Range.Last = nr.Range.Last
	if c.UnsentCursor == nr {
		c.UnsentCursor = nextElemRef(nr.elem)
	}
	c.l.Remove(nr.elem)
}

// Coalesce scans the whole list once and merges any adjacent same-state
// gap pairs. Exported for callers (gap()/heartbeat() handlers) that
// synthesize several adjacent gap entries in one pass before asking for
// a single coalescing sweep.
func (c *List) Coalesce() {
	c.mu.Lock()
	e := c.l.Front()
	c.mu.Unlock()
	for e != nil {
		r := e.Value.(*Ref)
		next := e.Next()
		c.maybeCoalesceNext(r)
		c.mu.Lock()
		e = next
		c.mu.Unlock()
	}
}

// Walk calls fn for every entry in order, stopping early if fn returns
// false. Used by ACKNACK bitmap construction and GAP emission.
func (c *List) Walk(fn func(r *Ref) bool) {
	c.mu.Lock()
	e := c.l.Front()
	c.mu.Unlock()
	for e != nil {
		r := e.Value.(*Ref)
		if !fn(r) {
			return
		}
		c.mu.Lock()
		e = e.Next()
		c.mu.Unlock()
	}
}

// DropLeadingWhile removes entries from the head of the list while fn
// reports true, used to release fully-acknowledged leading entries and
// by the reader's drain-to-history-cache step. Returns the removed
// entries in order.
func (c *List) DropLeadingWhile(fn func(r *Ref) bool) []*Ref {
	var removed []*Ref
	for {
		h := c.Head()
		if h == nil || !fn(h) {
			break
		}
		c.Remove(h)
		removed = append(removed, h)
	}
	return removed
}

// Find locates the entry containing s: returns the relevant entry if s
// matches its Change.Seqnr exactly, or the gap entry whose range
// contains s. Returns nil if s falls outside [First()..Last()].
func (c *List) Find(s seqnum.SequenceNumber) *Ref {
	var found *Ref
	c.Walk(func(r *Ref) bool {
		if r.Relevant {
			if r.Change.Seqnr == s {
				found = r
				return false
			}
		} else if r.Range.Contains(s) {
			found = r
			return false
		}
		return true
	})
	return found
}
