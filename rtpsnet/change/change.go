// Package change implements the immutable-after-publish Change record
// and its refcounted payload buffer. A Change is shared between
// the history cache and every writer's per-reader change list; Clone is
// required whenever more than one holder needs to mutate header fields
// (handle/seqnr) independently.
package change

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/seqnum"
)

// Kind distinguishes the four change operations the protocol must carry.
type Kind int

const (
	Alive Kind = iota
	Disposed
	Unregistered
	Zombie
)

// InstanceHandle identifies a logical topic row (an "instance") once the
// history cache has resolved the sample's key. Opaque to the engine.
type InstanceHandle uint64

// WriterHandle identifies the writer that produced a change, as used by
// the history cache's lookup/ack interfaces. Opaque to the engine.
type WriterHandle uint64

// Buffer is a refcounted, shareable payload buffer. Multiple Changes may
// reference the same Buffer (e.g. a DATA submessage's raw bytes shared
// with the reassembled fragment arena); the last Release frees it.
type Buffer struct {
	refs atomic.Int32
	data []byte
}

// NewBuffer wraps data with a refcount of 1.
func NewBuffer(data []byte) *Buffer {
	b := &Buffer{data: data}
	b.refs.Store(1)
	return b
}

// Bytes returns the underlying slice. Callers must not retain it past a
// Release unless they hold their own reference via Retain.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Retain increments the refcount and returns b for chaining.
func (b *Buffer) Retain() *Buffer {
	if b != nil {
		b.refs.Add(1)
	}
	return b
}

// Release decrements the refcount, freeing the underlying slice
// reference once it reaches zero.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	if b.refs.Add(-1) == 0 {
		b.data = nil
	}
}

// Change is the immutable-after-publish record of one sample. Its
// header fields (WriterHandle, Seqnr, InstanceHandle) are mutated
// exactly once, while the change is being attached to a particular
// per-reader list entry, and never again after it becomes visible to
// more than one reader of the struct.
type Change struct {
	mu sync.Mutex

	refs atomic.Int32

	WriterHandle    WriterHandle
	Seqnr           seqnum.SequenceNumber
	Kind            Kind
	SourceTimestamp time.Time
	InstanceHandle  InstanceHandle
	KeyHash         guid.KeyHash
	Payload         *Buffer

	// DirectedWrite, when non-empty, restricts delivery to these reader
	// GUIDs.
	DirectedWrite []guid.GUID
}

// New allocates a Change with a refcount of 1. History cache
// implementations call this to hand a fresh sample to the protocol
// engine.
func New() *Change {
	c := &Change{}
	c.refs.Store(1)
	return c
}

// Refs reports the current reference count; used only by tests asserting
// lifecycle invariants.
func (c *Change) Refs() int32 { return c.refs.Load() }

// Retain increments the refcount.
func (c *Change) Retain() *Change {
	c.refs.Add(1)
	return c
}

// Free decrements the refcount, releasing the payload buffer once it
// reaches zero.
func (c *Change) Free() {
	if c.refs.Add(-1) == 0 {
		c.Payload.Release()
		c.Payload = nil
	}
}

// Clone produces an independent copy suitable for a second holder that
// needs to mutate header fields (handle/seqnr) without affecting the
// original. The payload buffer is shared (retained), not copied — only
// the header is duplicated.
func (c *Change) Clone() *Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	nc := &Change{
		WriterHandle:    c.WriterHandle,
		Seqnr:           c.Seqnr,
		Kind:            c.Kind,
		SourceTimestamp: c.SourceTimestamp,
		InstanceHandle:  c.InstanceHandle,
		KeyHash:         c.KeyHash,
		Payload:         c.Payload.Retain(),
		DirectedWrite:   append([]guid.GUID(nil), c.DirectedWrite...),
	}
	nc.refs.Store(1)
	return nc
}

// WithHeader sets InstanceHandle and Seqnr on this holder's copy, the
// usual post-clone/retain assignment. Call only on a Change this
// goroutine exclusively owns (freshly New'd or Cloned).
func (c *Change) WithHeader(h InstanceHandle, s seqnum.SequenceNumber) *Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InstanceHandle = h
	c.Seqnr = s
	return c
}

// IsDirectedTo reports whether r should see this change, honoring
// DIRECTED_WRITE isolation. An empty DirectedWrite
// list means "everyone".
func (c *Change) IsDirectedTo(r guid.GUID) bool {
	if len(c.DirectedWrite) == 0 {
		return true
	}
	for _, d := range c.DirectedWrite {
		if d.Equal(r) {
			return true
		}
	}
	return false
}
