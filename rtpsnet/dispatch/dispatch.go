// Package dispatch routes parsed submessages to the writer/reader
// endpoint they target, matching on GuidPrefix + EntityId, with the
// UNKNOWN entity id fanning out to every local endpoint of matching
// direction instead of a single recipient.
package dispatch

import (
	"sync"

	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/wire"
)

// Endpoint is implemented by a writer or reader state machine: the one
// method dispatch needs to hand it an incoming submessage.
type Endpoint interface {
	GUID() guid.GUID
	Deliver(ctx wire.ReceiverContext, msg wire.Submessage)
}

// Table indexes local endpoints by (participant prefix, entity id) so
// an incoming submessage's destination fields resolve in O(1), falling
// back to a fan-out scan only for the UNKNOWN wildcard entity id.
type Table struct {
	mu      sync.RWMutex
	byGUID  map[guid.GUID]Endpoint
	writers []Endpoint
	readers []Endpoint
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{byGUID: make(map[guid.GUID]Endpoint)}
}

// Register adds an endpoint, classified by whether its entity kind is a
// writer or reader for UNKNOWN-targeted fan-out.
func (t *Table) Register(e Endpoint, isWriter bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byGUID[e.GUID()] = e
	if isWriter {
		t.writers = append(t.writers, e)
	} else {
		t.readers = append(t.readers, e)
	}
}

// Unregister removes an endpoint.
func (t *Table) Unregister(g guid.GUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byGUID, g)
	t.writers = removeGUID(t.writers, g)
	t.readers = removeGUID(t.readers, g)
}

func removeGUID(list []Endpoint, g guid.GUID) []Endpoint {
	out := list[:0]
	for _, e := range list {
		if !e.GUID().Equal(g) {
			out = append(out, e)
		}
	}
	return out
}

// Route delivers a parsed submessage to every local endpoint it
// targets: a single lookup for a concrete entity id, or a fan-out over
// every endpoint of the opposite direction for the UNKNOWN wildcard.
// destEntity is the submessage's destination entity id; a concrete id is
// looked up together with ctx.DestGuidPrefix. toWriters selects which
// local direction UNKNOWN fans out to (true delivers to local writers,
// e.g. an ACKNACK).
func (t *Table) Route(ctx wire.ReceiverContext, msg wire.Submessage, destEntity guid.EntityId, toWriters bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if destEntity.IsUnknown() {
		targets := t.readers
		if toWriters {
			targets = t.writers
		}
		for _, e := range targets {
			e.Deliver(ctx, msg)
		}
		return
	}

	g := guid.GUID{Prefix: ctx.DestGuidPrefix, Entity: destEntity}
	if e, ok := t.byGUID[g]; ok {
		e.Deliver(ctx, msg)
	}
}
