// Package hc defines the narrow history-cache collaborator interface
// the protocol engine depends on, plus an in-memory implementation
// usable by tests and simple deployments. The engine never inspects
// sample content; it only retains, looks up, and acknowledges changes
// through this interface.
package hc

import (
	"sort"
	"sync"

	"github.com/go-rtps/engine/rtpsnet/change"
	"github.com/go-rtps/engine/rtpsnet/guid"
)

// Cache is the collaborator interface a writer or reader state machine
// uses to store and retrieve samples. Implementations must be safe for
// concurrent use.
type Cache interface {
	// NewChange allocates a change with a refcount of 1 for a freshly
	// published sample; instance/key resolution happens before this call
	// returns.
	NewChange(writer change.WriterHandle, keyHash guid.KeyHash) *change.Change

	// Add stores c; a bounded cache may evict the oldest change of the
	// same instance (key hash) to stay within its retention depth.
	Add(c *change.Change)

	// LookupByHash finds the most recent change for the given key hash,
	// nil if none exists.
	LookupByHash(keyHash guid.KeyHash) *change.Change

	// Acknowledged is called once every matched reader has acknowledged
	// c, letting a KEEP_LAST cache release it early.
	Acknowledged(c *change.Change)

	// Replay returns every retained change for a writer, oldest first,
	// used when a reader first matches a TRANSIENT_LOCAL writer.
	Replay(writer change.WriterHandle) []*change.Change

	// SeqnrInfo returns the oldest and newest retained sequence numbers
	// for a writer, used to seed a fresh CCList.
	SeqnrInfo(writer change.WriterHandle) (first, last uint64, ok bool)
}

// instanceEntry tracks the changes retained for one instance (topic key).
type instanceEntry struct {
	changes []*change.Change // ordered oldest-first
}

// MemoryCache is a simple in-process Cache keyed by writer and instance,
// retaining up to depth changes per instance (0 means unbounded, i.e.
// KEEP_ALL).
type MemoryCache struct {
	mu    sync.Mutex
	depth int

	byWriter    map[change.WriterHandle]map[guid.KeyHash]*instanceEntry
	byKeyHash   map[guid.KeyHash]*change.Change
	nextHandle  uint64
}

// NewMemoryCache returns a MemoryCache retaining up to depth samples per
// instance. depth <= 0 means unbounded retention.
func NewMemoryCache(depth int) *MemoryCache {
	return &MemoryCache{
		depth:     depth,
		byWriter:  make(map[change.WriterHandle]map[guid.KeyHash]*instanceEntry),
		byKeyHash: make(map[guid.KeyHash]*change.Change),
	}
}

func (m *MemoryCache) NewChange(writer change.WriterHandle, keyHash guid.KeyHash) *change.Change {
	c := change.New()
	c.WriterHandle = writer
	c.KeyHash = keyHash
	m.mu.Lock()
	m.nextHandle++
	h := m.nextHandle
	m.mu.Unlock()
	return c.WithHeader(change.InstanceHandle(h), c.Seqnr)
}

func (m *MemoryCache) Add(c *change.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()

	perWriter, ok := m.byWriter[c.WriterHandle]
	if !ok {
		perWriter = make(map[guid.KeyHash]*instanceEntry)
		m.byWriter[c.WriterHandle] = perWriter
	}
	inst, ok := perWriter[c.KeyHash]
	if !ok {
		inst = &instanceEntry{}
		perWriter[c.KeyHash] = inst
	}
	inst.changes = append(inst.changes, c)
	if m.depth > 0 && len(inst.changes) > m.depth {
		evicted := inst.changes[0]
		inst.changes = inst.changes[1:]
		evicted.Free()
	}
	m.byKeyHash[c.KeyHash] = c
}

func (m *MemoryCache) LookupByHash(keyHash guid.KeyHash) *change.Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKeyHash[keyHash]
}

func (m *MemoryCache) Acknowledged(c *change.Change) {
	if m.depth <= 0 {
		return // KEEP_ALL: retention is caller-driven, not ack-driven
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.byWriter[c.WriterHandle][c.KeyHash]
	if !ok {
		return
	}
	for i, ch := range inst.changes {
		if ch == c {
			inst.changes = append(inst.changes[:i], inst.changes[i+1:]...)
			c.Free()
			return
		}
	}
}

func (m *MemoryCache) Replay(writer change.WriterHandle) []*change.Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*change.Change
	for _, inst := range m.byWriter[writer] {
		out = append(out, inst.changes...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seqnr < out[j].Seqnr })
	return out
}

func (m *MemoryCache) SeqnrInfo(writer change.WriterHandle) (first, last uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var lo, hi uint64
	found := false
	for _, inst := range m.byWriter[writer] {
		for _, c := range inst.changes {
			s := uint64(c.Seqnr)
			if !found {
				lo, hi = s, s
				found = true
				continue
			}
			if s < lo {
				lo = s
			}
			if s > hi {
				hi = s
			}
		}
	}
	return lo, hi, found
}
