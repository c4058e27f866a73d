// Package proxy tracks the per-peer state a local writer keeps for each
// matched remote reader (RemReader), and a local reader keeps for each
// matched remote writer (RemWriter), including the unbounded
// active-send queue used to hand retransmission work to a resend
// worker without blocking the protocol state machine.
package proxy

import (
	"sync"
	"time"

	"gopkg.in/eapache/channels.v1"

	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/seqnum"
)

// RemReader is a local reliable writer's view of one matched remote
// reader: what it has acknowledged, what it still wants, and a
// per-sequence-number send counter. Nothing in this package backs off
// on that counter.
type RemReader struct {
	mu sync.Mutex

	GUID     guid.GUID
	Locators []guid.GUID // unused: no code reads or writes this field

	AckedUpTo  seqnum.SequenceNumber
	Requested  map[seqnum.SequenceNumber]bool
	LastActive time.Time

	// Retransmissions counts how many times a change has been resent to
	// this reader since its last ACK, per sequence number.
	Retransmissions map[seqnum.SequenceNumber]uint32

	active *channels.InfiniteChannel
}

// NewRemReader creates a RemReader with its active-send queue ready.
func NewRemReader(g guid.GUID) *RemReader {
	return &RemReader{
		GUID:            g,
		Requested:       make(map[seqnum.SequenceNumber]bool),
		Retransmissions: make(map[seqnum.SequenceNumber]uint32),
		active:          channels.NewInfiniteChannel(),
	}
}

// Activate enqueues a sequence number for the resend worker to send (or
// re-send) to this reader. Never blocks, even under heavy backlog.
func (r *RemReader) Activate(s seqnum.SequenceNumber) {
	r.active.In() <- s
}

// Out exposes the channel a resend worker ranges over to drain queued
// work.
func (r *RemReader) Out() <-chan interface{} {
	return r.active.Out()
}

// Close shuts down the active queue; callers must stop using Activate
// afterward.
func (r *RemReader) Close() {
	r.active.Close()
}

// MarkAcked records that everything up to and including s has been
// acknowledged, clearing retransmission counters for those entries.
func (r *RemReader) MarkAcked(s seqnum.SequenceNumber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s > r.AckedUpTo {
		r.AckedUpTo = s
	}
	for seq := range r.Retransmissions {
		if seq <= s {
			delete(r.Retransmissions, seq)
			delete(r.Requested, seq)
		}
	}
}

// AckedSeq returns the highest sequence number acknowledged so far.
func (r *RemReader) AckedSeq() seqnum.SequenceNumber {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.AckedUpTo
}

// MarkRequested records a NACK for s and bumps its retransmission
// counter, returning the new count.
func (r *RemReader) MarkRequested(s seqnum.SequenceNumber) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Requested[s] = true
	r.Retransmissions[s]++
	r.LastActive = time.Now()
	return r.Retransmissions[s]
}

// RemWriter is a local reader's view of one matched remote writer:
// liveness and the highest sequence number it has announced.
type RemWriter struct {
	mu sync.Mutex

	GUID guid.GUID

	AnnouncedFirst seqnum.SequenceNumber
	AnnouncedLast  seqnum.SequenceNumber
	LastHeartbeat  time.Time
	HeartbeatCount uint32
}

// NewRemWriter creates a RemWriter tracking state for g.
func NewRemWriter(g guid.GUID) *RemWriter {
	return &RemWriter{GUID: g}
}

// OnHeartbeat updates the announced range if count is newer than the
// last one seen, returning false for a stale/duplicate heartbeat.
func (w *RemWriter) OnHeartbeat(first, last seqnum.SequenceNumber, count uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if count <= w.HeartbeatCount && w.HeartbeatCount != 0 {
		return false
	}
	w.HeartbeatCount = count
	w.AnnouncedFirst = first
	w.AnnouncedLast = last
	w.LastHeartbeat = time.Now()
	return true
}
