// Package writer implements the local writer endpoint state machine:
// change publication, per-matched-reader proxy bookkeeping, heartbeat
// scheduling, and ACKNACK/NACK_FRAG-driven retransmission. One Writer
// serves both best-effort and reliable QoS; the reliability snapshot
// passed at construction selects which of the two behaviors applies.
package writer

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-rtps/engine/rtpsnet/cclist"
	"github.com/go-rtps/engine/rtpsnet/change"
	"github.com/go-rtps/engine/rtpsnet/fragment"
	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/hc"
	"github.com/go-rtps/engine/rtpsnet/locator"
	"github.com/go-rtps/engine/rtpsnet/proxy"
	"github.com/go-rtps/engine/rtpsnet/qos"
	"github.com/go-rtps/engine/rtpsnet/security"
	"github.com/go-rtps/engine/rtpsnet/seqnum"
	"github.com/go-rtps/engine/rtpsnet/stats"
	"github.com/go-rtps/engine/rtpsnet/timer"
	"github.com/go-rtps/engine/rtpsnet/wire"
	"github.com/go-rtps/engine/rtpsnet/worker"
)

// ackState is the per-proxy ack-state-machine position a matched reader
// cycles through between ACKNACK arrivals and NACK-response timer fires.
type ackState int

const (
	ackWaiting ackState = iota
	ackMustRepair
	ackRepairing
)

// matchedReader pairs a RemReader's bookkeeping with the locators used
// to actually address it.
type matchedReader struct {
	rr       *proxy.RemReader
	locators locator.List

	mu               sync.Mutex
	ackState         ackState
	pendingRequested map[seqnum.SequenceNumber]bool
	nackHandle       *timer.Handle
}

// Locators returns the current locator set, synchronized against
// resetLocators.
func (mr *matchedReader) Locators() locator.List {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return mr.locators
}

// resetLocators rotates the selected reply locator to the back of the
// list, forcing the next send to try a different path.
func (mr *matchedReader) resetLocators() {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if len(mr.locators) > 1 {
		rotated := make(locator.List, 0, len(mr.locators))
		rotated = append(rotated, mr.locators[1:]...)
		rotated = append(rotated, mr.locators[0])
		mr.locators = rotated
	}
}

// Writer publishes changes to every matched reader and, for Reliable
// QoS, drives heartbeats and answers ACKNACK/NACK_FRAG until every
// matched reader has caught up.
type Writer struct {
	worker.Worker

	mu sync.Mutex

	self      guid.GUID
	handle    change.WriterHandle
	qos       qos.Snapshot
	cache     hc.Cache
	transform security.Transform
	transport locator.Transport
	sched     *timer.Scheduler
	vendor    wire.VendorId
	fragSize  uint32
	collector *stats.Collector

	list    *cclist.List
	readers map[guid.GUID]*matchedReader

	heartbeatCount uint32
	hbHandle       *timer.Handle
	heartbeatEvery time.Duration
	backoff        uint32

	nackResponseDelay time.Duration
}

// maxHeartbeatBackoff is the backoff exponent ceiling (property 6: period
// at backoff b is base*2^min(b,7)).
const maxHeartbeatBackoff = 7

// pathResetBackoff is the backoff threshold past which an unacknowledged
// proxy's reply locator is reset to force path reselection.
const pathResetBackoff = 4

// heartbeatPeriod applies the backoff exponent to the base period.
func heartbeatPeriod(base time.Duration, backoff uint32) time.Duration {
	if backoff > maxHeartbeatBackoff {
		backoff = maxHeartbeatBackoff
	}
	return base * time.Duration(uint64(1)<<backoff)
}

// Config groups the collaborators a Writer needs. A nil Transform
// defaults to security.NoopTransform; Collector and Scheduler may be nil
// (without a Scheduler no heartbeat or NACK-response timers run, and
// ACKNACK repairs are activated immediately). FragSize 0 disables
// fragmentation.
type Config struct {
	Self              guid.GUID
	Handle            change.WriterHandle
	QoS               qos.Snapshot
	Cache             hc.Cache
	Transform         security.Transform
	Transport         locator.Transport
	Scheduler         *timer.Scheduler
	Vendor            wire.VendorId
	FragSize          uint32
	Heartbeat         time.Duration
	NackResponseDelay time.Duration
	Collector         *stats.Collector
}

// New builds a Writer from cfg. Reliable writers start their heartbeat
// loop immediately; best-effort writers never schedule one.
func New(cfg Config) *Writer {
	if cfg.Transform == nil {
		cfg.Transform = security.NoopTransform{}
	}
	w := &Writer{
		self:              cfg.Self,
		handle:            cfg.Handle,
		qos:               cfg.QoS,
		cache:             cfg.Cache,
		transform:         cfg.Transform,
		transport:         cfg.Transport,
		sched:             cfg.Scheduler,
		vendor:            cfg.Vendor,
		fragSize:          cfg.FragSize,
		collector:         cfg.Collector,
		list:              cclist.New(),
		readers:           make(map[guid.GUID]*matchedReader),
		heartbeatEvery:    cfg.Heartbeat,
		nackResponseDelay: cfg.NackResponseDelay,
	}
	if w.qos.Reliability == qos.Reliable && w.sched != nil {
		w.scheduleHeartbeat()
	}
	return w
}

// GUID implements dispatch.Endpoint.
func (w *Writer) GUID() guid.GUID { return w.self }

// Deliver implements dispatch.Endpoint: a writer only receives
// reader-originated control submessages.
func (w *Writer) Deliver(ctx wire.ReceiverContext, msg wire.Submessage) {
	switch m := msg.(type) {
	case *wire.AckNack:
		w.handleAckNack(ctx, m)
	case *wire.NackFrag:
		w.handleNackFrag(ctx, m)
	}
}

// MatchReader registers a newly-discovered remote reader. TransientLocal
// (or stronger) durability replays retained history to it immediately.
func (w *Writer) MatchReader(g guid.GUID, locs locator.List) *proxy.RemReader {
	w.mu.Lock()
	rr := proxy.NewRemReader(g)
	mr := &matchedReader{rr: rr, locators: locs, pendingRequested: make(map[seqnum.SequenceNumber]bool)}
	w.readers[g] = mr
	w.mu.Unlock()

	w.Go(func() { w.resendLoop(mr) })

	if w.qos.Durability.AtLeastTransientLocal() {
		for _, c := range w.cache.Replay(w.handle) {
			rr.Activate(c.Seqnr)
		}
	}
	return rr
}

// UnmatchReader forgets a remote reader and stops its resend worker.
func (w *Writer) UnmatchReader(g guid.GUID) {
	w.mu.Lock()
	mr, ok := w.readers[g]
	delete(w.readers, g)
	w.mu.Unlock()
	if ok {
		mr.mu.Lock()
		if mr.nackHandle != nil {
			mr.nackHandle.Cancel()
		}
		mr.mu.Unlock()
		mr.rr.Close()
	}
}

// Close unmatches every remaining reader, so each resend worker's
// channel drains and exits, then halts the heartbeat timer and waits
// for every worker goroutine this writer launched to return.
func (w *Writer) Close() {
	w.mu.Lock()
	guids := make([]guid.GUID, 0, len(w.readers))
	for g := range w.readers {
		guids = append(guids, g)
	}
	w.mu.Unlock()
	for _, g := range guids {
		w.UnmatchReader(g)
	}

	w.mu.Lock()
	if w.hbHandle != nil {
		w.hbHandle.Cancel()
		w.hbHandle = nil
	}
	w.mu.Unlock()

	w.Halt()
	w.Wait()
}

// Write publishes a new sample to every matched reader. Best-effort
// writers send it immediately; reliable writers enqueue it and let the
// heartbeat/acknack loop drive delivery and retransmission.
func (w *Writer) Write(keyHash guid.KeyHash, payload []byte) *change.Change {
	return w.write(keyHash, payload, nil)
}

// WriteDirected publishes a sample restricted to the given reader GUIDs
// (inline-QoS DIRECTED_WRITE): readers outside targets must never
// observe it, at both the initial send and any later resend.
func (w *Writer) WriteDirected(keyHash guid.KeyHash, payload []byte, targets []guid.GUID) *change.Change {
	return w.write(keyHash, payload, targets)
}

func (w *Writer) write(keyHash guid.KeyHash, payload []byte, targets []guid.GUID) *change.Change {
	c := w.cache.NewChange(w.handle, keyHash)

	w.mu.Lock()
	seq := w.list.Last().Next()
	if w.list.Empty() {
		seq = seqnum.First
	}
	w.mu.Unlock()

	c.WithHeader(c.InstanceHandle, seq)
	c.Kind = change.Alive
	c.Payload = change.NewBuffer(payload)
	c.DirectedWrite = targets
	w.cache.Add(c)

	w.mu.Lock()
	w.list.AddRelevant(c, c.InstanceHandle, cclist.Unsent, true)
	readers := make([]*matchedReader, 0, len(w.readers))
	for _, mr := range w.readers {
		readers = append(readers, mr)
	}
	w.mu.Unlock()

	if w.collector != nil {
		w.collector.DataSent.Inc()
	}

	for _, mr := range readers {
		if !c.IsDirectedTo(mr.rr.GUID) {
			continue
		}
		if w.qos.Reliability == qos.BestEffort {
			_ = w.sendChangeTo(mr, c)
		} else {
			mr.rr.Activate(c.Seqnr)
		}
	}
	w.ensureHeartbeatRunning()
	return c
}

// resendLoop drains one matched reader's active queue, sending (or
// re-sending) whichever sequence number was activated.
func (w *Writer) resendLoop(mr *matchedReader) {
	for v := range mr.rr.Out() {
		seq, ok := v.(seqnum.SequenceNumber)
		if !ok {
			continue
		}
		w.mu.Lock()
		ref := w.list.Find(seq)
		w.mu.Unlock()
		if ref == nil || !ref.Relevant {
			w.sendGapTo(mr, seq)
			continue
		}
		if !ref.Change.IsDirectedTo(mr.rr.GUID) {
			continue
		}
		if err := w.sendChangeTo(mr, ref.Change); err == nil {
			mr.rr.MarkRequested(seq)
			if w.collector != nil {
				w.collector.Retransmissions.Inc()
			}
		}
	}
}

// sendChangeTo serializes and transmits one change to a single matched
// reader, fragmenting it if it exceeds fragSize.
func (w *Writer) sendChangeTo(mr *matchedReader, c *change.Change) error {
	if w.transport == nil {
		return nil
	}
	payload, err := w.transform.Seal(c.Payload.Bytes())
	if err != nil {
		return fmt.Errorf("writer: seal: %w", err)
	}

	b := wire.NewBuilder(w.self.Prefix, w.vendor)
	b.InfoTS(wire.InfoTS{Timestamp: c.SourceTimestamp})

	if w.fragSize > 0 && uint32(len(payload)) > w.fragSize {
		frags := fragment.Split(payload, w.fragSize)
		for i, f := range frags {
			b.Add(&wire.DataFrag{
				Flags:        wire.DataFlags{HasInlineQos: true},
				ReaderId:     mr.rr.GUID.Entity,
				WriterId:     w.self.Entity,
				WriterSeqnr:  c.Seqnr,
				FragStart:    uint32(i) + 1,
				FragsInSub:   1,
				FragSize:     uint16(w.fragSize),
				SampleSize:   uint32(len(payload)),
				InlineQos:    &wire.InlineQos{KeyHash: keyHashPtr(c.KeyHash), DirectedWrite: c.DirectedWrite},
				FragmentData: f,
			})
			if w.collector != nil {
				w.collector.DataFragSent.Inc()
			}
		}
	} else {
		b.Add(&wire.Data{
			Flags:             wire.DataFlags{HasInlineQos: true},
			ReaderId:          mr.rr.GUID.Entity,
			WriterId:          w.self.Entity,
			WriterSeqnr:       c.Seqnr,
			InlineQos:         &wire.InlineQos{KeyHash: keyHashPtr(c.KeyHash), DirectedWrite: c.DirectedWrite},
			SerializedPayload: payload,
		})
	}
	return w.transmit(mr.Locators(), b)
}

// sendGapTo informs a reader that a requested sequence number will
// never be sent, typically because it was already evicted from cache.
func (w *Writer) sendGapTo(mr *matchedReader, seq seqnum.SequenceNumber) {
	b := wire.NewBuilder(w.self.Prefix, w.vendor)
	b.Add(&wire.Gap{
		ReaderId:    mr.rr.GUID.Entity,
		WriterId:    w.self.Entity,
		GapStart:    seq,
		GapListBase: seq.Next(),
	})
	_ = w.transmit(mr.Locators(), b)
	if w.collector != nil {
		w.collector.GapsSent.Inc()
	}
}

func (w *Writer) transmit(dst locator.List, b *wire.Builder) error {
	for _, dgram := range b.Bytes(0) {
		if err := w.transport.Send(dst, dgram); err != nil {
			return err
		}
	}
	return nil
}

// scheduleHeartbeat arranges the next periodic heartbeat broadcast, with
// the period stretched by the current backoff exponent.
func (w *Writer) scheduleHeartbeat() {
	w.mu.Lock()
	period := heartbeatPeriod(w.heartbeatEvery, w.backoff)
	w.mu.Unlock()
	handle := w.sched.After(period, timer.KindHeartbeat, w.sendHeartbeat)
	w.mu.Lock()
	w.hbHandle = handle
	w.mu.Unlock()
}

// ensureHeartbeatRunning (re)starts the heartbeat timer if it had been
// stopped for lack of pending data and a fresh write just supplied some.
func (w *Writer) ensureHeartbeatRunning() {
	if w.qos.Reliability != qos.Reliable || w.sched == nil {
		return
	}
	w.mu.Lock()
	running := w.hbHandle != nil
	w.mu.Unlock()
	if !running {
		w.scheduleHeartbeat()
	}
}

func (w *Writer) sendHeartbeat() {
	w.mu.Lock()
	w.heartbeatCount++
	count := w.heartbeatCount
	first, last := w.list.First(), w.list.Last()
	readers := make([]*matchedReader, 0, len(w.readers))
	pending := false
	for _, mr := range w.readers {
		readers = append(readers, mr)
		if last != seqnum.Unknown && mr.rr.AckedSeq() < last {
			pending = true
		}
	}
	w.mu.Unlock()

	hb := &wire.Heartbeat{
		WriterId: w.self.Entity,
		First:    first,
		Last:     last,
		Count:    count,
		Final:    last == seqnum.Unknown,
	}
	for _, mr := range readers {
		if last != seqnum.Unknown && mr.rr.AckedSeq() >= last {
			continue
		}
		b := wire.NewBuilder(w.self.Prefix, w.vendor)
		hb.ReaderId = mr.rr.GUID.Entity
		b.Add(hb)
		_ = w.transmit(mr.Locators(), b)
	}
	if w.collector != nil {
		w.collector.HeartbeatsSent.Inc()
	}

	w.mu.Lock()
	if !pending {
		// Nothing left to acknowledge: stop the timer until a write
		// arrives again (ensureHeartbeatRunning restarts it then).
		w.hbHandle = nil
		w.mu.Unlock()
		return
	}
	if w.backoff < maxHeartbeatBackoff {
		w.backoff++
	}
	backoffNow := w.backoff
	w.mu.Unlock()

	if backoffNow > pathResetBackoff {
		for _, mr := range readers {
			if last != seqnum.Unknown && mr.rr.AckedSeq() < last {
				mr.resetLocators()
			}
		}
	}
	w.scheduleHeartbeat()
}

// resetBackoff clears the heartbeat backoff exponent, called whenever
// any ACKNACK arrives confirming the path to a reader is still live.
func (w *Writer) resetBackoff() {
	w.mu.Lock()
	w.backoff = 0
	w.mu.Unlock()
}

// handleAckNack updates a matched reader's acked/requested state and
// trims the writer's list once every matched reader has caught up. Any
// requested bits move the proxy's ack state to MUST_REPAIR and arm the
// NACK-response timer rather than resending inline.
func (w *Writer) handleAckNack(ctx wire.ReceiverContext, m *wire.AckNack) {
	w.mu.Lock()
	mr, ok := w.readers[guid.GUID{Prefix: ctx.SourceGuidPrefix, Entity: m.ReaderId}]
	w.mu.Unlock()
	if !ok {
		return
	}
	if w.collector != nil {
		w.collector.AckNacksReceived.Inc()
	}
	// Any received ACKNACK confirms the path is alive.
	w.resetBackoff()

	// An initial ACKNACK (base=0, empty bitmap) is a reachability probe:
	// it elicits a heartbeat but never changes acknowledgement state.
	if !m.Base.Valid() && len(m.Bitmap) == 0 {
		if !m.Final {
			w.sendHeartbeat()
		}
		return
	}

	if m.Base.Valid() {
		mr.rr.MarkAcked(m.Base.Prev())
	}
	w.trimAcked()

	var requested []seqnum.SequenceNumber
	for i, want := range m.Bitmap {
		if !want {
			continue
		}
		requested = append(requested, m.Base+seqnum.SequenceNumber(i))
	}
	if len(requested) == 0 {
		return
	}

	mr.mu.Lock()
	for _, s := range requested {
		mr.pendingRequested[s] = true
	}
	wasWaiting := mr.ackState == ackWaiting
	mr.ackState = ackMustRepair
	mr.mu.Unlock()
	if !wasWaiting {
		return
	}

	if w.sched == nil {
		w.repair(mr)
		return
	}
	mr.mu.Lock()
	mr.nackHandle = w.sched.After(w.nackResponseDelay, timer.KindNackResponse, func() {
		w.repair(mr)
	})
	mr.mu.Unlock()
}

// repair drains a matched reader's pending-requested set, moving its ack
// state to REPAIRING and activating the resend queue for each one, then
// returns it to WAITING. It is the NACK-response timer's expiry action.
func (w *Writer) repair(mr *matchedReader) {
	mr.mu.Lock()
	pending := make([]seqnum.SequenceNumber, 0, len(mr.pendingRequested))
	for s := range mr.pendingRequested {
		pending = append(pending, s)
		delete(mr.pendingRequested, s)
	}
	mr.ackState = ackRepairing
	mr.nackHandle = nil
	mr.mu.Unlock()

	for _, s := range pending {
		mr.rr.Activate(s)
	}

	mr.mu.Lock()
	mr.ackState = ackWaiting
	mr.mu.Unlock()
}

// handleNackFrag re-activates a change so its resend picks up the
// missing fragments; full per-fragment resend granularity is left to a
// future refinement since sendChangeTo already resends the whole
// sample.
func (w *Writer) handleNackFrag(ctx wire.ReceiverContext, m *wire.NackFrag) {
	w.mu.Lock()
	mr, ok := w.readers[guid.GUID{Prefix: ctx.SourceGuidPrefix, Entity: m.ReaderId}]
	w.mu.Unlock()
	if !ok {
		return
	}
	mr.rr.Activate(m.Seqnr)
}

// trimAcked releases leading entries once every matched reader has
// acknowledged past them, letting the history cache reclaim them.
func (w *Writer) trimAcked() {
	w.mu.Lock()
	readers := make([]*matchedReader, 0, len(w.readers))
	for _, mr := range w.readers {
		readers = append(readers, mr)
	}
	w.mu.Unlock()

	if len(readers) == 0 {
		return
	}

	// An entry is droppable once every reader it was actually directed to
	// has acknowledged past it; a reader outside a DIRECTED_WRITE target
	// set never gates release of a sample it was never meant to see.
	dropped := w.list.DropLeadingWhile(func(r *cclist.Ref) bool {
		if !r.Relevant {
			return false
		}
		for _, mr := range readers {
			if !r.Change.IsDirectedTo(mr.rr.GUID) {
				continue
			}
			if mr.rr.AckedSeq() < r.Seqnr() {
				return false
			}
		}
		return true
	})
	for _, r := range dropped {
		w.cache.Acknowledged(r.Change)
	}
}

func keyHashPtr(kh guid.KeyHash) *guid.KeyHash {
	if kh == (guid.KeyHash{}) {
		return nil
	}
	return &kh
}
