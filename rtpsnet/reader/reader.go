// Package reader implements the local reader endpoint state machine:
// per-matched-writer proxy bookkeeping, DATA/DATA_FRAG ingestion into
// the history cache, fragment reassembly, and heartbeat-driven
// ACKNACK/NACK_FRAG emission.
package reader

import (
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

// matchedWriter tracks one remote writer this reader has matched:
// liveness/announced-range state, the locally-received change list, and
// any in-flight fragment reassembly.
type matchedWriter struct {
	mu sync.Mutex

	rw       *proxy.RemWriter
	handle   change.WriterHandle
	locators locator.List
	list     *cclist.List

	frags map[seqnum.SequenceNumber]*fragment.Info

	ackNackCount uint32
	ackHandle    *timer.Handle
}

// Reader receives changes from every matched writer. For Reliable QoS
// it answers HEARTBEAT with ACKNACK, requests missing fragments with
// NACK_FRAG, and honors GAP.
type Reader struct {
	worker.Worker

	mu sync.Mutex

	self      guid.GUID
	qos       qos.Snapshot
	cache     hc.Cache
	transform security.Transform
	transport locator.Transport
	sched     *timer.Scheduler
	vendor    wire.VendorId
	collector *stats.Collector

	nackResponseDelay time.Duration

	writers       map[guid.GUID]*matchedWriter
	nextHandle    uint64
}

// Config groups the collaborators a Reader needs. A nil Transform
// defaults to security.NoopTransform; Collector, Scheduler and Transport
// may be nil. Without a Scheduler an ACKNACK is sent as soon as a
// HEARTBEAT arrives and no reassembly sweep runs; without a Transport
// nothing is transmitted.
type Config struct {
	Self              guid.GUID
	QoS               qos.Snapshot
	Cache             hc.Cache
	Transform         security.Transform
	Transport         locator.Transport
	Scheduler         *timer.Scheduler
	Vendor            wire.VendorId
	NackResponseDelay time.Duration
	Collector         *stats.Collector
}

// New builds a Reader from cfg.
func New(cfg Config) *Reader {
	if cfg.Transform == nil {
		cfg.Transform = security.NoopTransform{}
	}
	r := &Reader{
		self:              cfg.Self,
		qos:               cfg.QoS,
		cache:             cfg.Cache,
		transform:         cfg.Transform,
		transport:         cfg.Transport,
		sched:             cfg.Scheduler,
		vendor:            cfg.Vendor,
		collector:         cfg.Collector,
		nackResponseDelay: cfg.NackResponseDelay,
		writers:           make(map[guid.GUID]*matchedWriter),
	}
	if r.sched != nil {
		r.sched.After(fragment.ReassemblyTimeout, timer.KindReassembly, r.sweepReassembly)
	}
	return r
}

// GUID implements dispatch.Endpoint.
func (r *Reader) GUID() guid.GUID { return r.self }

// Deliver implements dispatch.Endpoint.
func (r *Reader) Deliver(ctx wire.ReceiverContext, msg wire.Submessage) {
	switch m := msg.(type) {
	case *wire.Data:
		r.handleData(ctx, m)
	case *wire.DataFrag:
		r.handleDataFrag(ctx, m)
	case *wire.Heartbeat:
		r.handleHeartbeat(ctx, m)
	case *wire.Gap:
		r.handleGap(ctx, m)
	}
}

// MatchWriter registers a newly-discovered remote writer. Required
// before any DATA/HEARTBEAT from it is accepted.
func (r *Reader) MatchWriter(g guid.GUID, locs locator.List) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.writers[g]; ok {
		return
	}
	r.nextHandle++
	r.writers[g] = &matchedWriter{
		rw:       proxy.NewRemWriter(g),
		handle:   change.WriterHandle(r.nextHandle),
		locators: locs,
		list:     cclist.New(),
		frags:    make(map[seqnum.SequenceNumber]*fragment.Info),
	}
}

// UnmatchWriter forgets a remote writer.
func (r *Reader) UnmatchWriter(g guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mw, ok := r.writers[g]; ok {
		mw.ackHandle.Cancel()
	}
	delete(r.writers, g)
}

func (r *Reader) lookup(prefix guid.Prefix, writerId guid.EntityId) *matchedWriter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writers[guid.GUID{Prefix: prefix, Entity: writerId}]
}

// isDirectedToMe enforces DIRECTED_WRITE isolation on the receive side:
// a sample naming an explicit reader set must be dropped by every reader
// not named, even if it somehow reaches one over a shared multicast
// locator. No DirectedWrite list means the sample is for everyone.
func isDirectedToMe(self guid.GUID, iq *wire.InlineQos) bool {
	if iq == nil || len(iq.DirectedWrite) == 0 {
		return true
	}
	for _, g := range iq.DirectedWrite {
		if g.Equal(self) {
			return true
		}
	}
	return false
}

// sweepReassembly discards any in-flight fragment reassembly that has
// sat incomplete past its deadline, then reschedules itself.
func (r *Reader) sweepReassembly() {
	now := time.Now()
	r.mu.Lock()
	writers := make([]*matchedWriter, 0, len(r.writers))
	for _, mw := range r.writers {
		writers = append(writers, mw)
	}
	r.mu.Unlock()

	for _, mw := range writers {
		mw.mu.Lock()
		for seq, fi := range mw.frags {
			if fi.Expired(now) {
				delete(mw.frags, seq)
				if r.collector != nil {
					r.collector.ReassemblyTimeouts.Inc()
				}
			}
		}
		mw.mu.Unlock()
	}

	if r.sched != nil {
		r.sched.After(fragment.ReassemblyTimeout, timer.KindReassembly, r.sweepReassembly)
	}
}

// handleData ingests one complete sample.
func (r *Reader) handleData(ctx wire.ReceiverContext, d *wire.Data) {
	mw := r.lookup(ctx.SourceGuidPrefix, d.WriterId)
	if mw == nil {
		return
	}
	if !isDirectedToMe(r.self, d.InlineQos) {
		return
	}

	mw.mu.Lock()
	defer mw.mu.Unlock()
	if existing := mw.list.Find(d.WriterSeqnr); existing != nil && existing.Relevant {
		return
	}

	plaintext, err := r.transform.Open(d.SerializedPayload)
	if err != nil {
		return
	}

	var keyHash guid.KeyHash
	if d.InlineQos != nil && d.InlineQos.KeyHash != nil {
		keyHash = *d.InlineQos.KeyHash
	}
	c := r.cache.NewChange(mw.handle, keyHash)
	c.WithHeader(c.InstanceHandle, d.WriterSeqnr)
	if d.InlineQos != nil && d.InlineQos.Status != nil {
		switch {
		case d.InlineQos.Status.Disposed:
			c.Kind = change.Disposed
		case d.InlineQos.Status.Unregistered:
			c.Kind = change.Unregistered
		}
	}
	c.Payload = change.NewBuffer(plaintext)
	r.cache.Add(c)
	mw.list.AddRelevant(c, c.InstanceHandle, cclist.Received, true)

	if r.collector != nil {
		r.collector.DataReceived.Inc()
	}
}

// handleDataFrag ingests one fragment span, reassembling and delivering
// the sample once complete.
func (r *Reader) handleDataFrag(ctx wire.ReceiverContext, d *wire.DataFrag) {
	mw := r.lookup(ctx.SourceGuidPrefix, d.WriterId)
	if mw == nil {
		return
	}
	if !isDirectedToMe(r.self, d.InlineQos) {
		return
	}
	mw.mu.Lock()

	if existing := mw.list.Find(d.WriterSeqnr); existing != nil && existing.Relevant {
		mw.mu.Unlock()
		return
	}
	if d.FragSize == 0 {
		mw.mu.Unlock()
		return
	}
	fi, ok := mw.frags[d.WriterSeqnr]
	if !ok {
		fi = fragment.New(d.SampleSize, uint32(d.FragSize))
		mw.frags[d.WriterSeqnr] = fi
	}
	fi.Mark(d.FragStart, uint32(d.FragsInSub), d.FragmentData)

	if r.collector != nil {
		r.collector.DataFragReceived.Inc()
	}

	if !fi.Complete() {
		missing := fi.MissingBitmap()
		base := fi.FirstMissing() + 1
		mw.mu.Unlock()
		r.sendNackFrag(mw, d.WriterId, d.WriterSeqnr, base, missing)
		return
	}

	delete(mw.frags, d.WriterSeqnr)
	assembled := fi.Assembled()
	mw.mu.Unlock()

	plaintext, err := r.transform.Open(assembled)
	if err != nil {
		return
	}
	var keyHash guid.KeyHash
	if d.InlineQos != nil && d.InlineQos.KeyHash != nil {
		keyHash = *d.InlineQos.KeyHash
	}
	c := r.cache.NewChange(mw.handle, keyHash)
	c.WithHeader(c.InstanceHandle, d.WriterSeqnr)
	c.Payload = change.NewBuffer(plaintext)
	r.cache.Add(c)

	mw.mu.Lock()
	mw.list.AddRelevant(c, c.InstanceHandle, cclist.Received, true)
	mw.mu.Unlock()
}

// handleHeartbeat updates the writer's announced range and schedules an
// ACKNACK response after the nack-response delay, coalescing any
// heartbeat that arrives before the previous response fired.
func (r *Reader) handleHeartbeat(ctx wire.ReceiverContext, hb *wire.Heartbeat) {
	if r.qos.Reliability == qos.BestEffort {
		return
	}
	mw := r.lookup(ctx.SourceGuidPrefix, hb.WriterId)
	if mw == nil {
		return
	}
	if !mw.rw.OnHeartbeat(hb.First, hb.Last, hb.Count) {
		return
	}
	writerGUID := guid.GUID{Prefix: ctx.SourceGuidPrefix, Entity: hb.WriterId}

	mw.mu.Lock()
	if mw.ackHandle != nil {
		mw.ackHandle.Cancel()
	}
	mw.mu.Unlock()

	if r.sched == nil {
		r.sendAckNack(mw, writerGUID)
		return
	}
	handle := r.sched.After(r.nackResponseDelay, timer.KindAckNackResponse, func() {
		r.sendAckNack(mw, writerGUID)
	})
	mw.mu.Lock()
	mw.ackHandle = handle
	mw.mu.Unlock()
}

// handleGap marks an announced-but-unavailable range as lost so the
// ACKNACK loop stops requesting it.
func (r *Reader) handleGap(ctx wire.ReceiverContext, g *wire.Gap) {
	mw := r.lookup(ctx.SourceGuidPrefix, g.WriterId)
	if mw == nil {
		return
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if !g.GapListBase.Valid() {
		return
	}
	last := g.GapListBase.Prev()
	if g.GapStart <= last {
		mw.list.AddGap(seqnum.Range{First: g.GapStart, Last: last}, cclist.Lost, true)
	}
	for i, irrelevant := range g.GapList {
		if !irrelevant {
			continue
		}
		s := g.GapListBase + seqnum.SequenceNumber(i)
		mw.list.AddGap(seqnum.Range{First: s, Last: s}, cclist.Lost, true)
	}
	mw.list.Coalesce()
}

// nextExpectedSeq returns the lowest sequence number not yet accounted
// for (received or written off as lost) in list, the ACKNACK base.
// Invariant 1 (cclist entries are contiguous) means Find walks forward
// across exactly the covered range, stopping at the first gap in
// coverage; on an empty list it returns seqnum.First immediately.
func nextExpectedSeq(list *cclist.List) seqnum.SequenceNumber {
	next := seqnum.First
	for {
		ref := list.Find(next)
		if ref == nil {
			return next
		}
		next = ref.Last().Next()
	}
}

// sendAckNack builds and transmits an ACKNACK reflecting everything
// this reader has (or has given up on) versus the writer's announced
// range.
func (r *Reader) sendAckNack(mw *matchedWriter, writerGUID guid.GUID) {
	mw.mu.Lock()
	mw.ackNackCount++
	count := mw.ackNackCount
	announcedLast := mw.rw.AnnouncedLast
	locs := mw.locators

	base := nextExpectedSeq(mw.list)
	var bitmap []bool
	if announcedLast.Valid() {
		for s := base; s <= announcedLast && len(bitmap) < wire.MaxGapBitmapBits; s = s.Next() {
			ref := mw.list.Find(s)
			missing := ref == nil || (!ref.Relevant && ref.State == cclist.Missing)
			bitmap = append(bitmap, missing)
		}
	}
	mw.mu.Unlock()

	final := true
	for _, missing := range bitmap {
		if missing {
			final = false
			break
		}
	}

	an := &wire.AckNack{
		ReaderId: r.self.Entity,
		WriterId: writerGUID.Entity,
		Base:     base,
		Bitmap:   bitmap,
		Count:    count,
		Final:    final,
	}
	b := wire.NewBuilder(r.self.Prefix, r.vendor)
	b.Add(an)
	if r.transport != nil {
		for _, dgram := range b.Bytes(0) {
			_ = r.transport.Send(locs, dgram)
		}
	}
}

// sendNackFrag requests retransmission of the fragments still missing
// from an in-progress reassembly.
func (r *Reader) sendNackFrag(mw *matchedWriter, writerId guid.EntityId, seq seqnum.SequenceNumber, base uint32, missing []bool) {
	nf := &wire.NackFrag{
		ReaderId: r.self.Entity,
		WriterId: writerId,
		Seqnr:    seq,
		Base:     base,
		Bitmap:   missing,
		Count:    1,
	}
	b := wire.NewBuilder(r.self.Prefix, r.vendor)
	b.Add(nf)
	mw.mu.Lock()
	locs := mw.locators
	mw.mu.Unlock()
	if r.transport != nil {
		for _, dgram := range b.Bytes(0) {
			_ = r.transport.Send(locs, dgram)
		}
	}
}
