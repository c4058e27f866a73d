package reader

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-rtps/engine/rtpsnet/fragment"
	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/hc"
	"github.com/go-rtps/engine/rtpsnet/locator"
	"github.com/go-rtps/engine/rtpsnet/qos"
	"github.com/go-rtps/engine/rtpsnet/seqnum"
	"github.com/go-rtps/engine/rtpsnet/timer"
	"github.com/go-rtps/engine/rtpsnet/wire"
)

type captureTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (c *captureTransport) Send(dst locator.List, datagram []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), datagram...))
	return nil
}

func (c *captureTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *captureTransport) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

func testReaderGUID() guid.GUID {
	return guid.GUID{Prefix: guid.Prefix{3}, Entity: guid.NewEntityId([3]byte{1}, guid.KindUserReaderNoKey)}
}

func testWriterGUID() guid.GUID {
	return guid.GUID{Prefix: guid.Prefix{4}, Entity: guid.NewEntityId([3]byte{9}, guid.KindUserWriterNoKey)}
}

func TestHandleDataStoresChangeInList(t *testing.T) {
	cache := hc.NewMemoryCache(0)
	r := New(Config{Self: testReaderGUID(), QoS: qos.Snapshot{Reliability: qos.BestEffort}, Cache: cache})
	wg := testWriterGUID()
	r.MatchWriter(wg, nil)
	mw := r.writers[wg]

	ctx := wire.ReceiverContext{SourceGuidPrefix: wg.Prefix}
	r.Deliver(ctx, &wire.Data{
		WriterId:          wg.Entity,
		WriterSeqnr:       seqnum.First,
		SerializedPayload: []byte("hello"),
	})

	ref := mw.list.Find(seqnum.First)
	require.NotNil(t, ref)
	require.True(t, ref.Relevant)
	require.Equal(t, []byte("hello"), ref.Change.Payload.Bytes())
}

func TestHandleDataIgnoresDuplicateSeqnr(t *testing.T) {
	cache := hc.NewMemoryCache(0)
	r := New(Config{Self: testReaderGUID(), QoS: qos.Snapshot{Reliability: qos.BestEffort}, Cache: cache})
	wg := testWriterGUID()
	r.MatchWriter(wg, nil)
	mw := r.writers[wg]

	ctx := wire.ReceiverContext{SourceGuidPrefix: wg.Prefix}
	d := &wire.Data{WriterId: wg.Entity, WriterSeqnr: seqnum.First, SerializedPayload: []byte("a")}
	r.Deliver(ctx, d)
	r.Deliver(ctx, d)

	require.Equal(t, 1, mw.list.Len())
}

func TestHeartbeatSchedulesAckNack(t *testing.T) {
	tr := &captureTransport{}
	sched := timer.NewScheduler(time.Millisecond)
	sched.Start()
	defer func() { sched.Halt(); sched.Wait() }()

	r := New(Config{
		Self:              testReaderGUID(),
		QoS:               qos.Snapshot{Reliability: qos.Reliable},
		Cache:             hc.NewMemoryCache(0),
		Transport:         tr,
		Scheduler:         sched,
		NackResponseDelay: 5 * time.Millisecond,
	})
	wg := testWriterGUID()
	r.MatchWriter(wg, locator.List{{Kind: locator.KindUDPv4, Port: 7400}})

	ctx := wire.ReceiverContext{SourceGuidPrefix: wg.Prefix}
	r.Deliver(ctx, &wire.Heartbeat{
		WriterId: wg.Entity,
		First:    seqnum.First,
		Last:     seqnum.SequenceNumber(3),
		Count:    1,
		Final:    true,
	})

	require.Eventually(t, func() bool { return tr.count() == 1 }, time.Second, 5*time.Millisecond)
	parsed, err := wire.Parse(tr.last())
	require.NoError(t, err)
	an, ok := parsed[0].Message.(*wire.AckNack)
	require.True(t, ok)
	require.Equal(t, seqnum.First, an.Base)
	require.False(t, an.Final) // nothing received yet, everything in range is missing
}

func TestGapMarksRangeLost(t *testing.T) {
	r := New(Config{Self: testReaderGUID(), QoS: qos.Snapshot{Reliability: qos.Reliable}, Cache: hc.NewMemoryCache(0)})
	wg := testWriterGUID()
	r.MatchWriter(wg, nil)
	mw := r.writers[wg]

	ctx := wire.ReceiverContext{SourceGuidPrefix: wg.Prefix}
	r.Deliver(ctx, &wire.Gap{
		WriterId:    wg.Entity,
		GapStart:    seqnum.First,
		GapListBase: seqnum.SequenceNumber(4),
	})

	ref := mw.list.Find(seqnum.SequenceNumber(2))
	require.NotNil(t, ref)
	require.False(t, ref.Relevant)
}

func TestSendAckNackBaseReflectsReceivedPrefix(t *testing.T) {
	tr := &captureTransport{}
	sched := timer.NewScheduler(time.Millisecond)
	sched.Start()
	defer func() { sched.Halt(); sched.Wait() }()

	r := New(Config{
		Self:              testReaderGUID(),
		QoS:               qos.Snapshot{Reliability: qos.Reliable},
		Cache:             hc.NewMemoryCache(0),
		Transport:         tr,
		Scheduler:         sched,
		NackResponseDelay: 5 * time.Millisecond,
	})
	wg := testWriterGUID()
	r.MatchWriter(wg, locator.List{{Kind: locator.KindUDPv4, Port: 7400}})

	ctx := wire.ReceiverContext{SourceGuidPrefix: wg.Prefix}
	r.Deliver(ctx, &wire.Data{WriterId: wg.Entity, WriterSeqnr: seqnum.First, SerializedPayload: []byte("a")})
	r.Deliver(ctx, &wire.Heartbeat{
		WriterId: wg.Entity,
		First:    seqnum.First,
		Last:     seqnum.SequenceNumber(3),
		Count:    1,
		Final:    true,
	})

	require.Eventually(t, func() bool { return tr.count() == 1 }, time.Second, 5*time.Millisecond)
	parsed, err := wire.Parse(tr.last())
	require.NoError(t, err)
	an, ok := parsed[0].Message.(*wire.AckNack)
	require.True(t, ok)
	require.Equal(t, seqnum.SequenceNumber(2), an.Base)
}

func TestHandleDataDropsUndirectedSample(t *testing.T) {
	cache := hc.NewMemoryCache(0)
	self := testReaderGUID()
	r := New(Config{Self: self, QoS: qos.Snapshot{Reliability: qos.BestEffort}, Cache: cache})
	wg := testWriterGUID()
	r.MatchWriter(wg, nil)
	mw := r.writers[wg]

	otherReader := guid.GUID{Prefix: guid.Prefix{9}, Entity: guid.NewEntityId([3]byte{2}, guid.KindUserReaderNoKey)}
	ctx := wire.ReceiverContext{SourceGuidPrefix: wg.Prefix}
	r.Deliver(ctx, &wire.Data{
		WriterId:          wg.Entity,
		WriterSeqnr:       seqnum.First,
		InlineQos:         &wire.InlineQos{DirectedWrite: []guid.GUID{otherReader}},
		SerializedPayload: []byte("not for me"),
	})

	require.Nil(t, mw.list.Find(seqnum.First))
}

func TestSweepReassemblyDropsExpiredPartial(t *testing.T) {
	r := New(Config{Self: testReaderGUID(), QoS: qos.Snapshot{Reliability: qos.Reliable}, Cache: hc.NewMemoryCache(0)})
	wg := testWriterGUID()
	r.MatchWriter(wg, nil)
	mw := r.writers[wg]

	mw.mu.Lock()
	mw.frags[seqnum.First] = &fragment.Info{Deadline: time.Now().Add(-time.Second)}
	mw.mu.Unlock()

	r.sweepReassembly()

	mw.mu.Lock()
	_, ok := mw.frags[seqnum.First]
	mw.mu.Unlock()
	require.False(t, ok)
}
