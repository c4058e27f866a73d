package writer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

func testWriterGUID() guid.GUID {
	return guid.GUID{Prefix: guid.Prefix{1}, Entity: guid.NewEntityId([3]byte{1}, guid.KindUserWriterNoKey)}
}

func testReaderGUID(key byte) guid.GUID {
	return guid.GUID{Prefix: guid.Prefix{2}, Entity: guid.NewEntityId([3]byte{key}, guid.KindUserReaderNoKey)}
}

func TestWriteBestEffortSendsImmediately(t *testing.T) {
	tr := &captureTransport{}
	w := New(Config{
		Self:      testWriterGUID(),
		QoS:       qos.Snapshot{Reliability: qos.BestEffort},
		Cache:     hc.NewMemoryCache(0),
		Transport: tr,
	})
	w.MatchReader(testReaderGUID(1), nil)

	w.Write(guid.KeyHash{}, []byte("payload"))

	require.Equal(t, 1, tr.count())
	parsed, err := wire.Parse(tr.last())
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	data, ok := parsed[0].Message.(*wire.Data)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), data.SerializedPayload)
}

func TestWriteReliableDeliversViaResendWorker(t *testing.T) {
	tr := &captureTransport{}
	w := New(Config{
		Self:      testWriterGUID(),
		QoS:       qos.Snapshot{Reliability: qos.Reliable},
		Cache:     hc.NewMemoryCache(0),
		Transport: tr,
	})
	w.MatchReader(testReaderGUID(1), nil)

	w.Write(guid.KeyHash{}, []byte("reliable payload"))

	require.Eventually(t, func() bool { return tr.count() == 1 }, time.Second, 5*time.Millisecond)
	parsed, err := wire.Parse(tr.last())
	require.NoError(t, err)
	data := parsed[0].Message.(*wire.Data)
	require.Equal(t, []byte("reliable payload"), data.SerializedPayload)

	w.UnmatchReader(testReaderGUID(1))
}

func TestHandleAckNackTrimsAcknowledgedEntries(t *testing.T) {
	tr := &captureTransport{}
	w := New(Config{
		Self:      testWriterGUID(),
		QoS:       qos.Snapshot{Reliability: qos.Reliable},
		Cache:     hc.NewMemoryCache(0),
		Transport: tr,
	})
	readerGUID := testReaderGUID(1)
	w.MatchReader(readerGUID, nil)

	c1 := w.Write(guid.KeyHash{}, []byte("one"))
	c2 := w.Write(guid.KeyHash{}, []byte("two"))
	require.Eventually(t, func() bool { return tr.count() >= 2 }, time.Second, 5*time.Millisecond)

	ctx := wire.ReceiverContext{SourceGuidPrefix: readerGUID.Prefix}
	w.Deliver(ctx, &wire.AckNack{
		ReaderId: readerGUID.Entity,
		Base:     c2.Seqnr.Next(),
		Count:    1,
		Final:    true,
	})

	require.Eventually(t, func() bool {
		return w.list.Find(c1.Seqnr) == nil && w.list.Find(c2.Seqnr) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestWriteDirectedOnlyReachesTargetedReader(t *testing.T) {
	tr := &captureTransport{}
	w := New(Config{
		Self:      testWriterGUID(),
		QoS:       qos.Snapshot{Reliability: qos.BestEffort},
		Cache:     hc.NewMemoryCache(0),
		Transport: tr,
	})
	target := testReaderGUID(1)
	other := testReaderGUID(2)
	w.MatchReader(target, nil)
	w.MatchReader(other, nil)

	w.WriteDirected(guid.KeyHash{}, []byte("for target only"), []guid.GUID{target})

	require.Equal(t, 1, tr.count())
}

func TestHeartbeatBackoffBound(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, heartbeatPeriod(100*time.Millisecond, 0))
	require.Equal(t, 200*time.Millisecond, heartbeatPeriod(100*time.Millisecond, 1))
	require.Equal(t, 12800*time.Millisecond, heartbeatPeriod(100*time.Millisecond, 7))
	require.Equal(t, 12800*time.Millisecond, heartbeatPeriod(100*time.Millisecond, 20))
}

func TestSendHeartbeatBacksOffThenResetsOnAckNack(t *testing.T) {
	tr := &captureTransport{}
	sched := timer.NewScheduler(time.Millisecond)
	sched.Start()
	defer func() { sched.Halt(); sched.Wait() }()

	w := New(Config{
		Self:      testWriterGUID(),
		QoS:       qos.Snapshot{Reliability: qos.Reliable},
		Cache:     hc.NewMemoryCache(0),
		Transport: tr,
		Scheduler: sched,
		Heartbeat: time.Millisecond,
	})
	readerGUID := testReaderGUID(1)
	w.MatchReader(readerGUID, nil)
	w.Write(guid.KeyHash{}, []byte("x"))

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.backoff >= 2
	}, time.Second, time.Millisecond)

	ctx := wire.ReceiverContext{SourceGuidPrefix: readerGUID.Prefix}
	w.Deliver(ctx, &wire.AckNack{ReaderId: readerGUID.Entity, Count: 1, Final: true})

	w.mu.Lock()
	backoff := w.backoff
	w.mu.Unlock()
	require.Equal(t, uint32(0), backoff)
}

func TestHandleAckNackRequestedBitsRepairViaTimer(t *testing.T) {
	tr := &captureTransport{}
	sched := timer.NewScheduler(time.Millisecond)
	sched.Start()
	defer func() { sched.Halt(); sched.Wait() }()

	w := New(Config{
		Self:              testWriterGUID(),
		QoS:               qos.Snapshot{Reliability: qos.Reliable},
		Cache:             hc.NewMemoryCache(0),
		Transport:         tr,
		Scheduler:         sched,
		Heartbeat:         time.Hour,
		NackResponseDelay: 5 * time.Millisecond,
	})
	readerGUID := testReaderGUID(1)
	w.MatchReader(readerGUID, nil)

	c1 := w.Write(guid.KeyHash{}, []byte("one"))
	require.Eventually(t, func() bool { return tr.count() >= 1 }, time.Second, 5*time.Millisecond)
	tr.mu.Lock()
	tr.sent = nil
	tr.mu.Unlock()

	ctx := wire.ReceiverContext{SourceGuidPrefix: readerGUID.Prefix}
	w.Deliver(ctx, &wire.AckNack{
		ReaderId: readerGUID.Entity,
		Base:     seqnum.First,
		Bitmap:   []bool{true},
		Count:    1,
		Final:    false,
	})

	require.Eventually(t, func() bool { return tr.count() >= 1 }, time.Second, 5*time.Millisecond)
	parsed, err := wire.Parse(tr.last())
	require.NoError(t, err)
	data, ok := parsed[0].Message.(*wire.Data)
	require.True(t, ok)
	require.Equal(t, c1.Seqnr, data.WriterSeqnr)
}
