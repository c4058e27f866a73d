package writer

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-rtps/engine/rtpsnet/cclist"
	"github.com/go-rtps/engine/rtpsnet/change"
	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/hc"
	"github.com/go-rtps/engine/rtpsnet/locator"
	"github.com/go-rtps/engine/rtpsnet/security"
	"github.com/go-rtps/engine/rtpsnet/seqnum"
	"github.com/go-rtps/engine/rtpsnet/stats"
	"github.com/go-rtps/engine/rtpsnet/timer"
	"github.com/go-rtps/engine/rtpsnet/wire"
)

// StatelessWriter is the SL-BE (Stateless Best-Effort) writer used by
// builtin discovery endpoints (SPDP/SEDP). It has no per-reader proxy:
// a single locator list is addressed on every send, and one resend
// timer periodically re-announces the whole cache rather than tracking
// per-reader acks or requests.
type StatelessWriter struct {
	mu sync.Mutex

	self      guid.GUID
	handle    change.WriterHandle
	cache     hc.Cache
	transform security.Transform
	transport locator.Transport
	sched     *timer.Scheduler
	vendor    wire.VendorId
	collector *stats.Collector

	locators locator.List
	list     *cclist.List

	resendHandle  *timer.Handle
	resendPeriod  time.Duration
	retryPeriod   time.Duration
	resendRetries int
	retriesLeft   int
	durable       bool
}

// StatelessConfig groups the collaborators a StatelessWriter needs.
type StatelessConfig struct {
	Self          guid.GUID
	Handle        change.WriterHandle
	Durable       bool
	Cache         hc.Cache
	Transform     security.Transform
	Transport     locator.Transport
	Scheduler     *timer.Scheduler
	Vendor        wire.VendorId
	Collector     *stats.Collector
	ResendPeriod  time.Duration
	RetryPeriod   time.Duration
	ResendRetries int
}

// NewStateless builds a StatelessWriter from cfg and, if a scheduler was
// supplied, arms its first resend timer.
func NewStateless(cfg StatelessConfig) *StatelessWriter {
	if cfg.Transform == nil {
		cfg.Transform = security.NoopTransform{}
	}
	if cfg.ResendPeriod <= 0 {
		cfg.ResendPeriod = 30 * time.Second
	}
	if cfg.RetryPeriod <= 0 {
		cfg.RetryPeriod = cfg.ResendPeriod / 10
	}
	sw := &StatelessWriter{
		self:          cfg.Self,
		handle:        cfg.Handle,
		durable:       cfg.Durable,
		cache:         cfg.Cache,
		transform:     cfg.Transform,
		transport:     cfg.Transport,
		sched:         cfg.Scheduler,
		vendor:        cfg.Vendor,
		collector:     cfg.Collector,
		list:          cclist.New(),
		resendPeriod:  cfg.ResendPeriod,
		retryPeriod:   cfg.RetryPeriod,
		resendRetries: cfg.ResendRetries,
		retriesLeft:   cfg.ResendRetries,
	}
	if sw.sched != nil {
		sw.scheduleResend(sw.resendPeriod)
	}
	return sw
}

// GUID implements dispatch.Endpoint.
func (sw *StatelessWriter) GUID() guid.GUID { return sw.self }

// Deliver implements dispatch.Endpoint: a stateless writer has no
// matched-reader state and answers no control submessages.
func (sw *StatelessWriter) Deliver(wire.ReceiverContext, wire.Submessage) {}

// AttachLocators sets (or replaces) the fixed locator set every send
// addresses: typically a discovery multicast group plus any unicast
// peers learned so far.
func (sw *StatelessWriter) AttachLocators(locs locator.List) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.locators = locs
}

// NewChange publishes a new sample: append it UNSENT, then send
// immediately per the SL-BE contract's new_change/activate step.
func (sw *StatelessWriter) NewChange(keyHash guid.KeyHash, payload []byte) *change.Change {
	c := sw.cache.NewChange(sw.handle, keyHash)

	sw.mu.Lock()
	seq := sw.list.Last().Next()
	if sw.list.Empty() {
		seq = seqnum.First
	}
	sw.mu.Unlock()

	c.WithHeader(c.InstanceHandle, seq)
	c.Kind = change.Alive
	c.Payload = change.NewBuffer(payload)
	sw.cache.Add(c)

	sw.mu.Lock()
	sw.list.AddRelevant(c, c.InstanceHandle, cclist.Unsent, true)
	sw.mu.Unlock()

	sw.send()
	return c
}

// send walks every UNSENT entry, emits a DATA submessage for it, and
// either drops it (no durability) or marks it UNDERWAY.
func (sw *StatelessWriter) send() {
	sw.mu.Lock()
	var unsent []*cclist.Ref
	sw.list.Walk(func(r *cclist.Ref) bool {
		if r.Relevant && r.State == cclist.Unsent {
			unsent = append(unsent, r)
		}
		return true
	})
	locs := sw.locators
	sw.mu.Unlock()

	for _, r := range unsent {
		if err := sw.sendChange(locs, r.Change); err != nil {
			continue
		}
		sw.mu.Lock()
		if sw.durable {
			r.State = cclist.Underway
		} else {
			sw.list.Remove(r)
		}
		sw.mu.Unlock()
	}
}

func (sw *StatelessWriter) sendChange(locs locator.List, c *change.Change) error {
	if sw.transport == nil {
		return nil
	}
	payload, err := sw.transform.Seal(c.Payload.Bytes())
	if err != nil {
		return fmt.Errorf("writer: stateless seal: %w", err)
	}
	b := wire.NewBuilder(sw.self.Prefix, sw.vendor)
	b.InfoTS(wire.InfoTS{Timestamp: c.SourceTimestamp})
	b.Add(&wire.Data{
		Flags:             wire.DataFlags{HasInlineQos: true},
		ReaderId:          guid.Unknown,
		WriterId:          sw.self.Entity,
		WriterSeqnr:       c.Seqnr,
		InlineQos:         &wire.InlineQos{KeyHash: keyHashPtr(c.KeyHash)},
		SerializedPayload: payload,
	})
	for _, dgram := range b.Bytes(0) {
		if err := sw.transport.Send(locs, dgram); err != nil {
			return err
		}
	}
	if sw.collector != nil {
		sw.collector.DataSent.Inc()
	}
	return nil
}

// resend re-marks every entry UNSENT and re-announces the whole cache,
// then reschedules: a short retry interval for the first resendRetries
// firings, falling back to the normal resend period afterward.
func (sw *StatelessWriter) resend() {
	sw.mu.Lock()
	sw.list.Walk(func(r *cclist.Ref) bool {
		if r.Relevant {
			r.State = cclist.Unsent
		}
		return true
	})
	retriesLeft := sw.retriesLeft
	sw.mu.Unlock()

	sw.send()

	next := sw.resendPeriod
	if retriesLeft > 0 {
		sw.mu.Lock()
		sw.retriesLeft--
		sw.mu.Unlock()
		next = sw.retryPeriod
	}
	sw.scheduleResend(next)
}

func (sw *StatelessWriter) scheduleResend(d time.Duration) {
	sw.mu.Lock()
	sw.resendHandle = sw.sched.After(d, timer.KindResend, sw.resend)
	sw.mu.Unlock()
}

// Alive re-marks any change keyed to the given participant prefix as
// UNSENT so it gets re-announced, used when that participant is
// rediscovered after being presumed gone. Builtin discovery endpoints
// use the literal GUID as their 16-byte key hash (RTPS keys that fit in
// 16 bytes skip MD5), so the leading 12 bytes are the GuidPrefix.
func (sw *StatelessWriter) Alive(prefix guid.Prefix) {
	sw.mu.Lock()
	sw.retriesLeft = sw.resendRetries
	var matched bool
	sw.list.Walk(func(r *cclist.Ref) bool {
		if r.Relevant && keyHashPrefix(r.Change.KeyHash) == prefix {
			r.State = cclist.Unsent
			matched = true
		}
		return true
	})
	sw.mu.Unlock()
	if matched {
		sw.send()
	}
}

func keyHashPrefix(kh guid.KeyHash) guid.Prefix {
	var p guid.Prefix
	copy(p[:], kh[:guid.PrefixLength])
	return p
}
