// Package engine wires the protocol building blocks (dispatch table,
// timer scheduler, history cache, writer/reader endpoints) into one
// participant: the unit that owns a GuidPrefix, receives datagrams from
// a transport, and hands them to the matching local endpoint.
package engine

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-rtps/engine/rtpsnet/change"
	"github.com/go-rtps/engine/rtpsnet/config"
	"github.com/go-rtps/engine/rtpsnet/dispatch"
	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/hc"
	"github.com/go-rtps/engine/rtpsnet/locator"
	"github.com/go-rtps/engine/rtpsnet/qos"
	"github.com/go-rtps/engine/rtpsnet/reader"
	"github.com/go-rtps/engine/rtpsnet/security"
	"github.com/go-rtps/engine/rtpsnet/stats"
	"github.com/go-rtps/engine/rtpsnet/timer"
	"github.com/go-rtps/engine/rtpsnet/wire"
	"github.com/go-rtps/engine/rtpsnet/worker"
	"github.com/go-rtps/engine/rtpsnet/writer"
)

// Participant owns one GuidPrefix and every local writer/reader endpoint
// publishing or subscribing under it.
type Participant struct {
	worker.Worker

	cfg       *config.Config
	log       *charmlog.Logger
	prefix    guid.Prefix
	vendor    wire.VendorId
	transport locator.Transport
	cache     hc.Cache
	transform security.Transform

	sched     *timer.Scheduler
	table     *dispatch.Table
	collector *stats.Collector
	events    *stats.EventRing

	mu      sync.Mutex
	writers []*writer.Writer

	nextWriterHandle atomic.Uint64
	nextEntityKey    atomic.Uint32
}

// VendorId is this engine's interop identifier, distinct from any RTPS
// reference implementation's assigned vendor code.
var VendorId = wire.VendorId{0x01, 0xff}

// New builds a Participant from cfg, ready for CreateWriter/CreateReader
// calls. It does not start the timer scheduler or begin receiving;
// call Start for that once every builtin endpoint is registered.
func New(cfg *config.Config, prefix guid.Prefix, transport locator.Transport, cache hc.Cache, transform security.Transform, collector *stats.Collector) *Participant {
	if transform == nil {
		transform = security.NoopTransform{}
	}
	lvl := charmlog.InfoLevel
	if cfg.Logging.Level == "debug" {
		lvl = charmlog.DebugLevel
	}
	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "engine/" + cfg.Domain.ParticipantName,
	})

	return &Participant{
		cfg:       cfg,
		log:       logger,
		prefix:    prefix,
		vendor:    VendorId,
		transport: transport,
		cache:     cache,
		transform: transform,
		sched:     timer.NewScheduler(10 * time.Millisecond),
		table:     dispatch.NewTable(),
		collector: collector,
		events:    stats.NewEventRing(256),
	}
}

// Start launches the timer scheduler goroutine.
func (p *Participant) Start() {
	p.log.Info("starting participant", "domain", p.cfg.Domain.DomainID)
	p.sched.Start()
}

// Stop halts the timer scheduler and every writer's resend worker
// concurrently, via an errgroup, and waits for all of them to exit
// before returning.
func (p *Participant) Stop() error {
	p.sched.Halt()

	p.mu.Lock()
	writers := append([]*writer.Writer(nil), p.writers...)
	p.mu.Unlock()

	g := new(errgroup.Group)
	g.Go(func() error {
		p.sched.Wait()
		return nil
	})
	for _, w := range writers {
		w := w
		g.Go(func() error {
			w.Close()
			return nil
		})
	}
	g.Go(func() error {
		p.Halt()
		p.Wait()
		return nil
	})
	return g.Wait()
}

// nextEntityId allocates a fresh user entity id of the given kind,
// unique within this participant.
func (p *Participant) nextEntityId(kind guid.EntityKind) guid.EntityId {
	n := p.nextEntityKey.Add(1)
	return guid.NewEntityId([3]byte{byte(n >> 16), byte(n >> 8), byte(n)}, kind)
}

// CreateWriter allocates a new writer endpoint under this participant
// and registers it for ACKNACK/NACK_FRAG delivery.
func (p *Participant) CreateWriter(q qos.Snapshot, keyed bool) *writer.Writer {
	kind := guid.KindUserWriterNoKey
	if keyed {
		kind = guid.KindUserWriterWithKey
	}
	self := guid.GUID{Prefix: p.prefix, Entity: p.nextEntityId(kind)}
	handle := change.WriterHandle(p.nextWriterHandle.Add(1))

	w := writer.New(writer.Config{
		Self:              self,
		Handle:            handle,
		QoS:               q,
		Cache:             p.cache,
		Transform:         p.transform,
		Transport:         p.transport,
		Scheduler:         p.sched,
		Vendor:            p.vendor,
		FragSize:          uint32(p.cfg.Reliability.FragmentSize),
		Heartbeat:         p.cfg.Reliability.HeartbeatPeriod,
		NackResponseDelay: p.cfg.Reliability.NackResponseDelay,
		Collector:         p.collector,
	})
	p.table.Register(w, true)
	p.mu.Lock()
	p.writers = append(p.writers, w)
	p.mu.Unlock()
	p.events.Record("writer %s created", self)
	return w
}

// CreateStatelessWriter allocates an SL-BE builtin discovery writer
// (SPDP or SEDP) under this participant, addressed at the fixed
// locator set locs rather than per-matched-reader proxies.
func (p *Participant) CreateStatelessWriter(keyed bool, durable bool, locs locator.List) *writer.StatelessWriter {
	kind := guid.KindBuiltinWriterNoKey
	if keyed {
		kind = guid.KindBuiltinWriterKey
	}
	self := guid.GUID{Prefix: p.prefix, Entity: p.nextEntityId(kind)}
	handle := change.WriterHandle(p.nextWriterHandle.Add(1))

	sw := writer.NewStateless(writer.StatelessConfig{
		Self:      self,
		Handle:    handle,
		Durable:   durable,
		Cache:     p.cache,
		Transform: p.transform,
		Transport: p.transport,
		Scheduler: p.sched,
		Vendor:    p.vendor,
		Collector: p.collector,
	})
	sw.AttachLocators(locs)
	p.table.Register(sw, true)
	p.events.Record("stateless writer %s created", self)
	return sw
}

// CreateReader allocates a new reader endpoint under this participant
// and registers it for DATA/DATA_FRAG/HEARTBEAT/GAP delivery.
func (p *Participant) CreateReader(q qos.Snapshot, keyed bool) *reader.Reader {
	kind := guid.KindUserReaderNoKey
	if keyed {
		kind = guid.KindUserReaderWithKey
	}
	self := guid.GUID{Prefix: p.prefix, Entity: p.nextEntityId(kind)}

	r := reader.New(reader.Config{
		Self:              self,
		QoS:               q,
		Cache:             p.cache,
		Transform:         p.transform,
		Transport:         p.transport,
		Scheduler:         p.sched,
		Vendor:            p.vendor,
		NackResponseDelay: p.cfg.Reliability.NackResponseDelay,
		Collector:         p.collector,
	})
	p.table.Register(r, false)
	p.events.Record("reader %s created", self)
	return r
}

// RemoveEndpoint unregisters a previously created writer or reader.
func (p *Participant) RemoveEndpoint(g guid.GUID) {
	p.table.Unregister(g)
}

// OnReceive implements locator.Receiver: it parses an incoming datagram
// and routes every submessage it contains to the local endpoint(s) it
// targets.
func (p *Participant) OnReceive(src locator.Locator, datagram []byte) {
	parsed, err := wire.Parse(datagram)
	if err != nil && len(parsed) == 0 {
		p.events.Record("parse error from %s: %v", src, err)
		return
	}
	for _, ps := range parsed {
		// Without an INFO_DST the destination is this participant.
		if ps.Context.DestGuidPrefix == guid.UnknownPrefix {
			ps.Context.DestGuidPrefix = p.prefix
		}
		p.route(ps)
	}
}

// route dispatches one parsed submessage to the correct local direction:
// DATA/DATA_FRAG/HEARTBEAT/GAP go to local readers, ACKNACK/NACK_FRAG go
// to local writers.
func (p *Participant) route(ps wire.ParsedSubmessage) {
	switch m := ps.Message.(type) {
	case *wire.Data:
		p.table.Route(ps.Context, m, m.ReaderId, false)
	case *wire.DataFrag:
		p.table.Route(ps.Context, m, m.ReaderId, false)
	case *wire.Heartbeat:
		p.table.Route(ps.Context, m, m.ReaderId, false)
	case *wire.HeartbeatFrag:
		p.table.Route(ps.Context, m, m.ReaderId, false)
	case *wire.Gap:
		p.table.Route(ps.Context, m, m.ReaderId, false)
	case *wire.AckNack:
		p.table.Route(ps.Context, m, m.WriterId, true)
	case *wire.NackFrag:
		p.table.Route(ps.Context, m, m.WriterId, true)
	default:
		p.events.Record("unrouted submessage %T", m)
	}
}

// DumpEvents returns the participant's recent-event ring, useful for ad
// hoc debugging alongside the Prometheus counters.
func (p *Participant) DumpEvents() []stats.Event {
	return p.events.Dump()
}
