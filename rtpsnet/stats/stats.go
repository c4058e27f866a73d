// Package stats exposes engine counters to Prometheus and keeps a small
// ring buffer of recent protocol events for ad hoc debugging, separate
// from the Prometheus series since the ring is meant to be dumped
// whole, not scraped incrementally.
package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric the engine registers.
type Collector struct {
	DataSent          prometheus.Counter
	DataReceived      prometheus.Counter
	DataFragSent      prometheus.Counter
	DataFragReceived  prometheus.Counter
	HeartbeatsSent    prometheus.Counter
	AckNacksReceived  prometheus.Counter
	GapsSent          prometheus.Counter
	Retransmissions   prometheus.Counter
	ReassemblyTimeouts prometheus.Counter
	ProxyCount        prometheus.Gauge
}

// NewCollector constructs and registers a Collector's metrics against
// reg. Pass prometheus.NewRegistry() in tests to avoid collisions with
// the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		DataSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtps_data_sent_total",
			Help: "Number of DATA submessages sent.",
		}),
		DataReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtps_data_received_total",
			Help: "Number of DATA submessages received.",
		}),
		DataFragSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtps_data_frag_sent_total",
			Help: "Number of DATA_FRAG submessages sent.",
		}),
		DataFragReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtps_data_frag_received_total",
			Help: "Number of DATA_FRAG submessages received.",
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtps_heartbeats_sent_total",
			Help: "Number of HEARTBEAT submessages sent.",
		}),
		AckNacksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtps_acknacks_received_total",
			Help: "Number of ACKNACK submessages received.",
		}),
		GapsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtps_gaps_sent_total",
			Help: "Number of GAP submessages sent.",
		}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtps_retransmissions_total",
			Help: "Number of changes sent by reliable writers' per-reader resend workers (first sends, replays and NACK repairs).",
		}),
		ReassemblyTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtps_reassembly_timeouts_total",
			Help: "Number of fragmented samples discarded before reassembly completed.",
		}),
		ProxyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtps_matched_proxies",
			Help: "Number of currently matched remote reader/writer proxies.",
		}),
	}
	reg.MustRegister(
		c.DataSent, c.DataReceived, c.DataFragSent, c.DataFragReceived,
		c.HeartbeatsSent, c.AckNacksReceived, c.GapsSent,
		c.Retransmissions, c.ReassemblyTimeouts, c.ProxyCount,
	)
	return c
}

// Event is one entry in the debug ring buffer.
type Event struct {
	Time time.Time
	Text string
}

// EventRing is a fixed-capacity circular buffer of recent protocol
// events, dumped wholesale on demand (e.g. an admin command or crash
// handler) rather than scraped like the Prometheus series.
type EventRing struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
}

// NewEventRing allocates a ring holding up to capacity events.
func NewEventRing(capacity int) *EventRing {
	return &EventRing{buf: make([]Event, capacity)}
}

// Record appends a formatted event, overwriting the oldest entry once
// the ring is full.
func (r *EventRing) Record(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = Event{Time: time.Now(), Text: fmt.Sprintf(format, args...)}
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Dump returns every retained event, oldest first.
func (r *EventRing) Dump() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Event, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]Event, len(r.buf))
	copy(out, r.buf[r.next:])
	copy(out[len(r.buf)-r.next:], r.buf[:r.next])
	return out
}
