package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestCollectorCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.DataSent.Inc()
	c.DataSent.Inc()
	c.HeartbeatsSent.Inc()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestEventRingWrapsAndOrdersOldestFirst(t *testing.T) {
	r := NewEventRing(3)
	r.Record("one")
	r.Record("two")
	r.Record("three")
	r.Record("four") // overwrites "one"

	dump := r.Dump()
	require.Len(t, dump, 3)
	require.Equal(t, "two", dump[0].Text)
	require.Equal(t, "three", dump[1].Text)
	require.Equal(t, "four", dump[2].Text)
}

func TestEventRingBeforeFull(t *testing.T) {
	r := NewEventRing(5)
	r.Record("a")
	r.Record("b")

	dump := r.Dump()
	require.Len(t, dump, 2)
	require.Equal(t, "a", dump[0].Text)
}
