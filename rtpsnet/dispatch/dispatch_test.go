package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/wire"
)

type fakeEndpoint struct {
	g         guid.GUID
	delivered []wire.Submessage
}

func (f *fakeEndpoint) GUID() guid.GUID { return f.g }
func (f *fakeEndpoint) Deliver(ctx wire.ReceiverContext, msg wire.Submessage) {
	f.delivered = append(f.delivered, msg)
}

func TestRouteDirectDelivery(t *testing.T) {
	tbl := NewTable()
	prefix := guid.Prefix{1, 2, 3}
	ent := guid.NewEntityId([3]byte{9, 9, 9}, guid.KindUserReaderNoKey)
	g := guid.GUID{Prefix: prefix, Entity: ent}
	ep := &fakeEndpoint{g: g}
	tbl.Register(ep, false)

	msg := &wire.Heartbeat{}
	tbl.Route(wire.ReceiverContext{DestGuidPrefix: prefix}, msg, ent, false)

	require.Len(t, ep.delivered, 1)
}

func TestRouteUnknownFansOutToReaders(t *testing.T) {
	tbl := NewTable()
	prefix := guid.Prefix{1}
	e1 := &fakeEndpoint{g: guid.GUID{Prefix: prefix, Entity: guid.NewEntityId([3]byte{1}, guid.KindUserReaderNoKey)}}
	e2 := &fakeEndpoint{g: guid.GUID{Prefix: prefix, Entity: guid.NewEntityId([3]byte{2}, guid.KindUserReaderNoKey)}}
	tbl.Register(e1, false)
	tbl.Register(e2, false)

	tbl.Route(wire.ReceiverContext{DestGuidPrefix: prefix}, &wire.Data{}, guid.Unknown, false)

	require.Len(t, e1.delivered, 1)
	require.Len(t, e2.delivered, 1)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	tbl := NewTable()
	prefix := guid.Prefix{1}
	ent := guid.NewEntityId([3]byte{5}, guid.KindUserReaderNoKey)
	g := guid.GUID{Prefix: prefix, Entity: ent}
	ep := &fakeEndpoint{g: g}
	tbl.Register(ep, false)
	tbl.Unregister(g)

	tbl.Route(wire.ReceiverContext{DestGuidPrefix: prefix}, &wire.Heartbeat{}, ent, false)
	require.Empty(t, ep.delivered)
}
