// Package locator defines the transport-endpoint address type and the
// narrow Transport collaborator interface. The engine never dials or
// listens itself; it hands datagrams to a Transport and is fed
// datagrams through Receiver.OnReceive.
package locator

import "fmt"

// Kind identifies the transport family of a Locator.
type Kind uint32

const (
	KindInvalid Kind = iota
	KindUDPv4
	KindUDPv6
	KindTCPv4
	KindTCPv6
)

func (k Kind) String() string {
	switch k {
	case KindUDPv4:
		return "udpv4"
	case KindUDPv6:
		return "udpv6"
	case KindTCPv4:
		return "tcpv4"
	case KindTCPv6:
		return "tcpv6"
	default:
		return "invalid"
	}
}

// Locator is a transport endpoint address: kind, port, and a 16-byte
// address field (IPv4 addresses are stored in the low 4 bytes, per the
// RTPS wire convention).
type Locator struct {
	Kind    Kind
	Port    uint32
	Address [16]byte
}

func (l Locator) String() string {
	return fmt.Sprintf("%s:%d/%x", l.Kind, l.Port, l.Address)
}

// Equal reports value equality of all three fields.
func (l Locator) Equal(o Locator) bool {
	return l.Kind == o.Kind && l.Port == o.Port && l.Address == o.Address
}

// List is an ordered set of candidate locators, e.g. a proxy's unicast
// or multicast locator set.
type List []Locator

// Transport is the narrow collaborator interface the engine uses to move
// bytes; addressing, multiplexing and security at the socket layer are
// the transport's problem, not the engine's.
type Transport interface {
	// Send is best-effort: it returns immediately and does not indicate
	// whether the datagram ever reached the peer.
	Send(dst List, datagram []byte) error
}

// Receiver is implemented by the engine and invoked by the transport
// whenever a datagram arrives.
type Receiver interface {
	OnReceive(src Locator, datagram []byte)
}
