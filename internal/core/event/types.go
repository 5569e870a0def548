package event

import "github.com/l1jgo/netrepl/internal/replication"

// PeerJoined is emitted when a peer completes the handshake.
type PeerJoined struct {
	Peer replication.ClientID
	Addr string
}

// PeerLeft is emitted when a peer session closes.
type PeerLeft struct {
	Peer replication.ClientID
}

// ObjectChanged wraps a replication registry change.
type ObjectChanged struct {
	replication.Event
}

// Forwarder is a replication.Observer that re-emits registry changes on a bus.
type Forwarder struct {
	bus *Bus
}

var _ replication.Observer = (*Forwarder)(nil)

func NewForwarder(b *Bus) *Forwarder {
	return &Forwarder{bus: b}
}

func (f *Forwarder) Observe(ev replication.Event) {
	Emit(f.bus, ObjectChanged{Event: ev})
}
