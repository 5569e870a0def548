package replication

import "github.com/google/uuid"

// Channel is a transport delivery class.
type Channel uint8

const (
	ChannelUnreliable Channel = iota
	ChannelReliableOrdered
)

// Transport queues payloads for peers. Send must not block.
type Transport interface {
	Send(ch Channel, targets []ClientID, payload []byte)
	// Peers lists connected peers already announced through
	// OnPeerConnected. A client lists only ServerClientID.
	Peers() []ClientID
}

// Uploader receives the client's owned objects marked dirty since the last
// tick. It runs under the replicator lock and must not call back into it.
type Uploader interface {
	Upload(frame uint32, dirty []Object)
}

type EventKind uint8

const (
	EventAdded EventKind = iota + 1
	EventSpawned
	EventDespawned
	EventOwnerChanged
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventSpawned:
		return "spawned"
	case EventDespawned:
		return "despawned"
	case EventOwnerChanged:
		return "owner_changed"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event describes a registry change.
type Event struct {
	Kind     EventKind
	Frame    uint32
	ObjectID uuid.UUID
	ParentID uuid.UUID
	TypeName string
	Owner    ClientID
	Role     Role
	// Peer is the sender for changes caused by an inbound message, or the
	// local client id otherwise.
	Peer ClientID
}

// Observer is notified of registry changes under the replicator lock.
// Implementations must only buffer.
type Observer interface {
	Observe(ev Event)
}
