package replication

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/l1jgo/netrepl/internal/types"
)

// ClientID identifies a peer. The server is always ServerClientID; clients
// are numbered from 1 by the transport.
type ClientID = uint32

const ServerClientID ClientID = 0

// Role is the local peer's relationship to a replicated object.
type Role uint8

const (
	RoleNone Role = iota
	RoleReplicated
	RoleOwnedAuthoritative
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "None"
	case RoleReplicated:
		return "Replicated"
	case RoleOwnedAuthoritative:
		return "OwnedAuthoritative"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Mode is the replicator's network state.
type Mode uint8

const (
	ModeOffline Mode = iota
	ModeServer
	ModeClient
)

func (m Mode) String() string {
	switch m {
	case ModeOffline:
		return "offline"
	case ModeServer:
		return "server"
	case ModeClient:
		return "client"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// entry is the registry record for one replicated object. The live object
// is looked up through the World by id on every use.
type entry struct {
	id      uuid.UUID
	parent  uuid.UUID
	typ     *types.Type
	owner   ClientID
	role    Role
	last    uint32 // highest applied inbound sequence, 0 = never updated
	spawned bool
	dirty   bool
	warned  bool // unserializable already reported
}

// deriveRole keeps role consistent with owner: only the owning peer may
// hold OwnedAuthoritative.
func (e *entry) deriveRole(local ClientID) {
	if e.owner == local {
		e.role = RoleOwnedAuthoritative
	} else if e.role == RoleOwnedAuthoritative {
		e.role = RoleReplicated
	}
}

func (e *entry) snapshot() Entry {
	return Entry{
		ObjectID:            e.id,
		ParentID:            e.parent,
		TypeName:            e.typ.String(),
		Owner:               e.owner,
		Role:                e.role,
		LastAppliedSequence: e.last,
		Spawned:             e.spawned,
		Dirty:               e.dirty,
	}
}

// Entry is a read-only copy of a registry record.
type Entry struct {
	ObjectID            uuid.UUID
	ParentID            uuid.UUID
	TypeName            string
	Owner               ClientID
	Role                Role
	LastAppliedSequence uint32
	Spawned             bool
	Dirty               bool
}
