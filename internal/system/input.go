// Package system holds the node's tick systems.
package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/netrepl/internal/core/event"
	coresys "github.com/l1jgo/netrepl/internal/core/system"
	"github.com/l1jgo/netrepl/internal/protocol"
	"github.com/l1jgo/netrepl/internal/replication"
)

// Inbox is the transport side the input system drains.
type Inbox interface {
	TakeJoined() []uint32
	Left() <-chan uint32
	Drain(limit int, fn func(sender uint32, payload []byte)) int
}

// PeerTracker is told about peer lifecycle changes.
type PeerTracker interface {
	OnPeerConnected(id replication.ClientID)
	OnPeerDisconnected(id replication.ClientID)
}

// InputSystem applies peer joins and leaves, then drains every peer's
// inbound queue through the message registry. Phase 0 (Input).
type InputSystem struct {
	inbox      Inbox
	registry   *protocol.Registry
	peers      PeerTracker
	bus        *event.Bus
	maxPerTick int
	log        *zap.Logger
}

func NewInputSystem(inbox Inbox, registry *protocol.Registry, peers PeerTracker, bus *event.Bus, maxPerTick int, log *zap.Logger) *InputSystem {
	return &InputSystem{
		inbox:      inbox,
		registry:   registry,
		peers:      peers,
		bus:        bus,
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	// Taken peers become transport targets, so each must reach the
	// replicator before the next Replicate phase.
	for _, id := range s.inbox.TakeJoined() {
		s.peers.OnPeerConnected(id)
		event.Emit(s.bus, event.PeerJoined{Peer: id})
	}

	// Drain before handling leaves so a peer's last messages still apply.
	s.inbox.Drain(s.maxPerTick, func(sender uint32, payload []byte) {
		if err := s.registry.Dispatch(sender, payload); err != nil {
			s.log.Debug("dispatch failed", zap.Uint32("peer", sender), zap.Error(err))
		}
	})

	for {
		select {
		case id := <-s.inbox.Left():
			s.peers.OnPeerDisconnected(id)
			event.Emit(s.bus, event.PeerLeft{Peer: id})
			continue
		default:
		}
		break
	}
}
