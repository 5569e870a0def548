package replication

import (
	"slices"

	"go.uber.org/zap"

	"github.com/l1jgo/netrepl/internal/protocol"
)

// Tick runs one network frame: late joiner catch-up, despawn flush, spawn
// flush, then the server's state broadcast or the client's upload hook.
func (r *Replicator) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModeOffline {
		return
	}
	r.frame++
	if len(r.entries) == 0 && len(r.spawnQueue) == 0 && len(r.despawnQueue) == 0 {
		return
	}
	isClient := r.mode == ModeClient

	if !isClient && len(r.newPeers) > 0 {
		r.catchUp(slices.Clone(r.newPeers))
		r.newPeers = r.newPeers[:0]
	}

	targets := r.transport.Peers()
	r.flushDespawns(targets)
	r.flushSpawns(targets)
	if len(targets) == 0 {
		return
	}

	if isClient {
		r.upload()
		return
	}
	r.broadcast(targets)
}

func (r *Replicator) catchUp(peers []ClientID) {
	sent := 0
	for _, id := range r.order {
		e := r.entries[id]
		if !e.spawned {
			continue
		}
		obj, ok := r.world.Find(id)
		if !ok {
			continue
		}
		r.sendSpawn(e, obj, peers)
		sent++
	}
	r.log.Debug("late joiner catch-up", zap.Uint32s("peers", peers), zap.Int("spawns", sent))
}

func (r *Replicator) flushDespawns(targets []ClientID) {
	for _, id := range r.despawnQueue {
		if len(targets) == 0 {
			continue
		}
		msg := protocol.Despawn{ObjectID: id}
		if r.mode == ModeClient {
			msg.ObjectID = r.remap.outbound(id)
		}
		r.log.Info("despawn object", zap.Stringer("object", id))
		r.transport.Send(ChannelReliableOrdered, targets, msg.Encode())
	}
	r.despawnQueue = r.despawnQueue[:0]
}

func (r *Replicator) flushSpawns(targets []ClientID) {
	for _, id := range r.spawnQueue {
		obj, ok := r.world.Find(id)
		if !ok {
			continue
		}
		e := r.addLocked(obj, nil)
		if e.owner != r.localID || e.role != RoleOwnedAuthoritative {
			continue
		}
		if len(targets) > 0 {
			r.log.Info("spawn object", zap.Stringer("object", id), zap.Stringer("type", e.typ))
			r.sendSpawn(e, obj, targets)
		}
		e.spawned = true
		r.notify(EventSpawned, e, r.localID)
	}
	r.spawnQueue = r.spawnQueue[:0]
}

// broadcast sends every tracked object's state and reaps entries whose
// object is gone.
func (r *Replicator) broadcast(targets []ClientID) {
	for _, id := range slices.Clone(r.order) {
		e := r.entries[id]
		obj, ok := r.world.Find(id)
		if !ok {
			r.log.Info("remove object", zap.Stringer("object", id), zap.Stringer("parent", e.parent))
			r.remove(e)
			r.notify(EventRemoved, e, r.localID)
			continue
		}

		r.scratch.Reset()
		if err := r.serializers.serialize(obj.Type(), obj.Instance(), r.scratch); err != nil {
			r.warnUnserializable(e, err)
			continue
		}
		msg := protocol.StateUpdate{
			Sequence: r.frame,
			ObjectID: e.id,
			ParentID: e.parent,
			TypeName: obj.Type().Name,
			Payload:  r.scratch.Bytes(),
		}
		data, err := msg.Encode()
		if err != nil {
			r.warnUnserializable(e, err)
			continue
		}
		r.transport.Send(ChannelUnreliable, targets, data)
		e.dirty = false
	}
}

func (r *Replicator) upload() {
	if r.uploader == nil {
		return
	}
	var dirty []Object
	for _, id := range r.order {
		e := r.entries[id]
		if !e.dirty || e.owner != r.localID || e.role != RoleOwnedAuthoritative {
			continue
		}
		if obj, ok := r.world.Find(id); ok {
			dirty = append(dirty, obj)
		}
		e.dirty = false
	}
	if len(dirty) > 0 {
		r.uploader.Upload(r.frame, dirty)
	}
}

func (r *Replicator) warnUnserializable(e *entry, err error) {
	if e.warned {
		return
	}
	e.warned = true
	r.log.Warn("cannot serialize object",
		zap.Stringer("object", e.id),
		zap.Stringer("type", e.typ),
		zap.Error(err),
	)
}

func (r *Replicator) sendSpawn(e *entry, obj Object, targets []ClientID) {
	msg := protocol.Spawn{
		ObjectID:      e.id,
		ParentID:      e.parent,
		OwnerClientID: e.owner,
		TypeName:      obj.Type().Name,
	}
	if r.mode == ModeClient {
		msg.ObjectID = r.remap.outbound(msg.ObjectID)
		msg.ParentID = r.remap.outbound(msg.ParentID)
	}
	msg.TemplateID, msg.TemplateMemberID = r.world.TemplateLink(obj)
	r.transport.Send(ChannelReliableOrdered, targets, msg.Encode())
}

// sendOwnership announces e's owner. The server sends to every peer but
// except; a client sends to the server.
func (r *Replicator) sendOwnership(e *entry, except *ClientID) {
	msg := protocol.OwnershipChange{ObjectID: e.id, OwnerClientID: e.owner}
	if r.mode == ModeClient {
		msg.ObjectID = r.remap.outbound(e.id)
	}
	targets := r.peersExcept(except)
	if len(targets) == 0 {
		return
	}
	r.transport.Send(ChannelReliableOrdered, targets, msg.Encode())
}

func (r *Replicator) peersExcept(except *ClientID) []ClientID {
	peers := r.transport.Peers()
	if except == nil {
		return peers
	}
	return slices.DeleteFunc(slices.Clone(peers), func(p ClientID) bool { return p == *except })
}
