package replication

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/l1jgo/netrepl/internal/netstream"
	"github.com/l1jgo/netrepl/internal/protocol"
)

// RegisterHandlers routes the four replication kinds in reg to r.
func (r *Replicator) RegisterHandlers(reg *protocol.Registry) {
	reg.Register(protocol.KindStateUpdate, decodeThen(r.log, protocol.ReadStateUpdate, r.HandleStateUpdate))
	reg.Register(protocol.KindSpawn, decodeThen(r.log, protocol.ReadSpawn, r.HandleSpawn))
	reg.Register(protocol.KindDespawn, decodeThen(r.log, protocol.ReadDespawn, r.HandleDespawn))
	reg.Register(protocol.KindOwnershipChange, decodeThen(r.log, protocol.ReadOwnershipChange, r.HandleOwnershipChange))
}

func decodeThen[M any](log *zap.Logger, read func(*netstream.Reader) (M, error), handle func(ClientID, M)) protocol.HandlerFunc {
	return func(sender uint32, rd *netstream.Reader) {
		m, err := read(rd)
		if err != nil {
			log.Debug("drop malformed message", zap.Uint32("sender", sender), zap.Error(err))
			return
		}
		handle(sender, m)
	}
}

// authorized reports whether sender may change e. Clients also accept the
// server relaying objects owned by other clients.
func (r *Replicator) authorized(sender ClientID, e *entry) bool {
	return sender == e.owner || (r.mode == ModeClient && sender == ServerClientID)
}

func (r *Replicator) HandleStateUpdate(sender ClientID, m protocol.StateUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModeOffline {
		return
	}
	e := r.resolveByContext(m.ObjectID, m.ParentID, m.TypeName)
	if e == nil {
		r.log.Debug("state update for unknown object", zap.Stringer("object", m.ObjectID), zap.String("type", m.TypeName))
		return
	}
	obj, ok := r.world.Find(e.id)
	if !ok {
		return
	}
	if !r.authorized(sender, e) {
		r.log.Debug("reject state update from non-owner",
			zap.Stringer("object", e.id),
			zap.Uint32("sender", sender),
			zap.Uint32("owner", e.owner),
		)
		return
	}
	if e.role == RoleOwnedAuthoritative || m.Sequence <= e.last {
		return
	}
	e.last = m.Sequence
	if err := r.serializers.deserialize(obj.Type(), obj.Instance(), netstream.NewReader(m.Payload)); err != nil {
		r.warnUnserializable(e, err)
	}
}

func (r *Replicator) HandleSpawn(sender ClientID, m protocol.Spawn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModeOffline {
		return
	}
	if e := r.resolveByContext(m.ObjectID, m.ParentID, m.TypeName); e != nil {
		e.spawned = true
		if r.mode == ModeClient {
			e.owner = m.OwnerClientID
			e.deriveRole(r.localID)
		} else if e.owner != m.OwnerClientID {
			r.log.Debug("spawn owner mismatch",
				zap.Stringer("object", e.id),
				zap.Uint32("owner", e.owner),
				zap.Uint32("claimed", m.OwnerClientID),
			)
		}
		r.notify(EventSpawned, e, sender)
		return
	}
	r.spawnRemote(sender, m)
}

// spawnRemote builds the local copy of an object spawned by a peer.
func (r *Replicator) spawnRemote(sender ClientID, m protocol.Spawn) {
	parent := r.resolve(m.ParentID)
	var holder Object
	if parent != nil {
		holder, _ = r.world.Find(parent.id)
	}
	if holder == nil {
		holder, _ = r.world.Find(m.ParentID)
	}

	var obj, attach Object
	if m.TemplateID != uuid.Nil {
		obj, attach = r.spawnFromTemplate(m, holder)
		if obj == nil {
			return
		}
	} else {
		typ, ok := r.finder.Find(m.TypeName)
		if !ok {
			r.log.Error("spawn of unknown type", zap.String("type", m.TypeName), zap.Stringer("object", m.ObjectID))
			return
		}
		o, err := r.world.New(typ)
		if err != nil {
			r.log.Error("spawn object failed", zap.String("type", m.TypeName), zap.Error(err))
			return
		}
		obj, attach = o, o
	}

	if existing, ok := r.entries[obj.ID()]; ok {
		r.remap.add(m.ObjectID, existing.id)
		existing.spawned = true
		return
	}
	e := &entry{
		id:      obj.ID(),
		typ:     obj.Type(),
		owner:   sender,
		role:    RoleReplicated,
		spawned: true,
	}
	if r.mode == ModeClient {
		e.owner = m.OwnerClientID
	}
	e.deriveRole(r.localID)
	if parent != nil {
		e.parent = parent.id
	}
	r.insert(e)
	r.log.Info("add remote object",
		zap.Stringer("object", e.id),
		zap.Stringer("type", e.typ),
		zap.Stringer("parent", e.parent),
		zap.Uint32("owner", e.owner),
	)
	if m.ObjectID != e.id {
		r.remap.add(m.ObjectID, e.id)
		r.log.Info("remap object", zap.Stringer("foreign", m.ObjectID), zap.Stringer("object", e.id))
	}

	if attach != nil && holder != nil {
		if _, hasParent := r.world.Parent(attach); !hasParent {
			r.world.SetParent(attach, holder)
		}
	}
	r.notify(EventSpawned, e, sender)

	if r.mode == ModeServer {
		if targets := r.peersExcept(&sender); len(targets) > 0 {
			r.sendSpawn(e, obj, targets)
		}
	}
}

// spawnFromTemplate finds or builds the template member for m. attach is
// the root of a fresh instance, nil when an existing instance was reused.
func (r *Replicator) spawnFromTemplate(m protocol.Spawn, holder Object) (obj, attach Object) {
	if r.templates == nil {
		r.log.Error("spawn from template without catalog", zap.Stringer("template", m.TemplateID))
		return nil, nil
	}
	var instance Object
	if holder != nil {
		if tid, _ := r.world.TemplateLink(holder); tid == m.TemplateID {
			instance = holder
		} else {
			for _, child := range r.world.Children(holder) {
				if tid, _ := r.world.TemplateLink(child); tid != m.TemplateID {
					continue
				}
				member, ok := r.templates.FindMember(child, m.TemplateMemberID)
				if !ok || r.entries[member.ID()] != nil {
					continue
				}
				instance, obj = child, member
				break
			}
		}
	}
	fresh := false
	if instance == nil {
		inst, err := r.templates.Instantiate(m.TemplateID)
		if err != nil {
			r.log.Error("instantiate template failed", zap.Stringer("template", m.TemplateID), zap.Error(err))
			return nil, nil
		}
		instance, fresh = inst, true
	}
	if obj == nil {
		member, ok := r.templates.FindMember(instance, m.TemplateMemberID)
		if !ok {
			r.log.Error("template member not found",
				zap.Stringer("member", m.TemplateMemberID),
				zap.Stringer("template", m.TemplateID),
			)
			if fresh {
				r.world.Destroy(instance)
			}
			return nil, nil
		}
		obj = member
	}
	if fresh {
		attach = instance
	}
	return obj, attach
}

func (r *Replicator) HandleDespawn(sender ClientID, m protocol.Despawn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModeOffline {
		return
	}
	e := r.resolve(m.ObjectID)
	if e == nil {
		r.log.Warn("despawn of unknown object", zap.Stringer("object", m.ObjectID))
		return
	}
	obj, ok := r.world.Find(e.id)
	if !ok || !e.spawned {
		return
	}
	if !r.authorized(sender, e) {
		r.log.Debug("reject despawn from non-owner", zap.Stringer("object", e.id), zap.Uint32("sender", sender))
		return
	}
	r.remove(e)
	r.notify(EventDespawned, e, sender)
	r.world.Destroy(obj)

	if r.mode == ModeServer {
		if targets := r.peersExcept(&sender); len(targets) > 0 {
			msg := protocol.Despawn{ObjectID: e.id}
			r.transport.Send(ChannelReliableOrdered, targets, msg.Encode())
		}
	}
}

func (r *Replicator) HandleOwnershipChange(sender ClientID, m protocol.OwnershipChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModeOffline {
		return
	}
	e := r.resolve(m.ObjectID)
	if e == nil {
		r.log.Warn("ownership change for unknown object", zap.Stringer("object", m.ObjectID))
		return
	}
	if _, ok := r.world.Find(e.id); !ok {
		return
	}
	if !r.authorized(sender, e) {
		r.log.Debug("reject ownership change from non-owner", zap.Stringer("object", e.id), zap.Uint32("sender", sender))
		return
	}
	e.owner = m.OwnerClientID
	e.last = 1
	if e.owner == r.localID {
		e.role = RoleOwnedAuthoritative
		e.last = 0
	} else if e.role == RoleOwnedAuthoritative {
		e.role = RoleReplicated
	}
	r.notify(EventOwnerChanged, e, sender)
	if r.mode == ModeServer {
		r.sendOwnership(e, &sender)
	}
}
