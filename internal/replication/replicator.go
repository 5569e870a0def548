// Package replication keeps replicated objects consistent between a server
// and its clients: ownership, spawn/despawn reconciliation, stale update
// rejection and id remapping.
package replication

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/l1jgo/netrepl/internal/netstream"
	"github.com/l1jgo/netrepl/internal/types"
)

var (
	ErrNotTracked  = errors.New("replication: object not tracked")
	ErrInvalidRole = errors.New("replication: role not allowed for ownership")
)

// TypeFinder resolves wire type names.
type TypeFinder interface {
	Find(name string) (*types.Type, bool)
}

type Option func(*Replicator)

func WithLogger(log *zap.Logger) Option {
	return func(r *Replicator) { r.log = log }
}

// WithObserver adds o to the observers notified of registry changes.
func WithObserver(o Observer) Option {
	return func(r *Replicator) { r.observers = append(r.observers, o) }
}

func WithUploader(u Uploader) Option {
	return func(r *Replicator) { r.uploader = u }
}

func WithTemplates(t Templates) Option {
	return func(r *Replicator) { r.templates = t }
}

// Replicator is one replication session. Every exported method and the
// whole of Tick hold mu; the scene World is only locked after it.
type Replicator struct {
	mu sync.Mutex

	log       *zap.Logger
	world     World
	finder    TypeFinder
	transport Transport
	templates Templates
	observers []Observer
	uploader  Uploader

	mode    Mode
	localID ClientID
	frame   uint32

	entries map[uuid.UUID]*entry
	order   []uuid.UUID // insertion order, scanned by context resolution

	spawnQueue   []uuid.UUID
	despawnQueue []uuid.UUID
	newPeers     []ClientID

	remap       remapTable
	serializers serializerTable
	scratch     *netstream.Writer
}

func New(world World, finder TypeFinder, transport Transport, opts ...Option) *Replicator {
	r := &Replicator{
		log:         zap.NewNop(),
		world:       world,
		finder:      finder,
		transport:   transport,
		entries:     make(map[uuid.UUID]*entry, 256),
		remap:       newRemapTable(),
		serializers: newSerializerTable(),
		scratch:     netstream.NewWriter(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start brings the session online as mode with the given local client id.
func (r *Replicator) Start(mode Mode, local ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	r.localID = local
	r.frame = 0
	r.log.Info("replicator started", zap.Stringer("mode", mode), zap.Uint32("local_id", local))
}

// Shutdown destroys every spawned object and forgets all state.
func (r *Replicator) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	destroyed := 0
	for _, id := range r.order {
		e := r.entries[id]
		if !e.spawned {
			continue
		}
		if obj, ok := r.world.Find(id); ok {
			r.world.Destroy(obj)
			destroyed++
		}
	}
	clear(r.entries)
	r.order = r.order[:0]
	r.spawnQueue = r.spawnQueue[:0]
	r.despawnQueue = r.despawnQueue[:0]
	r.newPeers = r.newPeers[:0]
	r.remap.clear()
	r.mode = ModeOffline
	r.frame = 0
	r.log.Info("replicator shutdown", zap.Int("destroyed", destroyed))
}

func (r *Replicator) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *Replicator) LocalID() ClientID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localID
}

// Frame returns the sequence stamped on the last tick's state updates.
func (r *Replicator) Frame() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}

// Add tracks obj. A nil parent is taken from the scene graph. Already
// tracked objects are left untouched.
func (r *Replicator) Add(obj, parent Object) {
	if obj == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModeOffline {
		return
	}
	r.addLocked(obj, parent)
}

func (r *Replicator) addLocked(obj, parent Object) *entry {
	if e, ok := r.entries[obj.ID()]; ok {
		return e
	}
	if parent == nil {
		parent, _ = r.world.Parent(obj)
	}
	e := &entry{
		id:    obj.ID(),
		typ:   obj.Type(),
		owner: ServerClientID,
		role:  RoleOwnedAuthoritative,
	}
	if r.mode == ModeClient {
		e.role = RoleReplicated
	}
	if parent != nil {
		e.parent = parent.ID()
	}
	r.insert(e)
	r.log.Info("add object",
		zap.Stringer("object", e.id),
		zap.Stringer("type", e.typ),
		zap.Stringer("parent", e.parent),
	)
	r.notify(EventAdded, e, r.localID)
	return e
}

// Spawn queues obj for network creation on the next tick.
func (r *Replicator) Spawn(obj Object) {
	if obj == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModeOffline {
		return
	}
	id := obj.ID()
	if e, ok := r.entries[id]; ok && e.spawned {
		return
	}
	if !slices.Contains(r.spawnQueue, id) {
		r.spawnQueue = append(r.spawnQueue, id)
	}
}

// Despawn removes an owned object that is spawned or queued for spawn from
// the network and destroys it locally right away. A queued spawn is
// cancelled.
func (r *Replicator) Despawn(obj Object) {
	if obj == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModeOffline {
		return
	}
	id := obj.ID()
	e, ok := r.entries[id]
	if !ok {
		// Spawn without Add: the flush would track it with the server as owner.
		if r.localID != ServerClientID || !slices.Contains(r.spawnQueue, id) {
			return
		}
		e = r.addLocked(obj, nil)
	}
	if e.owner != r.localID {
		return
	}
	if !e.spawned && !slices.Contains(r.spawnQueue, id) {
		return
	}
	if !slices.Contains(r.despawnQueue, id) {
		r.despawnQueue = append(r.despawnQueue, id)
	}
	r.spawnQueue = slices.DeleteFunc(r.spawnQueue, func(q uuid.UUID) bool { return q == id })
	r.remove(e)
	r.notify(EventDespawned, e, r.localID)
	r.world.Destroy(obj)
}

func (r *Replicator) Role(obj Object) Role {
	if obj == nil {
		return RoleNone
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[obj.ID()]; ok {
		return e.role
	}
	return RoleNone
}

func (r *Replicator) Owner(obj Object) ClientID {
	if obj == nil {
		return ServerClientID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[obj.ID()]; ok {
		return e.owner
	}
	return ServerClientID
}

// SetOwnership changes obj's owner and the local role. Only the current
// owner can hand ownership away; other peers may only change their local
// role between None and Replicated. A peer may also claim an object it
// tracks but has not spawned yet.
func (r *Replicator) SetOwnership(obj Object, owner ClientID, role Role) error {
	if obj == nil {
		return ErrNotTracked
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[obj.ID()]
	if !ok {
		return fmt.Errorf("set ownership %s: %w", obj.ID(), ErrNotTracked)
	}

	switch {
	case e.owner == r.localID && e.owner != owner:
		if role == RoleOwnedAuthoritative {
			return fmt.Errorf("set ownership %s: hand off as %s: %w", e.id, role, ErrInvalidRole)
		}
		e.owner = owner
		e.last = 1
		e.role = role
		r.sendOwnership(e, nil)
		r.notify(EventOwnerChanged, e, r.localID)
	case e.owner == r.localID:
		if role != RoleOwnedAuthoritative {
			return fmt.Errorf("set ownership %s: owner keeps %s: %w", e.id, RoleOwnedAuthoritative, ErrInvalidRole)
		}
	case !e.spawned && owner == r.localID && role == RoleOwnedAuthoritative:
		e.owner = owner
		e.role = role
		e.last = 0
		r.notify(EventOwnerChanged, e, r.localID)
	default:
		if role == RoleOwnedAuthoritative || owner != e.owner {
			return fmt.Errorf("set ownership %s: not owner: %w", e.id, ErrInvalidRole)
		}
		e.role = role
	}
	return nil
}

// MarkDirty flags an owned object for the next upload or broadcast.
func (r *Replicator) MarkDirty(obj Object) {
	if obj == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[obj.ID()]; ok && e.role == RoleOwnedAuthoritative {
		e.dirty = true
	}
}

// RegisterSerializer sets the serializer pair for t, replacing any
// previous registration.
func (r *Replicator) RegisterSerializer(t *types.Type, ser SerializeFunc, de DeserializeFunc) {
	if t == nil || ser == nil || de == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serializers.register(t, ser, de)
}

// Serialize writes instance of type t through the dispatch table.
func (r *Replicator) Serialize(t *types.Type, instance any, w *netstream.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serializers.serialize(t, instance, w)
}

func (r *Replicator) Deserialize(t *types.Type, instance any, rd *netstream.Reader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serializers.deserialize(t, instance, rd)
}

// OnPeerConnected schedules catch-up spawns for a late joiner.
func (r *Replicator) OnPeerConnected(id ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.newPeers, id) {
		r.newPeers = append(r.newPeers, id)
	}
}

func (r *Replicator) OnPeerDisconnected(id ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newPeers = slices.DeleteFunc(r.newPeers, func(p ClientID) bool { return p == id })
}

// Entry returns a copy of the record for id, following one remap hop.
func (r *Replicator) Entry(id uuid.UUID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.resolve(id); e != nil {
		return e.snapshot(), true
	}
	return Entry{}, false
}

// Entries returns copies of every record in insertion order.
func (r *Replicator) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].snapshot())
	}
	return out
}

func (r *Replicator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Replicator) CanonicalIDOf(foreign uuid.UUID) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remap.canonicalOf(foreign)
}

func (r *Replicator) RemoteIDOf(canonical uuid.UUID) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remap.remoteOf(canonical)
}

// Remap returns the canonical id for a foreign id, or the id itself.
func (r *Replicator) Remap(id uuid.UUID) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remap.remap(id)
}

func (r *Replicator) notify(kind EventKind, e *entry, peer ClientID) {
	if len(r.observers) == 0 {
		return
	}
	ev := Event{
		Kind:     kind,
		Frame:    r.frame,
		ObjectID: e.id,
		ParentID: e.parent,
		TypeName: e.typ.String(),
		Owner:    e.owner,
		Role:     e.role,
		Peer:     peer,
	}
	for _, o := range r.observers {
		o.Observe(ev)
	}
}
