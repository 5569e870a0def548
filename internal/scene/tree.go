// Package scene is the object arena replicated objects live in: a parent/child
// tree of typed nodes addressed by stable uuids over generational handles.
package scene

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/l1jgo/netrepl/internal/core/ecs"
	"github.com/l1jgo/netrepl/internal/replication"
	"github.com/l1jgo/netrepl/internal/types"
)

// Node is one object in the tree. Identity fields are immutable; structure is
// owned by the Tree and read under its lock.
type Node struct {
	id     uuid.UUID
	typ    *types.Type
	value  any
	handle ecs.Handle

	parent   ecs.Handle
	children []ecs.Handle
}

func (n *Node) ID() uuid.UUID      { return n.id }
func (n *Node) Type() *types.Type  { return n.typ }
func (n *Node) Instance() any      { return n.value }
func (n *Node) Handle() ecs.Handle { return n.handle }
func (n *Node) String() string     { return fmt.Sprintf("%s:%s", n.id, n.typ) }

type link struct {
	template uuid.UUID
	member   uuid.UUID
}

// Tree is safe for concurrent use.
type Tree struct {
	mu    sync.RWMutex
	world *ecs.World
	nodes *ecs.Store[Node]
	links *ecs.Store[link]
	byID  map[uuid.UUID]ecs.Handle
}

var _ replication.World = (*Tree)(nil)

func NewTree() *Tree {
	t := &Tree{
		world: ecs.NewWorld(),
		nodes: ecs.NewStore[Node](),
		links: ecs.NewStore[link](),
		byID:  make(map[uuid.UUID]ecs.Handle, 64),
	}
	t.world.Register(t.nodes)
	t.world.Register(t.links)
	return t
}

// Create adds a root node of type typ with a fresh id.
func (t *Tree) Create(typ *types.Type) *Node {
	return t.CreateWithID(typ, uuid.New())
}

// CreateWithID adds a root node with a caller-chosen id.
func (t *Tree) CreateWithID(typ *types.Type, id uuid.UUID) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.world.Create()
	n := &Node{id: id, typ: typ, value: typ.New(), handle: h}
	t.nodes.Set(h, n)
	t.byID[id] = h
	return n
}

// New implements replication.World.
func (t *Tree) New(typ *types.Type) (replication.Object, error) {
	if typ == nil {
		return nil, fmt.Errorf("scene: nil type")
	}
	return t.Create(typ), nil
}

func (t *Tree) Find(id uuid.UUID) (replication.Object, bool) {
	n, ok := t.Node(id)
	if !ok {
		return nil, false
	}
	return n, true
}

// Node returns the live node for id.
func (t *Tree) Node(id uuid.UUID) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return t.nodes.Get(h)
}

// Alive reports whether obj still exists.
func (t *Tree) Alive(obj replication.Object) bool {
	n, ok := obj.(*Node)
	if !ok || n == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.world.Alive(n.handle)
}

func (t *Tree) Parent(obj replication.Object) (replication.Object, bool) {
	n, ok := obj.(*Node)
	if !ok || n == nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.world.Alive(n.handle) {
		return nil, false
	}
	p, ok := t.nodes.Get(n.parent)
	if !ok {
		return nil, false
	}
	return p, true
}

// SetParent moves obj under parent; a nil parent detaches it to the root.
func (t *Tree) SetParent(obj, parent replication.Object) {
	n, ok := obj.(*Node)
	if !ok || n == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.world.Alive(n.handle) {
		return
	}
	var ph ecs.Handle
	if p, ok := parent.(*Node); ok && p != nil && t.world.Alive(p.handle) {
		if t.isAncestorLocked(n.handle, p.handle) {
			return
		}
		ph = p.handle
	}
	t.detachLocked(n)
	n.parent = ph
	if p, ok := t.nodes.Get(ph); ok {
		p.children = append(p.children, n.handle)
	}
}

// isAncestorLocked reports whether a is h or one of h's ancestors.
func (t *Tree) isAncestorLocked(a, h ecs.Handle) bool {
	for cur := h; ; {
		if cur == a {
			return true
		}
		n, ok := t.nodes.Get(cur)
		if !ok {
			return false
		}
		cur = n.parent
	}
}

func (t *Tree) detachLocked(n *Node) {
	p, ok := t.nodes.Get(n.parent)
	if !ok {
		return
	}
	for i, c := range p.children {
		if c == n.handle {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	n.parent = 0
}

func (t *Tree) Children(obj replication.Object) []replication.Object {
	n, ok := obj.(*Node)
	if !ok || n == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]replication.Object, 0, len(n.children))
	for _, h := range n.children {
		if c, ok := t.nodes.Get(h); ok {
			out = append(out, c)
		}
	}
	return out
}

// SetTemplateLink records which template member obj was built from.
func (t *Tree) SetTemplateLink(obj replication.Object, templateID, memberID uuid.UUID) {
	n, ok := obj.(*Node)
	if !ok || n == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.world.Alive(n.handle) {
		return
	}
	t.links.Set(n.handle, &link{template: templateID, member: memberID})
}

func (t *Tree) TemplateLink(obj replication.Object) (uuid.UUID, uuid.UUID) {
	n, ok := obj.(*Node)
	if !ok || n == nil {
		return uuid.Nil, uuid.Nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.links.Get(n.handle)
	if !ok {
		return uuid.Nil, uuid.Nil
	}
	return l.template, l.member
}

// Destroy removes obj and its whole subtree.
func (t *Tree) Destroy(obj replication.Object) {
	n, ok := obj.(*Node)
	if !ok || n == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.world.Alive(n.handle) {
		return
	}
	t.detachLocked(n)
	t.destroyLocked(n)
}

func (t *Tree) destroyLocked(n *Node) {
	for _, h := range n.children {
		if c, ok := t.nodes.Get(h); ok {
			t.destroyLocked(c)
		}
	}
	n.children = nil
	delete(t.byID, n.id)
	t.world.Destroy(n.handle)
}

// Each calls fn for every live node. fn must not call back into the Tree.
func (t *Tree) Each(fn func(*Node)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.nodes.Each(func(_ ecs.Handle, n *Node) { fn(n) })
}

func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.world.Len()
}
