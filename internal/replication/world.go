package replication

import (
	"github.com/google/uuid"

	"github.com/l1jgo/netrepl/internal/types"
)

// Object is a live simulation object as seen by the replicator.
type Object interface {
	ID() uuid.UUID
	Type() *types.Type
	// Instance is the value handed to serializers.
	Instance() any
}

// World is the scene arena owning live objects and their parent links.
// The replicator only keeps object ids and resolves them through Find, so
// an object destroyed behind its back is simply no longer found.
type World interface {
	Find(id uuid.UUID) (Object, bool)
	New(t *types.Type) (Object, error)
	Parent(obj Object) (Object, bool)
	SetParent(obj, parent Object)
	Children(obj Object) []Object
	// TemplateLink returns the template and member ids obj was instantiated
	// from, or uuid.Nil for both.
	TemplateLink(obj Object) (templateID, memberID uuid.UUID)
	Destroy(obj Object)
}

// Templates instantiates prefab templates into the World.
type Templates interface {
	Instantiate(templateID uuid.UUID) (Object, error)
	FindMember(root Object, memberID uuid.UUID) (Object, bool)
}
