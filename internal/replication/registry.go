package replication

import (
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (r *Replicator) insert(e *entry) {
	r.entries[e.id] = e
	r.order = append(r.order, e.id)
}

func (r *Replicator) remove(e *entry) {
	delete(r.entries, e.id)
	if i := slices.Index(r.order, e.id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}

// resolve looks id up directly, then through one remap hop.
func (r *Replicator) resolve(id uuid.UUID) *entry {
	if e, ok := r.entries[id]; ok {
		return e
	}
	if c, ok := r.remap.canonicalOf(id); ok {
		return r.entries[c]
	}
	return nil
}

// resolveByContext matches an unknown id against an object created on both
// sides independently: the first never-updated entry under the same parent
// with a live object of the same type. The match is remembered. Two such
// siblings of one type can be matched the wrong way round.
func (r *Replicator) resolveByContext(id, parentID uuid.UUID, typeName string) *entry {
	if e := r.resolve(id); e != nil {
		return e
	}
	parentID = r.remap.remap(parentID)
	typ, ok := r.finder.Find(typeName)
	if !ok {
		return nil
	}
	for _, cid := range r.order {
		e := r.entries[cid]
		if e.last != 0 || e.parent != parentID {
			continue
		}
		obj, ok := r.world.Find(e.id)
		if !ok || obj.Type() != typ {
			continue
		}
		r.log.Info("remap object",
			zap.Stringer("foreign", id),
			zap.Stringer("object", e.id),
			zap.Stringer("type", typ),
		)
		r.remap.add(id, e.id)
		return e
	}
	return nil
}
