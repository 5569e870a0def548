package replication

import "github.com/google/uuid"

// remapTable maps ids chosen by a remote peer (foreign) onto local
// canonical ids, with a reverse index for outbound rewriting.
type remapTable struct {
	fwd map[uuid.UUID]uuid.UUID
	rev map[uuid.UUID]uuid.UUID
}

func newRemapTable() remapTable {
	return remapTable{
		fwd: make(map[uuid.UUID]uuid.UUID),
		rev: make(map[uuid.UUID]uuid.UUID),
	}
}

func (t *remapTable) add(foreign, canonical uuid.UUID) {
	t.fwd[foreign] = canonical
	t.rev[canonical] = foreign
}

func (t *remapTable) canonicalOf(foreign uuid.UUID) (uuid.UUID, bool) {
	id, ok := t.fwd[foreign]
	return id, ok
}

func (t *remapTable) remoteOf(canonical uuid.UUID) (uuid.UUID, bool) {
	id, ok := t.rev[canonical]
	return id, ok
}

// remap returns the canonical id for id, or id itself when unmapped.
func (t *remapTable) remap(id uuid.UUID) uuid.UUID {
	if c, ok := t.fwd[id]; ok {
		return c
	}
	return id
}

// outbound returns the id a remote peer knows canonical by.
func (t *remapTable) outbound(canonical uuid.UUID) uuid.UUID {
	if f, ok := t.rev[canonical]; ok {
		return f
	}
	return canonical
}

func (t *remapTable) clear() {
	clear(t.fwd)
	clear(t.rev)
}
