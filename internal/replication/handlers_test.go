package replication_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/netrepl/internal/protocol"
	"github.com/l1jgo/netrepl/internal/replication"
)

func TestRemoteSpawnRegistersRemappedEntry(t *testing.T) {
	h := newHarness(t, replication.ModeClient, 3, replication.ServerClientID)
	x := uuid.New()
	h.rep.HandleSpawn(replication.ServerClientID, protocol.Spawn{
		ObjectID:      x,
		OwnerClientID: 7,
		TypeName:      "Pawn",
	})

	entries := h.rep.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ObjectID == x {
		t.Fatalf("expected a fresh canonical id")
	}
	if c, ok := h.rep.CanonicalIDOf(x); !ok || c != e.ObjectID {
		t.Fatalf("expected %s remapped to %s", x, e.ObjectID)
	}
	if r, ok := h.rep.RemoteIDOf(e.ObjectID); !ok || r != x {
		t.Fatalf("expected reverse mapping to %s", x)
	}
	if e.Role != replication.RoleReplicated || e.Owner != 7 || !e.Spawned {
		t.Fatalf("unexpected entry %+v", e)
	}
	if _, ok := h.tree.Find(e.ObjectID); !ok {
		t.Fatalf("expected backing object in scene")
	}

	h.rep.HandleSpawn(replication.ServerClientID, protocol.Spawn{ObjectID: x, OwnerClientID: 7, TypeName: "Pawn"})
	if h.rep.Len() != 1 {
		t.Fatalf("expected duplicate spawn to resolve to the same entry")
	}
}

func TestRemoteSpawnUnknownTypeIsDropped(t *testing.T) {
	h := newHarness(t, replication.ModeClient, 3, replication.ServerClientID)
	h.rep.HandleSpawn(replication.ServerClientID, protocol.Spawn{ObjectID: uuid.New(), TypeName: "Nope"})
	if h.rep.Len() != 0 || h.tree.Len() != 0 {
		t.Fatalf("expected nothing created for an unknown type")
	}
}

func TestRemoteSpawnParentsUnderResolvedParent(t *testing.T) {
	h := newHarness(t, replication.ModeClient, 3, replication.ServerClientID)
	parentX, childX := uuid.New(), uuid.New()
	h.rep.HandleSpawn(0, protocol.Spawn{ObjectID: parentX, TypeName: "Crate"})
	h.rep.HandleSpawn(0, protocol.Spawn{ObjectID: childX, ParentID: parentX, TypeName: "Pawn"})

	parentID := h.rep.Remap(parentX)
	child, ok := h.rep.Entry(childX)
	if !ok {
		t.Fatalf("expected child entry")
	}
	if child.ParentID != parentID {
		t.Fatalf("expected child parent %s, got %s", parentID, child.ParentID)
	}
	node, _ := h.tree.Node(child.ObjectID)
	if p, ok := h.tree.Parent(node); !ok || p.ID() != parentID {
		t.Fatalf("expected scene parent to follow the entry")
	}
}

func TestServerRelaysClientSpawn(t *testing.T) {
	h := newHarness(t, replication.ModeServer, replication.ServerClientID, 1, 2, 3)
	x := uuid.New()
	h.rep.HandleSpawn(1, protocol.Spawn{ObjectID: x, OwnerClientID: 1, TypeName: "Pawn"})

	e, ok := h.rep.Entry(x)
	if !ok || e.Owner != 1 || e.Role != replication.RoleReplicated {
		t.Fatalf("expected client-owned replicated entry, got %+v", e)
	}
	spawns := h.tr.ofKind(protocol.KindSpawn)
	if len(spawns) != 1 {
		t.Fatalf("expected 1 relayed spawn, got %d", len(spawns))
	}
	if got := spawns[0].targets; len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("expected relay to peers 2 and 3, got %v", got)
	}
	if msg := decodeSpawn(t, spawns[0]); msg.ObjectID != e.ObjectID || msg.OwnerClientID != 1 {
		t.Fatalf("expected relay with canonical id and owner 1, got %+v", msg)
	}
}

func TestStaleStateUpdatesRejected(t *testing.T) {
	cases := []struct {
		name    string
		seqs    []uint32
		applied []bool
		last    uint32
	}{
		{"out of order middle", []uint32{5, 3, 7}, []bool{true, false, true}, 7},
		{"late older update", []uint32{10, 8}, []bool{true, false}, 10},
		{"duplicate", []uint32{4, 4}, []bool{true, false}, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, replication.ModeClient, 2, replication.ServerClientID)
			x := uuid.New()
			h.rep.HandleSpawn(0, protocol.Spawn{ObjectID: x, TypeName: "Pawn"})
			id := h.rep.Remap(x)

			for i, seq := range tc.seqs {
				hp := int32(seq * 10)
				before := h.pawnOf(t, id).HP
				h.rep.HandleStateUpdate(0, protocol.StateUpdate{
					Sequence: seq,
					ObjectID: x,
					TypeName: "Pawn",
					Payload:  pawnPayload(hp),
				})
				got := h.pawnOf(t, id).HP
				if tc.applied[i] && got != hp {
					t.Fatalf("expected seq %d applied, hp %d", seq, got)
				}
				if !tc.applied[i] && got != before {
					t.Fatalf("expected seq %d rejected, hp changed to %d", seq, got)
				}
			}
			e, _ := h.rep.Entry(x)
			if e.LastAppliedSequence != tc.last {
				t.Fatalf("expected last applied %d, got %d", tc.last, e.LastAppliedSequence)
			}
		})
	}
}

func TestNonOwnerMessagesRejected(t *testing.T) {
	h := newHarness(t, replication.ModeServer, replication.ServerClientID, 1, 2)
	x := uuid.New()
	h.rep.HandleSpawn(1, protocol.Spawn{ObjectID: x, OwnerClientID: 1, TypeName: "Pawn"})
	id := h.rep.Remap(x)

	h.rep.HandleStateUpdate(2, protocol.StateUpdate{Sequence: 5, ObjectID: id, TypeName: "Pawn", Payload: pawnPayload(99)})
	h.rep.HandleOwnershipChange(2, protocol.OwnershipChange{ObjectID: id, OwnerClientID: 2})
	h.rep.HandleDespawn(2, protocol.Despawn{ObjectID: id})

	e, ok := h.rep.Entry(id)
	if !ok {
		t.Fatalf("expected entry to survive foreign despawn")
	}
	if e.Owner != 1 || e.LastAppliedSequence != 0 {
		t.Fatalf("expected entry untouched, got %+v", e)
	}
	if h.pawnOf(t, id).HP != 0 {
		t.Fatalf("expected state untouched")
	}

	h.rep.HandleStateUpdate(1, protocol.StateUpdate{Sequence: 5, ObjectID: id, TypeName: "Pawn", Payload: pawnPayload(42)})
	if h.pawnOf(t, id).HP != 42 {
		t.Fatalf("expected owner update applied")
	}

	h.tr.reset()
	h.rep.HandleDespawn(1, protocol.Despawn{ObjectID: id})
	if _, ok := h.tree.Find(id); ok {
		t.Fatalf("expected owner despawn to destroy the object")
	}
	relayed := h.tr.ofKind(protocol.KindDespawn)
	if len(relayed) != 1 || len(relayed[0].targets) != 1 || relayed[0].targets[0] != 2 {
		t.Fatalf("expected despawn relayed to peer 2 only")
	}
}

func TestOwnershipRoundTrip(t *testing.T) {
	server := newHarness(t, replication.ModeServer, replication.ServerClientID, 1, 2)
	obj := server.tree.Create(server.pawn)
	server.rep.Add(obj, nil)
	server.rep.Spawn(obj)
	server.rep.Tick()
	spawn := decodeSpawn(t, server.tr.ofKind(protocol.KindSpawn)[0])

	if err := server.rep.SetOwnership(obj, 1, replication.RoleReplicated); err != nil {
		t.Fatalf("server hand off: %v", err)
	}
	toA := decodeOwnership(t, server.tr.ofKind(protocol.KindOwnershipChange)[0])

	clientA := newHarness(t, replication.ModeClient, 1, replication.ServerClientID)
	clientB := newHarness(t, replication.ModeClient, 2, replication.ServerClientID)
	for _, c := range []*harness{clientA, clientB} {
		c.rep.HandleSpawn(0, spawn)
		c.rep.HandleOwnershipChange(0, toA)
	}
	aEntry, _ := clientA.rep.Entry(spawn.ObjectID)
	if aEntry.Owner != 1 || aEntry.Role != replication.RoleOwnedAuthoritative || aEntry.LastAppliedSequence != 0 {
		t.Fatalf("expected client A to own the object, got %+v", aEntry)
	}

	aObj, _ := clientA.tree.Find(aEntry.ObjectID)
	if err := clientA.rep.SetOwnership(aObj, 2, replication.RoleOwnedAuthoritative); !errors.Is(err, replication.ErrInvalidRole) {
		t.Fatalf("expected hand off as owner role to fail, got %v", err)
	}
	if err := clientA.rep.SetOwnership(aObj, 2, replication.RoleReplicated); err != nil {
		t.Fatalf("client A hand off: %v", err)
	}
	aEntry, _ = clientA.rep.Entry(spawn.ObjectID)
	if aEntry.Owner != 2 || aEntry.Role != replication.RoleReplicated || aEntry.LastAppliedSequence != 1 {
		t.Fatalf("expected A to record B as owner, got %+v", aEntry)
	}
	sent := clientA.tr.ofKind(protocol.KindOwnershipChange)
	if len(sent) != 1 {
		t.Fatalf("expected 1 ownership message from A, got %d", len(sent))
	}
	fromA := decodeOwnership(t, sent[0])
	if fromA.ObjectID != spawn.ObjectID || fromA.OwnerClientID != 2 {
		t.Fatalf("expected A to address the server id, got %+v", fromA)
	}

	server.tr.reset()
	server.rep.HandleOwnershipChange(1, fromA)
	sEntry, _ := server.rep.Entry(obj.ID())
	if sEntry.Owner != 2 || sEntry.Role != replication.RoleReplicated || sEntry.LastAppliedSequence != 1 {
		t.Fatalf("expected server to record B as owner, got %+v", sEntry)
	}
	rebroadcast := server.tr.ofKind(protocol.KindOwnershipChange)
	if len(rebroadcast) != 1 || len(rebroadcast[0].targets) != 1 || rebroadcast[0].targets[0] != 2 {
		t.Fatalf("expected rebroadcast to B only")
	}

	clientB.rep.HandleOwnershipChange(0, decodeOwnership(t, rebroadcast[0]))
	bEntry, _ := clientB.rep.Entry(spawn.ObjectID)
	if bEntry.Owner != 2 || bEntry.Role != replication.RoleOwnedAuthoritative || bEntry.LastAppliedSequence != 0 {
		t.Fatalf("expected B to own the object, got %+v", bEntry)
	}
}

func TestSetOwnershipErrors(t *testing.T) {
	h := newHarness(t, replication.ModeClient, 2, replication.ServerClientID)
	stray := h.tree.Create(h.pawn)
	if err := h.rep.SetOwnership(stray, 2, replication.RoleOwnedAuthoritative); !errors.Is(err, replication.ErrNotTracked) {
		t.Fatalf("expected ErrNotTracked, got %v", err)
	}

	x := uuid.New()
	h.rep.HandleSpawn(0, protocol.Spawn{ObjectID: x, TypeName: "Pawn"})
	obj, _ := h.tree.Find(h.rep.Remap(x))
	if err := h.rep.SetOwnership(obj, 2, replication.RoleOwnedAuthoritative); !errors.Is(err, replication.ErrInvalidRole) {
		t.Fatalf("expected non-owner claim of spawned object to fail, got %v", err)
	}
	if err := h.rep.SetOwnership(obj, replication.ServerClientID, replication.RoleNone); err != nil {
		t.Fatalf("expected local role change: %v", err)
	}
	if h.rep.Role(obj) != replication.RoleNone {
		t.Fatalf("expected role None")
	}
}

// Two same-typed siblings created independently on both peers: the first
// unmatched sibling wins, whichever one the server meant.
func TestContextResolutionMatchesFirstSibling(t *testing.T) {
	h := newHarness(t, replication.ModeClient, 1, replication.ServerClientID)
	parent := h.tree.Create(h.crate)
	a := h.tree.Create(h.pawn)
	b := h.tree.Create(h.pawn)
	h.tree.SetParent(a, parent)
	h.tree.SetParent(b, parent)
	h.rep.Add(parent, nil)
	h.rep.Add(a, nil)
	h.rep.Add(b, nil)

	serverB, serverA := uuid.New(), uuid.New()
	h.rep.HandleStateUpdate(0, protocol.StateUpdate{Sequence: 3, ObjectID: serverB, ParentID: parent.ID(), TypeName: "Pawn", Payload: pawnPayload(20)})
	h.rep.HandleStateUpdate(0, protocol.StateUpdate{Sequence: 3, ObjectID: serverA, ParentID: parent.ID(), TypeName: "Pawn", Payload: pawnPayload(10)})

	if c, _ := h.rep.CanonicalIDOf(serverB); c != a.ID() {
		t.Fatalf("expected server b matched to local a")
	}
	if c, _ := h.rep.CanonicalIDOf(serverA); c != b.ID() {
		t.Fatalf("expected server a matched to local b")
	}
	if h.pawnOf(t, a.ID()).HP != 20 || h.pawnOf(t, b.ID()).HP != 10 {
		t.Fatalf("expected swapped state")
	}

	h.rep.HandleStateUpdate(0, protocol.StateUpdate{Sequence: 3, ObjectID: uuid.New(), ParentID: parent.ID(), TypeName: "Pawn", Payload: pawnPayload(1)})
	if h.pawnOf(t, a.ID()).HP != 20 || h.pawnOf(t, b.ID()).HP != 10 {
		t.Fatalf("expected updated siblings to be excluded from matching")
	}
}

func TestRegisterHandlersRoutesMessages(t *testing.T) {
	h := newHarness(t, replication.ModeClient, 5, replication.ServerClientID)
	reg := protocol.NewRegistry(zaptest.NewLogger(t))
	h.rep.RegisterHandlers(reg)

	x := uuid.New()
	spawn := protocol.Spawn{ObjectID: x, OwnerClientID: 0, TypeName: "Pawn"}
	if err := reg.Dispatch(0, spawn.Encode()); err != nil {
		t.Fatalf("dispatch spawn: %v", err)
	}
	update := protocol.StateUpdate{Sequence: 2, ObjectID: x, TypeName: "Pawn", Payload: pawnPayload(77)}
	data, err := update.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := reg.Dispatch(0, data); err != nil {
		t.Fatalf("dispatch update: %v", err)
	}
	if h.pawnOf(t, h.rep.Remap(x)).HP != 77 {
		t.Fatalf("expected update applied through the demux")
	}
	if err := reg.Dispatch(0, data[:10]); err != nil {
		t.Fatalf("expected truncated message dropped quietly, got %v", err)
	}

	despawn := protocol.Despawn{ObjectID: x}
	if err := reg.Dispatch(0, despawn.Encode()); err != nil {
		t.Fatalf("dispatch despawn: %v", err)
	}
	if h.rep.Len() != 0 {
		t.Fatalf("expected despawn through the demux")
	}
}
