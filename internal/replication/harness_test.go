package replication_test

import (
	"slices"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/netrepl/internal/netstream"
	"github.com/l1jgo/netrepl/internal/protocol"
	"github.com/l1jgo/netrepl/internal/replication"
	"github.com/l1jgo/netrepl/internal/scene"
	"github.com/l1jgo/netrepl/internal/template"
	"github.com/l1jgo/netrepl/internal/types"
)

var squadID = uuid.MustParse("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d")

var (
	squadRootID = template.MemberID(squadID, "squad")
	leaderID    = template.MemberID(squadID, "squad/leader")
	scoutID     = template.MemberID(squadID, "squad/scout")
)

type pawn struct{ HP int32 }

func (p *pawn) NetSerialize(w *netstream.Writer) error {
	w.WriteI32(p.HP)
	return nil
}

func (p *pawn) NetDeserialize(r *netstream.Reader) error {
	p.HP = r.ReadI32()
	return nil
}

type crate struct{ Items int32 }

type heavyCrate struct{ crate }

type sentMsg struct {
	ch      replication.Channel
	targets []uint32
	data    []byte
}

type fakeTransport struct {
	peers []uint32
	sent  []sentMsg
}

func (f *fakeTransport) Send(ch replication.Channel, targets []uint32, payload []byte) {
	f.sent = append(f.sent, sentMsg{ch: ch, targets: slices.Clone(targets), data: slices.Clone(payload)})
}

func (f *fakeTransport) Peers() []uint32 {
	return slices.Clone(f.peers)
}

func (f *fakeTransport) ofKind(k protocol.Kind) []sentMsg {
	var out []sentMsg
	for _, m := range f.sent {
		if len(m.data) > 0 && protocol.Kind(m.data[0]) == k {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) reset() { f.sent = nil }

type recordingObserver struct {
	events []replication.Event
}

func (o *recordingObserver) Observe(ev replication.Event) {
	o.events = append(o.events, ev)
}

func (o *recordingObserver) count(k replication.EventKind) int {
	n := 0
	for _, ev := range o.events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

type harness struct {
	rep     *replication.Replicator
	catalog *template.Catalog
	tree    *scene.Tree
	reg     *types.Registry
	tr      *fakeTransport
	obs     *recordingObserver
	pawn    *types.Type
	crate   *types.Type
	heavy   *types.Type
}

func newHarness(t *testing.T, mode replication.Mode, local uint32, peers ...uint32) *harness {
	t.Helper()
	return newHarnessWithLogger(t, zaptest.NewLogger(t), mode, local, peers...)
}

func newHarnessWithLogger(t *testing.T, log *zap.Logger, mode replication.Mode, local uint32, peers ...uint32) *harness {
	t.Helper()
	h := &harness{
		reg:  types.NewRegistry(),
		tree: scene.NewTree(),
		tr:   &fakeTransport{peers: peers},
		obs:  &recordingObserver{},
	}
	h.pawn = h.reg.MustRegister("Pawn", func() any { return &pawn{} })
	h.crate = h.reg.MustRegister("Crate", func() any { return &crate{} })
	h.heavy = h.reg.MustRegister("HeavyCrate", func() any { return &heavyCrate{} }, types.WithBase("Crate"))
	h.catalog = template.NewCatalog(h.tree, h.reg)
	h.catalog.Add(&template.Template{
		ID:   squadID,
		Name: "squad",
		Root: &template.Member{ID: squadRootID, Name: "squad", Type: h.crate, Children: []*template.Member{
			{ID: leaderID, Name: "leader", Type: h.pawn},
			{ID: scoutID, Name: "scout", Type: h.pawn},
		}},
	})
	h.rep = replication.New(h.tree, h.reg, h.tr,
		replication.WithLogger(log),
		replication.WithObserver(h.obs),
		replication.WithTemplates(h.catalog),
	)
	h.rep.Start(mode, local)
	return h
}

func (h *harness) pawnOf(t *testing.T, id uuid.UUID) *pawn {
	t.Helper()
	n, ok := h.tree.Node(id)
	if !ok {
		t.Fatalf("expected live node %s", id)
	}
	p, ok := n.Instance().(*pawn)
	if !ok {
		t.Fatalf("expected pawn instance, got %T", n.Instance())
	}
	return p
}

func pawnPayload(hp int32) []byte {
	w := netstream.NewWriter()
	w.WriteI32(hp)
	return w.Bytes()
}

func decodeSpawn(t *testing.T, m sentMsg) protocol.Spawn {
	t.Helper()
	s, err := protocol.ReadSpawn(netstream.NewMessageReader(m.data))
	if err != nil {
		t.Fatalf("decode spawn: %v", err)
	}
	return s
}

func decodeOwnership(t *testing.T, m sentMsg) protocol.OwnershipChange {
	t.Helper()
	o, err := protocol.ReadOwnershipChange(netstream.NewMessageReader(m.data))
	if err != nil {
		t.Fatalf("decode ownership: %v", err)
	}
	return o
}
