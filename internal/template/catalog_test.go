package template

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/l1jgo/netrepl/internal/scene"
	"github.com/l1jgo/netrepl/internal/types"
)

type actor struct{}

const squadID = "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"

func loadTestCatalog(t *testing.T, doc string) (*Catalog, *scene.Tree) {
	t.Helper()
	reg := types.NewRegistry()
	reg.MustRegister("Actor", func() any { return &actor{} })
	reg.MustRegister("Pawn", func() any { return &actor{} }, types.WithBase("Actor"))

	path := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	tree := scene.NewTree()
	c := NewCatalog(tree, reg)
	if _, err := c.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	return c, tree
}

const squadDoc = `templates:
  - id: ` + squadID + `
    name: squad
    root:
      name: squad
      type: Actor
      children:
        - name: leader
          type: Pawn
        - name: scout
          type: Pawn
          id: 11111111-2222-3333-4444-555555555555
`

func TestInstantiateAndFindMember(t *testing.T) {
	c, tree := loadTestCatalog(t, squadDoc)
	tmplID := uuid.MustParse(squadID)

	root, err := c.Instantiate(tmplID)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if tree.Len() != 3 {
		t.Fatalf("expected 3 nodes, got %d", tree.Len())
	}

	leaderID := MemberID(tmplID, "squad/leader")
	leader, ok := c.FindMember(root, leaderID)
	if !ok {
		t.Fatalf("expected derived leader member id to resolve")
	}
	if leader.Type().Name != "Pawn" {
		t.Fatalf("expected Pawn, got %s", leader.Type().Name)
	}
	if _, ok := c.FindMember(root, uuid.MustParse("11111111-2222-3333-4444-555555555555")); !ok {
		t.Fatalf("expected explicit member id to resolve")
	}
	gotT, gotM := tree.TemplateLink(leader)
	if gotT != tmplID || gotM != leaderID {
		t.Fatalf("unexpected template link %s %s", gotT, gotM)
	}
}

func TestMemberIDStable(t *testing.T) {
	tmpl := uuid.MustParse(squadID)
	a := MemberID(tmpl, "squad/leader")
	if a != MemberID(tmpl, "squad/leader") {
		t.Fatalf("expected deterministic member id")
	}
	if a == MemberID(tmpl, "squad/scout") {
		t.Fatalf("expected different paths to differ")
	}
	if a.Version() != 8 {
		t.Fatalf("expected version 8 uuid, got %d", a.Version())
	}
}

func TestInstantiateUnknown(t *testing.T) {
	c, _ := loadTestCatalog(t, squadDoc)
	if _, err := c.Instantiate(uuid.New()); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}

func TestLoadRejectsUnknownType(t *testing.T) {
	reg := types.NewRegistry()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	doc := "templates:\n  - id: " + squadID + "\n    name: bad\n    root:\n      name: r\n      type: Ghost\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewCatalog(scene.NewTree(), reg)
	if _, err := c.Load(path); !errors.Is(err, types.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}
