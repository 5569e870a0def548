// Package template loads prefab templates and instantiates them into a scene.
package template

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"

	"github.com/l1jgo/netrepl/internal/replication"
	"github.com/l1jgo/netrepl/internal/scene"
	"github.com/l1jgo/netrepl/internal/types"
)

var ErrUnknownTemplate = errors.New("template: unknown template")

// Member is one node of a template tree.
type Member struct {
	ID       uuid.UUID
	Name     string
	Type     *types.Type
	Children []*Member
}

// Template is a pre-authored object tree.
type Template struct {
	ID   uuid.UUID
	Name string
	Root *Member
}

type memberDoc struct {
	ID       string      `yaml:"id"`
	Name     string      `yaml:"name"`
	Type     string      `yaml:"type"`
	Children []memberDoc `yaml:"children"`
}

type templateDoc struct {
	ID   string    `yaml:"id"`
	Name string    `yaml:"name"`
	Root memberDoc `yaml:"root"`
}

type catalogFile struct {
	Templates []templateDoc `yaml:"templates"`
}

// Catalog holds templates by id and builds them into a scene.Tree.
type Catalog struct {
	mu     sync.RWMutex
	tree   *scene.Tree
	types  *types.Registry
	byID   map[uuid.UUID]*Template
	byName map[string]*Template
}

var _ replication.Templates = (*Catalog)(nil)

func NewCatalog(tree *scene.Tree, reg *types.Registry) *Catalog {
	return &Catalog{
		tree:   tree,
		types:  reg,
		byID:   make(map[uuid.UUID]*Template),
		byName: make(map[string]*Template),
	}
}

// Load reads a YAML template file into the catalog.
func (c *Catalog) Load(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read templates: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse templates: %w", err)
	}
	for _, doc := range f.Templates {
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return 0, fmt.Errorf("template %q: id: %w", doc.Name, err)
		}
		root, err := c.buildMember(id, doc.Root, doc.Root.Name)
		if err != nil {
			return 0, fmt.Errorf("template %q: %w", doc.Name, err)
		}
		c.Add(&Template{ID: id, Name: doc.Name, Root: root})
	}
	return len(f.Templates), nil
}

func (c *Catalog) buildMember(templateID uuid.UUID, doc memberDoc, path string) (*Member, error) {
	typ, ok := c.types.Find(doc.Type)
	if !ok {
		return nil, fmt.Errorf("member %s: type %q: %w", path, doc.Type, types.ErrUnknownType)
	}
	m := &Member{Name: doc.Name, Type: typ}
	if doc.ID != "" {
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("member %s: id: %w", path, err)
		}
		m.ID = id
	} else {
		m.ID = MemberID(templateID, path)
	}
	for _, cd := range doc.Children {
		child, err := c.buildMember(templateID, cd, path+"/"+cd.Name)
		if err != nil {
			return nil, err
		}
		m.Children = append(m.Children, child)
	}
	return m, nil
}

// MemberID derives a stable member id from the template id and the member's
// slash-separated name path.
func MemberID(templateID uuid.UUID, path string) uuid.UUID {
	h := blake3.New(32, nil)
	h.Write(templateID[:])
	h.Write([]byte("/"))
	h.Write([]byte(path))
	var id uuid.UUID
	copy(id[:], h.Sum(nil))
	id[6] = (id[6] & 0x0f) | 0x80 // version 8
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 4122 variant
	return id
}

// Add registers t, replacing any template with the same id.
func (c *Catalog) Add(t *Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[t.ID] = t
	if t.Name != "" {
		c.byName[t.Name] = t
	}
}

func (c *Catalog) Get(id uuid.UUID) (*Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[id]
	return t, ok
}

func (c *Catalog) ByName(name string) (*Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byName[name]
	return t, ok
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// Instantiate builds the template's member tree and returns its root.
func (c *Catalog) Instantiate(templateID uuid.UUID) (replication.Object, error) {
	t, ok := c.Get(templateID)
	if !ok {
		return nil, fmt.Errorf("instantiate %s: %w", templateID, ErrUnknownTemplate)
	}
	return c.instantiateMember(t.ID, t.Root, nil), nil
}

func (c *Catalog) instantiateMember(templateID uuid.UUID, m *Member, parent *scene.Node) *scene.Node {
	n := c.tree.Create(m.Type)
	c.tree.SetTemplateLink(n, templateID, m.ID)
	if parent != nil {
		c.tree.SetParent(n, parent)
	}
	for _, child := range m.Children {
		c.instantiateMember(templateID, child, n)
	}
	return n
}

// FindMember searches root's subtree for the node built from memberID.
func (c *Catalog) FindMember(root replication.Object, memberID uuid.UUID) (replication.Object, bool) {
	if root == nil {
		return nil, false
	}
	queue := []replication.Object{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, member := c.tree.TemplateLink(cur); member == memberID {
			return cur, true
		}
		queue = append(queue, c.tree.Children(cur)...)
	}
	return nil, false
}
