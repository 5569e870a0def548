package main

import (
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/l1jgo/netrepl/internal/config"
	"github.com/l1jgo/netrepl/internal/replication"
	"github.com/l1jgo/netrepl/internal/scene"
	"github.com/l1jgo/netrepl/internal/sim"
	"github.com/l1jgo/netrepl/internal/template"
	"github.com/l1jgo/netrepl/internal/types"
)

type contentSet struct {
	types     *types.Registry
	templates *template.Catalog
}

// loadContent reads the type and template catalogs. A missing type catalog
// falls back to the built-in types; a missing template file leaves the
// catalog empty.
func loadContent(cfg config.ContentConfig, tree *scene.Tree, log *zap.Logger) (*contentSet, error) {
	reg := types.NewRegistry()
	if _, err := types.LoadCatalog(cfg.TypesPath, reg, sim.Factories()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("types: %w", err)
		}
		log.Warn("type catalog missing, using built-in types", zap.String("path", cfg.TypesPath))
		if err := sim.RegisterTypes(reg); err != nil {
			return nil, fmt.Errorf("types: %w", err)
		}
	}

	catalog := template.NewCatalog(tree, reg)
	if _, err := catalog.Load(cfg.TemplatesPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("templates: %w", err)
		}
		log.Warn("template catalog missing", zap.String("path", cfg.TemplatesPath))
	}
	return &contentSet{types: reg, templates: catalog}, nil
}

// spawnTemplates instantiates each named template and spawns every node of
// the instance, parents first.
func spawnTemplates(repl *replication.Replicator, tree *scene.Tree, catalog *template.Catalog, names []string) (int, error) {
	spawned := 0
	for _, name := range names {
		t, ok := catalog.ByName(name)
		if !ok {
			return spawned, fmt.Errorf("spawn template %q: %w", name, template.ErrUnknownTemplate)
		}
		root, err := catalog.Instantiate(t.ID)
		if err != nil {
			return spawned, err
		}
		queue := []replication.Object{root}
		for len(queue) > 0 {
			obj := queue[0]
			queue = queue[1:]
			repl.Add(obj, nil)
			repl.Spawn(obj)
			spawned++
			queue = append(queue, tree.Children(obj)...)
		}
	}
	return spawned, nil
}
