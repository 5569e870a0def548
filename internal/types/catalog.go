package types

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogEntry declares one type in the YAML catalog. Factory names a Go
// constructor supplied by the caller; it defaults to Name.
type CatalogEntry struct {
	Name    string `yaml:"name"`
	Base    string `yaml:"base"`
	Factory string `yaml:"factory"`
}

type catalogFile struct {
	Types []CatalogEntry `yaml:"types"`
}

// LoadCatalog reads a YAML type catalog and registers every entry.
// Entries may reference bases declared later in the file.
func LoadCatalog(path string, reg *Registry, factories map[string]func() any) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read type catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse type catalog: %w", err)
	}
	return RegisterCatalog(reg, f.Types, factories)
}

// RegisterCatalog registers entries in dependency order.
func RegisterCatalog(reg *Registry, entries []CatalogEntry, factories map[string]func() any) (int, error) {
	pending := make([]CatalogEntry, len(entries))
	copy(pending, entries)
	registered := 0
	for len(pending) > 0 {
		next := pending[:0]
		progress := false
		for _, e := range pending {
			if e.Base != "" {
				if _, ok := reg.Find(e.Base); !ok {
					next = append(next, e)
					continue
				}
			}
			key := e.Factory
			if key == "" {
				key = e.Name
			}
			factory, ok := factories[key]
			if !ok {
				return registered, fmt.Errorf("type %s: no factory %q", e.Name, key)
			}
			var opts []Option
			if e.Base != "" {
				opts = append(opts, WithBase(e.Base))
			}
			if _, err := reg.Register(e.Name, factory, opts...); err != nil {
				return registered, err
			}
			registered++
			progress = true
		}
		if !progress {
			return registered, fmt.Errorf("type %s: base %s: %w", next[0].Name, next[0].Base, ErrUnknownType)
		}
		pending = next
	}
	return registered, nil
}
