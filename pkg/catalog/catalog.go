// Package catalog implements the predicate catalog: a static, process-loaded
// registry of relation types with canonical names, aliases, durability,
// cardinality, and category. Resolution is fail-closed on unknown predicates
// when the catalog is present, fail-open when it failed to load.
package catalog

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/atlas-agent/atlas/pkg/models"
	"gopkg.in/yaml.v3"
)

//go:embed predicates.yaml
var defaultCatalogYAML []byte

// Entry is one predicate definition.
type Entry struct {
	Key        string             `yaml:"-"`
	Canonical  string             `yaml:"canonical"`
	Aliases    []string           `yaml:"aliases"`
	Enabled    bool               `yaml:"enabled"`
	Durability models.Durability  `yaml:"durability"`
	Type       models.Cardinality `yaml:"type"`
	Category   string             `yaml:"category"`
}

// personalCategories are catalog categories that bridge to the "personal"
// graph category; everything else bridges to "general".
var personalCategories = map[string]bool{
	"identity":     true,
	"relationship": true,
	"preference":   true,
	"ownership":    true,
	"goals":        true,
	"prospective":  true,
	"emotional":    true,
	"location":     true,
}

// BridgeCategory maps the entry's catalog category to a graph category.
func (e *Entry) BridgeCategory() models.FactCategory {
	if personalCategories[e.Category] {
		return models.CategoryPersonal
	}
	return models.CategoryGeneral
}

// Catalog is the loaded registry with a precomputed normalized-alias index.
type Catalog struct {
	entries map[string]*Entry // key → entry
	index   map[string]string // normalized form → key
	loaded  bool
}

// Load reads the catalog from path, falling back to the embedded default when
// path is empty. A load failure returns a fail-open catalog (Loaded()==false)
// so extraction degrades instead of silently dropping every triple.
func Load(path string) *Catalog {
	data := defaultCatalogYAML
	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Predicate catalog file unreadable, using embedded default",
				"path", path, "error", err)
		} else {
			data = fileData
		}
	}

	cat, err := Parse(data)
	if err != nil {
		slog.Error("Predicate catalog failed to load — resolution is fail-open", "error", err)
		return &Catalog{entries: map[string]*Entry{}, index: map[string]string{}, loaded: false}
	}
	return cat
}

// Parse builds a catalog from YAML bytes (top-level map KEY → entry).
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]*Entry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse predicate catalog: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("predicate catalog is empty")
	}

	cat := &Catalog{
		entries: make(map[string]*Entry, len(raw)),
		index:   make(map[string]string, len(raw)*2),
		loaded:  true,
	}
	for key, entry := range raw {
		if entry == nil {
			continue
		}
		entry.Key = key
		if entry.Canonical == "" {
			entry.Canonical = key
		}
		cat.entries[key] = entry

		cat.index[Normalize(key)] = key
		cat.index[Normalize(entry.Canonical)] = key
		for _, alias := range entry.Aliases {
			if n := Normalize(alias); n != "" {
				cat.index[n] = key
			}
		}
	}
	return cat, nil
}

// Loaded reports whether the catalog parsed successfully. When false,
// resolution is fail-open and callers should not drop unknown predicates.
func (c *Catalog) Loaded() bool {
	return c.loaded
}

// Resolve normalizes the incoming predicate and looks it up. The second
// return is false for unknown predicates.
func (c *Catalog) Resolve(predicate string) (*Entry, bool) {
	key, ok := c.index[Normalize(predicate)]
	if !ok {
		return nil, false
	}
	return c.entries[key], true
}

// Get returns the entry for an exact catalog key.
func (c *Catalog) Get(key string) (*Entry, bool) {
	entry, ok := c.entries[key]
	return entry, ok
}

// Keys returns the sorted catalog keys.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IdentityPredicates returns the canonical keys of enabled predicates in the
// "identity" catalog category, used by the context builder's profile layer.
func (c *Catalog) IdentityPredicates() []string {
	var keys []string
	for k, e := range c.entries {
		if e.Enabled && e.Category == "identity" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}
