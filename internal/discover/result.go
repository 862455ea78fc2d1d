package discover

import (
	"github.com/opdev/chartpack/internal/image"
)

// Strategy name tags, in merge priority order.
const (
	StrategyAnnotation  = "annotation"
	StrategyRendered    = "rendered"
	StrategyValues      = "values"
	StrategyRawTemplate = "raw-template"
)

// Result is the output of a single strategy against a single chart node.
// Results are never mutated after creation.
type Result struct {
	// Strategy is the name tag of the strategy that produced this result.
	Strategy string
	// Refs are the discovered references, ordered and deduplicated within
	// the strategy.
	Refs []image.Reference
	// Notes carries soft-failure diagnostics: entries the strategy skipped
	// without failing discovery.
	Notes []string
}

// Entry is a single image in an Inventory, with back-references to the
// strategies and charts that contributed it. The back-references are
// lookup data only; an entry does not own the charts it names.
type Entry struct {
	Ref image.Reference
	// Strategies lists every strategy that found this image, in merge
	// priority order. The first entry is the attributed source.
	Strategies []string
	// Charts lists every chart node that referenced this image.
	Charts []string
}

// Inventory is an ordered, deduplicated set of image references merged
// across a chart tree. Deduplication is on normalized reference form.
type Inventory struct {
	entries []*Entry
	index   map[string]*Entry
}

func NewInventory() *Inventory {
	return &Inventory{
		index: map[string]*Entry{},
	}
}

// Add merges ref into the inventory. The first occurrence of a normalized
// reference fixes its position and its attributed strategy; later
// occurrences only extend the provenance lists.
func (inv *Inventory) Add(ref image.Reference, strategy string, chartName string) {
	key := ref.Normalized()
	entry, seen := inv.index[key]
	if !seen {
		entry = &Entry{Ref: ref}
		inv.index[key] = entry
		inv.entries = append(inv.entries, entry)
	}

	if !contains(entry.Strategies, strategy) {
		entry.Strategies = append(entry.Strategies, strategy)
	}
	if !contains(entry.Charts, chartName) {
		entry.Charts = append(entry.Charts, chartName)
	}
}

// Merge unions other into inv, preserving inv's existing order and
// appending other's new entries in their own order.
func (inv *Inventory) Merge(other *Inventory) {
	for _, e := range other.entries {
		for _, strategy := range e.Strategies {
			for _, chartName := range e.Charts {
				inv.Add(e.Ref, strategy, chartName)
			}
		}
	}
}

// Entries returns the merged entries in deterministic order.
func (inv *Inventory) Entries() []Entry {
	out := make([]Entry, 0, len(inv.entries))
	for _, e := range inv.entries {
		out = append(out, *e)
	}
	return out
}

// Refs returns just the references, in inventory order.
func (inv *Inventory) Refs() []image.Reference {
	out := make([]image.Reference, 0, len(inv.entries))
	for _, e := range inv.entries {
		out = append(out, e.Ref)
	}
	return out
}

func (inv *Inventory) Len() int {
	return len(inv.entries)
}

// Node is one node of the dependency tree actually traversed during
// discovery.
type Node struct {
	Name     string
	Version  string
	Path     string
	Images   int
	Children []*Node
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
