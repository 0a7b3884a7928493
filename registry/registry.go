// Package registry derives per-type attribute statistics from the
// live entity set. Descriptors are recomputed on demand so they can
// never go stale relative to committed state.
package registry

import (
	"sort"

	"github.com/junctive/contexd/entity"
	"github.com/junctive/contexd/errors"
)

// Lister is the read-only view of the entity store the registry
// aggregates over.
type Lister interface {
	Snapshot() []*entity.Entity
}

// AttrDescriptor aggregates the distinct type tags observed on one
// attribute name across all entities of a type.
type AttrDescriptor struct {
	Types []string `json:"types"`
}

// TypeDescriptor is the derived view of one entity type. Never stored,
// always recomputed from live entities.
type TypeDescriptor struct {
	Type  string                    `json:"type"`
	Attrs map[string]AttrDescriptor `json:"attrs"`
	Count int                       `json:"count"`
}

// TypeRegistry computes type descriptors over the entity store.
type TypeRegistry struct {
	store Lister
}

// New creates a registry over the given store.
func New(store Lister) *TypeRegistry {
	return &TypeRegistry{store: store}
}

// ListTypes returns descriptors for all live types in alphabetical
// order, plus the total type count before pagination.
func (r *TypeRegistry) ListTypes(limit, offset int) ([]*TypeDescriptor, int) {
	byType := r.aggregate()

	names := make([]string, 0, len(byType))
	for name := range byType {
		names = append(names, name)
	}
	sort.Strings(names)

	total := len(names)
	if offset >= len(names) {
		return nil, total
	}
	names = names[offset:]
	if limit > 0 && limit < len(names) {
		names = names[:limit]
	}

	out := make([]*TypeDescriptor, len(names))
	for i, name := range names {
		out[i] = byType[name]
	}
	return out, total
}

// GetType returns the descriptor for one type. Fails not-found when
// no live entity has that type.
func (r *TypeRegistry) GetType(entityType string) (*TypeDescriptor, error) {
	desc, ok := r.aggregate()[entityType]
	if !ok {
		return nil, errors.NotFoundf("entity type %s not found", entityType)
	}
	return desc, nil
}

func (r *TypeRegistry) aggregate() map[string]*TypeDescriptor {
	byType := make(map[string]*TypeDescriptor)
	seen := make(map[string]map[string]map[string]bool) // type -> attr -> tag set

	for _, e := range r.store.Snapshot() {
		desc, ok := byType[e.Type]
		if !ok {
			desc = &TypeDescriptor{
				Type:  e.Type,
				Attrs: make(map[string]AttrDescriptor),
			}
			byType[e.Type] = desc
			seen[e.Type] = make(map[string]map[string]bool)
		}
		desc.Count++

		for _, na := range e.Attrs() {
			tags := seen[e.Type][na.Name]
			if tags == nil {
				tags = make(map[string]bool)
				seen[e.Type][na.Name] = tags
			}
			tags[na.Attr.Type] = true
		}
	}

	for entityType, attrs := range seen {
		desc := byType[entityType]
		for attrName, tags := range attrs {
			sorted := make([]string, 0, len(tags))
			for tag := range tags {
				sorted = append(sorted, tag)
			}
			sort.Strings(sorted)
			desc.Attrs[attrName] = AttrDescriptor{Types: sorted}
		}
	}
	return byType
}

// AttrNames returns the descriptor's attribute names sorted, the
// flattened form used when attribute detail is suppressed.
func (d *TypeDescriptor) AttrNames() []string {
	names := make([]string, 0, len(d.Attrs))
	for name := range d.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
