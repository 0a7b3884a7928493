package query

import (
	"regexp"
	"strings"

	"github.com/junctive/contexd/entity"
	"github.com/junctive/contexd/errors"
)

// EntityFilter selects entities by exact id, id pattern, or type. A
// zero field is a wildcard. Filters in a list are OR-ed: an entity
// matches if at least one filter accepts it.
type EntityFilter struct {
	ID        string
	IDPattern string
	Type      string

	re *regexp.Regexp
}

// Compile validates and compiles the id pattern. Patterns are anchored
// so they match the whole id.
func (f *EntityFilter) Compile() error {
	if f.IDPattern == "" {
		return nil
	}
	pattern := f.IDPattern
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") {
		pattern = pattern + "$"
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return errors.BadRequestf("invalid id pattern %q", f.IDPattern)
	}
	f.re = re
	return nil
}

// Accepts reports whether the filter matches the given id and type.
func (f *EntityFilter) Accepts(id, entityType string) bool {
	if f.Type != "" && f.Type != entityType {
		return false
	}
	if f.ID != "" && f.ID != id {
		return false
	}
	if f.IDPattern != "" {
		if f.re == nil {
			if err := f.Compile(); err != nil {
				return false
			}
		}
		if !f.re.MatchString(id) {
			return false
		}
	}
	return true
}

// CompileFilters compiles every pattern in the list, failing on the
// first invalid one.
func CompileFilters(filters []EntityFilter) error {
	for i := range filters {
		if err := filters[i].Compile(); err != nil {
			return err
		}
	}
	return nil
}

// AnyFilterAccepts reports whether at least one filter matches the
// id/type pair. An empty filter list matches everything.
func AnyFilterAccepts(filters []EntityFilter, id, entityType string) bool {
	if len(filters) == 0 {
		return true
	}
	for i := range filters {
		if filters[i].Accepts(id, entityType) {
			return true
		}
	}
	return false
}

// Lister is the slice of the entity store the engine reads from: a
// stable-ordered committed snapshot.
type Lister interface {
	Snapshot() []*entity.Entity
}

// Request describes one query.
type Request struct {
	Filters    []EntityFilter
	Expression *Expression
	// Attrs projects result entities to the listed attribute names.
	Attrs []string
	// Limit of 0 means unbounded.
	Limit  int
	Offset int
}

// Engine composes entity filters, expression evaluation and
// pagination over the store.
type Engine struct {
	store Lister
}

// NewEngine creates a query engine over the given store.
func NewEngine(store Lister) *Engine {
	return &Engine{store: store}
}

// Query returns the page of matching entities plus the total match
// count before pagination. An empty result is not an error.
func (e *Engine) Query(req Request) ([]*entity.Entity, int, error) {
	if err := CompileFilters(req.Filters); err != nil {
		return nil, 0, err
	}

	var matched []*entity.Entity
	for _, ent := range e.store.Snapshot() {
		if !AnyFilterAccepts(req.Filters, ent.ID, ent.Type) {
			continue
		}
		if req.Expression != nil && !req.Expression.Matches(ent) {
			continue
		}
		matched = append(matched, ent)
	}

	total := len(matched)
	page := paginate(matched, req.Limit, req.Offset)
	return page, total, nil
}

func paginate(entities []*entity.Entity, limit, offset int) []*entity.Entity {
	if offset >= len(entities) {
		return nil
	}
	entities = entities[offset:]
	if limit > 0 && limit < len(entities) {
		entities = entities[:limit]
	}
	return entities
}
