// Package store implements the context entity store: an in-memory
// keyed collection with merge/patch semantics, write-through
// persistence and post-commit change events.
package store

import (
	"sync"

	"github.com/junctive/contexd/entity"
	"github.com/junctive/contexd/errors"
	"github.com/junctive/contexd/logger"
)

// ActionType names a batch operation.
type ActionType string

const (
	ActionAppend       ActionType = "append"
	ActionAppendStrict ActionType = "appendStrict"
	ActionUpdate       ActionType = "update"
	ActionReplace      ActionType = "replace"
	ActionDelete       ActionType = "delete"
)

// ParseActionType validates an action type string. Rejection happens
// before any store access.
func ParseActionType(s string) (ActionType, error) {
	switch ActionType(s) {
	case ActionAppend, ActionAppendStrict, ActionUpdate, ActionReplace, ActionDelete:
		return ActionType(s), nil
	default:
		return "", errors.BadRequestf("invalid action type: %q", s)
	}
}

// BatchResult aggregates per-element outcomes that do not abort the
// batch. Only delete actions produce warnings.
type BatchResult struct {
	Warnings []string
}

// EntityStore holds all live entities. Writes are serialized under a
// single mutex; readers receive deep-cloned snapshots and never block
// behind notification I/O.
type EntityStore struct {
	mu    sync.RWMutex
	byID  map[string]*entity.Entity
	order []string

	repo Repository
	bus  eventBus
}

// NewEntityStore creates a store backed by the given repository and
// loads any persisted entities.
func NewEntityStore(repo Repository) (*EntityStore, error) {
	s := &EntityStore{
		byID: make(map[string]*entity.Entity),
		repo: repo,
	}
	loaded, err := repo.LoadEntities()
	if err != nil {
		return nil, errors.Wrap(err, "load entity store")
	}
	for _, e := range loaded {
		s.byID[e.ID] = e
		s.order = append(s.order, e.ID)
	}
	if len(loaded) > 0 {
		logger.Infow("Entity store loaded", "entities", len(loaded))
	}
	return s, nil
}

// Subscribe returns a channel of committed change events. The channel
// is buffered; slow consumers lose events rather than blocking writes.
func (s *EntityStore) Subscribe(buffer int) <-chan ChangeEvent {
	return s.bus.subscribe(buffer)
}

// Close shuts down event delivery.
func (s *EntityStore) Close() {
	s.bus.close()
}

// Create inserts a new entity. Fails with an already-exists error if
// the id is taken, regardless of type.
func (s *EntityStore) Create(e *entity.Entity) (*entity.Entity, error) {
	s.mu.Lock()
	if _, exists := s.byID[e.ID]; exists {
		s.mu.Unlock()
		return nil, errors.AlreadyExistsf("entity %s already exists", e.ID)
	}

	stored := e.Clone()
	s.byID[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	s.persist(stored)
	event := ChangeEvent{
		Type:         ChangeCreate,
		EntityID:     stored.ID,
		EntityType:   stored.Type,
		ChangedAttrs: stored.AttrNames(),
		Entity:       stored.Clone(),
	}
	s.mu.Unlock()

	s.bus.publish([]ChangeEvent{event})
	return stored.Clone(), nil
}

// Get returns a snapshot of the entity with the given id.
func (s *EntityStore) Get(id string) (*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFoundf("entity %s not found", id)
	}
	return e.Clone(), nil
}

// PatchAttrs merges the given attributes into an existing entity,
// using the same merge rule as update batches.
func (s *EntityStore) PatchAttrs(id string, attrs []entity.NamedAttribute) error {
	s.mu.Lock()
	existing, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return errors.NotFoundf("entity %s not found", id)
	}

	updated := existing.Clone()
	changed := updated.Merge(attrs)
	s.byID[id] = updated
	s.persist(updated)
	event := ChangeEvent{
		Type:         ChangeUpdate,
		EntityID:     updated.ID,
		EntityType:   updated.Type,
		ChangedAttrs: changed,
		Entity:       updated.Clone(),
	}
	s.mu.Unlock()

	s.bus.publish([]ChangeEvent{event})
	return nil
}

// Delete removes the entity with the given id.
func (s *EntityStore) Delete(id string) error {
	s.mu.Lock()
	existing, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return errors.NotFoundf("entity %s not found", id)
	}

	s.remove(id)
	if err := s.repo.DeleteEntity(id, existing.Type); err != nil {
		logger.Errorw("Failed to delete entity from repository", "entity_id", id, "error", err)
	}
	event := ChangeEvent{
		Type:       ChangeDelete,
		EntityID:   id,
		EntityType: existing.Type,
	}
	s.mu.Unlock()

	s.bus.publish([]ChangeEvent{event})
	return nil
}

// Snapshot returns deep clones of all live entities in stable
// insertion order. Implements the query engine's store contract.
func (s *EntityStore) Snapshot() []*entity.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.Entity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// List returns a page of entities, optionally restricted to one type,
// plus the total count before pagination. Order is stable across
// calls against an unmodified store.
func (s *EntityStore) List(typeFilter string, limit, offset int) ([]*entity.Entity, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*entity.Entity
	for _, id := range s.order {
		e := s.byID[id]
		if typeFilter != "" && e.Type != typeFilter {
			continue
		}
		matched = append(matched, e)
	}
	total := len(matched)

	if offset >= len(matched) {
		return nil, total
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*entity.Entity, len(matched))
	for i, e := range matched {
		out[i] = e.Clone()
	}
	return out, total
}

// BatchElement is one entity of a batch operation. For delete actions
// only the identity is consulted.
type BatchElement struct {
	Entity *entity.Entity
}

// ApplyBatch applies one action to a list of entities atomically. For
// append, appendStrict, update and replace a single failing element
// aborts the whole batch with no visible mutation. Delete tolerates
// missing entities, reporting them as warnings.
func (s *EntityStore) ApplyBatch(action ActionType, elements []*entity.Entity) (*BatchResult, error) {
	if _, err := ParseActionType(string(action)); err != nil {
		return nil, err
	}
	for _, e := range elements {
		if e.ID == "" {
			return nil, errors.BadRequestf("batch element missing entity id")
		}
	}

	s.mu.Lock()
	staged, stagedIDs, events, result, err := s.stageBatch(action, elements)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	// Commit in element order so created entities keep the batch's
	// ordering in the store
	for _, id := range stagedIDs {
		e := staged[id]
		if e == nil {
			if existing, ok := s.byID[id]; ok {
				s.remove(id)
				if repoErr := s.repo.DeleteEntity(id, existing.Type); repoErr != nil {
					logger.Errorw("Failed to delete entity from repository", "entity_id", id, "error", repoErr)
				}
			}
			continue
		}
		if _, exists := s.byID[id]; !exists {
			s.order = append(s.order, id)
		}
		s.byID[id] = e
		s.persist(e)
	}
	s.mu.Unlock()

	s.bus.publish(events)
	return result, nil
}

// stageBatch computes the batch outcome against cloned state without
// touching the live maps. Caller holds the write lock.
func (s *EntityStore) stageBatch(action ActionType, elements []*entity.Entity) (map[string]*entity.Entity, []string, []ChangeEvent, *BatchResult, error) {
	staged := make(map[string]*entity.Entity)
	var stagedIDs []string
	var events []ChangeEvent
	result := &BatchResult{}

	// lookup consults staging first so repeated ids within one batch
	// observe earlier elements' effects
	lookup := func(id string) (*entity.Entity, bool) {
		if e, inStage := staged[id]; inStage {
			return e, e != nil
		}
		e, ok := s.byID[id]
		return e, ok
	}
	stage := func(id string, e *entity.Entity) {
		if _, inStage := staged[id]; !inStage {
			stagedIDs = append(stagedIDs, id)
		}
		staged[id] = e
	}

	for _, elem := range elements {
		switch action {
		case ActionAppend, ActionAppendStrict:
			existing, ok := lookup(elem.ID)
			if ok && action == ActionAppendStrict {
				return nil, nil, nil, nil, errors.AlreadyExistsf("entity %s already exists", elem.ID)
			}
			if ok {
				updated := existing.Clone()
				changed := updated.Merge(elem.Attrs())
				stage(elem.ID, updated)
				events = append(events, ChangeEvent{
					Type:         ChangeUpdate,
					EntityID:     updated.ID,
					EntityType:   updated.Type,
					ChangedAttrs: changed,
					Entity:       updated.Clone(),
				})
			} else {
				created := elem.Clone()
				stage(elem.ID, created)
				events = append(events, ChangeEvent{
					Type:         ChangeCreate,
					EntityID:     created.ID,
					EntityType:   created.Type,
					ChangedAttrs: created.AttrNames(),
					Entity:       created.Clone(),
				})
			}

		case ActionUpdate, ActionReplace:
			existing, ok := lookup(elem.ID)
			if !ok {
				return nil, nil, nil, nil, errors.NotFoundf("entity %s not found", elem.ID)
			}
			updated := existing.Clone()
			var changed []string
			if action == ActionUpdate {
				changed = updated.Merge(elem.Attrs())
			} else {
				changed = updated.Replace(elem.Attrs())
			}
			stage(elem.ID, updated)
			events = append(events, ChangeEvent{
				Type:         ChangeUpdate,
				EntityID:     updated.ID,
				EntityType:   updated.Type,
				ChangedAttrs: changed,
				Entity:       updated.Clone(),
			})

		case ActionDelete:
			existing, ok := lookup(elem.ID)
			if !ok {
				result.Warnings = append(result.Warnings,
					"entity "+elem.ID+" not found")
				continue
			}
			if elem.Type != entity.DefaultEntityType && elem.Type != existing.Type {
				result.Warnings = append(result.Warnings,
					"entity "+elem.ID+" type mismatch")
				continue
			}
			stage(elem.ID, nil)
			events = append(events, ChangeEvent{
				Type:       ChangeDelete,
				EntityID:   existing.ID,
				EntityType: existing.Type,
			})
		}
	}

	return staged, stagedIDs, events, result, nil
}

// persist writes through to the repository, logging rather than
// failing the committed mutation. Caller holds the write lock.
func (s *EntityStore) persist(e *entity.Entity) {
	if err := s.repo.SaveEntity(e); err != nil {
		logger.Errorw("Failed to persist entity", "entity_id", e.ID, "error", err)
	}
}

// remove drops an entity from the live maps. Caller holds the write lock.
func (s *EntityStore) remove(id string) {
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
