package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/junctive/contexd/entity"
	"github.com/junctive/contexd/errors"
)

// Repository is the durability backend behind the in-memory store.
// The store writes through after each committed mutation and loads
// the full entity set at startup.
type Repository interface {
	SaveEntity(e *entity.Entity) error
	DeleteEntity(id, entityType string) error
	LoadEntities() ([]*entity.Entity, error)
}

// NopRepository is the in-memory-only backend.
type NopRepository struct{}

func (NopRepository) SaveEntity(*entity.Entity) error         { return nil }
func (NopRepository) DeleteEntity(string, string) error       { return nil }
func (NopRepository) LoadEntities() ([]*entity.Entity, error) { return nil, nil }

// SQLRepository persists entities to SQLite. Attributes are stored as
// a JSON document; a separate column keeps the insertion order that a
// JSON object would lose.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository creates a repository over an already-migrated
// database handle.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) SaveEntity(e *entity.Entity) error {
	attrs := make(map[string]*entity.Attribute, e.AttrCount())
	for _, na := range e.Attrs() {
		attrs[na.Name] = na.Attr
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return errors.Wrapf(err, "marshal attributes of %s", e.ID)
	}
	orderJSON, err := json.Marshal(e.AttrNames())
	if err != nil {
		return errors.Wrapf(err, "marshal attribute order of %s", e.ID)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = r.db.Exec(`
		INSERT INTO entities (id, type, attrs, attr_order, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, type) DO UPDATE SET
			attrs = excluded.attrs,
			attr_order = excluded.attr_order,
			modified_at = excluded.modified_at
	`, e.ID, e.Type, string(attrsJSON), string(orderJSON), now, now)
	if err != nil {
		return errors.Wrapf(err, "save entity %s", e.ID)
	}
	return nil
}

func (r *SQLRepository) DeleteEntity(id, entityType string) error {
	_, err := r.db.Exec("DELETE FROM entities WHERE id = ? AND type = ?", id, entityType)
	if err != nil {
		return errors.Wrapf(err, "delete entity %s", id)
	}
	return nil
}

// LoadEntities returns all persisted entities in their original
// creation order.
func (r *SQLRepository) LoadEntities() ([]*entity.Entity, error) {
	rows, err := r.db.Query("SELECT id, type, attrs, attr_order FROM entities ORDER BY rowid")
	if err != nil {
		return nil, errors.Wrap(err, "load entities")
	}
	defer rows.Close()

	var out []*entity.Entity
	for rows.Next() {
		var id, entityType, attrsJSON, orderJSON string
		if err := rows.Scan(&id, &entityType, &attrsJSON, &orderJSON); err != nil {
			return nil, errors.Wrap(err, "scan entity row")
		}

		e, err := restoreEntity(id, entityType, attrsJSON, orderJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func restoreEntity(id, entityType, attrsJSON, orderJSON string) (*entity.Entity, error) {
	var rawAttrs map[string]json.RawMessage
	if err := json.Unmarshal([]byte(attrsJSON), &rawAttrs); err != nil {
		return nil, errors.Wrapf(err, "decode attributes of %s", id)
	}
	var order []string
	if err := json.Unmarshal([]byte(orderJSON), &order); err != nil {
		return nil, errors.Wrapf(err, "decode attribute order of %s", id)
	}

	e := entity.New(id, entityType)
	for _, name := range order {
		raw, ok := rawAttrs[name]
		if !ok {
			return nil, errors.Newf("attribute %s of %s listed in order but missing", name, id)
		}
		attr, err := entity.ParseAttribute(raw, false)
		if err != nil {
			return nil, errors.Wrapf(err, "decode attribute %s of %s", name, id)
		}
		e.SetAttr(name, attr)
	}
	return e, nil
}
