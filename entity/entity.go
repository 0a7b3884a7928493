package entity

import (
	"bytes"
	"encoding/json"

	"github.com/junctive/contexd/errors"
)

// Entity is the unit of stored context data: an id, a type, and a
// mapping of named attributes whose insertion order is preserved for
// rendering. Identity is id+type, but ids are unique store-wide.
type Entity struct {
	ID   string
	Type string

	attrs map[string]*Attribute
	order []string
}

// New creates an empty entity. An empty type falls back to the
// default type tag.
func New(id, entityType string) *Entity {
	if entityType == "" {
		entityType = DefaultEntityType
	}
	return &Entity{
		ID:    id,
		Type:  entityType,
		attrs: make(map[string]*Attribute),
	}
}

// Attr returns the named attribute, if present.
func (e *Entity) Attr(name string) (*Attribute, bool) {
	a, ok := e.attrs[name]
	return a, ok
}

// AttrNames returns attribute names in insertion order.
func (e *Entity) AttrNames() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// AttrCount returns the number of attributes.
func (e *Entity) AttrCount() int {
	return len(e.order)
}

// SetAttr stores an attribute, appending to the insertion order when
// the name is new and overwriting wholesale when it already exists.
func (e *Entity) SetAttr(name string, attr *Attribute) {
	if _, exists := e.attrs[name]; !exists {
		e.order = append(e.order, name)
	}
	e.attrs[name] = attr
}

// DeleteAttr removes an attribute. Returns false if the name is absent.
func (e *Entity) DeleteAttr(name string) bool {
	if _, exists := e.attrs[name]; !exists {
		return false
	}
	delete(e.attrs, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// Merge applies the shared merge rule used by attribute patches and
// update/append batch actions: mentioned attributes overwrite
// value/type/metadata wholesale, unmentioned attributes are preserved.
// Returns the names of attributes that were set.
func (e *Entity) Merge(attrs []NamedAttribute) []string {
	changed := make([]string, 0, len(attrs))
	for _, na := range attrs {
		e.SetAttr(na.Name, na.Attr.Clone())
		changed = append(changed, na.Name)
	}
	return changed
}

// Replace drops the existing attribute set and installs the given one.
// Returns the names of attributes that were set.
func (e *Entity) Replace(attrs []NamedAttribute) []string {
	e.attrs = make(map[string]*Attribute, len(attrs))
	e.order = e.order[:0]
	changed := make([]string, 0, len(attrs))
	for _, na := range attrs {
		e.SetAttr(na.Name, na.Attr.Clone())
		changed = append(changed, na.Name)
	}
	return changed
}

// Clone returns a deep copy. Callers outside the store only ever see
// clones, so a returned entity can be read without locking.
func (e *Entity) Clone() *Entity {
	c := &Entity{
		ID:    e.ID,
		Type:  e.Type,
		attrs: make(map[string]*Attribute, len(e.attrs)),
		order: make([]string, len(e.order)),
	}
	copy(c.order, e.order)
	for name, attr := range e.attrs {
		c.attrs[name] = attr.Clone()
	}
	return c
}

// Attrs returns the attributes as an ordered slice.
func (e *Entity) Attrs() []NamedAttribute {
	out := make([]NamedAttribute, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, NamedAttribute{Name: name, Attr: e.attrs[name]})
	}
	return out
}

// RenderOptions controls entity rendering.
type RenderOptions struct {
	// KeyValues flattens attribute envelopes to their bare values.
	KeyValues bool
	// Attrs projects the output to the listed attribute names. Unknown
	// names are silently omitted. Nil means all attributes.
	Attrs []string
	// Metadata projects each attribute's metadata to the listed names.
	// Nil means all metadata.
	Metadata []string
}

// Render serializes the entity as a JSON object with id and type first
// and attributes following in insertion order.
func (e *Entity) Render(opts RenderOptions) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"id":`)
	writeJSONString(&buf, e.ID)
	buf.WriteString(`,"type":`)
	writeJSONString(&buf, e.Type)

	names := e.order
	if opts.Attrs != nil {
		names = make([]string, 0, len(opts.Attrs))
		for _, want := range opts.Attrs {
			if _, ok := e.attrs[want]; ok {
				names = append(names, want)
			}
		}
	}

	for _, name := range names {
		attr := e.attrs[name]
		buf.WriteByte(',')
		writeJSONString(&buf, name)
		buf.WriteByte(':')

		var rendered []byte
		var err error
		if opts.KeyValues {
			rendered, err = json.Marshal(attr.Value)
		} else {
			rendered, err = json.Marshal(projectMetadata(attr, opts.Metadata))
		}
		if err != nil {
			return nil, errors.Wrapf(err, "render attribute %s of %s", name, e.ID)
		}
		buf.Write(rendered)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders the entity in full normalized form.
func (e *Entity) MarshalJSON() ([]byte, error) {
	return e.Render(RenderOptions{})
}

func projectMetadata(attr *Attribute, names []string) *Attribute {
	if names == nil {
		return attr
	}
	projected := &Attribute{
		Value:    attr.Value,
		Type:     attr.Type,
		Metadata: make(map[string]*Attribute),
	}
	for _, name := range names {
		if md, ok := attr.Metadata[name]; ok {
			projected.Metadata[name] = md
		}
	}
	return projected
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// Parse decodes an entity from a request body, preserving attribute
// order. The id field is required; type defaults when omitted.
func Parse(data []byte, keyValues bool) (*Entity, error) {
	fields, order, err := decodeObject(data)
	if err != nil {
		return nil, err
	}

	e := &Entity{attrs: make(map[string]*Attribute)}
	for _, name := range order {
		raw := fields[name]
		switch name {
		case "id":
			if err := json.Unmarshal(raw, &e.ID); err != nil {
				return nil, errors.BadRequestf("entity id must be a string")
			}
		case "type":
			if err := json.Unmarshal(raw, &e.Type); err != nil {
				return nil, errors.BadRequestf("entity type must be a string")
			}
		default:
			attr, err := ParseAttribute(raw, keyValues)
			if err != nil {
				return nil, errors.Wrapf(err, "attribute %s", name)
			}
			e.SetAttr(name, attr)
		}
	}

	if e.ID == "" {
		return nil, errors.BadRequestf("entity id is required")
	}
	if e.Type == "" {
		e.Type = DefaultEntityType
	}
	return e, nil
}

// ParseAttrs decodes an attribute patch body (attrName -> attribute),
// preserving order. The id and type fields are not updatable through
// this path and are rejected.
func ParseAttrs(data []byte, keyValues bool) ([]NamedAttribute, error) {
	fields, order, err := decodeObject(data)
	if err != nil {
		return nil, err
	}

	attrs := make([]NamedAttribute, 0, len(order))
	for _, name := range order {
		if name == "id" || name == "type" {
			return nil, errors.BadRequestf("%s is not updatable", name)
		}
		attr, err := ParseAttribute(fields[name], keyValues)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %s", name)
		}
		attrs = append(attrs, NamedAttribute{Name: name, Attr: attr})
	}
	return attrs, nil
}

// decodeObject decodes a JSON object into raw fields plus the key
// order as written, which encoding/json maps would otherwise lose.
func decodeObject(data []byte) (map[string]json.RawMessage, []string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, nil, errors.BadRequestf("body is not a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil { // opening brace
		return nil, nil, errors.BadRequestf("body is not a JSON object")
	}
	order := make([]string, 0, len(fields))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, errors.BadRequestf("malformed JSON object")
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, errors.BadRequestf("malformed JSON object")
		}
		order = append(order, key)
		// Skip the value; the first pass already captured it
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, nil, errors.BadRequestf("malformed JSON object")
		}
	}
	return fields, order, nil
}
