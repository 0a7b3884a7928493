// Package entity defines the attribute value model and the context
// entity representation built on top of it.
package entity

import (
	"bytes"
	"encoding/json"

	"github.com/junctive/contexd/errors"
)

// Well-known attribute type tags.
const (
	TypeNumber     = "Number"
	TypeText       = "Text"
	TypeBoolean    = "Boolean"
	TypeStructured = "StructuredValue"
	TypeNone       = "None"

	// DefaultEntityType is assigned when an entity is created without
	// an explicit type.
	DefaultEntityType = "Thing"
)

// Attribute is a typed value with optional nested metadata. Metadata
// recurses one level only: metadata attributes carry no metadata of
// their own.
type Attribute struct {
	Value    interface{}
	Type     string
	Metadata map[string]*Attribute
}

// NamedAttribute pairs an attribute with its name, preserving the
// order attributes appeared in a request body.
type NamedAttribute struct {
	Name string
	Attr *Attribute
}

// InferType returns the default type tag for a raw JSON value shape.
// Used when a write omits the attribute type.
func InferType(value interface{}) string {
	switch value.(type) {
	case nil:
		return TypeNone
	case bool:
		return TypeBoolean
	case json.Number, float64, int, int64:
		return TypeNumber
	case string:
		return TypeText
	default:
		return TypeStructured
	}
}

// Clone returns a deep copy of the attribute.
func (a *Attribute) Clone() *Attribute {
	if a == nil {
		return nil
	}
	c := &Attribute{
		Value: cloneValue(a.Value),
		Type:  a.Type,
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]*Attribute, len(a.Metadata))
		for name, md := range a.Metadata {
			c.Metadata[name] = md.Clone()
		}
	}
	return c
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, elem := range val {
			out[k] = cloneValue(elem)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		// Scalars (string, bool, json.Number, nil) are immutable
		return v
	}
}

// MarshalJSON renders the attribute in normalized form:
// {"type": ..., "value": ..., "metadata": {...}}.
func (a *Attribute) MarshalJSON() ([]byte, error) {
	md := make(map[string]metadataJSON, len(a.Metadata))
	for name, m := range a.Metadata {
		md[name] = metadataJSON{Type: m.Type, Value: m.Value}
	}
	return json.Marshal(attributeJSON{
		Type:     a.Type,
		Value:    a.Value,
		Metadata: md,
	})
}

type attributeJSON struct {
	Type     string                  `json:"type"`
	Value    interface{}             `json:"value"`
	Metadata map[string]metadataJSON `json:"metadata"`
}

type metadataJSON struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// ParseAttribute decodes a single attribute from its raw JSON form.
// In keyValues mode the whole payload is taken as the bare value; in
// normalized mode the payload must be an envelope object whose keys
// are limited to value, type and metadata.
func ParseAttribute(raw json.RawMessage, keyValues bool) (*Attribute, error) {
	if keyValues {
		value, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		return &Attribute{Value: value, Type: InferType(value)}, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, errors.BadRequestf("attribute is not a JSON object")
	}

	attr := &Attribute{}
	for key, rawField := range envelope {
		switch key {
		case "value":
			value, err := decodeValue(rawField)
			if err != nil {
				return nil, err
			}
			attr.Value = value
		case "type":
			if err := json.Unmarshal(rawField, &attr.Type); err != nil {
				return nil, errors.BadRequestf("attribute type must be a string")
			}
		case "metadata":
			md, err := parseMetadata(rawField)
			if err != nil {
				return nil, err
			}
			attr.Metadata = md
		default:
			return nil, errors.BadRequestf("unrecognized attribute field: %s", key)
		}
	}

	if attr.Type == "" {
		attr.Type = InferType(attr.Value)
	}
	return attr, nil
}

func parseMetadata(raw json.RawMessage) (map[string]*Attribute, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.BadRequestf("metadata is not a JSON object")
	}

	md := make(map[string]*Attribute, len(fields))
	for name, rawMeta := range fields {
		var envelope struct {
			Value json.RawMessage `json:"value"`
			Type  string          `json:"type"`
		}
		if err := json.Unmarshal(rawMeta, &envelope); err != nil {
			return nil, errors.BadRequestf("metadata %s is not a JSON object", name)
		}
		value, err := decodeValue(envelope.Value)
		if err != nil {
			return nil, err
		}
		m := &Attribute{Value: value, Type: envelope.Type}
		if m.Type == "" {
			m.Type = InferType(value)
		}
		md[name] = m
	}
	return md, nil
}

// decodeValue decodes a raw JSON value preserving numeric literals as
// json.Number so round-trips do not reformat numbers.
func decodeValue(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, errors.BadRequestf("invalid JSON value")
	}
	return value, nil
}
