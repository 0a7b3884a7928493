package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctive/contexd/errors"
)

func TestParseNormalized(t *testing.T) {
	body := []byte(`{
		"id": "room1",
		"type": "Room",
		"temperature": {"value": 21.7, "type": "Number"},
		"pressure": {"value": 711}
	}`)

	e, err := Parse(body, false)
	require.NoError(t, err)

	assert.Equal(t, "room1", e.ID)
	assert.Equal(t, "Room", e.Type)
	assert.Equal(t, []string{"temperature", "pressure"}, e.AttrNames())

	temp, ok := e.Attr("temperature")
	require.True(t, ok)
	assert.Equal(t, TypeNumber, temp.Type)
	assert.Equal(t, json.Number("21.7"), temp.Value)

	// Omitted type is inferred from the value shape
	pressure, ok := e.Attr("pressure")
	require.True(t, ok)
	assert.Equal(t, TypeNumber, pressure.Type)
}

func TestParseKeyValues(t *testing.T) {
	body := []byte(`{
		"id": "room2",
		"temperature": 23,
		"name": "bedroom",
		"open": false,
		"location": {"lat": 40.4, "lon": -3.7}
	}`)

	e, err := Parse(body, true)
	require.NoError(t, err)

	assert.Equal(t, DefaultEntityType, e.Type)

	cases := map[string]string{
		"temperature": TypeNumber,
		"name":        TypeText,
		"open":        TypeBoolean,
		"location":    TypeStructured,
	}
	for name, wantType := range cases {
		attr, ok := e.Attr(name)
		require.True(t, ok, "attribute %s missing", name)
		assert.Equal(t, wantType, attr.Type, "attribute %s", name)
	}
}

func TestParseRejectsMissingID(t *testing.T) {
	_, err := Parse([]byte(`{"type": "Room"}`), false)
	require.Error(t, err)
	assert.True(t, errors.IsBadRequest(err))
}

func TestParseRejectsUnknownAttributeField(t *testing.T) {
	body := []byte(`{"id": "e1", "temperature": {"value": 1, "bogus": 2}}`)
	_, err := Parse(body, false)
	require.Error(t, err)
	assert.True(t, errors.IsBadRequest(err))
}

func TestParseAttrsRejectsID(t *testing.T) {
	_, err := ParseAttrs([]byte(`{"id": {"value": "x"}}`), false)
	require.Error(t, err)
	assert.True(t, errors.IsBadRequest(err))
}

func TestParseAttributeMetadata(t *testing.T) {
	raw := json.RawMessage(`{
		"value": 26.5,
		"type": "Number",
		"metadata": {"accuracy": {"value": 0.8}}
	}`)

	attr, err := ParseAttribute(raw, false)
	require.NoError(t, err)

	acc, ok := attr.Metadata["accuracy"]
	require.True(t, ok)
	assert.Equal(t, TypeNumber, acc.Type)
	assert.Equal(t, json.Number("0.8"), acc.Value)
}

func TestMergePreservesUnmentionedAttrs(t *testing.T) {
	e := New("room1", "Room")
	e.SetAttr("temperature", &Attribute{Value: json.Number("21"), Type: TypeNumber})
	e.SetAttr("pressure", &Attribute{Value: json.Number("711"), Type: TypeNumber})

	changed := e.Merge([]NamedAttribute{
		{Name: "temperature", Attr: &Attribute{Value: json.Number("26.3"), Type: TypeNumber}},
		{Name: "humidity", Attr: &Attribute{Value: json.Number("76"), Type: TypeNumber}},
	})

	assert.Equal(t, []string{"temperature", "humidity"}, changed)
	assert.Equal(t, []string{"temperature", "pressure", "humidity"}, e.AttrNames())

	temp, _ := e.Attr("temperature")
	assert.Equal(t, json.Number("26.3"), temp.Value)
	pressure, _ := e.Attr("pressure")
	assert.Equal(t, json.Number("711"), pressure.Value)
}

func TestReplaceDropsUnmentionedAttrs(t *testing.T) {
	e := New("room1", "Room")
	e.SetAttr("temperature", &Attribute{Value: json.Number("21"), Type: TypeNumber})
	e.SetAttr("pressure", &Attribute{Value: json.Number("711"), Type: TypeNumber})

	e.Replace([]NamedAttribute{
		{Name: "humidity", Attr: &Attribute{Value: json.Number("50"), Type: TypeNumber}},
	})

	assert.Equal(t, []string{"humidity"}, e.AttrNames())
	_, ok := e.Attr("temperature")
	assert.False(t, ok)
}

func TestCloneIsolation(t *testing.T) {
	e := New("room1", "Room")
	e.SetAttr("location", &Attribute{
		Value: map[string]interface{}{"lat": json.Number("40.4")},
		Type:  TypeStructured,
	})

	c := e.Clone()
	loc, _ := c.Attr("location")
	loc.Value.(map[string]interface{})["lat"] = json.Number("0")

	orig, _ := e.Attr("location")
	assert.Equal(t, json.Number("40.4"), orig.Value.(map[string]interface{})["lat"])
}

func TestRenderNormalized(t *testing.T) {
	e := New("room1", "Room")
	e.SetAttr("temperature", &Attribute{Value: json.Number("21.7"), Type: TypeNumber})

	out, err := e.Render(RenderOptions{})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "room1", got["id"])
	assert.Equal(t, "Room", got["type"])

	temp := got["temperature"].(map[string]interface{})
	assert.Equal(t, "Number", temp["type"])
	assert.Equal(t, 21.7, temp["value"])
	assert.Equal(t, map[string]interface{}{}, temp["metadata"])
}

func TestRenderKeyValues(t *testing.T) {
	e := New("room1", "Room")
	e.SetAttr("temperature", &Attribute{Value: json.Number("21.7"), Type: TypeNumber})
	e.SetAttr("name", &Attribute{Value: "bedroom", Type: TypeText})

	out, err := e.Render(RenderOptions{KeyValues: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"room1","type":"Room","temperature":21.7,"name":"bedroom"}`, string(out))
}

func TestRenderProjection(t *testing.T) {
	e := New("room1", "Room")
	e.SetAttr("temperature", &Attribute{Value: json.Number("21"), Type: TypeNumber})
	e.SetAttr("pressure", &Attribute{Value: json.Number("711"), Type: TypeNumber})

	out, err := e.Render(RenderOptions{KeyValues: true, Attrs: []string{"pressure", "missing"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"room1","type":"Room","pressure":711}`, string(out))
}

func TestRenderOrderStable(t *testing.T) {
	e := New("room1", "Room")
	e.SetAttr("b", &Attribute{Value: json.Number("1"), Type: TypeNumber})
	e.SetAttr("a", &Attribute{Value: json.Number("2"), Type: TypeNumber})

	out, err := e.Render(RenderOptions{KeyValues: true})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"room1","type":"Room","b":1,"a":2}`, string(out))
}
