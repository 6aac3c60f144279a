package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFields() []DataField {
	return []DataField{
		{Name: "status", Description: "IUCN status", ValidationValues: []string{"LC", "EN"}},
		{Name: "population", Description: "Population size"},
		{Name: "habitat", Description: "Habitat"},
	}
}

func TestNewSchema_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fields  []DataField
		wantErr string
	}{
		{name: "empty", fields: nil, wantErr: "at least one data field"},
		{name: "blank name", fields: []DataField{{Name: " "}}, wantErr: "has no name"},
		{name: "duplicate", fields: []DataField{{Name: "a"}, {Name: "a"}}, wantErr: "duplicate data field"},
		{name: "ok", fields: testFields()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := NewSchema(tt.fields)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"status", "population", "habitat"}, s.Names())
		})
	}
}

func TestDataFieldAllowed(t *testing.T) {
	t.Parallel()

	f := DataField{Name: "status", ValidationValues: []string{"LC", "EN"}}
	assert.Equal(t, []string{"LC", "EN", "NF"}, f.Allowed())
	// The declared set is not mutated.
	assert.Equal(t, []string{"LC", "EN"}, f.ValidationValues)

	withNF := DataField{Name: "x", ValidationValues: []string{"NF", "A"}}
	assert.Equal(t, []string{"NF", "A"}, withNF.Allowed())

	assert.Nil(t, DataField{Name: "free"}.Allowed())
}

func TestSchemaBuild(t *testing.T) {
	t.Parallel()

	s, err := NewSchema(testFields())
	require.NoError(t, err)

	values, notes := s.Build(map[string]any{
		"status":     "EN",
		"population": 1500.0,
		"habitat":    "wetland",
		"extra":      "ignored",
	})

	assert.Equal(t, KindEnum, values["status"].Kind())
	assert.Equal(t, KindNumber, values["population"].Kind())
	assert.Equal(t, "wetland", values["habitat"].String())
	assert.NotContains(t, values, "extra")
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], `unknown field "extra"`)
}

func TestSchemaBuild_OutOfSetEnum(t *testing.T) {
	t.Parallel()

	s, err := NewSchema(testFields())
	require.NoError(t, err)

	values, notes := s.Build(map[string]any{"status": "VU", "population": nil})
	assert.Equal(t, KindString, values["status"].Kind())
	assert.Equal(t, "VU", values["status"].String())
	assert.NotContains(t, values, "population")
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], `value "VU" not in`)
}

func TestSchemaBuild_NFAcceptedForEnum(t *testing.T) {
	t.Parallel()

	s, err := NewSchema(testFields())
	require.NoError(t, err)

	values, notes := s.Build(map[string]any{"status": "NF"})
	assert.Empty(t, notes)
	assert.Equal(t, KindEnum, values["status"].Kind())
}

func TestSchemaResponseSchema(t *testing.T) {
	t.Parallel()

	s, err := NewSchema(testFields())
	require.NoError(t, err)

	rs := s.ResponseSchema()
	assert.Equal(t, "array", rs["type"])
	items := rs["items"].(map[string]any)
	props := items["properties"].(map[string]any)
	data := props["data"].(map[string]any)
	assert.Len(t, data["properties"], 3)
}
