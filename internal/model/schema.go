package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// NotFound is the token for missing data, both in prompts and in flattened
// result tables.
const NotFound = "NF"

// DataField describes one field to extract for every entity.
type DataField struct {
	Name             string   `yaml:"name" json:"name"`
	Description      string   `yaml:"description" json:"description"`
	ValidationValues []string `yaml:"validation_values,omitempty" json:"validation_values,omitempty"`
}

// Allowed returns the closed value set of the field with NotFound appended,
// or nil for free fields.
func (f DataField) Allowed() []string {
	if len(f.ValidationValues) == 0 {
		return nil
	}
	out := slices.Clone(f.ValidationValues)
	if !slices.Contains(out, NotFound) {
		out = append(out, NotFound)
	}
	return out
}

// Schema is the validated set of data fields for a project.
type Schema struct {
	fields []DataField
	index  map[string]int
}

// NewSchema validates fields and returns a Schema preserving their order.
func NewSchema(fields []DataField) (*Schema, error) {
	if len(fields) == 0 {
		return nil, eris.New("model: schema needs at least one data field")
	}
	s := &Schema{index: make(map[string]int, len(fields))}
	for i, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return nil, eris.Errorf("model: data field %d has no name", i)
		}
		if _, dup := s.index[name]; dup {
			return nil, eris.Errorf("model: duplicate data field %q", name)
		}
		f.Name = name
		s.index[name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []DataField {
	return slices.Clone(s.fields)
}

// Names returns the field names in declaration order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (DataField, bool) {
	i, ok := s.index[name]
	if !ok {
		return DataField{}, false
	}
	return s.fields[i], true
}

// Build types raw decoded data against the schema. Unknown keys are dropped
// and out-of-set enum values are kept as strings; both produce notes.
func (s *Schema) Build(data map[string]any) (map[string]Value, []string) {
	out := make(map[string]Value, len(data))
	var notes []string

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		f, ok := s.Field(k)
		if !ok {
			notes = append(notes, fmt.Sprintf("dropped unknown field %q", k))
			continue
		}
		raw := data[k]
		if raw == nil {
			continue
		}

		if allowed := f.Allowed(); allowed != nil {
			str := scalarString(raw)
			v, err := EnumValue(str, allowed)
			if err != nil {
				notes = append(notes, fmt.Sprintf("field %q: value %q not in %v", k, str, allowed))
				out[k] = StringValue(str)
				continue
			}
			out[k] = v
			continue
		}

		switch x := raw.(type) {
		case float64:
			out[k] = NumberValue(x)
		case int:
			out[k] = NumberValue(float64(x))
		case json.Number:
			if n, err := x.Float64(); err == nil {
				out[k] = NumberValue(n)
			} else {
				out[k] = StringValue(x.String())
			}
		default:
			out[k] = StringValue(scalarString(raw))
		}
	}
	return out, notes
}

// ResponseSchema returns the JSON Schema of the model response envelope: a
// non-empty list of objects carrying a data object.
func (s *Schema) ResponseSchema() map[string]any {
	props := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		props[f.Name] = map[string]any{"description": f.Description}
	}
	return map[string]any{
		"type":     "array",
		"minItems": 1,
		"items": map[string]any{
			"type":     "object",
			"required": []string{"data"},
			"properties": map[string]any{
				"species": map[string]any{"type": "string"},
				"data": map[string]any{
					"type":       "object",
					"properties": props,
				},
				"notes": map[string]any{"type": []string{"string", "null"}},
			},
		},
	}
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%v", x)
	case bool:
		return fmt.Sprintf("%t", x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}
