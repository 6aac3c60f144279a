package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/ecoparse/internal/model"
)

const responseSchemaURL = "ecoparse-response.json"

// Parser turns raw model replies into typed results for one project schema.
type Parser struct {
	schema    *model.Schema
	validator *jsonschema.Schema
}

// NewParser compiles the response envelope schema for s.
func NewParser(s *model.Schema) (*Parser, error) {
	if s == nil {
		return nil, eris.New("extract: parser needs a schema")
	}
	raw, err := json.Marshal(s.ResponseSchema())
	if err != nil {
		return nil, eris.Wrap(err, "extract: marshal response schema")
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(responseSchemaURL, bytes.NewReader(raw)); err != nil {
		return nil, eris.Wrap(err, "extract: add response schema")
	}
	v, err := c.Compile(responseSchemaURL)
	if err != nil {
		return nil, eris.Wrap(err, "extract: compile response schema")
	}
	return &Parser{schema: s, validator: v}, nil
}

// ParseResponse decodes text as a list of extraction objects, or a single
// object, and returns the one for species. When no object names species the
// first one is used. The returned result is always attributed to species.
func (p *Parser) ParseResponse(species, text string) (model.Result, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return model.Result{}, eris.New("empty response")
	}

	var decoded any
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return model.Result{}, eris.Wrap(err, "decode json")
	}
	if obj, ok := decoded.(map[string]any); ok {
		decoded = []any{obj}
	}
	if err := p.validator.Validate(decoded); err != nil {
		return model.Result{}, eris.Wrap(err, "validate response")
	}

	items := decoded.([]any)
	chosen := items[0].(map[string]any)
	for _, it := range items {
		obj := it.(map[string]any)
		if name, _ := obj["species"].(string); strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(species)) {
			chosen = obj
			break
		}
	}

	data, _ := chosen["data"].(map[string]any)
	values, buildNotes := p.schema.Build(data)

	var notes []string
	if n, _ := chosen["notes"].(string); strings.TrimSpace(n) != "" {
		notes = append(notes, strings.TrimSpace(n))
	}
	notes = append(notes, buildNotes...)

	return model.Result{
		Species: species,
		Data:    values,
		Notes:   strings.Join(notes, "; "),
	}, nil
}

// cleanJSON strips markdown fences and any prose around the outermost JSON
// value.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.IndexAny(text, "[{")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
