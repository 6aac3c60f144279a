package model

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Example is a few-shot example shown to the model.
type Example struct {
	Input     string         `yaml:"input" json:"input"`
	Output    map[string]any `yaml:"output" json:"output"`
	Explainer string         `yaml:"explainer,omitempty" json:"explainer,omitempty"`
}

// ProjectConfig declares what to extract for every entity.
type ProjectConfig struct {
	ProjectName string      `yaml:"project_name" json:"project_name"`
	DataFields  []DataField `yaml:"data_fields" json:"data_fields"`
	Examples    []Example   `yaml:"examples,omitempty" json:"examples,omitempty"`
}

// LoadProject reads and validates a project YAML file.
func LoadProject(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read project %s", path)
	}
	return ParseProject(data)
}

// ParseProject decodes and validates project YAML.
func ParseProject(data []byte) (*ProjectConfig, error) {
	var p ProjectConfig
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "model: parse project yaml")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the project has a name and a well-formed field list.
func (p *ProjectConfig) Validate() error {
	if strings.TrimSpace(p.ProjectName) == "" {
		return eris.New("model: project_name is required")
	}
	_, err := NewSchema(p.DataFields)
	return err
}

// Schema returns the validated field schema of the project.
func (p *ProjectConfig) Schema() (*Schema, error) {
	return NewSchema(p.DataFields)
}

// FormatExamples renders the few-shot examples as prompt text. It returns
// an empty string when there are none.
func (p *ProjectConfig) FormatExamples() string {
	parts := make([]string, 0, len(p.Examples))
	for _, ex := range p.Examples {
		out, err := json.MarshalIndent(ex.Output, "", "  ")
		if err != nil {
			out = []byte("{}")
		}
		var b strings.Builder
		b.WriteString("Input:\n")
		b.WriteString(ex.Input)
		b.WriteString("\nOutput:\n")
		b.Write(out)
		if ex.Explainer != "" {
			b.WriteString("\nExplainer:\n")
			b.WriteString(ex.Explainer)
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n---\n\n")
}
