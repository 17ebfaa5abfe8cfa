package stepwise

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlanDocument is the serialised form of a Plan, shared by plan files and
// planner output.
type PlanDocument struct {
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepDocument `json:"steps" yaml:"steps"`
}

// StepDocument is the serialised form of a ToolCall.
type StepDocument struct {
	ToolName    string    `json:"tool_name" yaml:"tool_name"`
	Arguments   Arguments `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	ResultName  string    `json:"result_name" yaml:"result_name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	DependsOn   []string  `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// ToPlan converts the document into an immutable Plan.
func (d *PlanDocument) ToPlan() *Plan {
	steps := make([]ToolCall, 0, len(d.Steps))
	for _, s := range d.Steps {
		steps = append(steps, ToolCall{
			ToolName:    s.ToolName,
			Arguments:   s.Arguments,
			ResultName:  s.ResultName,
			Description: s.Description,
			DependsOn:   s.DependsOn,
		})
	}
	return NewNamedPlan(d.Name, steps...)
}

// DocumentFromPlan converts a Plan back into its serialised form.
func DocumentFromPlan(p *Plan) *PlanDocument {
	doc := &PlanDocument{Name: p.Name(), Steps: make([]StepDocument, 0, p.Len())}
	for _, step := range p.Steps() {
		doc.Steps = append(doc.Steps, StepDocument{
			ToolName:    step.ToolName,
			Arguments:   step.Arguments,
			ResultName:  step.ResultName,
			Description: step.Description,
			DependsOn:   step.DependsOn,
		})
	}
	return doc
}

// ParameterDescriptor describes one tool parameter for planners.
type ParameterDescriptor struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required" yaml:"required"`
}

// Parameters accepts two encodings: a list of ParameterDescriptor objects,
// or the legacy object mapping parameter name to description, in which case
// every parameter is an optional string.
type Parameters []ParameterDescriptor

func (p Parameters) withDefaults() Parameters {
	for i := range p {
		if p[i].Type == "" {
			p[i].Type = "string"
		}
	}
	return p
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Parameters) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		fields, err := decodeJSONObject(data)
		if err != nil {
			return fmt.Errorf("parameters: %w", err)
		}
		out := make(Parameters, 0, len(fields))
		for _, f := range fields {
			desc, err := decodeJSONValue(f.raw)
			if err != nil {
				return fmt.Errorf("parameter %q: %w", f.key, err)
			}
			out = append(out, legacyParameter(f.key, desc))
		}
		*p = out
		return nil
	}

	var list []ParameterDescriptor
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parameters: %w", err)
	}
	*p = Parameters(list).withDefaults()
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Parameters) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(Parameters, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var desc any
			if err := node.Content[i+1].Decode(&desc); err != nil {
				return fmt.Errorf("parameter %q: %w", node.Content[i].Value, err)
			}
			out = append(out, legacyParameter(node.Content[i].Value, desc))
		}
		*p = out
		return nil
	case yaml.SequenceNode:
		var list []ParameterDescriptor
		if err := node.Decode(&list); err != nil {
			return fmt.Errorf("parameters: %w", err)
		}
		*p = Parameters(list).withDefaults()
		return nil
	default:
		if node.Tag == "!!null" {
			*p = nil
			return nil
		}
		return fmt.Errorf("parameters: expected mapping or sequence at line %d", node.Line)
	}
}

func legacyParameter(name string, desc any) ParameterDescriptor {
	text := ""
	if desc != nil {
		text = fmt.Sprint(desc)
	}
	return ParameterDescriptor{Name: name, Type: "string", Description: text}
}

// ToolDescriptor is the catalog entry a planner sees for one tool.
type ToolDescriptor struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Parameters  Parameters `json:"parameters" yaml:"parameters"`
	ReturnType  string     `json:"returnType" yaml:"returnType"`
}

func (d ToolDescriptor) withDefaults() ToolDescriptor {
	if d.ReturnType == "" {
		d.ReturnType = "any"
	}
	d.Parameters = d.Parameters.withDefaults()
	return d
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *ToolDescriptor) UnmarshalJSON(data []byte) error {
	type raw ToolDescriptor
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*d = ToolDescriptor(r).withDefaults()
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *ToolDescriptor) UnmarshalYAML(node *yaml.Node) error {
	type raw ToolDescriptor
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	*d = ToolDescriptor(r).withDefaults()
	return nil
}

// ParseCatalogJSON decodes a JSON list of tool descriptors.
func ParseCatalogJSON(data []byte) ([]ToolDescriptor, error) {
	var catalog []ToolDescriptor
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, NewValidationError("catalog", "invalid JSON tool catalog", err)
	}
	return catalog, nil
}

// ParseCatalogYAML decodes a YAML list of tool descriptors.
func ParseCatalogYAML(data []byte) ([]ToolDescriptor, error) {
	var catalog []ToolDescriptor
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, NewValidationError("catalog", "invalid YAML tool catalog", err)
	}
	return catalog, nil
}

// ToolNames returns the names of the descriptors in order.
func ToolNames(catalog []ToolDescriptor) []string {
	names := make([]string, len(catalog))
	for i, d := range catalog {
		names[i] = d.Name
	}
	return names
}
