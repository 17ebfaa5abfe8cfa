package stepwise

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// jsonField is one key of a JSON object in document order.
type jsonField struct {
	key string
	raw json.RawMessage
}

// decodeJSONObject splits a JSON object into its fields without losing key
// order. A JSON null yields no fields.
func decodeJSONObject(data []byte) ([]jsonField, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	var fields []jsonField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		fields = append(fields, jsonField{key: key, raw: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}

// decodeJSONValue decodes raw JSON into plain Go values, turning integral
// numbers into int and the rest into float64.
func decodeJSONValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeJSON(v), nil
}

func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.Atoi(t.String()); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i := range t {
			t[i] = normalizeJSON(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeJSON(t[k])
		}
		return t
	default:
		return v
	}
}

// MarshalJSON encodes the arguments as a JSON object in order.
func (a Arguments) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, arg := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(arg.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(arg.Value)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// JSONSchema describes Arguments as the object it marshals to. Schema
// validating consumers such as genkit flows would otherwise expect an array.
func (Arguments) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

// UnmarshalJSON decodes a JSON object keeping key order.
func (a *Arguments) UnmarshalJSON(data []byte) error {
	fields, err := decodeJSONObject(data)
	if err != nil {
		return fmt.Errorf("arguments: %w", err)
	}
	out := make(Arguments, 0, len(fields))
	for _, f := range fields {
		v, err := decodeJSONValue(f.raw)
		if err != nil {
			return fmt.Errorf("argument %q: %w", f.key, err)
		}
		out = out.With(f.key, v)
	}
	*a = out
	return nil
}

// MarshalYAML encodes the arguments as a YAML mapping in order.
func (a Arguments) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, arg := range a {
		var val yaml.Node
		if err := val.Encode(arg.Value); err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg.Name, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: arg.Name},
			&val,
		)
	}
	return node, nil
}

// UnmarshalYAML decodes a YAML mapping keeping key order.
func (a *Arguments) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*a = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("arguments: expected mapping at line %d", node.Line)
	}
	out := make(Arguments, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var v any
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("argument %q: %w", name, err)
		}
		out = out.With(name, v)
	}
	*a = out
	return nil
}
