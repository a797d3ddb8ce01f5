package gemini

import (
	"encoding/json"
	"fmt"
	"sort"

	"google.golang.org/genai"
)

// jsonSchema is the subset of JSON Schema the response schemas use.
type jsonSchema struct {
	Type        json.RawMessage        `json:"type"`
	Description string                 `json:"description"`
	Properties  map[string]*jsonSchema `json:"properties"`
	Items       *jsonSchema            `json:"items"`
	Required    []string               `json:"required"`
	Enum        []any                  `json:"enum"`
}

// toGenaiSchema converts a reflected JSON schema into Gemini's OpenAPI
// subset. Keywords Gemini has no field for, such as additionalProperties
// or minItems, are dropped; the gateway validates them on the reply.
func toGenaiSchema(raw json.RawMessage) (*genai.Schema, error) {
	var js jsonSchema
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, fmt.Errorf("decode response schema: %w", err)
	}
	return convertSchema(&js)
}

func convertSchema(js *jsonSchema) (*genai.Schema, error) {
	typ, err := schemaType(js.Type)
	if err != nil {
		return nil, err
	}
	out := &genai.Schema{Type: typ, Description: js.Description}

	switch typ {
	case genai.TypeObject:
		if len(js.Properties) > 0 {
			out.Properties = make(map[string]*genai.Schema, len(js.Properties))
		}
		for name, prop := range js.Properties {
			converted, err := convertSchema(prop)
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", name, err)
			}
			out.Properties[name] = converted
		}
		out.Required = append([]string(nil), js.Required...)
		sort.Strings(out.Required)
	case genai.TypeArray:
		if js.Items == nil {
			return nil, fmt.Errorf("array schema has no items")
		}
		items, err := convertSchema(js.Items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		out.Items = items
	}

	for _, v := range js.Enum {
		out.Enum = append(out.Enum, fmt.Sprint(v))
	}
	return out, nil
}

// schemaType maps a JSON Schema type, which may be a list such as
// ["string", "null"], onto the single Gemini type.
func schemaType(raw json.RawMessage) (genai.Type, error) {
	var names []string
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &names); err != nil {
			return "", fmt.Errorf("decode schema type: %w", err)
		}
	} else {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return "", fmt.Errorf("decode schema type: %w", err)
		}
		names = []string{name}
	}

	for _, name := range names {
		switch name {
		case "object":
			return genai.TypeObject, nil
		case "array":
			return genai.TypeArray, nil
		case "string":
			return genai.TypeString, nil
		case "integer":
			return genai.TypeInteger, nil
		case "number":
			return genai.TypeNumber, nil
		case "boolean":
			return genai.TypeBoolean, nil
		}
	}
	return "", fmt.Errorf("unsupported schema type %s", raw)
}
