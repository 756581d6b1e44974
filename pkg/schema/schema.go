// Package schema inspects and produces the JSON-Schema-shaped argument
// descriptions attached to tools and prompts: it extracts prompt
// argument metadata, detects completable fields, and infers object
// schemas from Go structs.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
)

// CompletableKey is the marker key that advertises a completion
// provider for a schema property. A property whose sub-schema carries
// `"x-completable": true` can be completed through completion/complete.
const CompletableKey = "x-completable"

// objectSchema is the subset of JSON Schema this adapter reads.
type objectSchema struct {
	Type       string                     `json:"type,omitempty"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`
}

// propertySchema is the subset of a property sub-schema this adapter
// reads.
type propertySchema struct {
	Description string `json:"description,omitempty"`
	Completable bool   `json:"x-completable,omitempty"`
}

// PromptArguments derives a prompt argument list from an object schema:
// each property becomes an argument named after it, described by the
// property's "description", and required when the property name appears
// in the schema's "required" list.
func PromptArguments(raw json.RawMessage) ([]protocol.PromptArgument, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var obj objectSchema
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse argument schema: %w", err)
	}

	required := make(map[string]bool, len(obj.Required))
	for _, name := range obj.Required {
		required[name] = true
	}

	args := make([]protocol.PromptArgument, 0, len(obj.Properties))
	for name, sub := range obj.Properties {
		var prop propertySchema
		if err := json.Unmarshal(sub, &prop); err != nil {
			return nil, fmt.Errorf("failed to parse schema for property %q: %w", name, err)
		}
		args = append(args, protocol.PromptArgument{
			Name:        name,
			Description: prop.Description,
			Required:    required[name],
		})
	}
	return args, nil
}

// Completable reports whether the named property of an object schema
// carries the x-completable marker.
func Completable(raw json.RawMessage, field string) bool {
	if len(raw) == 0 {
		return false
	}

	var obj objectSchema
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}

	sub, ok := obj.Properties[field]
	if !ok {
		return false
	}

	var prop propertySchema
	if err := json.Unmarshal(sub, &prop); err != nil {
		return false
	}
	return prop.Completable
}

// MarkCompletable returns a copy of an object schema with the
// x-completable marker set on each of the named properties. Unknown
// property names are an error so registrations cannot silently
// advertise completions for fields that do not exist.
func MarkCompletable(raw json.RawMessage, fields ...string) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	var props map[string]json.RawMessage
	if rawProps, ok := obj["properties"]; ok {
		if err := json.Unmarshal(rawProps, &props); err != nil {
			return nil, fmt.Errorf("failed to parse schema properties: %w", err)
		}
	}

	for _, field := range fields {
		sub, ok := props[field]
		if !ok {
			return nil, fmt.Errorf("schema has no property %q", field)
		}

		var prop map[string]interface{}
		if err := json.Unmarshal(sub, &prop); err != nil {
			return nil, fmt.Errorf("failed to parse schema for property %q: %w", field, err)
		}
		prop[CompletableKey] = true

		marked, err := json.Marshal(prop)
		if err != nil {
			return nil, err
		}
		props[field] = marked
	}

	rawProps, err := json.Marshal(props)
	if err != nil {
		return nil, err
	}
	obj["properties"] = rawProps

	return json.Marshal(obj)
}

// Infer builds an object schema from the exported fields of T. JSON
// tags name the properties and `jsonschema:"required"` tags populate
// the required list.
func Infer[T any]() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	reflected := reflector.Reflect(new(T))

	props := make(map[string]interface{})
	for pair := reflected.Properties.Oldest(); pair != nil; pair = pair.Next() {
		props[pair.Key] = pair.Value
	}

	out := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(reflected.Required) > 0 {
		out["required"] = reflected.Required
	}
	return json.Marshal(out)
}
