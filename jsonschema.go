package orcall

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// SignatureJSONSchema describes the JSON form of arguments for sig. Every
// leaf also admits null, since any parameter may be sent as null.
func SignatureJSONSchema(sig FlatSignature) *jsonschema.Schema {
	return nodeSchema(BuildTree(sig))
}

func nodeSchema(n *Node) *jsonschema.Schema {
	if n.IsRecord() {
		obj := &jsonschema.Schema{
			Type:       "object",
			Properties: make(map[string]*jsonschema.Schema, len(n.Children)),
		}
		for _, name := range n.ChildNames() {
			obj.Properties[name] = nodeSchema(n.Children[name])
		}
		if n.Array {
			return &jsonschema.Schema{Types: []string{"array", "null"}, Items: obj}
		}
		obj.Type = ""
		obj.Types = []string{"object", "null"}
		return obj
	}
	switch n.Tag {
	case TypeString:
		return &jsonschema.Schema{Types: []string{"string", "null"}}
	case TypeInteger, TypeSmallint:
		return &jsonschema.Schema{Types: []string{"integer", "null"}}
	case TypeFloat, TypeDecimal, TypeMoney:
		return &jsonschema.Schema{Types: []string{"number", "string", "null"}}
	case TypeDate:
		return &jsonschema.Schema{Types: []string{"string", "null"}, Format: "date-time"}
	case TypeBinary:
		return &jsonschema.Schema{Types: []string{"string", "null"}, Description: "base64"}
	}
	return &jsonschema.Schema{}
}

// ValidateArgs checks JSON-shaped arguments against the schema of sig.
// args may be raw JSON bytes, a JSON string, or an already decoded value.
func ValidateArgs(sig FlatSignature, args any) error {
	var data any
	switch d := args.(type) {
	case []byte:
		if err := json.Unmarshal(d, &data); err != nil {
			return fmt.Errorf("failed to unmarshal JSON arguments: %w", err)
		}
	case string:
		if err := json.Unmarshal([]byte(d), &data); err != nil {
			return fmt.Errorf("failed to unmarshal JSON arguments: %w", err)
		}
	default:
		data = d
	}

	resolved, err := SignatureJSONSchema(sig).Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return fmt.Errorf("failed to resolve JSON schema: %w", err)
	}
	if err := resolved.Validate(data); err != nil {
		return NewCallError(ErrorTypeValidation, ErrCodeArgumentSchemaInvalid, "arguments do not match signature").WithCause(err)
	}
	return nil
}
