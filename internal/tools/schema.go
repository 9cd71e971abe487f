package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateInput compiles schemaDoc (a JSON-schema document, object-shaped,
// as stored on a Definition) and validates input against it. Compilation
// happens per-call rather than once at registration so schema documents
// built as plain Go maps (no file/URL identity) stay simple to author.
func ValidateInput(schemaDoc map[string]any, input map[string]any) error {
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("schema marshal: %w", err)
	}

	var unmarshalled any
	if err := json.Unmarshal(raw, &unmarshalled); err != nil {
		return fmt.Errorf("schema decode: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	const resourceName = "tool-input.json"
	if err := compiler.AddResource(resourceName, unmarshalled); err != nil {
		return fmt.Errorf("schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("schema compile: %w", err)
	}

	instData, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("input marshal: %w", err)
	}
	var inst any
	if err := json.Unmarshal(instData, &inst); err != nil {
		return fmt.Errorf("input decode: %w", err)
	}

	if err := schema.Validate(inst); err != nil {
		return err
	}
	return nil
}
