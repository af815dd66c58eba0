package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildExtractionJSONSchema describes the payload we ask the model for.
// Amounts may be numbers or strings and any field may be null.
func BuildExtractionJSONSchema() map[string]any {
	item := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":        map[string]any{"type": []any{"string", "null"}},
			"qty":         amountProp(),
			"unit_price":  amountProp(),
			"total_price": amountProp(),
		},
		"required": []string{"name"},
	}
	tax := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":   map[string]any{"type": []any{"string", "null"}},
			"amount": amountProp(),
		},
	}
	discount := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{"type": []any{"string", "null"}},
			"amount":      amountProp(),
		},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items":     map[string]any{"type": []any{"array", "null"}, "items": item},
			"taxes":     map[string]any{"type": []any{"array", "null"}, "items": tax},
			"discounts": map[string]any{"type": []any{"array", "null"}, "items": discount},
			"service_charge": map[string]any{
				"type": []any{"object", "null"},
				"properties": map[string]any{
					"percent": amountProp(),
					"amount":  amountProp(),
				},
			},
			"currency": map[string]any{"type": []any{"string", "null"}},
		},
		"required": []string{"items"},
	}
}

func amountProp() map[string]any {
	return map[string]any{"type": []any{"number", "string", "null"}}
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(BuildExtractionJSONSchema())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("extraction.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("extraction.json")
	})
	return schema, schemaErr
}

// ValidatePayload checks a decoded payload (json.Number for numbers) against
// the extraction schema.
func ValidatePayload(v any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("payload does not match schema: %w", err)
	}
	return nil
}
