package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// resultSchema describes the result payload produced by the conversion bridge.
func resultSchema() map[string]any {
	artifact := map[string]any{
		"type":     "object",
		"required": []string{"name", "path"},
		"properties": map[string]any{
			"name":       map[string]any{"type": "string", "minLength": 1},
			"path":       map[string]any{"type": "string", "minLength": 1},
			"media_type": map[string]any{"type": "string"},
			"page":       map[string]any{"type": "integer", "minimum": 0},
			"size_bytes": map[string]any{"type": "integer", "minimum": 0},
			"caption":    map[string]any{"type": "string"},
		},
	}
	chunk := map[string]any{
		"type":     "object",
		"required": []string{"index", "text"},
		"properties": map[string]any{
			"index":    map[string]any{"type": "integer", "minimum": 0},
			"text":     map[string]any{"type": "string"},
			"headings": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"pages":    map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			"tokens":   map[string]any{"type": "integer", "minimum": 0},
		},
	}
	return map[string]any{
		"type":     "object",
		"required": []string{"exports", "confidence"},
		"properties": map[string]any{
			"exports": map[string]any{
				"type":                 "object",
				"minProperties":        1,
				"propertyNames":        map[string]any{"enum": []string{"markdown", "html", "json", "text", "doctags"}},
				"additionalProperties": artifact,
			},
			"images":     map[string]any{"type": "array", "items": artifact},
			"tables":     map[string]any{"type": "array", "items": artifact},
			"chunks":     map[string]any{"type": "array", "items": chunk},
			"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"page_count": map[string]any{"type": "integer", "minimum": 0},
		},
	}
}

var (
	compiledSchema *jsonschema.Schema
	schemaErr      error
	schemaOnce     sync.Once
)

func compileResultSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(resultSchema())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("result.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("result.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ValidateResult checks a raw result payload against the result schema.
func ValidateResult(data []byte) error {
	schema, err := compileResultSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("result does not match schema: %w", err)
	}
	return nil
}
