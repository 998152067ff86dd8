package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Fields is the parser output. Every field is independently nullable.
type Fields struct {
	Physician *string  `json:"physician"`
	Specialty *string  `json:"specialty"`
	IssuedOn  *string  `json:"issued_on"`
	Studies   []string `json:"studies"`
	Diagnosis *string  `json:"diagnosis"`
}

// Parse never fails; fields with no match stay nil.
func Parse(text string) Fields {
	var f Fields
	f.Physician = optional(Physician(text))
	f.Specialty = optional(Specialty(text))
	f.IssuedOn = optional(IssuedOn(text))
	if studies, ok := Studies(text); ok {
		f.Studies = studies
	}
	f.Diagnosis = optional(Diagnosis(text))
	return f
}

func optional(v string, ok bool) *string {
	if !ok {
		return nil
	}
	return &v
}

// JSON marshals the fields with studies rendered as an array, never null.
func (f Fields) JSON() (json.RawMessage, error) {
	if f.Studies == nil {
		f.Studies = []string{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	return b, nil
}

// FieldsJSONSchema returns the JSON-Schema the persisted extraction must satisfy.
func FieldsJSONSchema() map[string]any {
	nullableText := map[string]any{"type": []string{"string", "null"}, "minLength": 1}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"physician": nullableText,
			"specialty": nullableText,
			"issued_on": map[string]any{
				"type":    []string{"string", "null"},
				"pattern": `^\d{4}-\d{2}-\d{2}$`,
			},
			"studies": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "minLength": 1},
			},
			"diagnosis": nullableText,
		},
		"required": []string{"physician", "specialty", "issued_on", "studies", "diagnosis"},
	}
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(FieldsJSONSchema())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("fields.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("fields.json")
	})
	return schema, schemaErr
}

// ValidateFields checks raw extraction JSON against FieldsJSONSchema.
func ValidateFields(raw []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal fields: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("fields do not match schema: %w", err)
	}
	return nil
}
