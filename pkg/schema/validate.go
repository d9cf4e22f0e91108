package schema

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	tekuri "github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates JSON documents against a compiled schema.
type Validator struct {
	compiled *tekuri.Schema
}

// NewValidator compiles the given schema for validation.
func NewValidator(s *jsonschema.Schema) (*Validator, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to marshal schema")
	}
	doc, err := tekuri.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse schema")
	}

	c := tekuri.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, errors.WithMessage(err, "failed to add schema resource")
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, errors.WithMessage(err, "failed to compile schema")
	}

	return &Validator{compiled: compiled}, nil
}

// ValidateJSON checks that data is valid JSON conforming to the schema.
func (v *Validator) ValidateJSON(data []byte) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	val, err := tekuri.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return errors.WithMessage(err, "invalid JSON")
	}
	if err := v.compiled.Validate(val); err != nil {
		return errors.WithMessage(err, "schema validation failed")
	}
	return nil
}
