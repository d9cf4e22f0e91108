package tools

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/agentloop/chatmodel"
	"github.com/effective-security/agentloop/pkg/llmutils"
	"github.com/effective-security/agentloop/pkg/schema"
	"github.com/go-playground/validator/v10"
)

// Validatable is implemented by input structs that need custom business
// validation, called after unmarshaling and struct validation.
type Validatable interface {
	Validate() error
}

var structValidator = validator.New()

// FuncTool adapts a typed Go function into an ITool.
// The input schema is reflected from the I type.
type FuncTool[I any, O any] struct {
	name        string
	description string
	schema      *schema.Schema
	run         func(context.Context, *I) (*O, error)
}

var _ Tool[struct{}, struct{}] = (*FuncTool[struct{}, struct{}])(nil)

// NewTool creates a tool from a typed function.
func NewTool[I any, O any](name, description string, run func(context.Context, *I) (*O, error)) (*FuncTool[I, O], error) {
	var input I
	sc, err := schema.New(reflect.TypeOf(input))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create schema for tool %s", name)
	}
	return &FuncTool[I, O]{
		name:        name,
		description: description,
		schema:      sc,
		run:         run,
	}, nil
}

func (t *FuncTool[I, O]) Name() string {
	return t.name
}

func (t *FuncTool[I, O]) Description() string {
	return t.description
}

func (t *FuncTool[I, O]) Parameters() any {
	return t.schema.Parameters
}

// Schema returns the reflected input schema.
func (t *FuncTool[I, O]) Schema() *schema.Schema {
	return t.schema
}

// Run executes the tool with a parsed input.
func (t *FuncTool[I, O]) Run(ctx context.Context, req *I) (*O, error) {
	return t.run(ctx, req)
}

// Call executes the tool with a raw JSON input.
func (t *FuncTool[I, O]) Call(ctx context.Context, input string) (string, error) {
	var req I
	if err := json.Unmarshal(llmutils.CleanJSON([]byte(input)), &req); err != nil {
		return "", errors.WithMessage(chatmodel.ErrFailedUnmarshalInput, err.Error())
	}
	if reflect.TypeOf(req).Kind() == reflect.Struct {
		if err := structValidator.Struct(&req); err != nil {
			return "", errors.WithMessage(err, "invalid tool input")
		}
	}
	if v, ok := any(&req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			return "", errors.WithMessage(err, "invalid tool input")
		}
	}

	res, err := t.run(ctx, &req)
	if err != nil {
		return "", err
	}
	return chatmodel.Stringify(res), nil
}
