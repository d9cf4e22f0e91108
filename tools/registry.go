package tools

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/agentloop/pkg/llms"
	"github.com/effective-security/agentloop/pkg/schema"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
)

var (
	// ErrDuplicateTool is returned when two tools share a name.
	ErrDuplicateTool = errors.New("duplicate tool name")
	// ErrToolNotFound is returned by Lookup when the name is not registered.
	ErrToolNotFound = errors.New("tool not found")
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStrictValidation enables argument validation against each tool's
// parameter schema before the tool is invoked.
func WithStrictValidation() RegistryOption {
	return func(r *Registry) {
		r.strict = true
	}
}

// WithCallback sets the lifecycle callback for tool executions.
func WithCallback(cb Callback) RegistryOption {
	return func(r *Registry) {
		r.callback = cb
	}
}

// Registry is an immutable mapping from tool name to tool,
// built once per conversation or session. Tool names are case-insensitive
// and unique; lookup order is the registration order.
type Registry struct {
	byName     map[string]ITool
	names      []string
	list       []ITool
	defs       []llms.Tool
	validators map[string]*schema.Validator
	strict     bool
	callback   Callback
}

// NewRegistry builds a registry from the given tools.
// It fails with ErrDuplicateTool if two tools share a name.
func NewRegistry(list []ITool, ops ...RegistryOption) (*Registry, error) {
	r := &Registry{
		byName:     make(map[string]ITool, len(list)),
		validators: make(map[string]*schema.Validator, len(list)),
	}
	for _, op := range ops {
		op(r)
	}

	for _, tool := range list {
		name := tool.Name()
		key := strings.ToLower(name)
		if _, ok := r.byName[key]; ok {
			return nil, errors.WithMessagef(ErrDuplicateTool, "tool %s", name)
		}
		r.byName[key] = tool
		r.names = append(r.names, name)
		r.list = append(r.list, tool)
		r.defs = append(r.defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        name,
				Description: tool.Description(),
				Parameters:  toolSchema(tool),
			},
		})

		if r.strict {
			v, err := newToolValidator(tool)
			if err != nil {
				return nil, errors.WithMessagef(err, "failed to compile schema for tool %s", name)
			}
			r.validators[key] = v
		}
	}
	return r, nil
}

// Lookup returns the tool registered under the given name, case-insensitive.
func (r *Registry) Lookup(name string) (ITool, bool) {
	t, ok := r.byName[strings.ToLower(name)]
	return t, ok
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []ITool {
	return r.list
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	return r.names
}

// Definitions returns the function definitions to pass to the model,
// in registration order.
func (r *Registry) Definitions() []llms.Tool {
	return r.defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.list)
}

func toolSchema(tool ITool) *jsonschema.Schema {
	switch p := tool.Parameters().(type) {
	case *jsonschema.Schema:
		return p
	case jsonschema.Schema:
		return &p
	default:
		sc, err := schema.FromAny(p)
		if err != nil {
			logger.KV(xlog.ERROR,
				"status", "invalid_tool_parameters",
				"tool", tool.Name(),
				"err", err.Error(),
			)
			return nil
		}
		return sc
	}
}

func newToolValidator(tool ITool) (*schema.Validator, error) {
	sc := toolSchema(tool)
	if sc == nil {
		return nil, errors.New("tool parameters are not a valid schema")
	}
	return schema.NewValidator(sc)
}
