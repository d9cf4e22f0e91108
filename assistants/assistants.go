package assistants

import (
	"context"
	"fmt"
	"strings"

	"github.com/effective-security/agentloop/pkg/llms"
	"github.com/effective-security/agentloop/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/agentloop", "assistants")

// IAssistant is the minimal surface of an assistant, to be used in
// prompts of other assistants or in callback handlers.
type IAssistant interface {
	// Name returns the name of the Assistant.
	Name() string
	// Description returns the description of the Assistant, to be used in
	// the prompt of other Assistants or LLMs.
	// Should not exceed LLM model limit.
	Description() string

	Call(ctx context.Context, input *CallInput) (*llms.ContentResponse, error)
}

// HasCallback is implemented by assistants with a configured callback.
type HasCallback interface {
	GetCallback() Callback
}

// Callback receives assistant lifecycle events. It embeds tools.Callback
// so one handler can observe both the loop and the tool executions.
// Handlers must not block; panics in handlers are swallowed by the callers.
type Callback interface {
	tools.Callback

	OnAssistantStart(ctx context.Context, agent IAssistant, input string)
	OnAssistantEnd(ctx context.Context, agent IAssistant, input string, resp *llms.ContentResponse, messages []llms.Message)
	OnAssistantError(ctx context.Context, agent IAssistant, input string, err error, messages []llms.Message)
	OnAssistantLLMCallStart(ctx context.Context, agent IAssistant, llm llms.Model, payload []llms.Message)
	OnAssistantLLMCallEnd(ctx context.Context, agent IAssistant, llm llms.Model, resp *llms.ContentResponse)
	OnAssistantLLMParseError(ctx context.Context, agent IAssistant, input string, response string, err error)
	OnToolNotFound(ctx context.Context, agent IAssistant, tool string)
}

// GetDescriptions returns a markdown list describing the assistants.
func GetDescriptions(list ...IAssistant) string {
	var ts strings.Builder
	for _, item := range list {
		ts.WriteString(fmt.Sprintf("- `%s`: %s\n", item.Name(), item.Description()))
	}
	return ts.String()
}

// MapAssistants returns the assistants keyed by name.
func MapAssistants(list ...IAssistant) map[string]IAssistant {
	if len(list) == 0 {
		return nil
	}
	m := make(map[string]IAssistant, len(list))
	for _, a := range list {
		m[a.Name()] = a
	}
	return m
}
