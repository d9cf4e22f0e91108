package assistants

import (
	"context"

	"github.com/effective-security/agentloop/pkg/llms"
	"github.com/effective-security/agentloop/tools"
)

// NoopCallback does nothing. Embed it to implement a subset of Callback.
type NoopCallback struct{}

// NewNoopCallback returns a Callback that ignores all events.
func NewNoopCallback() *NoopCallback {
	return &NoopCallback{}
}

var _ Callback = (*NoopCallback)(nil)

func (l *NoopCallback) OnAssistantStart(ctx context.Context, agent IAssistant, input string) {}
func (l *NoopCallback) OnAssistantEnd(ctx context.Context, agent IAssistant, input string, resp *llms.ContentResponse, messages []llms.Message) {
}
func (l *NoopCallback) OnAssistantError(ctx context.Context, agent IAssistant, input string, err error, messages []llms.Message) {
}
func (l *NoopCallback) OnAssistantLLMCallStart(ctx context.Context, agent IAssistant, llm llms.Model, payload []llms.Message) {
}
func (l *NoopCallback) OnAssistantLLMCallEnd(ctx context.Context, agent IAssistant, llm llms.Model, resp *llms.ContentResponse) {
}
func (l *NoopCallback) OnAssistantLLMParseError(ctx context.Context, agent IAssistant, input string, response string, err error) {
}
func (l *NoopCallback) OnToolNotFound(ctx context.Context, agent IAssistant, tool string) {}
func (l *NoopCallback) OnToolStart(ctx context.Context, tool tools.ITool, input string)   {}
func (l *NoopCallback) OnToolEnd(ctx context.Context, tool tools.ITool, input string, output string) {
}
func (l *NoopCallback) OnToolError(ctx context.Context, tool tools.ITool, input string, err error) {}
