package chatmodel

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/agentloop/pkg/llmutils"
	"github.com/invopop/jsonschema"
)

// ContentProvider is implemented by typed inputs and outputs
// that can render themselves for the chat history.
type ContentProvider interface {
	GetContent() string
}

// InputParser is implemented by typed inputs that can parse themselves
// from a raw request.
type InputParser interface {
	ParseInput(raw string) error
}

// InputRequest is a generic input for assistants that take a plain question.
type InputRequest struct {
	Input string `json:"input" jsonschema:"title=Input,description=The message sent by the user to the assistant."`
}

func NewInputRequest(input string) InputRequest {
	return InputRequest{Input: input}
}

func (r *InputRequest) ParseInput(raw string) error {
	err := json.Unmarshal(llmutils.CleanJSON([]byte(raw)), r)
	if err != nil {
		return errors.WithMessage(ErrFailedUnmarshalInput, err.Error())
	}
	return nil
}

// GetContent gets the content of the message for the chat history
func (r InputRequest) GetContent() string {
	return r.Input
}

func (InputRequest) JSONSchemaExtend(schema *jsonschema.Schema) {
	schema.Title = "Input Request"
}

// MCPInputRequest is the input for assistants exposed over MCP,
// it carries the chat ID to correlate the session.
type MCPInputRequest struct {
	ChatID string `json:"chatID,omitempty" jsonschema:"title=Chat ID,description=Optional chat ID to correlate the session."`
	Input  string `json:"input" jsonschema:"title=Input,description=The message sent by the user to the assistant."`
}

func (r *MCPInputRequest) ParseInput(raw string) error {
	err := json.Unmarshal(llmutils.CleanJSON([]byte(raw)), r)
	if err != nil {
		return errors.WithMessage(ErrFailedUnmarshalInput, err.Error())
	}
	return nil
}

// GetContent gets the content of the message for the chat history
func (r MCPInputRequest) GetContent() string {
	return r.Input
}

func (MCPInputRequest) JSONSchemaExtend(schema *jsonschema.Schema) {
	schema.Title = "MCP Input Request"
}

// OutputResult is a generic output with plain content.
type OutputResult struct {
	Content string `json:"content" jsonschema:"title=Response Content,description=The content returned by agent or tool."`
}

func NewOutputResult(content string) OutputResult {
	return OutputResult{Content: content}
}

// GetContent gets the content of the message for the chat history
func (r OutputResult) GetContent() string {
	return r.Content
}

// BaseClarificationResult is embedded by outputs that may ask
// the user for clarification instead of answering.
type BaseClarificationResult struct {
	Confidence    string `json:"confidence,omitempty" jsonschema:"title=Confidence,description=Confidence level of the answer,enum=High,enum=Medium,enum=Low"`
	Clarification string `json:"clarification,omitempty" jsonschema:"title=Clarification,description=A clarification request when the question cannot be answered as asked."`
	Reasoning     string `json:"reasoning,omitempty" jsonschema:"title=Reasoning,description=Reasoning behind the answer."`
}

func (r *BaseClarificationResult) SetConfidence(v string)    { r.Confidence = v }
func (r *BaseClarificationResult) SetClarification(v string) { r.Clarification = v }
func (r *BaseClarificationResult) SetReasoning(v string)     { r.Reasoning = v }
