package llms_test

import (
	"testing"

	"github.com/effective-security/agentloop/pkg/llms"
	"github.com/stretchr/testify/assert"
)

func Test_Message_GetContent(t *testing.T) {
	// text parts render one per line, with a terminating newline
	msg := llms.MessageFromTextParts(llms.RoleAI, "hi")
	assert.Equal(t, "hi\n", msg.GetContent())

	msg = llms.MessageFromTextParts(llms.RoleHuman, "first", "second")
	assert.Equal(t, "first\nsecond\n", msg.GetContent())

	msg = llms.MessageFromTextParts(llms.RoleHuman, "already terminated\n")
	assert.Equal(t, "already terminated\n", msg.GetContent())

	call := llms.MessageFromToolCalls(llms.RoleAI, llms.ToolCall{
		ID:   "call_1",
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      "echo",
			Arguments: `{"text":"hi"}`,
		},
	})
	assert.Equal(t, "Tool Call: {\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"echo\",\"arguments\":\"{\\\"text\\\":\\\"hi\\\"}\"}}\n", call.GetContent())

	resp := llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
		ToolCallID: "call_1",
		Name:       "echo",
		Content:    "hi",
	})
	assert.Equal(t, "Response: {\"tool_call_id\":\"call_1\",\"name\":\"echo\",\"content\":\"hi\"}\n", resp.GetContent())
}
